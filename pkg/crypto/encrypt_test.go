package crypto

import (
	"encoding/base64"
	"testing"
)

// TestEncryptDecrypt проверяет базовый цикл шифрования/расшифровки
func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"пустая строка", ""},
		{"api key", "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="},
		{"unicode", "Привет мир"},
		{"json", `{"api_key": "secret", "api_secret": "very_secret"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			// Результат должен быть валидным base64
			if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
				t.Errorf("результат не является валидным base64: %v", err)
			}

			decrypted, err := Decrypt(encrypted, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}

			if decrypted != tt.plaintext {
				t.Errorf("расшифровка не совпадает: получено %q, ожидалось %q", decrypted, tt.plaintext)
			}
		})
	}
}

// TestEncryptDifferentResults проверяет что каждое шифрование даёт разный результат (разный nonce)
func TestEncryptDifferentResults(t *testing.T) {
	key, _ := GenerateKey()
	plaintext := "same text"

	encrypted1, _ := Encrypt(plaintext, key)
	encrypted2, _ := Encrypt(plaintext, key)

	if encrypted1 == encrypted2 {
		t.Error("два шифрования одного текста должны давать разные шифротексты")
	}
}

// TestInvalidKeyLength проверяет ошибку при неправильной длине ключа
func TestInvalidKeyLength(t *testing.T) {
	for _, keyLen := range []int{0, 16, 31, 33, 64} {
		key := make([]byte, keyLen)

		if _, err := Encrypt("test", key); err != ErrInvalidKeyLength {
			t.Errorf("Encrypt с ключом %d байт: получено %v, ожидалось %v", keyLen, err, ErrInvalidKeyLength)
		}
		if _, err := Decrypt("dGVzdA==", key); err != ErrInvalidKeyLength {
			t.Errorf("Decrypt с ключом %d байт: получено %v, ожидалось %v", keyLen, err, ErrInvalidKeyLength)
		}
	}
}

// TestDecryptWrongKey проверяет что расшифровка с неправильным ключом возвращает ошибку
func TestDecryptWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	encrypted, _ := Encrypt("secret data", key1)

	if _, err := Decrypt(encrypted, key2); err != ErrDecryptionFailed {
		t.Errorf("получено %v, ожидалось %v", err, ErrDecryptionFailed)
	}
}

// TestDecryptInvalidInput проверяет обработку невалидного входа
func TestDecryptInvalidInput(t *testing.T) {
	key, _ := GenerateKey()

	if _, err := Decrypt("not-valid-base64!!!", key); err != ErrInvalidCiphertext {
		t.Errorf("получено %v, ожидалось %v", err, ErrInvalidCiphertext)
	}

	// Валидный base64, но слишком короткий после декодирования
	if _, err := Decrypt("YWJj", key); err != ErrCiphertextTooShort {
		t.Errorf("получено %v, ожидалось %v", err, ErrCiphertextTooShort)
	}
}

// TestDecryptTamperedCiphertext проверяет обнаружение изменённого шифротекста
func TestDecryptTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	encrypted, _ := Encrypt("original data", key)

	decoded, _ := base64.StdEncoding.DecodeString(encrypted)
	decoded[len(decoded)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(decoded)

	if _, err := Decrypt(tampered, key); err != ErrDecryptionFailed {
		t.Errorf("получено %v, ожидалось %v", err, ErrDecryptionFailed)
	}
}

// TestGenerateKey проверяет генерацию ключей
func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if len(key1) != 32 {
		t.Errorf("получено %d байт, ожидалось 32", len(key1))
	}

	key2, _ := GenerateKey()
	if string(key1) == string(key2) {
		t.Error("два сгенерированных ключа должны отличаться")
	}
}

// TestDeriveKey проверяет деривацию ключа из парольной фразы
func TestDeriveKey(t *testing.T) {
	salt := []byte("orderexec-static-salt-v1")

	key, err := DeriveKey("correct horse battery staple", salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if err := ValidateKey(key); err != nil {
		t.Errorf("деривированный ключ невалиден: %v", err)
	}

	// Детерминизм: та же фраза и соль дают тот же ключ
	key2, _ := DeriveKey("correct horse battery staple", salt)
	if string(key) != string(key2) {
		t.Error("деривация должна быть детерминированной")
	}

	// Другая фраза - другой ключ
	key3, _ := DeriveKey("different passphrase", salt)
	if string(key) == string(key3) {
		t.Error("разные фразы должны давать разные ключи")
	}
}

func TestDeriveKey_Validation(t *testing.T) {
	salt := []byte("orderexec-static-salt-v1")

	if _, err := DeriveKey("", salt); err != ErrEmptyPassphrase {
		t.Errorf("получено %v, ожидалось %v", err, ErrEmptyPassphrase)
	}
	if _, err := DeriveKey("phrase", []byte("short")); err != ErrSaltTooShort {
		t.Errorf("получено %v, ожидалось %v", err, ErrSaltTooShort)
	}
}

// BenchmarkEncryptDecryptCycle измеряет полный цикл
func BenchmarkEncryptDecryptCycle(b *testing.B) {
	key, _ := GenerateKey()
	plaintext := "This is a typical API key: abc123def456"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encrypted, _ := Encrypt(plaintext, key)
		_, _ = Decrypt(encrypted, key)
	}
}
