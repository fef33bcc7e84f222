package crypto

import (
	"errors"

	"golang.org/x/crypto/scrypt"
)

// Параметры scrypt
//
// N=32768, r=8, p=1 - рекомендованные параметры для интерактивного
// использования (~100ms на современном CPU). Ключ деривируется один раз
// при старте сервиса, поэтому стоимость не критична.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
)

var (
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")
	ErrSaltTooShort    = errors.New("salt must be at least 16 bytes")
)

// DeriveKey деривирует 32-байтный ключ шифрования из парольной фразы
//
// Позволяет задавать ENCRYPTION_PASSPHRASE в .env человекочитаемой строкой
// вместо сырых 32 байт. Соль должна быть постоянной для инсталляции,
// иначе ранее зашифрованные креденшелы станут нечитаемыми.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}

	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}
