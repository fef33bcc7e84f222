package models

import "time"

// APICredential представляет один биржевой API ключ пользователя.
// Для одного пользователя может быть настроено несколько взаимозаменяемых
// ключей - executor перебирает их при отказах (credential failover).
type APICredential struct {
	ID     string `json:"id" db:"id"` // стабильный идентификатор ключа (key_id)
	UserID string `json:"user_id" db:"user_id"`
	Label  string `json:"label" db:"label"` // человекочитаемое имя ("main", "backup")

	APIKey    string `json:"-" db:"api_key"`    // зашифрован AES-256-GCM, не возвращается в JSON
	APISecret string `json:"-" db:"api_secret"` // зашифрован

	Enabled   bool      `json:"enabled" db:"enabled"`
	LastError string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MaskedKey возвращает API ключ в замаскированном виде для UI/логов
func MaskedKey(plain string) string {
	if len(plain) <= 8 {
		return "****"
	}
	return plain[:4] + "..." + plain[len(plain)-4:]
}
