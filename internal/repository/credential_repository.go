package repository

import (
	"database/sql"
	"errors"
	"time"

	"orderexec/internal/models"
)

// Ошибки репозитория креденшелов
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

const credentialColumns = `id, user_id, label, api_key, api_secret, enabled, last_error, created_at, updated_at`

// CredentialRepository - работа с таблицей api_credentials
//
// api_key и api_secret хранятся зашифрованными (AES-256-GCM),
// репозиторий оперирует только шифротекстом
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создает новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func scanCredential(row scannable) (*models.APICredential, error) {
	cred := &models.APICredential{}
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Label,
		&cred.APIKey,
		&cred.APISecret,
		&cred.Enabled,
		&cred.LastError,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Create создает креденшел
func (r *CredentialRepository) Create(cred *models.APICredential) error {
	query := `
		INSERT INTO api_credentials (id, user_id, label, api_key, api_secret, enabled, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := r.db.Exec(
		query,
		cred.ID,
		cred.UserID,
		cred.Label,
		cred.APIKey,
		cred.APISecret,
		cred.Enabled,
		cred.LastError,
		cred.CreatedAt,
		cred.UpdatedAt,
	)

	return err
}

// GetByID возвращает креденшел по ID
func (r *CredentialRepository) GetByID(id string) (*models.APICredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM api_credentials WHERE id = $1`

	cred, err := scanCredential(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return cred, nil
}

// GetEnabledByUser возвращает включённые креденшелы пользователя
// в порядке добавления (порядок выбора кандидатов исполнителем)
func (r *CredentialRepository) GetEnabledByUser(userID string) ([]*models.APICredential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM api_credentials
		WHERE user_id = $1 AND enabled = TRUE
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.APICredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return creds, nil
}

// GetByUser возвращает все креденшелы пользователя, включая выключенные
// (админ API)
func (r *CredentialRepository) GetByUser(userID string) ([]*models.APICredential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM api_credentials
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.APICredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return creds, nil
}

// SetEnabled включает или выключает креденшел
func (r *CredentialRepository) SetEnabled(id string, enabled bool) error {
	query := `UPDATE api_credentials SET enabled = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, enabled, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// SetLastError сохраняет последнюю ошибку креденшела (для диагностики)
func (r *CredentialRepository) SetLastError(id, lastError string) error {
	query := `UPDATE api_credentials SET last_error = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, lastError, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// Delete удаляет креденшел
func (r *CredentialRepository) Delete(id string) error {
	query := `DELETE FROM api_credentials WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
