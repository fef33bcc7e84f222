package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"orderexec/internal/models"
)

// ============================================================
// CredentialRepository Tests
// ============================================================

var credentialColumnList = []string{
	"id", "user_id", "label", "api_key", "api_secret", "enabled", "last_error", "created_at", "updated_at",
}

func TestCredentialRepositoryCreate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	cred := &models.APICredential{
		ID:        "key-1",
		UserID:    "user-1",
		Label:     "main",
		APIKey:    "encrypted-key",
		APISecret: "encrypted-secret",
		Enabled:   true,
	}

	mock.ExpectExec(`INSERT INTO api_credentials`).
		WithArgs("key-1", "user-1", "main", "encrypted-key", "encrypted-secret", true, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCredentialRepository(db)
	if err := repo.Create(cred); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCredentialRepositoryGetByID(t *testing.T) {
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		rows := sqlmock.NewRows(credentialColumnList).
			AddRow("key-1", "user-1", "main", "enc-key", "enc-secret", true, "", now, now)

		mock.ExpectQuery(`SELECT .+ FROM api_credentials WHERE id`).
			WithArgs("key-1").
			WillReturnRows(rows)

		repo := NewCredentialRepository(db)
		cred, err := repo.GetByID("key-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cred.UserID != "user-1" || !cred.Enabled {
			t.Errorf("unexpected credential: %+v", cred)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM api_credentials WHERE id`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		repo := NewCredentialRepository(db)
		_, err := repo.GetByID("missing")
		if !errors.Is(err, ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})
}

func TestCredentialRepositoryGetEnabledByUser(t *testing.T) {
	now := time.Now()

	db, mock, _ := sqlmock.New()
	defer db.Close()

	// Порядок строк = порядок выбора кандидатов исполнителем
	rows := sqlmock.NewRows(credentialColumnList).
		AddRow("key-1", "user-1", "main", "enc1", "enc1s", true, "", now.Add(-time.Hour), now).
		AddRow("key-2", "user-1", "backup", "enc2", "enc2s", true, "", now, now)

	mock.ExpectQuery(`SELECT .+ FROM api_credentials`).
		WithArgs("user-1").
		WillReturnRows(rows)

	repo := NewCredentialRepository(db)
	creds, err := repo.GetEnabledByUser("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].ID != "key-1" || creds[1].ID != "key-2" {
		t.Errorf("insertion order not preserved: %s, %s", creds[0].ID, creds[1].ID)
	}
}

func TestCredentialRepositorySetEnabled(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectExec(`UPDATE api_credentials SET enabled`).
			WithArgs(false, sqlmock.AnyArg(), "key-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewCredentialRepository(db)
		if err := repo.SetEnabled("key-1", false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectExec(`UPDATE api_credentials SET enabled`).
			WithArgs(true, sqlmock.AnyArg(), "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		repo := NewCredentialRepository(db)
		err := repo.SetEnabled("missing", true)
		if !errors.Is(err, ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})
}

func TestCredentialRepositoryDelete(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec(`DELETE FROM api_credentials`).
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCredentialRepository(db)
	if err := repo.Delete("key-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
