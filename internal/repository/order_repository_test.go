package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"orderexec/internal/models"
)

// ============================================================
// OrderRepository Tests
// ============================================================

var orderColumnList = []string{
	"id", "client_order_id", "userref", "execution_id", "user_id", "bot_id",
	"pair", "side", "order_type", "volume", "price", "amount", "reason",
	"status", "attempts", "max_attempts", "errors", "failed_api_keys",
	"next_retry_at", "created_at", "updated_at", "last_attempt_at", "completed_at",
	"exchange_order_id", "executed_price", "executed_volume",
}

// orderRow строит строку результата для типового ордера
func orderRow(id int64, status string, now time.Time) []driverValue {
	return []driverValue{
		id, "a1b2c3", int32(12345), "exec-1", "user-1", "bot-1",
		"XBT/USD", "buy", "market", "0.5", "", "", "dca buy",
		status, 0, 4, []byte(`[]`), []byte(`{}`),
		nil, now, now, nil, nil,
		"", "", "",
	}
}

type driverValue = driver.Value

func addOrderRow(rows *sqlmock.Rows, values []driverValue) *sqlmock.Rows {
	return rows.AddRow(values...)
}

func TestNewOrderRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewOrderRepository(db)
	if repo == nil {
		t.Fatal("NewOrderRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestOrderRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		order       *models.PendingOrder
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			order: &models.PendingOrder{
				ClientOrderID: "a1b2c3",
				Userref:       12345,
				ExecutionID:   "exec-1",
				UserID:        "user-1",
				BotID:         "bot-1",
				Pair:          "XBT/USD",
				Side:          "buy",
				Type:          "market",
				Volume:        "0.5",
				Status:        models.OrderStatusPending,
				MaxAttempts:   4,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO pending_orders`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
			},
			expectError: false,
		},
		{
			name: "database error",
			order: &models.PendingOrder{
				ClientOrderID: "a1b2c3",
				Status:        models.OrderStatusPending,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO pending_orders`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewOrderRepository(db)
			err = repo.Create(tt.order)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.order.ID != 7 {
					t.Errorf("expected ID=7, got %d", tt.order.ID)
				}
				if tt.order.CreatedAt.IsZero() || tt.order.UpdatedAt.IsZero() {
					t.Error("Create must set timestamps")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderRepositoryGetByID(t *testing.T) {
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		rows := sqlmock.NewRows(orderColumnList)
		addOrderRow(rows, orderRow(7, models.OrderStatusPending, now))

		mock.ExpectQuery(`SELECT .+ FROM pending_orders WHERE id`).
			WithArgs(int64(7)).
			WillReturnRows(rows)

		repo := NewOrderRepository(db)
		order, err := repo.GetByID(7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if order.ID != 7 {
			t.Errorf("expected ID=7, got %d", order.ID)
		}
		if order.ClientOrderID != "a1b2c3" {
			t.Errorf("unexpected client_order_id: %s", order.ClientOrderID)
		}
		if order.Status != models.OrderStatusPending {
			t.Errorf("unexpected status: %s", order.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM pending_orders WHERE id`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		repo := NewOrderRepository(db)
		_, err := repo.GetByID(99)
		if !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestOrderRepositoryGetByClientOrderID(t *testing.T) {
	now := time.Now()

	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows(orderColumnList)
	addOrderRow(rows, orderRow(3, models.OrderStatusRetry, now))

	mock.ExpectQuery(`SELECT .+ FROM pending_orders WHERE client_order_id`).
		WithArgs("a1b2c3").
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	order, err := repo.GetByClientOrderID("a1b2c3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != 3 {
		t.Errorf("expected ID=3, got %d", order.ID)
	}
}

func TestOrderRepositoryGetReadyForExecution(t *testing.T) {
	now := time.Now()

	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows(orderColumnList)
	addOrderRow(rows, orderRow(1, models.OrderStatusPending, now))
	addOrderRow(rows, orderRow(2, models.OrderStatusRetry, now))

	mock.ExpectQuery(`SELECT .+ FROM pending_orders`).
		WithArgs(models.OrderStatusPending, models.OrderStatusRetry, sqlmock.AnyArg(), 5).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.GetReadyForExecution(now, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("expected 2 orders, got %d", len(orders))
	}
}

func TestOrderRepositoryGetStuckProcessing(t *testing.T) {
	now := time.Now()

	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows(orderColumnList)
	addOrderRow(rows, orderRow(4, models.OrderStatusProcessing, now.Add(-time.Hour)))

	mock.ExpectQuery(`SELECT .+ FROM pending_orders WHERE status`).
		WithArgs(models.OrderStatusProcessing, sqlmock.AnyArg()).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.GetStuckProcessing(now.Add(-10 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != 4 {
		t.Errorf("unexpected result: %+v", orders)
	}
}

func TestOrderRepositoryUpdate(t *testing.T) {
	order := &models.PendingOrder{
		ID:       7,
		Status:   models.OrderStatusProcessing,
		Attempts: 1,
	}

	t.Run("success", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectExec(`UPDATE pending_orders`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewOrderRepository(db)
		if err := repo.Update(order, models.OrderStatusPending, models.OrderStatusRetry); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("stale status", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectExec(`UPDATE pending_orders`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM pending_orders`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OrderStatusCompleted))

		repo := NewOrderRepository(db)
		err := repo.Update(order, models.OrderStatusPending)
		if !errors.Is(err, ErrStaleStatus) {
			t.Errorf("expected ErrStaleStatus, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, _ := sqlmock.New()
		defer db.Close()

		mock.ExpectExec(`UPDATE pending_orders`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM pending_orders`).
			WithArgs(int64(7)).
			WillReturnError(sql.ErrNoRows)

		repo := NewOrderRepository(db)
		err := repo.Update(order, models.OrderStatusPending)
		if !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestOrderRepositoryCountByStatus(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pending_orders`).
		WithArgs(models.OrderStatusRetry).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewOrderRepository(db)
	count, err := repo.CountByStatus(models.OrderStatusRetry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3, got %d", count)
	}
}

func TestOrderRepositoryErrorsRoundTrip(t *testing.T) {
	// Журнал ошибок хранится как JSONB и должен восстанавливаться при чтении
	now := time.Now().UTC().Truncate(time.Second)

	db, mock, _ := sqlmock.New()
	defer db.Close()

	values := orderRow(5, models.OrderStatusRetry, now)
	values[16] = []byte(`[{"timestamp":"` + now.Format(time.RFC3339) + `","message":"Service unavailable","key_used":"key-1"}]`)
	values[17] = []byte(`{key-1}`)

	rows := sqlmock.NewRows(orderColumnList)
	addOrderRow(rows, values)

	mock.ExpectQuery(`SELECT .+ FROM pending_orders WHERE id`).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	order, err := repo.GetByID(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(order.Errors))
	}
	if order.Errors[0].KeyUsed != "key-1" {
		t.Errorf("unexpected key_used: %s", order.Errors[0].KeyUsed)
	}
	if len(order.FailedAPIKeys) != 1 || order.FailedAPIKeys[0] != "key-1" {
		t.Errorf("unexpected failed_api_keys: %v", order.FailedAPIKeys)
	}
}
