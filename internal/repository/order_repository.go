package repository

import (
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"orderexec/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStaleStatus - условное обновление не прошло: статус ордера
	// изменился между чтением и записью
	ErrStaleStatus = errors.New("order status changed concurrently")
)

const orderColumns = `id, client_order_id, userref, execution_id, user_id, bot_id,
		pair, side, order_type, volume, price, amount, reason,
		status, attempts, max_attempts, errors, failed_api_keys,
		next_retry_at, created_at, updated_at, last_attempt_at, completed_at,
		exchange_order_id, executed_price, executed_volume`

// OrderRepository - работа с таблицей pending_orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// scannable покрывает *sql.Row и *sql.Rows
type scannable interface {
	Scan(dest ...interface{}) error
}

// scanOrder читает одну строку в модель
func scanOrder(row scannable) (*models.PendingOrder, error) {
	order := &models.PendingOrder{}
	var errorsRaw []byte

	err := row.Scan(
		&order.ID,
		&order.ClientOrderID,
		&order.Userref,
		&order.ExecutionID,
		&order.UserID,
		&order.BotID,
		&order.Pair,
		&order.Side,
		&order.Type,
		&order.Volume,
		&order.Price,
		&order.Amount,
		&order.Reason,
		&order.Status,
		&order.Attempts,
		&order.MaxAttempts,
		&errorsRaw,
		pq.Array(&order.FailedAPIKeys),
		&order.NextRetryAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.LastAttemptAt,
		&order.CompletedAt,
		&order.ExchangeOrderID,
		&order.ExecutedPrice,
		&order.ExecutedVolume,
	)
	if err != nil {
		return nil, err
	}

	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &order.Errors); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// scanOrders читает все строки результата
func scanOrders(rows *sql.Rows) ([]*models.PendingOrder, error) {
	var orders []*models.PendingOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// Create создает запись ордера и заполняет ID
func (r *OrderRepository) Create(order *models.PendingOrder) error {
	query := `
		INSERT INTO pending_orders (client_order_id, userref, execution_id, user_id, bot_id,
			pair, side, order_type, volume, price, amount, reason,
			status, attempts, max_attempts, errors, failed_api_keys,
			next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id`

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	errorsRaw, err := json.Marshal(order.Errors)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(
		query,
		order.ClientOrderID,
		order.Userref,
		order.ExecutionID,
		order.UserID,
		order.BotID,
		order.Pair,
		order.Side,
		order.Type,
		order.Volume,
		order.Price,
		order.Amount,
		order.Reason,
		order.Status,
		order.Attempts,
		order.MaxAttempts,
		errorsRaw,
		pq.Array(order.FailedAPIKeys),
		order.NextRetryAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)

	if err != nil {
		return err
	}

	return nil
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(id int64) (*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM pending_orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetByClientOrderID возвращает ордер по идемпотентному идентификатору
func (r *OrderRepository) GetByClientOrderID(clientOrderID string) (*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM pending_orders WHERE client_order_id = $1`

	order, err := scanOrder(r.db.QueryRow(query, clientOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// FindActiveByBot возвращает живые ордера бота (PENDING, PROCESSING, RETRY)
func (r *OrderRepository) FindActiveByBot(botID string) ([]*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM pending_orders
		WHERE bot_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, botID, pq.Array(models.ActiveStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetReadyForExecution возвращает ордера, готовые к исполнению:
// PENDING либо RETRY с наступившим next_retry_at, старые первыми
func (r *OrderRepository) GetReadyForExecution(now time.Time, limit int) ([]*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM pending_orders
		WHERE status = $1 OR (status = $2 AND next_retry_at <= $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4`

	rows, err := r.db.Query(query, models.OrderStatusPending, models.OrderStatusRetry, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetStuckProcessing возвращает ордера, застрявшие в PROCESSING
// (updated_at старше указанного момента)
func (r *OrderRepository) GetStuckProcessing(olderThan time.Time) ([]*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM pending_orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(query, models.OrderStatusProcessing, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// Update записывает ордер целиком при условии, что текущий статус в БД
// входит в fromStatuses. Это единственный путь мутации ордера: один
// условный UPDATE, атомарный на уровне строки.
//
// Возвращает ErrStaleStatus если условие не выполнено (конкурентное
// изменение) и ErrOrderNotFound если записи нет.
func (r *OrderRepository) Update(order *models.PendingOrder, fromStatuses ...string) error {
	query := `
		UPDATE pending_orders
		SET status = $1, attempts = $2, errors = $3, failed_api_keys = $4,
			next_retry_at = $5, updated_at = $6, last_attempt_at = $7, completed_at = $8,
			exchange_order_id = $9, executed_price = $10, executed_volume = $11
		WHERE id = $12 AND status = ANY($13)`

	order.UpdatedAt = time.Now()

	errorsRaw, err := json.Marshal(order.Errors)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		query,
		order.Status,
		order.Attempts,
		errorsRaw,
		pq.Array(order.FailedAPIKeys),
		order.NextRetryAt,
		order.UpdatedAt,
		order.LastAttemptAt,
		order.CompletedAt,
		order.ExchangeOrderID,
		order.ExecutedPrice,
		order.ExecutedVolume,
		order.ID,
		pq.Array(fromStatuses),
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Различаем "нет записи" и "статус изменился"
		var current string
		err := r.db.QueryRow(`SELECT status FROM pending_orders WHERE id = $1`, order.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		return ErrStaleStatus
	}

	return nil
}

// GetRecent возвращает последние N ордеров
func (r *OrderRepository) GetRecent(limit int) ([]*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM pending_orders
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetByStatus возвращает ордера с определенным статусом
func (r *OrderRepository) GetByStatus(status string, limit int) ([]*models.PendingOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM pending_orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// CountByStatus возвращает количество ордеров с определенным статусом
func (r *OrderRepository) CountByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM pending_orders WHERE status = $1`

	var count int
	err := r.db.QueryRow(query, status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteOlderThan удаляет терминальные ордера старше указанной даты
// (архивная очистка, живые ордера не трогаем)
func (r *OrderRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `
		DELETE FROM pending_orders
		WHERE created_at < $1 AND status = ANY($2)`

	result, err := r.db.Exec(query, timestamp, pq.Array([]string{models.OrderStatusCompleted, models.OrderStatusFailed}))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
