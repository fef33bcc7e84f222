package repository

import (
	"database/sql"
	"time"

	"orderexec/internal/models"
)

// NotificationRepository - работа с таблицей notifications
//
// Уведомления пишутся сервисом уведомлений при терминальных событиях
// ордера и событиях circuit breaker'а; читаются админ API
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает уведомление
func (r *NotificationRepository) Create(n *models.Notification) error {
	query := `
		INSERT INTO notifications (type, severity, order_id, message, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	metaRaw, err := json.Marshal(n.Meta)
	if err != nil {
		return err
	}

	return r.db.QueryRow(
		query,
		n.Type,
		n.Severity,
		n.OrderID,
		n.Message,
		metaRaw,
		n.Timestamp,
	).Scan(&n.ID)
}

// GetRecent возвращает последние N уведомлений
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, type, severity, order_id, message, meta, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var metaRaw []byte

		err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.OrderID, &n.Message, &metaRaw, &n.Timestamp)
		if err != nil {
			return nil, err
		}

		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &n.Meta); err != nil {
				return nil, err
			}
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

// GetByOrderID возвращает уведомления конкретного ордера
func (r *NotificationRepository) GetByOrderID(orderID int64) ([]*models.Notification, error) {
	query := `
		SELECT id, type, severity, order_id, message, meta, created_at
		FROM notifications
		WHERE order_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var metaRaw []byte

		err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.OrderID, &n.Message, &metaRaw, &n.Timestamp)
		if err != nil {
			return nil, err
		}

		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &n.Meta); err != nil {
				return nil, err
			}
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

// DeleteOlderThan удаляет уведомления старше указанной даты
func (r *NotificationRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE created_at < $1`

	result, err := r.db.Exec(query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
