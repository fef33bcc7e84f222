package models

import "time"

// Notification представляет уведомление о событии пайплайна исполнения
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // ORDER_COMPLETED, ORDER_FAILED, ORDER_RETRY, BREAKER_OPEN, STUCK_RESET
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	OrderID   *int64                 `json:"order_id,omitempty" db:"order_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOrderCompleted = "ORDER_COMPLETED" // ордер исполнен на бирже
	NotificationTypeOrderFailed    = "ORDER_FAILED"    // ордер терминально провален
	NotificationTypeOrderRetry     = "ORDER_RETRY"     // ордер запланирован на повтор
	NotificationTypeBreakerOpen    = "BREAKER_OPEN"    // circuit breaker открылся для ключа
	NotificationTypeStuckReset     = "STUCK_RESET"     // зависший ордер возвращён в очередь
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
