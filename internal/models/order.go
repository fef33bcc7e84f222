package models

import "time"

// PendingOrder представляет одно торговое намерение (intent) стратегии:
// купить или продать объём инструмента ровно один раз.
//
// Жизненный цикл: PENDING → PROCESSING → COMPLETED | RETRY | FAILED.
// COMPLETED и FAILED - терминальные статусы, после них запись не мутируется
// (кроме явных админских действий, например очистки failed_api_keys).
type PendingOrder struct {
	ID int64 `json:"id" db:"id"`

	// Идентификация и идемпотентность
	ClientOrderID string `json:"client_order_id" db:"client_order_id"` // детерминированный fingerprint намерения
	Userref       int32  `json:"userref" db:"userref"`                 // 32-bit ref для корреляции с биржей
	ExecutionID   string `json:"execution_id" db:"execution_id"`       // trace id, генерируется один раз

	// Владение
	UserID string `json:"user_id" db:"user_id"`
	BotID  string `json:"bot_id" db:"bot_id"` // экземпляр стратегии, породивший намерение

	// Торговая спецификация
	Pair   string `json:"pair" db:"pair"`
	Side   string `json:"side" db:"side"` // buy, sell
	Type   string `json:"type" db:"type"` // market, limit
	Volume string `json:"volume" db:"volume"`
	Price  string `json:"price,omitempty" db:"price"`   // только для limit
	Amount string `json:"amount,omitempty" db:"amount"` // notional в quote-валюте (опционально)
	Reason string `json:"reason,omitempty" db:"reason"` // человекочитаемая причина от стратегии

	// Жизненный цикл
	Status        string       `json:"status" db:"status"`
	Attempts      int          `json:"attempts" db:"attempts"`
	MaxAttempts   int          `json:"max_attempts" db:"max_attempts"`
	Errors        []OrderError `json:"errors,omitempty" db:"errors"`
	FailedAPIKeys []string     `json:"failed_api_keys,omitempty" db:"failed_api_keys"` // ключи, уже провалившиеся для ЭТОГО ордера
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty" db:"next_retry_at"`     // только в статусе RETRY
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`

	// Терминальный результат (заполняется только при COMPLETED)
	ExchangeOrderID string `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	ExecutedPrice   string `json:"executed_price,omitempty" db:"executed_price"`
	ExecutedVolume  string `json:"executed_volume,omitempty" db:"executed_volume"`
}

// OrderError - одна запись в append-only журнале ошибок ордера
type OrderError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	KeyUsed   string    `json:"key_used,omitempty"` // id credential'а, если ошибка привязана к ключу
}

// ExecutionResult - результат успешного исполнения на бирже
type ExecutionResult struct {
	ExchangeOrderID string `json:"exchange_order_id"`
	ExecutedPrice   string `json:"executed_price,omitempty"`
	ExecutedVolume  string `json:"executed_volume,omitempty"`
}

// Статусы ордера (state machine)
const (
	OrderStatusPending    = "PENDING"    // ожидает первого исполнения
	OrderStatusProcessing = "PROCESSING" // исполняется прямо сейчас
	OrderStatusRetry      = "RETRY"      // ожидает повторной попытки (next_retry_at)
	OrderStatusCompleted  = "COMPLETED"  // исполнен на бирже, терминальный
	OrderStatusFailed     = "FAILED"     // не исполнен, терминальный
)

// Стороны и типы ордеров
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// AllStatuses - все статусы state machine (для статистики очереди)
var AllStatuses = []string{
	OrderStatusPending, OrderStatusProcessing, OrderStatusRetry,
	OrderStatusCompleted, OrderStatusFailed,
}

// ActiveStatuses - статусы, в которых ордер считается "живым":
// для одного bot_id может существовать максимум один живой ордер
var ActiveStatuses = []string{OrderStatusPending, OrderStatusProcessing, OrderStatusRetry}

// IsTerminal возвращает true для терминальных статусов
func IsTerminal(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusFailed
}

// HasFailedKey проверяет, провалился ли уже данный ключ для этого ордера
func (o *PendingOrder) HasFailedKey(keyID string) bool {
	for _, k := range o.FailedAPIKeys {
		if k == keyID {
			return true
		}
	}
	return false
}

// LastError возвращает последнюю запись журнала ошибок (nil если журнал пуст)
func (o *PendingOrder) LastError() *OrderError {
	if len(o.Errors) == 0 {
		return nil
	}
	return &o.Errors[len(o.Errors)-1]
}
