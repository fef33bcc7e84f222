package executor

import (
	"context"
	"time"

	"orderexec/internal/breaker"
	"orderexec/internal/exchange"
	"orderexec/internal/models"
	"orderexec/internal/queue"
	"orderexec/internal/repository"
)

// OrderQueue - операции очереди, нужные исполнителю
type OrderQueue interface {
	GetReadyForExecution(limit int) ([]*models.PendingOrder, error)
	MarkAsProcessing(id int64) (*models.PendingOrder, error)
	MarkAsCompleted(id int64, result *models.ExecutionResult) (*models.PendingOrder, error)
	MarkAsFailed(id int64, message, keyUsed string, retryable bool) (*models.PendingOrder, error)
	Defer(id int64, reason string) (*models.PendingOrder, error)
	RecordFailedKey(id int64, keyID string) (*models.PendingOrder, error)
	ResetStuckOrders(timeout time.Duration) (int, error)
	AbandonIfExhausted(order *models.PendingOrder) (bool, error)
}

var _ OrderQueue = (*queue.Queue)(nil)

// CredentialSource отдаёт креденшелы пользователя в стабильном порядке
type CredentialSource interface {
	GetEnabledByUser(userID string) ([]*models.APICredential, error)
	SetLastError(id, lastError string) error
}

var _ CredentialSource = (*repository.CredentialRepository)(nil)

// Breaker - health gate по креденшелам
type Breaker interface {
	IsOpen(keyID string) bool
	RecordSuccess(keyID string)
	RecordFailure(keyID, message string)
}

var _ Breaker = (*breaker.Registry)(nil)

// ExchangeClient - единственная точка I/O к бирже
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, cred *models.APICredential, req *exchange.OrderRequest) (*exchange.PlaceResult, error)
	GetOrderStatus(ctx context.Context, cred *models.APICredential, exchangeOrderID string) (*exchange.OrderStatus, error)
}

var _ ExchangeClient = (*exchange.Kraken)(nil)

// ConditionValidator отвечает, актуальны ли ещё условия, при которых
// стратегия выпустила ордер. Опрашивается только перед повторами.
type ConditionValidator interface {
	StillValid(ctx context.Context, order *models.PendingOrder) (bool, string, error)
}

// CompletionNotifier получает событие о каждом завершённом ордере.
// Fire-and-forget: его ошибки логируются и никогда не влияют на статус.
type CompletionNotifier interface {
	NotifyCompleted(order *models.PendingOrder, result *models.ExecutionResult)
	NotifyFailed(order *models.PendingOrder, reason string)
	NotifyRetry(order *models.PendingOrder, reason string)
}
