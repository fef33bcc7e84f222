package service

import (
	"time"

	"orderexec/internal/models"
	"orderexec/internal/queue"
)

// Интерфейсы сервисов для API handlers: позволяют подставлять
// mock в тестах handlers без поднятия БД

// OrderServiceInterface определяет интерфейс сервиса очереди ордеров
type OrderServiceInterface interface {
	CreateOrder(req *queue.CreateOrderRequest) (*models.PendingOrder, bool, error)
	GetOrder(id int64) (*models.PendingOrder, error)
	GetOrders(status string, limit int) ([]*models.PendingOrder, error)
	QueueStats() (map[string]int, error)
	ResetStuckOrders(timeout time.Duration) (int, error)
	ClearFailedKeys(id int64) (*models.PendingOrder, error)
}

var _ OrderServiceInterface = (*OrderService)(nil)

// CredentialServiceInterface определяет интерфейс сервиса API ключей
type CredentialServiceInterface interface {
	CreateCredential(userID, label, apiKey, apiSecret string) (*CredentialView, error)
	GetCredentials(userID string) ([]*CredentialView, error)
	SetEnabled(id string, enabled bool) error
	DeleteCredential(id string) error
}

var _ CredentialServiceInterface = (*CredentialService)(nil)

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(limit int) ([]*models.Notification, error)
	GetOrderNotifications(orderID int64) ([]*models.Notification, error)
}

var _ NotificationServiceInterface = (*NotificationService)(nil)
