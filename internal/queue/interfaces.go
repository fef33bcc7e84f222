package queue

import (
	"time"

	"orderexec/internal/models"
	"orderexec/internal/repository"
)

// OrderStore определяет интерфейс хранилища ордеров
//
// Очередь - единственный владелец переходов статусов; хранилище
// обязано обеспечивать атомарность условной записи Update
type OrderStore interface {
	Create(order *models.PendingOrder) error
	GetByID(id int64) (*models.PendingOrder, error)
	GetByClientOrderID(clientOrderID string) (*models.PendingOrder, error)
	FindActiveByBot(botID string) ([]*models.PendingOrder, error)
	GetReadyForExecution(now time.Time, limit int) ([]*models.PendingOrder, error)
	GetStuckProcessing(olderThan time.Time) ([]*models.PendingOrder, error)
	Update(order *models.PendingOrder, fromStatuses ...string) error
	GetRecent(limit int) ([]*models.PendingOrder, error)
	GetByStatus(status string, limit int) ([]*models.PendingOrder, error)
	CountByStatus(status string) (int, error)
}

// Проверяем, что реальный репозиторий реализует интерфейс
var _ OrderStore = (*repository.OrderRepository)(nil)
