package service

import (
	"time"

	"orderexec/internal/models"
	"orderexec/internal/queue"
	"orderexec/pkg/utils"
)

// OrderService предоставляет бизнес-логику для управления очередью ордеров.
//
// Тонкая обертка над queue.Queue для админ API: создание ордеров,
// просмотр очереди, восстановительные операции. Вся state machine
// и дедупликация живут в queue, сервис не дублирует ее.
type OrderService struct {
	queue         *queue.Queue
	notifications *NotificationService
	logger        *utils.Logger
}

// NewOrderService создает новый экземпляр OrderService.
func NewOrderService(q *queue.Queue, notifications *NotificationService, logger *utils.Logger) *OrderService {
	if logger == nil {
		logger = utils.L()
	}
	return &OrderService{
		queue:         q,
		notifications: notifications,
		logger:        logger.WithComponent("order_service"),
	}
}

// CreateOrder ставит ордер в очередь исполнения.
//
// Возвращает (order, created): при дедупликации created == false
// и возвращается уже существующий ордер.
func (s *OrderService) CreateOrder(req *queue.CreateOrderRequest) (*models.PendingOrder, bool, error) {
	return s.queue.CreateOrder(req)
}

// GetOrder возвращает ордер по ID.
func (s *OrderService) GetOrder(id int64) (*models.PendingOrder, error) {
	return s.queue.GetOrder(id)
}

// GetOrders возвращает ордера, опционально отфильтрованные по статусу.
func (s *OrderService) GetOrders(status string, limit int) ([]*models.PendingOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if status == "" {
		return s.queue.GetRecent(limit)
	}
	return s.queue.GetByStatus(status, limit)
}

// QueueStats возвращает количество ордеров по каждому статусу.
func (s *OrderService) QueueStats() (map[string]int, error) {
	stats := make(map[string]int, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		count, err := s.queue.CountByStatus(status)
		if err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, nil
}

// ResetStuckOrders принудительно возвращает в очередь ордера,
// зависшие в PROCESSING дольше timeout (админ операция).
func (s *OrderService) ResetStuckOrders(timeout time.Duration) (int, error) {
	count, err := s.queue.ResetStuckOrders(timeout)
	if err != nil {
		return 0, err
	}
	if count > 0 && s.notifications != nil {
		s.notifications.NotifyStuckReset(count)
	}
	return count, nil
}

// ClearFailedKeys очищает список исчерпанных ключей ордера,
// чтобы executor снова попробовал все креденшелы (админ операция).
func (s *OrderService) ClearFailedKeys(id int64) (*models.PendingOrder, error) {
	order, err := s.queue.ClearFailedKeys(id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Список исчерпанных ключей очищен", utils.OrderID(id))
	return order, nil
}
