package service

import (
	"fmt"
	"strings"

	"orderexec/internal/executor"
	"orderexec/internal/models"
	"orderexec/internal/repository"
	"orderexec/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
	BroadcastOrderUpdate(order *models.PendingOrder)
}

// NotificationService предоставляет бизнес-логику для управления уведомлениями.
//
// Отвечает за:
// - Создание уведомлений о событиях пайплайна исполнения
// - Получение журнала уведомлений для админ API
// - Broadcast уведомлений через WebSocket
//
// Реализует executor.CompletionNotifier: executor дергает Notify* после
// каждого завершенного ордера, ошибки записи здесь только логируются
// и никогда не влияют на статус ордера.
type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	wsHub            WebSocketBroadcaster
	logger           *utils.Logger
}

var _ executor.CompletionNotifier = (*NotificationService)(nil)

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(notificationRepo *repository.NotificationRepository, logger *utils.Logger) *NotificationService {
	if logger == nil {
		logger = utils.L()
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		logger:           logger.WithComponent("notifications"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// CreateNotification создает новое уведомление.
//
// После успешного создания отправляет broadcast через WebSocket (если hub настроен).
func (s *NotificationService) CreateNotification(notif *models.Notification) error {
	if err := s.notificationRepo.Create(notif); err != nil {
		return err
	}

	// Broadcast через WebSocket hub для real-time обновления UI
	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	return nil
}

// GetNotifications возвращает последние уведомления (новые сверху).
//
// limit: максимальное количество записей (по умолчанию 100, максимум 500).
func (s *NotificationService) GetNotifications(limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.notificationRepo.GetRecent(limit)
}

// GetOrderNotifications возвращает историю уведомлений конкретного ордера.
func (s *NotificationService) GetOrderNotifications(orderID int64) ([]*models.Notification, error) {
	return s.notificationRepo.GetByOrderID(orderID)
}

// ============ executor.CompletionNotifier ============

// NotifyCompleted создает уведомление об успешном исполнении ордера.
func (s *NotificationService) NotifyCompleted(order *models.PendingOrder, result *models.ExecutionResult) {
	meta := orderMeta(order)
	if result != nil {
		meta["exchange_order_id"] = result.ExchangeOrderID
		if result.ExecutedPrice != "" {
			meta["executed_price"] = result.ExecutedPrice
		}
	}

	s.create(&models.Notification{
		Type:     models.NotificationTypeOrderCompleted,
		Severity: models.SeverityInfo,
		OrderID:  &order.ID,
		Message:  fmt.Sprintf("Ордер %s %s %s исполнен", order.Side, order.Volume, order.Pair),
		Meta:     meta,
	})

	s.broadcastOrder(order)
}

// NotifyFailed создает уведомление о терминальном провале ордера.
func (s *NotificationService) NotifyFailed(order *models.PendingOrder, reason string) {
	meta := orderMeta(order)
	meta["attempts"] = order.Attempts

	s.create(&models.Notification{
		Type:     models.NotificationTypeOrderFailed,
		Severity: models.SeverityError,
		OrderID:  &order.ID,
		Message:  fmt.Sprintf("Ордер %s %s %s провален: %s", order.Side, order.Volume, order.Pair, reason),
		Meta:     meta,
	})

	s.broadcastOrder(order)
}

// NotifyRetry создает уведомление о запланированном повторе.
func (s *NotificationService) NotifyRetry(order *models.PendingOrder, reason string) {
	meta := orderMeta(order)
	meta["attempts"] = order.Attempts
	if order.NextRetryAt != nil {
		meta["next_retry_at"] = order.NextRetryAt
	}

	s.create(&models.Notification{
		Type:     models.NotificationTypeOrderRetry,
		Severity: models.SeverityWarn,
		OrderID:  &order.ID,
		Message:  fmt.Sprintf("Ордер %s %s %s будет повторен: %s", order.Side, order.Volume, order.Pair, reason),
		Meta:     meta,
	})

	s.broadcastOrder(order)
}

// ============ события breaker'а и очереди ============

// NotifyBreakerState создает уведомление о смене состояния circuit breaker'а.
//
// Подключается через breaker.Registry.SetStateListener в main.go.
// Уведомление в БД пишется только для перехода в OPEN, остальные переходы
// идут только в WebSocket (иначе журнал забьется служебными событиями).
func (s *NotificationService) NotifyBreakerState(keyID, state string) {
	if strings.EqualFold(state, "OPEN") {
		s.create(&models.Notification{
			Type:     models.NotificationTypeBreakerOpen,
			Severity: models.SeverityWarn,
			Message:  fmt.Sprintf("Circuit breaker открыт для ключа %s", keyID),
			Meta:     map[string]interface{}{"key_id": keyID, "state": state},
		})
	}
}

// NotifyStuckReset создает уведомление о принудительном возврате зависших
// ордеров в очередь (админ операция).
func (s *NotificationService) NotifyStuckReset(count int) {
	if count == 0 {
		return
	}
	s.create(&models.Notification{
		Type:     models.NotificationTypeStuckReset,
		Severity: models.SeverityWarn,
		Message:  fmt.Sprintf("Возвращено в очередь зависших ордеров: %d", count),
		Meta:     map[string]interface{}{"count": count},
	})
}

// create пишет уведомление, логируя ошибку вместо ее возврата.
// Уведомления best-effort: пайплайн исполнения не должен от них зависеть.
func (s *NotificationService) create(notif *models.Notification) {
	if err := s.CreateNotification(notif); err != nil {
		s.logger.Error("Не удалось создать уведомление",
			utils.String("type", notif.Type),
			utils.Err(err))
	}
}

func (s *NotificationService) broadcastOrder(order *models.PendingOrder) {
	if s.wsHub != nil {
		s.wsHub.BroadcastOrderUpdate(order)
	}
}

func orderMeta(order *models.PendingOrder) map[string]interface{} {
	return map[string]interface{}{
		"pair":   order.Pair,
		"side":   order.Side,
		"volume": order.Volume,
		"bot_id": order.BotID,
	}
}
