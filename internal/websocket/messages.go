package websocket

import (
	"time"

	"orderexec/internal/models"
)

// Типизированные сообщения вместо map[string]interface{}: сериализация
// известных типов быстрее и исключает опечатки в ключах.

// Типы исходящих сообщений
const (
	MessageTypeOrderUpdate   = "orderUpdate"
	MessageTypeNotification  = "notification"
	MessageTypeBreakerUpdate = "breakerUpdate"
	MessageTypeQueueStats    = "queueStats"
)

// OrderUpdateMessage - изменение состояния ордера в очереди
type OrderUpdateMessage struct {
	Type    string      `json:"type"`
	OrderID int64       `json:"order_id"`
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
}

// NotificationMessage - событие для ленты уведомлений
type NotificationMessage struct {
	Type string               `json:"type"`
	Data *models.Notification `json:"data"`
}

// BreakerUpdateMessage - изменение состояния circuit breaker'а ключа
type BreakerUpdateMessage struct {
	Type      string    `json:"type"`
	KeyID     string    `json:"key_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueStatsMessage - срез глубины очереди по статусам
type QueueStatsMessage struct {
	Type      string         `json:"type"`
	Counts    map[string]int `json:"counts"`
	Timestamp time.Time      `json:"timestamp"`
}
