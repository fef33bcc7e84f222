// Package websocket рассылает события очереди ордеров подключенным
// клиентам (админ UI, мониторинг) в реальном времени.
package websocket

import (
	"bytes"
	"log"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBufferPool переиспользует буферы сериализации между broadcast'ами
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Центральный менеджер broadcast сообщений: регистрация и отключение
// клиентов, рассылка событий ордеров, уведомлений и состояний breaker'а.
// Медленные клиенты отключаются, а не тормозят остальных.
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Остановка главного цикла
	shutdown chan struct{}

	// Счётчик сообщений, отброшенных при переполнении broadcast канала
	dropped int64

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", h.ClientCount())

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock,
			// отправляем без блокировки register/unregister
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Буфер клиента переполнен - отключаем
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				log.Printf("Removed %d slow clients. Total clients: %d", len(toRemove), h.ClientCount())
			}
		}
	}
}

// Broadcast сериализует сообщение и рассылает всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	// Encoder дописывает newline - убираем
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	// Неблокирующая отправка: переполненный канал не должен тормозить
	// исполнение ордеров, лишние события отбрасываются
	select {
	case h.broadcast <- msgCopy:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// Stop останавливает главный цикл и отключает всех клиентов
func (h *Hub) Stop() {
	close(h.shutdown)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// BroadcastOrderUpdate отправляет изменение состояния ордера
func (h *Hub) BroadcastOrderUpdate(order *models.PendingOrder) {
	h.Broadcast(&OrderUpdateMessage{
		Type:    MessageTypeOrderUpdate,
		OrderID: order.ID,
		Status:  order.Status,
		Data:    order,
	})
}

// BroadcastNotification отправляет событие в ленту уведомлений
func (h *Hub) BroadcastNotification(notification *models.Notification) {
	h.Broadcast(&NotificationMessage{
		Type: MessageTypeNotification,
		Data: notification,
	})
}

// BroadcastBreakerUpdate отправляет смену состояния breaker'а ключа
func (h *Hub) BroadcastBreakerUpdate(keyID, state string) {
	h.Broadcast(&BreakerUpdateMessage{
		Type:      MessageTypeBreakerUpdate,
		KeyID:     keyID,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastQueueStats отправляет срез глубины очереди
func (h *Hub) BroadcastQueueStats(counts map[string]int) {
	h.Broadcast(&QueueStatsMessage{
		Type:      MessageTypeQueueStats,
		Counts:    counts,
		Timestamp: time.Now().UTC(),
	})
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
