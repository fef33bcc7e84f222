package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"orderexec/internal/queue"
	"orderexec/internal/repository"
	"orderexec/internal/service"
)

// OrderHandler отвечает за управление очередью ордеров
//
// Endpoints:
// - POST /api/v1/orders - поставить ордер в очередь
// - GET /api/v1/orders - список ордеров (?status=RETRY&limit=50)
// - GET /api/v1/orders/{id} - один ордер с полной историей ошибок
// - GET /api/v1/orders/{id}/notifications - уведомления ордера
// - POST /api/v1/orders/{id}/clear-failed-keys - сброс исчерпанных ключей
// - POST /api/v1/orders/reset-stuck - принудительный сброс зависших
// - GET /api/v1/queue/stats - счетчики очереди по статусам
type OrderHandler struct {
	orderService        service.OrderServiceInterface
	notificationService service.NotificationServiceInterface
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимостей
func NewOrderHandler(orderService service.OrderServiceInterface, notificationService service.NotificationServiceInterface) *OrderHandler {
	return &OrderHandler{
		orderService:        orderService,
		notificationService: notificationService,
	}
}

// CreateOrderResponse представляет ответ создания ордера
type CreateOrderResponse struct {
	Order   interface{} `json:"order"`
	Created bool        `json:"created"`
}

// CreateOrder ставит ордер в очередь исполнения
//
// POST /api/v1/orders
//
// Тело запроса - queue.CreateOrderRequest (user_id, bot_id, pair, side,
// type, volume и опциональные price, amount, reason, max_attempts).
//
// Дедупликация: если у бота уже есть живой ордер той же стороны, или
// идентичный ордер уже создавался в ту же секунду, возвращается
// существующий ордер с created=false и кодом 200 вместо 201.
//
// HTTP коды:
// - 201 Created: новый ордер поставлен в очередь
// - 200 OK: дедупликация, возвращен существующий ордер
// - 400 Bad Request: невалидное тело или параметры ордера
// - 500 Internal Server Error: ошибка БД
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req queue.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	order, created, err := h.orderService.CreateOrder(&req)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidSpec) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to create order: "+err.Error())
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	respondWithJSON(w, code, CreateOrderResponse{Order: order, Created: created})
}

// GetOrders возвращает список ордеров
//
// GET /api/v1/orders
//
// Query параметры:
// - status (string): фильтр по статусу (PENDING, PROCESSING, RETRY, COMPLETED, FAILED)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	orders, err := h.orderService.GetOrders(status, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get orders: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  len(orders),
	})
}

// GetOrder возвращает один ордер по ID
//
// GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to get order: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

// GetOrderNotifications возвращает историю уведомлений ордера
//
// GET /api/v1/orders/{id}/notifications
func (h *OrderHandler) GetOrderNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	notifications, err := h.notificationService.GetOrderNotifications(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get notifications: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"total":         len(notifications),
	})
}

// ClearFailedKeys сбрасывает список исчерпанных ключей ордера
//
// POST /api/v1/orders/{id}/clear-failed-keys
//
// После сброса executor снова попробует все креденшелы пользователя.
// Используется после ручного исправления проблемы с ключами.
func (h *OrderHandler) ClearFailedKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.ClearFailedKeys(id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		if errors.Is(err, queue.ErrTerminalOrder) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to clear failed keys: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "Failed keys cleared",
		Data:    order,
	})
}

// ResetStuckRequest представляет тело запроса сброса зависших ордеров
type ResetStuckRequest struct {
	// TimeoutSeconds: ордера в PROCESSING дольше этого времени
	// считаются зависшими. 0 = значение по умолчанию (5 минут).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ResetStuck принудительно возвращает зависшие ордера в очередь
//
// POST /api/v1/orders/reset-stuck
//
// Scheduler делает это автоматически перед каждым циклом, endpoint
// нужен для немедленного восстановления без ожидания тика.
func (h *OrderHandler) ResetStuck(w http.ResponseWriter, r *http.Request) {
	var req ResetStuckRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	timeout := 5 * time.Minute
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	count, err := h.orderService.ResetStuckOrders(timeout)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to reset stuck orders: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reset": count,
	})
}

// GetQueueStats возвращает количество ордеров по каждому статусу
//
// GET /api/v1/queue/stats
func (h *OrderHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orderService.QueueStats()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get queue stats: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// orderID извлекает и валидирует {id} из пути
func (h *OrderHandler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid order id: "+idStr)
		return 0, false
	}
	return id, true
}
