package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderexec/internal/api/handlers"
	"orderexec/internal/api/middleware"
	"orderexec/internal/service"
	"orderexec/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	OrderService        service.OrderServiceInterface
	CredentialService   service.CredentialServiceInterface
	NotificationService service.NotificationServiceInterface
	Breaker             handlers.BreakerAdmin
	Hub                 *websocket.Hub

	// AdminToken защищает /api/v1; пустой токен отключает auth
	AdminToken string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders/
//	│   ├── POST / - поставить ордер в очередь
//	│   ├── GET / - список ордеров (?status=&limit=)
//	│   ├── GET /{id} - один ордер
//	│   ├── GET /{id}/notifications - уведомления ордера
//	│   ├── POST /{id}/clear-failed-keys - сброс исчерпанных ключей
//	│   └── POST /reset-stuck - принудительный сброс зависших
//	├── /queue/
//	│   └── GET /stats - счетчики очереди по статусам
//	├── /breakers/
//	│   ├── GET / - состояние всех ключей
//	│   ├── GET /{keyId} - состояние одного ключа
//	│   ├── POST /{keyId}/reset - закрыть circuit ключа
//	│   └── POST /reset - закрыть все circuits
//	├── /credentials/
//	│   ├── GET / - ключи пользователя (?user_id=)
//	│   ├── POST / - добавить ключ
//	│   ├── PATCH /{id} - включить/выключить ключ
//	│   └── DELETE /{id} - удалить ключ
//	└── /notifications/
//	    └── GET / - журнал уведомлений
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. AdminAuth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	var orderHandler *handlers.OrderHandler
	if deps != nil && deps.OrderService != nil {
		orderHandler = handlers.NewOrderHandler(deps.OrderService, deps.NotificationService)
	}

	var breakerHandler *handlers.BreakerHandler
	if deps != nil && deps.Breaker != nil {
		breakerHandler = handlers.NewBreakerHandler(deps.Breaker)
	}

	var credentialHandler *handlers.CredentialHandler
	if deps != nil && deps.CredentialService != nil {
		credentialHandler = handlers.NewCredentialHandler(deps.CredentialService)
	}

	var notificationHandler *handlers.NotificationHandler
	if deps != nil && deps.NotificationService != nil {
		notificationHandler = handlers.NewNotificationHandler(deps.NotificationService)
	}

	// API v1 routes, защищены bearer токеном
	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.AdminAuth(deps.AdminToken))
	}

	// Order routes
	if orderHandler != nil {
		api.HandleFunc("/orders", orderHandler.CreateOrder).Methods("POST")
		api.HandleFunc("/orders", orderHandler.GetOrders).Methods("GET")
		api.HandleFunc("/orders/reset-stuck", orderHandler.ResetStuck).Methods("POST")
		api.HandleFunc("/orders/{id:[0-9]+}", orderHandler.GetOrder).Methods("GET")
		api.HandleFunc("/orders/{id:[0-9]+}/notifications", orderHandler.GetOrderNotifications).Methods("GET")
		api.HandleFunc("/orders/{id:[0-9]+}/clear-failed-keys", orderHandler.ClearFailedKeys).Methods("POST")
		api.HandleFunc("/queue/stats", orderHandler.GetQueueStats).Methods("GET")
	}

	// Breaker routes
	if breakerHandler != nil {
		api.HandleFunc("/breakers", breakerHandler.GetBreakers).Methods("GET")
		api.HandleFunc("/breakers/reset", breakerHandler.ResetAllBreakers).Methods("POST")
		api.HandleFunc("/breakers/{keyId}", breakerHandler.GetBreaker).Methods("GET")
		api.HandleFunc("/breakers/{keyId}/reset", breakerHandler.ResetBreaker).Methods("POST")
	}

	// Credential routes
	if credentialHandler != nil {
		api.HandleFunc("/credentials", credentialHandler.GetCredentials).Methods("GET")
		api.HandleFunc("/credentials", credentialHandler.CreateCredential).Methods("POST")
		api.HandleFunc("/credentials/{id}", credentialHandler.UpdateCredential).Methods("PATCH")
		api.HandleFunc("/credentials/{id}", credentialHandler.DeleteCredential).Methods("DELETE")
	}

	// Notification routes
	if notificationHandler != nil {
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
