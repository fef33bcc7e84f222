package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"orderexec/internal/breaker"
)

// BreakerAdmin определяет операции circuit breaker'а, нужные API
type BreakerAdmin interface {
	Snapshot() []breaker.KeyState
	State(keyID string) string
	Reset(keyID string) bool
	ResetAll() int
}

var _ BreakerAdmin = (*breaker.Registry)(nil)

// BreakerHandler отвечает за мониторинг и управление circuit breaker'ами
//
// Endpoints:
// - GET /api/v1/breakers - состояние всех известных ключей
// - GET /api/v1/breakers/{keyId} - состояние одного ключа
// - POST /api/v1/breakers/{keyId}/reset - принудительное закрытие circuit
// - POST /api/v1/breakers/reset - принудительное закрытие всех circuits
type BreakerHandler struct {
	registry BreakerAdmin
}

// NewBreakerHandler создает новый BreakerHandler с внедрением зависимости
func NewBreakerHandler(registry BreakerAdmin) *BreakerHandler {
	return &BreakerHandler{registry: registry}
}

// GetBreakers возвращает состояние всех ключей
//
// GET /api/v1/breakers
//
// Ключи попадают в реестр лениво, при первом запросе через них:
// до первого исполнения список может быть пустым.
func (h *BreakerHandler) GetBreakers(w http.ResponseWriter, r *http.Request) {
	states := h.registry.Snapshot()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": states,
		"total":    len(states),
	})
}

// GetBreaker возвращает состояние одного ключа
//
// GET /api/v1/breakers/{keyId}
//
// Для неизвестного ключа возвращается CLOSED (ключ без истории здоров).
func (h *BreakerHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["keyId"]
	respondWithJSON(w, http.StatusOK, map[string]string{
		"key_id": keyID,
		"state":  h.registry.State(keyID),
	})
}

// ResetBreaker принудительно закрывает circuit одного ключа
//
// POST /api/v1/breakers/{keyId}/reset
//
// HTTP коды:
// - 200 OK: circuit закрыт
// - 404 Not Found: ключ неизвестен реестру
func (h *BreakerHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["keyId"]

	if !h.registry.Reset(keyID) {
		respondWithError(w, http.StatusNotFound, "Unknown key: "+keyID)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "Circuit breaker reset",
	})
}

// ResetAllBreakers принудительно закрывает все circuits
//
// POST /api/v1/breakers/reset
func (h *BreakerHandler) ResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	affected := h.registry.ResetAll()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reset": affected,
	})
}
