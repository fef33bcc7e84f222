package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"orderexec/internal/breaker"
)

// ============ BreakerHandler Tests ============

func newBreakerRouter(h *BreakerHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/breakers", h.GetBreakers).Methods("GET")
	router.HandleFunc("/api/v1/breakers/reset", h.ResetAllBreakers).Methods("POST")
	router.HandleFunc("/api/v1/breakers/{keyId}", h.GetBreaker).Methods("GET")
	router.HandleFunc("/api/v1/breakers/{keyId}/reset", h.ResetBreaker).Methods("POST")
	return router
}

func TestBreakerHandler_GetBreakers(t *testing.T) {
	mockReg := NewMockBreaker()
	handler := NewBreakerHandler(mockReg)
	router := newBreakerRouter(handler)

	mockReg.SetState("key-1", breaker.StateOpen)
	mockReg.SetState("key-2", breaker.StateClosed)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Breakers []breaker.KeyState `json:"breakers"`
		Total    int                `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 2 {
		t.Errorf("expected 2 breakers, got %d", response.Total)
	}
}

func TestBreakerHandler_GetBreaker(t *testing.T) {
	t.Run("known key", func(t *testing.T) {
		mockReg := NewMockBreaker()
		handler := NewBreakerHandler(mockReg)
		router := newBreakerRouter(handler)

		mockReg.SetState("key-1", breaker.StateOpen)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers/key-1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		var response map[string]string
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["state"] != breaker.StateOpen {
			t.Errorf("expected OPEN, got %s", response["state"])
		}
	})

	t.Run("unknown key reports CLOSED", func(t *testing.T) {
		handler := NewBreakerHandler(NewMockBreaker())
		router := newBreakerRouter(handler)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers/ghost", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		var response map[string]string
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["state"] != breaker.StateClosed {
			t.Errorf("expected CLOSED, got %s", response["state"])
		}
	})
}

func TestBreakerHandler_ResetBreaker(t *testing.T) {
	t.Run("resets known key", func(t *testing.T) {
		mockReg := NewMockBreaker()
		handler := NewBreakerHandler(mockReg)
		router := newBreakerRouter(handler)

		mockReg.SetState("key-1", breaker.StateOpen)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/key-1/reset", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if mockReg.State("key-1") != breaker.StateClosed {
			t.Error("breaker was not reset")
		}
	})

	t.Run("404 for unknown key", func(t *testing.T) {
		handler := NewBreakerHandler(NewMockBreaker())
		router := newBreakerRouter(handler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/ghost/reset", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestBreakerHandler_ResetAllBreakers(t *testing.T) {
	mockReg := NewMockBreaker()
	handler := NewBreakerHandler(mockReg)
	router := newBreakerRouter(handler)

	mockReg.SetState("key-1", breaker.StateOpen)
	mockReg.SetState("key-2", breaker.StateHalfOpen)
	mockReg.SetState("key-3", breaker.StateClosed)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/reset", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]int
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["reset"] != 2 {
		t.Errorf("expected reset=2, got %d", response["reset"])
	}
}
