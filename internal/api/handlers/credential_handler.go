package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"orderexec/internal/repository"
	"orderexec/internal/service"
)

// CredentialHandler отвечает за управление API ключами пользователей
//
// Endpoints:
// - GET /api/v1/credentials?user_id=... - ключи пользователя (маскированные)
// - POST /api/v1/credentials - добавить ключ
// - PATCH /api/v1/credentials/{id} - включить/выключить ключ
// - DELETE /api/v1/credentials/{id} - удалить ключ
//
// Plaintext ключей наружу не возвращается никогда, только маска.
type CredentialHandler struct {
	credentialService service.CredentialServiceInterface
}

// NewCredentialHandler создает новый CredentialHandler с внедрением зависимости
func NewCredentialHandler(credentialService service.CredentialServiceInterface) *CredentialHandler {
	return &CredentialHandler{credentialService: credentialService}
}

// CreateCredentialRequest представляет тело запроса добавления ключа
type CreateCredentialRequest struct {
	UserID    string `json:"user_id"`
	Label     string `json:"label,omitempty"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// CreateCredential добавляет новый API ключ
//
// POST /api/v1/credentials
//
// Ключ и секрет шифруются перед записью в БД. Новый ключ сразу
// включен и попадает в ротацию executor'а.
func (h *CredentialHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	view, err := h.credentialService.CreateCredential(req.UserID, req.Label, req.APIKey, req.APISecret)
	if err != nil {
		if errors.Is(err, service.ErrCredentialInvalid) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to create credential: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, view)
}

// GetCredentials возвращает ключи пользователя
//
// GET /api/v1/credentials?user_id=...
func (h *CredentialHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	views, err := h.credentialService.GetCredentials(userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get credentials: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": views,
		"total":       len(views),
	})
}

// UpdateCredentialRequest представляет тело запроса изменения ключа
type UpdateCredentialRequest struct {
	Enabled *bool `json:"enabled"`
}

// UpdateCredential включает или выключает ключ
//
// PATCH /api/v1/credentials/{id}
//
// Выключенный ключ не участвует в ротации executor'а, но остается в БД.
func (h *CredentialHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		respondWithError(w, http.StatusBadRequest, "enabled field is required")
		return
	}

	if err := h.credentialService.SetEnabled(id, *req.Enabled); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			respondWithError(w, http.StatusNotFound, "Credential not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to update credential: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Credential updated"})
}

// DeleteCredential удаляет ключ
//
// DELETE /api/v1/credentials/{id}
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.credentialService.DeleteCredential(id); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			respondWithError(w, http.StatusNotFound, "Credential not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to delete credential: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Credential deleted"})
}
