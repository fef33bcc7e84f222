package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"orderexec/internal/models"
	"orderexec/internal/repository"
	"orderexec/pkg/crypto"
	"orderexec/pkg/utils"
)

// Ошибки сервиса креденшелов
var (
	ErrCredentialInvalid = errors.New("invalid credential")
)

// CredentialService предоставляет бизнес-логику для управления API ключами.
//
// Ключи шифруются AES-256-GCM перед записью в БД; наружу plaintext
// никогда не возвращается, только маска для UI.
type CredentialService struct {
	repo      *repository.CredentialRepository
	cipherKey []byte
	logger    *utils.Logger
}

// NewCredentialService создает новый экземпляр CredentialService.
func NewCredentialService(repo *repository.CredentialRepository, cipherKey []byte, logger *utils.Logger) *CredentialService {
	if logger == nil {
		logger = utils.L()
	}
	return &CredentialService{
		repo:      repo,
		cipherKey: cipherKey,
		logger:    logger.WithComponent("credential_service"),
	}
}

// CredentialView - креденшел для API ответов, без шифротекста
type CredentialView struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	MaskedKey string `json:"masked_key"`
	Enabled   bool   `json:"enabled"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CreateCredential шифрует и сохраняет новый API ключ пользователя.
func (s *CredentialService) CreateCredential(userID, label, apiKey, apiSecret string) (*CredentialView, error) {
	userID = strings.TrimSpace(userID)
	apiKey = strings.TrimSpace(apiKey)
	apiSecret = strings.TrimSpace(apiSecret)

	if userID == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("%w: user_id, api_key and api_secret are required", ErrCredentialInvalid)
	}

	encKey, err := crypto.Encrypt(apiKey, s.cipherKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := crypto.Encrypt(apiSecret, s.cipherKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api secret: %w", err)
	}

	cred := &models.APICredential{
		ID:        uuid.NewString(),
		UserID:    userID,
		Label:     strings.TrimSpace(label),
		APIKey:    encKey,
		APISecret: encSecret,
		Enabled:   true,
	}

	if err := s.repo.Create(cred); err != nil {
		return nil, err
	}

	s.logger.Info("Креденшел создан",
		utils.KeyID(cred.ID),
		utils.UserID(userID))

	return s.view(cred, apiKey), nil
}

// GetCredentials возвращает все ключи пользователя (включая выключенные)
// с замаскированными значениями.
func (s *CredentialService) GetCredentials(userID string) ([]*CredentialView, error) {
	creds, err := s.repo.GetByUser(userID)
	if err != nil {
		return nil, err
	}

	views := make([]*CredentialView, 0, len(creds))
	for _, cred := range creds {
		plain, err := crypto.Decrypt(cred.APIKey, s.cipherKey)
		if err != nil {
			// Ключ зашифрован другим cipher key - показываем без маски
			plain = ""
		}
		views = append(views, s.view(cred, plain))
	}
	return views, nil
}

// SetEnabled включает или выключает ключ.
func (s *CredentialService) SetEnabled(id string, enabled bool) error {
	if err := s.repo.SetEnabled(id, enabled); err != nil {
		return err
	}
	s.logger.Info("Статус креденшела изменен",
		utils.KeyID(id),
		utils.Bool("enabled", enabled))
	return nil
}

// DeleteCredential удаляет ключ.
func (s *CredentialService) DeleteCredential(id string) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}
	s.logger.Info("Креденшел удален", utils.KeyID(id))
	return nil
}

func (s *CredentialService) view(cred *models.APICredential, plainKey string) *CredentialView {
	return &CredentialView{
		ID:        cred.ID,
		UserID:    cred.UserID,
		Label:     cred.Label,
		MaskedKey: models.MaskedKey(plainKey),
		Enabled:   cred.Enabled,
		LastError: cred.LastError,
		CreatedAt: cred.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
