package handlers

import (
	"sync"
	"time"

	"orderexec/internal/breaker"
	"orderexec/internal/models"
	"orderexec/internal/queue"
	"orderexec/internal/repository"
	"orderexec/internal/service"
)

// ============ Mock Order Service ============

// MockOrderService мок для OrderServiceInterface
type MockOrderService struct {
	orders     map[int64]*models.PendingOrder
	nextID     int64
	createErr  error
	getErr     error
	resetCount int
	mu         sync.Mutex
}

// NewMockOrderService создает новый мок сервиса ордеров
func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders: make(map[int64]*models.PendingOrder),
		nextID: 1,
	}
}

func (m *MockOrderService) AddOrder(status string) *models.PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := &models.PendingOrder{
		ID:     m.nextID,
		UserID: "user-1",
		BotID:  "bot-1",
		Pair:   "XBT/USD",
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Volume: "0.5",
		Status: status,
	}
	m.orders[order.ID] = order
	m.nextID++
	return order
}

func (m *MockOrderService) CreateOrder(req *queue.CreateOrderRequest) (*models.PendingOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, false, m.createErr
	}

	// имитация дедупликации: живой ордер того же бота и стороны
	for _, o := range m.orders {
		if o.BotID == req.BotID && o.Side == req.Side && !models.IsTerminal(o.Status) {
			return o, false, nil
		}
	}

	order := &models.PendingOrder{
		ID:     m.nextID,
		UserID: req.UserID,
		BotID:  req.BotID,
		Pair:   req.Pair,
		Side:   req.Side,
		Type:   req.Type,
		Volume: req.Volume,
		Status: models.OrderStatusPending,
	}
	m.orders[order.ID] = order
	m.nextID++
	return order, true, nil
}

func (m *MockOrderService) GetOrder(id int64) (*models.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (m *MockOrderService) GetOrders(status string, limit int) ([]*models.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			result = append(result, o)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockOrderService) QueueStats() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]int)
	for _, status := range models.AllStatuses {
		stats[status] = 0
	}
	for _, o := range m.orders {
		stats[o.Status]++
	}
	return stats, nil
}

func (m *MockOrderService) ResetStuckOrders(timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount, nil
}

func (m *MockOrderService) ClearFailedKeys(id int64) (*models.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	order.FailedAPIKeys = nil
	return order, nil
}

var _ service.OrderServiceInterface = (*MockOrderService)(nil)

// ============ Mock Credential Service ============

// MockCredentialService мок для CredentialServiceInterface
type MockCredentialService struct {
	views     map[string]*service.CredentialView
	createErr error
	mu        sync.Mutex
}

// NewMockCredentialService создает новый мок сервиса креденшелов
func NewMockCredentialService() *MockCredentialService {
	return &MockCredentialService{
		views: make(map[string]*service.CredentialView),
	}
}

func (m *MockCredentialService) CreateCredential(userID, label, apiKey, apiSecret string) (*service.CredentialView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	if userID == "" || apiKey == "" || apiSecret == "" {
		return nil, service.ErrCredentialInvalid
	}

	view := &service.CredentialView{
		ID:        "cred-1",
		UserID:    userID,
		Label:     label,
		MaskedKey: models.MaskedKey(apiKey),
		Enabled:   true,
	}
	m.views[view.ID] = view
	return view, nil
}

func (m *MockCredentialService) GetCredentials(userID string) ([]*service.CredentialView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*service.CredentialView
	for _, v := range m.views {
		if v.UserID == userID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *MockCredentialService) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view, ok := m.views[id]
	if !ok {
		return repository.ErrCredentialNotFound
	}
	view.Enabled = enabled
	return nil
}

func (m *MockCredentialService) DeleteCredential(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.views[id]; !ok {
		return repository.ErrCredentialNotFound
	}
	delete(m.views, id)
	return nil
}

var _ service.CredentialServiceInterface = (*MockCredentialService)(nil)

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
	mu            sync.Mutex
}

// NewMockNotificationService создает новый мок сервиса уведомлений
func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) AddNotification(notifType, severity, message string, orderID *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        len(m.notifications) + 1,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		OrderID:   orderID,
		Message:   message,
	})
}

func (m *MockNotificationService) GetNotifications(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit <= 0 {
		limit = 100
	}
	if len(m.notifications) > limit {
		return m.notifications[:limit], nil
	}
	return m.notifications, nil
}

func (m *MockNotificationService) GetOrderNotifications(orderID int64) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*models.Notification
	for _, n := range m.notifications {
		if n.OrderID != nil && *n.OrderID == orderID {
			result = append(result, n)
		}
	}
	return result, nil
}

var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)

// ============ Mock Breaker ============

// MockBreaker мок для BreakerAdmin
type MockBreaker struct {
	states map[string]string
	mu     sync.Mutex
}

// NewMockBreaker создает новый мок реестра breaker'ов
func NewMockBreaker() *MockBreaker {
	return &MockBreaker{states: make(map[string]string)}
}

func (m *MockBreaker) SetState(keyID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[keyID] = state
}

func (m *MockBreaker) Snapshot() []breaker.KeyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]breaker.KeyState, 0, len(m.states))
	for keyID, state := range m.states {
		result = append(result, breaker.KeyState{KeyID: keyID, State: state})
	}
	return result
}

func (m *MockBreaker) State(keyID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[keyID]; ok {
		return state
	}
	return breaker.StateClosed
}

func (m *MockBreaker) Reset(keyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[keyID]; !ok {
		return false
	}
	m.states[keyID] = breaker.StateClosed
	return true
}

func (m *MockBreaker) ResetAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for keyID, state := range m.states {
		if state != breaker.StateClosed {
			count++
		}
		m.states[keyID] = breaker.StateClosed
	}
	return count
}

var _ BreakerAdmin = (*MockBreaker)(nil)
