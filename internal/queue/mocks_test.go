package queue

import (
	"sync"
	"time"

	"orderexec/internal/models"
	"orderexec/internal/repository"
)

// ============================================================
// In-memory реализация OrderStore для тестов
// ============================================================

type mockStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.PendingOrder

	// Инъекция ошибок
	createErr error
	updateErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		nextID: 1,
		orders: make(map[int64]*models.PendingOrder),
	}
}

func (s *mockStore) clone(o *models.PendingOrder) *models.PendingOrder {
	cp := *o
	cp.Errors = append([]models.OrderError(nil), o.Errors...)
	cp.FailedAPIKeys = append([]string(nil), o.FailedAPIKeys...)
	return &cp
}

func (s *mockStore) Create(order *models.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}

	order.ID = s.nextID
	s.nextID++
	s.orders[order.ID] = s.clone(order)
	return nil
}

func (s *mockStore) GetByID(id int64) (*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return s.clone(o), nil
}

func (s *mockStore) GetByClientOrderID(clientOrderID string) (*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ClientOrderID == clientOrderID {
			return s.clone(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *mockStore) FindActiveByBot(botID string) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range s.orders {
		if o.BotID == botID && !models.IsTerminal(o.Status) {
			result = append(result, s.clone(o))
		}
	}
	return result, nil
}

func (s *mockStore) GetReadyForExecution(now time.Time, limit int) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending {
			result = append(result, s.clone(o))
		} else if o.Status == models.OrderStatusRetry && o.NextRetryAt != nil && !o.NextRetryAt.After(now) {
			result = append(result, s.clone(o))
		}
	}

	// FIFO: старые первыми, tie-break по id
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			a, b := result[i], result[j]
			if b.CreatedAt.Before(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID < a.ID) {
				result[i], result[j] = b, a
			}
		}
	}

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *mockStore) GetStuckProcessing(olderThan time.Time) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range s.orders {
		if o.Status == models.OrderStatusProcessing && o.UpdatedAt.Before(olderThan) {
			result = append(result, s.clone(o))
		}
	}
	return result, nil
}

func (s *mockStore) Update(order *models.PendingOrder, fromStatuses ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}

	existing, ok := s.orders[order.ID]
	if !ok {
		return repository.ErrOrderNotFound
	}

	allowed := false
	for _, st := range fromStatuses {
		if existing.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return repository.ErrStaleStatus
	}

	order.UpdatedAt = time.Now()
	s.orders[order.ID] = s.clone(order)
	return nil
}

func (s *mockStore) GetRecent(limit int) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range s.orders {
		result = append(result, s.clone(o))
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *mockStore) GetByStatus(status string, limit int) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PendingOrder
	for _, o := range s.orders {
		if o.Status == status {
			result = append(result, s.clone(o))
		}
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *mockStore) CountByStatus(status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, o := range s.orders {
		if o.Status == status {
			count++
		}
	}
	return count, nil
}

// setUpdatedAt подменяет updatedAt ордера (для тестов stuck recovery)
func (s *mockStore) setUpdatedAt(id int64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.UpdatedAt = ts
	}
}

var _ OrderStore = (*mockStore)(nil)
