package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderexec/internal/exchange"
	"orderexec/internal/models"
)

// ============================================================
// Очередь
// ============================================================

// fakeQueue - поведенческий двойник очереди: хранит ордера в памяти и
// воспроизводит переходы статусов, которые исполнитель от неё ждёт
type fakeQueue struct {
	mu     sync.Mutex
	orders map[int64]*models.PendingOrder

	ready          []*models.PendingOrder
	stuckResets    int
	abandonCeiling int

	deferred    []int64
	failedKeys  map[int64][]string
	getReadyErr error
}

var _ OrderQueue = (*fakeQueue)(nil)

func newFakeQueue(orders ...*models.PendingOrder) *fakeQueue {
	q := &fakeQueue{
		orders:         make(map[int64]*models.PendingOrder),
		abandonCeiling: 50,
		failedKeys:     make(map[int64][]string),
	}
	for _, o := range orders {
		q.orders[o.ID] = o
		q.ready = append(q.ready, o)
	}
	return q
}

func (q *fakeQueue) get(id int64) *models.PendingOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.orders[id]
}

func (q *fakeQueue) GetReadyForExecution(limit int) ([]*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.getReadyErr != nil {
		return nil, q.getReadyErr
	}
	if limit > len(q.ready) {
		limit = len(q.ready)
	}
	return q.ready[:limit], nil
}

func (q *fakeQueue) MarkAsProcessing(id int64) (*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o, ok := q.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d not found", id)
	}
	if o.Status == models.OrderStatusProcessing || models.IsTerminal(o.Status) {
		return nil, fmt.Errorf("invalid transition from %s", o.Status)
	}
	o.Status = models.OrderStatusProcessing
	return o, nil
}

func (q *fakeQueue) MarkAsCompleted(id int64, result *models.ExecutionResult) (*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.orders[id]
	o.Status = models.OrderStatusCompleted
	o.Attempts++
	if result != nil {
		o.ExchangeOrderID = result.ExchangeOrderID
		o.ExecutedPrice = result.ExecutedPrice
		o.ExecutedVolume = result.ExecutedVolume
	}
	return o, nil
}

func (q *fakeQueue) MarkAsFailed(id int64, message, keyUsed string, retryable bool) (*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.orders[id]
	o.Attempts++
	o.Errors = append(o.Errors, models.OrderError{
		Timestamp: time.Now(),
		Message:   message,
		KeyUsed:   keyUsed,
	})
	if keyUsed != "" && !o.HasFailedKey(keyUsed) {
		o.FailedAPIKeys = append(o.FailedAPIKeys, keyUsed)
	}
	if retryable && o.Attempts < o.MaxAttempts {
		o.Status = models.OrderStatusRetry
	} else {
		o.Status = models.OrderStatusFailed
	}
	return o, nil
}

func (q *fakeQueue) Defer(id int64, reason string) (*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.orders[id]
	o.Status = models.OrderStatusRetry
	o.FailedAPIKeys = []string{}
	q.deferred = append(q.deferred, id)
	return o, nil
}

func (q *fakeQueue) RecordFailedKey(id int64, keyID string) (*models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.orders[id]
	if !o.HasFailedKey(keyID) {
		o.FailedAPIKeys = append(o.FailedAPIKeys, keyID)
	}
	q.failedKeys[id] = append(q.failedKeys[id], keyID)
	return o, nil
}

func (q *fakeQueue) ResetStuckOrders(timeout time.Duration) (int, error) {
	return q.stuckResets, nil
}

func (q *fakeQueue) AbandonIfExhausted(order *models.PendingOrder) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(order.Errors) < q.abandonCeiling {
		return false, nil
	}
	order.Status = models.OrderStatusFailed
	return true, nil
}

// ============================================================
// Креденшелы
// ============================================================

type fakeCreds struct {
	mu         sync.Mutex
	creds      []*models.APICredential
	lastErrors map[string]string
	err        error
}

var _ CredentialSource = (*fakeCreds)(nil)

func newFakeCreds(ids ...string) *fakeCreds {
	fc := &fakeCreds{lastErrors: make(map[string]string)}
	for _, id := range ids {
		fc.creds = append(fc.creds, &models.APICredential{
			ID: id, UserID: "user-1", Label: id, Enabled: true,
		})
	}
	return fc
}

func (f *fakeCreds) GetEnabledByUser(userID string) ([]*models.APICredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creds, nil
}

func (f *fakeCreds) SetLastError(id, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErrors[id] = lastError
	return nil
}

// ============================================================
// Breaker
// ============================================================

type fakeBreaker struct {
	mu        sync.Mutex
	open      map[string]bool
	successes []string
	failures  []string
}

var _ Breaker = (*fakeBreaker)(nil)

func newFakeBreaker() *fakeBreaker {
	return &fakeBreaker{open: make(map[string]bool)}
}

func (f *fakeBreaker) IsOpen(keyID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[keyID]
}

func (f *fakeBreaker) RecordSuccess(keyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, keyID)
}

func (f *fakeBreaker) RecordFailure(keyID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, keyID)
}

// ============================================================
// Биржа
// ============================================================

// placeScript - ответ биржи для конкретного ключа
type placeScript struct {
	result *exchange.PlaceResult
	err    error
	panics bool
}

type fakeExchange struct {
	mu         sync.Mutex
	placeByID  map[string]placeScript   // keyed by credential id
	placeQueue map[string][]placeScript // FIFO на вызов, приоритетнее placeByID
	statuses   []*exchange.OrderStatus
	statusErr  error
	statusIdx  int
	placed     []string // credential ids in call order
}

var _ ExchangeClient = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		placeByID:  make(map[string]placeScript),
		placeQueue: make(map[string][]placeScript),
	}
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, cred *models.APICredential, req *exchange.OrderRequest) (*exchange.PlaceResult, error) {
	f.mu.Lock()
	script := f.placeByID[cred.ID]
	if seq := f.placeQueue[cred.ID]; len(seq) > 0 {
		script = seq[0]
		f.placeQueue[cred.ID] = seq[1:]
	}
	f.placed = append(f.placed, cred.ID)
	f.mu.Unlock()

	if script.panics {
		panic("exchange client blew up")
	}
	if script.err != nil {
		return nil, script.err
	}
	if script.result != nil {
		return script.result, nil
	}
	return &exchange.PlaceResult{ExchangeOrderID: "TX-" + cred.ID}, nil
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, cred *models.APICredential, exchangeOrderID string) (*exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return &exchange.OrderStatus{
			ExchangeOrderID: exchangeOrderID,
			Status:          exchange.ExchangeOrderClosed,
			ExecutedPrice:   "45000.0",
			ExecutedVolume:  "1.0",
		}, nil
	}
	st := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return st, nil
}

// ============================================================
// Валидатор и notifier
// ============================================================

type fakeValidator struct {
	valid  bool
	reason string
	err    error
	calls  int
}

var _ ConditionValidator = (*fakeValidator)(nil)

func (f *fakeValidator) StillValid(ctx context.Context, order *models.PendingOrder) (bool, string, error) {
	f.calls++
	return f.valid, f.reason, f.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []int64
	failed    []int64
	retried   []int64
}

var _ CompletionNotifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) NotifyCompleted(order *models.PendingOrder, result *models.ExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, order.ID)
}

func (f *fakeNotifier) NotifyFailed(order *models.PendingOrder, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, order.ID)
}

func (f *fakeNotifier) NotifyRetry(order *models.PendingOrder, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, order.ID)
}
