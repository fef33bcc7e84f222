package queue

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orderexec/internal/config"
	"orderexec/internal/models"
	"orderexec/internal/repository"
	"orderexec/pkg/retry"
	"orderexec/pkg/utils"
)

// Ошибки очереди
var (
	ErrInvalidSpec       = errors.New("invalid order spec")
	ErrTerminalOrder     = errors.New("order is in terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CreateOrderRequest - входные данные для создания ордера
type CreateOrderRequest struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
	Pair   string `json:"pair"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Volume string `json:"volume"`
	Price  string `json:"price,omitempty"`
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`

	// MaxAttempts: 0 = значение из конфигурации
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Queue - единственный источник истины о том, что должно быть исполнено,
// когда, и с какими гарантиями против дублирования.
//
// Все мутации PendingOrder проходят через методы Queue; каждая мутация -
// один условный атомарный UPDATE (guard по текущему статусу).
type Queue struct {
	store   OrderStore
	cfg     config.QueueConfig
	backoff retry.Config
	logger  *utils.Logger

	// clock для тестов
	now func() time.Time
}

// NewQueue создаёт очередь ордеров
func NewQueue(store OrderStore, cfg config.QueueConfig, logger *utils.Logger) *Queue {
	if logger == nil {
		logger = utils.L()
	}
	return &Queue{
		store: store,
		cfg:   cfg,
		backoff: retry.Config{
			InitialDelay: cfg.InitialRetryDelay,
			MaxDelay:     cfg.MaxRetryDelay,
			Multiplier:   cfg.Multiplier,
			JitterFactor: 0.2,
			Floor:        time.Second,
		},
		logger: logger.WithComponent("queue"),
		now:    time.Now,
	}
}

// ============================================================
// Идемпотентность
// ============================================================

// ComputeClientOrderID вычисляет детерминированный идентификатор намерения.
//
// Чистая функция от (userId, botId, pair, side, volume, секунда создания):
// повторное создание с теми же входами в ту же секунду даёт тот же id,
// что и дедуплицирует двойное срабатывание тика стратегии.
func ComputeClientOrderID(userID, botID, pair, side, volume string, createdAt time.Time) string {
	payload := strings.Join([]string{
		userID,
		botID,
		pair,
		side,
		volume,
		fmt.Sprintf("%d", createdAt.Unix()),
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// UserrefFromClientID деривирует 32-битный знаковый ref для корреляции
// с биржевым order reference (первые 4 байта хеша, без знакового бита)
func UserrefFromClientID(clientOrderID string) int32 {
	raw, err := hex.DecodeString(clientOrderID)
	if err != nil || len(raw) < 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(raw[:4]) & 0x7FFFFFFF)
}

// ============================================================
// Создание
// ============================================================

// CreateOrder создаёт ордер или возвращает существующий (идемпотентно)
//
// Возвращает (order, created, error); created=false означает дедупликацию.
//
// Два уровня дедупликации:
//  1. Liveness: у бота уже есть живой ордер с той же стороной -
//     возвращаем его, даже если объём отличается (single-flight per bot)
//  2. Точный дубликат: ордер с тем же clientOrderId существует
//     в нетерминальном статусе или COMPLETED - возвращаем его
func (q *Queue) CreateOrder(req *CreateOrderRequest) (*models.PendingOrder, bool, error) {
	if req.UserID == "" || req.BotID == "" {
		return nil, false, fmt.Errorf("%w: userId and botId are required", ErrInvalidSpec)
	}
	if err := utils.ValidateOrderSpec(req.Pair, req.Side, req.Type, req.Volume, req.Price); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	// Шаг 1: живой ордер той же стороны у этого бота
	active, err := q.store.FindActiveByBot(req.BotID)
	if err != nil {
		return nil, false, err
	}
	for _, existing := range active {
		if existing.Side == req.Side {
			q.logger.Info("Ордер не создан: у бота уже есть живое намерение",
				utils.BotID(req.BotID),
				utils.OrderID(existing.ID),
				utils.Status(existing.Status))
			return existing, false, nil
		}
	}

	now := q.now()
	clientOrderID := ComputeClientOrderID(req.UserID, req.BotID, req.Pair, req.Side, req.Volume, now)

	// Шаг 2: точный дубликат в этой же секунде
	existing, err := q.store.GetByClientOrderID(clientOrderID)
	if err == nil && existing.Status != models.OrderStatusFailed {
		q.logger.Info("Ордер не создан: найден дубликат по clientOrderId",
			utils.ClientOrderID(clientOrderID),
			utils.OrderID(existing.ID))
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, false, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	order := &models.PendingOrder{
		ClientOrderID: clientOrderID,
		Userref:       UserrefFromClientID(clientOrderID),
		ExecutionID:   uuid.New().String(),
		UserID:        req.UserID,
		BotID:         req.BotID,
		Pair:          req.Pair,
		Side:          req.Side,
		Type:          req.Type,
		Volume:        req.Volume,
		Price:         req.Price,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Status:        models.OrderStatusPending,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		Errors:        []models.OrderError{},
		FailedAPIKeys: []string{},
	}

	if err := q.store.Create(order); err != nil {
		return nil, false, err
	}

	q.logger.Info("Создан новый ордер",
		utils.OrderID(order.ID),
		utils.ClientOrderID(clientOrderID),
		utils.ExecutionID(order.ExecutionID),
		utils.BotID(req.BotID),
		utils.Pair(req.Pair),
		utils.Side(req.Side),
		utils.Volume(req.Volume))

	return order, true, nil
}

// ============================================================
// Выборка
// ============================================================

// GetOrder возвращает ордер по ID
func (q *Queue) GetOrder(id int64) (*models.PendingOrder, error) {
	return q.store.GetByID(id)
}

// GetReadyForExecution возвращает до limit ордеров, готовых к исполнению:
// PENDING либо RETRY с наступившим nextRetryAt, старые первыми (FIFO)
func (q *Queue) GetReadyForExecution(limit int) ([]*models.PendingOrder, error) {
	return q.store.GetReadyForExecution(q.now(), limit)
}

// GetRecent возвращает последние ордера (для админ API)
func (q *Queue) GetRecent(limit int) ([]*models.PendingOrder, error) {
	return q.store.GetRecent(limit)
}

// GetByStatus возвращает ордера в указанном статусе (для админ API)
func (q *Queue) GetByStatus(status string, limit int) ([]*models.PendingOrder, error) {
	return q.store.GetByStatus(status, limit)
}

// CountByStatus возвращает количество ордеров в статусе (для метрик)
func (q *Queue) CountByStatus(status string) (int, error) {
	return q.store.CountByStatus(status)
}

// ============================================================
// Переходы статусов
// ============================================================

// MarkAsProcessing переводит ордер PENDING|RETRY -> PROCESSING
//
// Вызывается ДО обращения к бирже: падение процесса между этим вызовом
// и терминальной записью оставляет след (PROCESSING с несвежим updatedAt),
// который подберёт ResetStuckOrders.
func (q *Queue) MarkAsProcessing(id int64) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(order.Status) {
		return nil, fmt.Errorf("%w: order %d is %s", ErrTerminalOrder, id, order.Status)
	}
	if !CanTransition(order.Status, models.OrderStatusProcessing) {
		return nil, fmt.Errorf("%w: %s -> PROCESSING", ErrInvalidTransition, order.Status)
	}

	from := order.Status
	now := q.now()
	order.Status = models.OrderStatusProcessing
	order.NextRetryAt = nil
	order.LastAttemptAt = &now

	if err := q.store.Update(order, from); err != nil {
		return nil, err
	}

	return order, nil
}

// MarkAsCompleted переводит ордер PROCESSING -> COMPLETED (терминальный)
func (q *Queue) MarkAsCompleted(id int64, result *models.ExecutionResult) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(order.Status) {
		return nil, fmt.Errorf("%w: order %d is %s", ErrTerminalOrder, id, order.Status)
	}
	if !CanTransition(order.Status, models.OrderStatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> COMPLETED", ErrInvalidTransition, order.Status)
	}

	from := order.Status
	now := q.now()
	order.Status = models.OrderStatusCompleted
	order.Attempts++
	order.NextRetryAt = nil
	order.CompletedAt = &now
	if result != nil {
		order.ExchangeOrderID = result.ExchangeOrderID
		order.ExecutedPrice = result.ExecutedPrice
		order.ExecutedVolume = result.ExecutedVolume
	}

	if err := q.store.Update(order, from); err != nil {
		return nil, err
	}

	q.logger.Info("Ордер исполнен",
		utils.OrderID(order.ID),
		utils.Attempt(order.Attempts),
		utils.String("exchange_order_id", order.ExchangeOrderID))

	return order, nil
}

// MarkAsFailed фиксирует завершённую неудачную попытку исполнения
//
// Всегда инкрементирует attempts ровно на 1 и дописывает запись в журнал
// ошибок. Далее решает: RETRY с вычисленным nextRetryAt либо FAILED.
//
// Принудительный FAILED независимо от retryable:
//   - журнал ошибок достиг потолка abandonment (защита от вечного цикла
//     при ошибочной классификации)
//   - превышен отдельный лимит повторов по "insufficient funds"
//     (если включён конфигурацией)
func (q *Queue) MarkAsFailed(id int64, message, keyUsed string, retryable bool) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(order.Status) {
		return nil, fmt.Errorf("%w: order %d is %s", ErrTerminalOrder, id, order.Status)
	}

	from := order.Status
	now := q.now()

	order.Errors = append(order.Errors, models.OrderError{
		Timestamp: now,
		Message:   message,
		KeyUsed:   keyUsed,
	})
	if keyUsed != "" && !order.HasFailedKey(keyUsed) {
		order.FailedAPIKeys = append(order.FailedAPIKeys, keyUsed)
	}
	order.Attempts++

	terminal := false
	switch {
	case len(order.Errors) >= q.cfg.AbandonCeiling:
		terminal = true
		q.logger.Warn("Ордер принудительно провален: достигнут потолок журнала ошибок",
			utils.OrderID(order.ID),
			utils.Int("errors", len(order.Errors)))

	case q.cfg.FundsRetryLimit > 0 && isFundsError(message) && q.countFundsErrors(order) >= q.cfg.FundsRetryLimit:
		terminal = true
		q.logger.Warn("Ордер принудительно провален: исчерпан лимит повторов по insufficient funds",
			utils.OrderID(order.ID),
			utils.Int("funds_retry_limit", q.cfg.FundsRetryLimit))

	case !retryable:
		terminal = true

	case order.Attempts >= order.MaxAttempts:
		terminal = true
	}

	if terminal {
		if !CanTransition(from, models.OrderStatusFailed) {
			return nil, fmt.Errorf("%w: %s -> FAILED", ErrInvalidTransition, from)
		}
		order.Status = models.OrderStatusFailed
		order.NextRetryAt = nil
	} else {
		if !CanTransition(from, models.OrderStatusRetry) {
			return nil, fmt.Errorf("%w: %s -> RETRY", ErrInvalidTransition, from)
		}
		delay := q.BackoffDelay(order.Attempts)
		retryAt := now.Add(delay)
		order.Status = models.OrderStatusRetry
		order.NextRetryAt = &retryAt
	}

	if err := q.store.Update(order, from); err != nil {
		return nil, err
	}

	if terminal {
		q.logger.Error("Ордер терминально провален",
			utils.OrderID(order.ID),
			utils.Attempt(order.Attempts),
			utils.String("error", message),
			utils.KeyID(keyUsed))
	} else {
		q.logger.Warn("Ордер запланирован на повтор",
			utils.OrderID(order.ID),
			utils.Attempt(order.Attempts),
			utils.Time("next_retry_at", *order.NextRetryAt),
			utils.String("error", message))
	}

	return order, nil
}

// Defer возвращает ордер PROCESSING -> RETRY без учёта попытки
//
// Используется когда попытки фактически не было: прямо сейчас нет ни
// одного пригодного креденшела (все в failedApiKeys или заблокированы
// breaker'ом). Очищает failedApiKeys, чтобы на следующем цикле каждый
// креденшел получил свежий шанс; attempts и журнал ошибок не трогает.
func (q *Queue) Defer(id int64, reason string) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(order.Status) {
		return nil, fmt.Errorf("%w: order %d is %s", ErrTerminalOrder, id, order.Status)
	}
	if !CanTransition(order.Status, models.OrderStatusRetry) {
		return nil, fmt.Errorf("%w: %s -> RETRY", ErrInvalidTransition, order.Status)
	}

	from := order.Status
	retryAt := q.now().Add(q.BackoffDelay(order.Attempts + 1))
	order.Status = models.OrderStatusRetry
	order.NextRetryAt = &retryAt
	order.FailedAPIKeys = []string{}

	if err := q.store.Update(order, from); err != nil {
		return nil, err
	}

	q.logger.Warn("Ордер отложен без попытки",
		utils.OrderID(order.ID),
		utils.String("reason", reason),
		utils.Time("next_retry_at", retryAt))

	return order, nil
}

// ResetStuckOrders возвращает в очередь ордера, застрявшие в PROCESSING
// дольше timeout (падение процесса между markAsProcessing и терминальной
// записью). Повтор немедленный: nextRetryAt = now.
func (q *Queue) ResetStuckOrders(timeout time.Duration) (int, error) {
	now := q.now()
	stuck, err := q.store.GetStuckProcessing(now.Add(-timeout))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, order := range stuck {
		stuckSince := order.UpdatedAt
		order.Errors = append(order.Errors, models.OrderError{
			Timestamp: now,
			Message:   "stuck in PROCESSING, auto-reset",
		})
		order.Status = models.OrderStatusRetry
		retryAt := now
		order.NextRetryAt = &retryAt

		if err := q.store.Update(order, models.OrderStatusProcessing); err != nil {
			// Конкурентное изменение - ордер уже не застрявший, пропускаем
			q.logger.Warn("Не удалось сбросить застрявший ордер",
				utils.OrderID(order.ID),
				utils.Err(err))
			continue
		}

		count++
		q.logger.Warn("Застрявший ордер возвращён в очередь",
			utils.OrderID(order.ID),
			utils.Time("stuck_since", stuckSince))
	}

	return count, nil
}

// AbandonIfExhausted принудительно проваливает ордер, чей журнал ошибок
// достиг потолка abandonment. Возвращает true если ордер был провален.
func (q *Queue) AbandonIfExhausted(order *models.PendingOrder) (bool, error) {
	if models.IsTerminal(order.Status) || len(order.Errors) < q.cfg.AbandonCeiling {
		return false, nil
	}

	from := order.Status
	order.Status = models.OrderStatusFailed
	order.NextRetryAt = nil
	order.Errors = append(order.Errors, models.OrderError{
		Timestamp: q.now(),
		Message:   "abandoned: error history ceiling reached",
	})

	if err := q.store.Update(order, from); err != nil {
		return false, err
	}

	q.logger.Error("Ордер заброшен: слишком длинная история ошибок",
		utils.OrderID(order.ID),
		utils.Int("errors", len(order.Errors)))

	return true, nil
}

// ClearFailedKeys очищает failedApiKeys ордера (админ операция)
func (q *Queue) ClearFailedKeys(id int64) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	order.FailedAPIKeys = []string{}
	if err := q.store.Update(order, order.Status); err != nil {
		return nil, err
	}

	q.logger.Info("Очищен список провалившихся ключей", utils.OrderID(order.ID))
	return order, nil
}

// RecordFailedKey дописывает креденшел в failedApiKeys ордера, не меняя
// статус и не учитывая попытку. Вызывается при failover внутри одного
// прохода: ключ провалился, но ордер продолжают исполнять другим ключом.
func (q *Queue) RecordFailedKey(id int64, keyID string) (*models.PendingOrder, error) {
	order, err := q.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusProcessing {
		return nil, fmt.Errorf("%w: order %d is %s, not PROCESSING", ErrInvalidTransition, id, order.Status)
	}
	if order.HasFailedKey(keyID) {
		return order, nil
	}

	order.FailedAPIKeys = append(order.FailedAPIKeys, keyID)
	if err := q.store.Update(order, models.OrderStatusProcessing); err != nil {
		return nil, err
	}

	return order, nil
}

// ============================================================
// Backoff
// ============================================================

// BackoffDelay вычисляет задержку перед указанной попыткой:
// min(maxRetryDelay, initialDelay * multiplier^(attempt-1)),
// симметричный jitter ±20%, минимум 1 секунда
func (q *Queue) BackoffDelay(attempt int) time.Duration {
	return q.backoff.DelayForAttempt(attempt)
}

// ============================================================
// Вспомогательное
// ============================================================

func isFundsError(message string) bool {
	return strings.Contains(strings.ToLower(message), "insufficient funds")
}

// countFundsErrors считает записи "insufficient funds" в журнале ордера
func (q *Queue) countFundsErrors(order *models.PendingOrder) int {
	count := 0
	for _, e := range order.Errors {
		if isFundsError(e.Message) {
			count++
		}
	}
	return count
}
