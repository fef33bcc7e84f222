// Package executor исполняет готовые ордера очереди против биржи.
// Единственный компонент с биржевым I/O: владеет конкурентностью,
// rate limiting и failover по креденшелам.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/multierr"

	"orderexec/internal/config"
	"orderexec/internal/exchange"
	"orderexec/internal/models"
	"orderexec/pkg/ratelimit"
	"orderexec/pkg/retry"
	"orderexec/pkg/utils"
)

// errStillOpen сигнализирует циклу верификации, что ордер ещё не закрыт
var errStillOpen = errors.New("order still open on exchange")

// Executor - активный цикл исполнения ордеров
type Executor struct {
	queue     OrderQueue
	creds     CredentialSource
	breaker   Breaker
	client    ExchangeClient
	validator ConditionValidator
	notifier  CompletionNotifier

	cfg          config.ExecutorConfig
	stuckTimeout time.Duration
	limiter      *ratelimit.RateLimiter
	logger       *utils.Logger

	// in-flight учёт: один ордер не может исполняться двумя воркерами,
	// даже если тики цикла накладываются
	mu       sync.Mutex
	inFlight map[int64]struct{}
	wg       sync.WaitGroup
}

// NewExecutor создаёт исполнителя. stuckTimeout - возраст PROCESSING,
// после которого ордер считается застрявшим.
func NewExecutor(
	q OrderQueue,
	creds CredentialSource,
	br Breaker,
	client ExchangeClient,
	validator ConditionValidator,
	notifier CompletionNotifier,
	cfg config.ExecutorConfig,
	stuckTimeout time.Duration,
	logger *utils.Logger,
) *Executor {
	return &Executor{
		queue:        q,
		creds:        creds,
		breaker:      br,
		client:       client,
		validator:    validator,
		notifier:     notifier,
		cfg:          cfg,
		stuckTimeout: stuckTimeout,
		limiter:      ratelimit.NewRateLimiter(cfg.MaxOrdersPerSecond, 1),
		logger:       logger.WithComponent("executor"),
	}
}

// ============================================================
// Главный цикл
// ============================================================

// ExecutePendingOrders выполняет один проход: recovery застрявших,
// backpressure, выборка готовых, диспетчеризация воркеров.
// Вызывается планировщиком; безопасен при наложении тиков.
func (e *Executor) ExecutePendingOrders(ctx context.Context) error {
	if reset, err := e.queue.ResetStuckOrders(e.stuckTimeout); err != nil {
		e.logger.Error("Сброс застрявших ордеров провалился", utils.Err(err))
	} else if reset > 0 {
		StuckOrdersReset.Add(float64(reset))
		e.logger.Warn("Застрявшие ордера возвращены в очередь", utils.Int("count", reset))
	}

	capacity := e.cfg.MaxConcurrentOrders - e.inFlightCount()
	if capacity <= 0 {
		// Backpressure: вся ёмкость занята, новых ордеров не берём
		e.logger.Debug("Исполнитель загружен, тик пропущен",
			utils.Int("max_concurrent", e.cfg.MaxConcurrentOrders))
		return nil
	}

	orders, err := e.queue.GetReadyForExecution(capacity)
	if err != nil {
		return fmt.Errorf("fetch ready orders: %w", err)
	}

	for _, order := range orders {
		if !e.claim(order.ID) {
			continue // уже в работе с прошлого тика
		}

		// Пейсинг диспетчеризации: не больше maxOrdersPerSecond стартов
		if err := e.limiter.Wait(ctx); err != nil {
			e.release(order.ID)
			return err
		}

		e.wg.Add(1)
		go e.runWorker(ctx, order)
	}

	return nil
}

// Wait блокирует до завершения всех воркеров (graceful shutdown)
func (e *Executor) Wait() {
	e.wg.Wait()
}

// InFlight возвращает текущее число исполняемых ордеров
func (e *Executor) InFlight() int {
	return e.inFlightCount()
}

func (e *Executor) inFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// claim атомарно помечает ордер исполняемым
func (e *Executor) claim(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inFlight == nil {
		e.inFlight = make(map[int64]struct{})
	}
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	InFlightOrders.Set(float64(len(e.inFlight)))
	return true
}

func (e *Executor) release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
	InFlightOrders.Set(float64(len(e.inFlight)))
}

// runWorker исполняет один ордер с защитой от паники.
// Паника воркера не должна ни уронить процесс, ни оставить ордер
// висеть в PROCESSING до таймаута застревания.
func (e *Executor) runWorker(ctx context.Context, order *models.PendingOrder) {
	defer e.wg.Done()
	defer e.release(order.ID)

	defer func() {
		if r := recover(); r != nil {
			PanicsRecovered.Inc()
			e.logger.Error("Паника в воркере исполнения",
				utils.OrderID(order.ID),
				utils.Any("panic", r),
				utils.String("stack", string(debug.Stack())))

			if _, err := e.queue.MarkAsFailed(order.ID, fmt.Sprintf("panic: %v", r), "", true); err != nil {
				e.logger.Error("Не удалось записать панику в ордер",
					utils.OrderID(order.ID), utils.Err(err))
			}
			RecordOutcome("retry")
		}
	}()

	e.executeOrder(ctx, order)
}

// ============================================================
// Исполнение одного ордера
// ============================================================

func (e *Executor) executeOrder(ctx context.Context, order *models.PendingOrder) {
	log := e.logger.With(
		utils.OrderID(order.ID),
		utils.ClientOrderID(order.ClientOrderID),
		utils.ExecutionID(order.ExecutionID),
		utils.BotID(order.BotID),
		utils.Pair(order.Pair),
		utils.Side(order.Side),
	)

	// 1. Потолок истории ошибок
	abandoned, err := e.queue.AbandonIfExhausted(order)
	if err != nil {
		log.Error("Проверка abandonment провалилась", utils.Err(err))
		return
	}
	if abandoned {
		RecordOutcome("abandoned")
		e.notifier.NotifyFailed(order, "abandoned: error history ceiling reached")
		return
	}

	// 2. Перед повтором проверяем, что исходные условия стратегии ещё
	// актуальны. Повторять решение, которое уже не валидно, хуже, чем
	// не делать ничего. Ошибка валидатора - fail-open: исполняем.
	if order.Attempts > 0 && e.validator != nil {
		valid, reason, err := e.validator.StillValid(ctx, order)
		if err != nil {
			log.Warn("Валидатор условий недоступен, исполняем без проверки", utils.Err(err))
		} else if !valid {
			msg := "trading conditions no longer valid: " + reason
			if _, err := e.queue.MarkAsFailed(order.ID, msg, "", false); err != nil {
				log.Error("Не удалось провалить ордер", utils.Err(err))
				return
			}
			log.Warn("Повтор отменён: условия устарели", utils.String("reason", reason))
			RecordOutcome("failed")
			e.notifier.NotifyFailed(order, msg)
			return
		}
	}

	// 3. Захват ордера. Проигрыш гонки другому инстансу - не ошибка.
	order, err = e.queue.MarkAsProcessing(order.ID)
	if err != nil {
		log.Debug("Ордер уже захвачен или завершён", utils.Err(err))
		return
	}

	// 4. Кандидаты: все включённые ключи пользователя минус уже
	// провалившиеся для этого ордера минус закрытые breaker'ом
	all, err := e.creds.GetEnabledByUser(order.UserID)
	if err != nil {
		e.failOrder(log, order, "credential lookup failed: "+err.Error(), "", true)
		return
	}
	if len(all) == 0 {
		e.failOrder(log, order, "no enabled credentials for user", "", true)
		return
	}

	candidates := make([]*models.APICredential, 0, len(all))
	for _, cred := range all {
		if order.HasFailedKey(cred.ID) || e.breaker.IsOpen(cred.ID) {
			continue
		}
		candidates = append(candidates, cred)
	}

	if len(candidates) == 0 {
		// Ключи есть, но прямо сейчас все недоступны. Это не провал
		// попытки: откладываем и даём каждому ключу свежий шанс.
		if _, err := e.queue.Defer(order.ID, "no usable credentials"); err != nil {
			log.Error("Не удалось отложить ордер", utils.Err(err))
			return
		}
		RecordOutcome("deferred")
		return
	}

	// 5. Failover по кандидатам в стабильном порядке
	var aggErr error
	var lastErr error
	var lastKey string

	for i, cred := range candidates {
		result, placeErr := e.placeOrder(ctx, cred, order)
		if placeErr == nil {
			e.finishOrder(ctx, log, order, cred, result)
			return
		}

		retryable, reason := Classify(placeErr)
		RecordClassifiedError(reason, retryable)
		e.breaker.RecordFailure(cred.ID, placeErr.Error())
		if err := e.creds.SetLastError(cred.ID, placeErr.Error()); err != nil {
			log.Warn("Не удалось записать ошибку креденшела",
				utils.KeyID(cred.ID), utils.Err(err))
		}

		log.Warn("Ошибка размещения",
			utils.KeyID(cred.ID),
			utils.Attempt(order.Attempts+1),
			utils.String("class", reason),
			utils.Bool("retryable", retryable),
			utils.Err(placeErr))

		// Невалидный запрос провален для любого ключа - failover бессмыслен
		if !retryable {
			e.failOrder(log, order, placeErr.Error(), cred.ID, false)
			return
		}

		aggErr = multierr.Append(aggErr, fmt.Errorf("key %s: %w", cred.ID, placeErr))
		lastErr, lastKey = placeErr, cred.ID

		if i < len(candidates)-1 {
			// Ключ в failedApiKeys, пробуем следующий
			if _, err := e.queue.RecordFailedKey(order.ID, cred.ID); err != nil {
				log.Error("Не удалось записать провалившийся ключ", utils.Err(err))
			}
			CredentialFailovers.Inc()
		}
	}

	// 6. Все кандидаты провалились: записываем последнюю ошибку, retryable
	log.Error("Все креденшелы провалились в этом проходе", utils.Err(aggErr))
	e.failOrder(log, order, lastErr.Error(), lastKey, true)
}

// placeOrder - один вызов биржи с таймаутом
func (e *Executor) placeOrder(ctx context.Context, cred *models.APICredential, order *models.PendingOrder) (*exchange.PlaceResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.client.PlaceOrder(callCtx, cred, &exchange.OrderRequest{
		Pair:          order.Pair,
		Side:          order.Side,
		Type:          order.Type,
		Volume:        order.Volume,
		Price:         order.Price,
		Userref:       order.Userref,
		ClientOrderID: order.ClientOrderID,
	})
	PlaceOrderLatency.Observe(float64(time.Since(start).Milliseconds()))
	return result, err
}

// finishOrder верифицирует исполнение и записывает терминальный исход.
// Биржа приняла ордер: повторная отправка запрещена, поэтому любой
// исход кроме canceled/expired завершается COMPLETED.
func (e *Executor) finishOrder(ctx context.Context, log *utils.Logger, order *models.PendingOrder, cred *models.APICredential, placed *exchange.PlaceResult) {
	status, polls := e.verifyExecution(ctx, cred, placed.ExchangeOrderID)
	VerifyAttempts.Observe(float64(polls))

	if status != nil && (status.Status == exchange.ExchangeOrderCanceled || status.Status == exchange.ExchangeOrderExpired) {
		msg := "order " + status.Status + " on exchange"
		log.Warn("Биржа отменила ордер после приёма",
			utils.KeyID(cred.ID),
			utils.String("exchange_order_id", placed.ExchangeOrderID),
			utils.String("exchange_status", status.Status))

		// Ключ рабочий: биржа приняла ордер и лишь потом отменила.
		// keyUsed пустой, чтобы не занести ключ в failedApiKeys.
		failed, err := e.queue.MarkAsFailed(order.ID, msg, "", true)
		if err != nil {
			log.Error("Не удалось записать отмену биржи", utils.Err(err))
			return
		}
		e.recordFailedOutcome(failed, msg)
		return
	}

	result := &models.ExecutionResult{ExchangeOrderID: placed.ExchangeOrderID}
	if status != nil {
		result.ExecutedPrice = status.ExecutedPrice
		result.ExecutedVolume = status.ExecutedVolume
		if status.Status != exchange.ExchangeOrderClosed {
			log.Warn("Ордер принят, но ещё не закрыт - считаем исполненным",
				utils.String("exchange_status", status.Status))
		}
	} else {
		log.Warn("Верификация не подтвердила статус, ордер принят биржей - считаем исполненным",
			utils.String("exchange_order_id", placed.ExchangeOrderID))
	}

	e.breaker.RecordSuccess(cred.ID)

	completed, err := e.queue.MarkAsCompleted(order.ID, result)
	if err != nil {
		log.Error("Не удалось записать успешное исполнение", utils.Err(err))
		return
	}

	log.Info("Ордер исполнен",
		utils.KeyID(cred.ID),
		utils.String("exchange_order_id", placed.ExchangeOrderID),
		utils.Attempt(completed.Attempts))
	RecordOutcome("completed")
	e.notifier.NotifyCompleted(completed, result)
}

// verifyExecution опрашивает статус ордера ограниченное число раз с
// фиксированной задержкой. Возвращает последний известный статус и
// число сделанных опросов; nil если ни один опрос не ответил.
func (e *Executor) verifyExecution(ctx context.Context, cred *models.APICredential, exchangeOrderID string) (*exchange.OrderStatus, int) {
	var last *exchange.OrderStatus
	polls := 0

	err := retry.Do(ctx, func() error {
		polls++
		st, err := e.client.GetOrderStatus(ctx, cred, exchangeOrderID)
		if err != nil {
			return err
		}
		last = st
		switch st.Status {
		case exchange.ExchangeOrderClosed, exchange.ExchangeOrderCanceled, exchange.ExchangeOrderExpired:
			return nil
		default:
			return errStillOpen
		}
	}, retry.FixedConfig(e.cfg.VerifyAttempts, e.cfg.VerifyDelay))

	if err != nil && !errors.Is(err, errStillOpen) {
		e.logger.Warn("Опрос статуса ордера не удался",
			utils.String("exchange_order_id", exchangeOrderID),
			utils.Err(err))
	}

	return last, polls
}

// failOrder записывает провал попытки и рассылает уведомление
func (e *Executor) failOrder(log *utils.Logger, order *models.PendingOrder, message, keyUsed string, retryable bool) {
	updated, err := e.queue.MarkAsFailed(order.ID, message, keyUsed, retryable)
	if err != nil {
		log.Error("Не удалось записать провал попытки", utils.Err(err))
		return
	}
	e.recordFailedOutcome(updated, message)
}

// recordFailedOutcome выбирает метрику и уведомление по итоговому статусу
func (e *Executor) recordFailedOutcome(order *models.PendingOrder, message string) {
	if order.Status == models.OrderStatusFailed {
		RecordOutcome("failed")
		e.notifier.NotifyFailed(order, message)
		return
	}
	RecordOutcome("retry")
	e.notifier.NotifyRetry(order, message)
}
