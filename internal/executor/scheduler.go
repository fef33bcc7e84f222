package executor

import (
	"context"
	"time"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// StatusCounter отдаёт число ордеров по статусу для метрик
type StatusCounter interface {
	CountByStatus(status string) (int, error)
}

// BreakerStats отдаёт число заблокированных ключей для метрик
type BreakerStats interface {
	OpenCount() int
}

// Scheduler периодически запускает цикл исполнителя
type Scheduler struct {
	executor *Executor
	counter  StatusCounter
	breaker  BreakerStats
	interval time.Duration
	logger   *utils.Logger
}

// NewScheduler создаёт планировщик с заданным периодом тика
func NewScheduler(exec *Executor, counter StatusCounter, breaker BreakerStats, interval time.Duration, logger *utils.Logger) *Scheduler {
	return &Scheduler{
		executor: exec,
		counter:  counter,
		breaker:  breaker,
		interval: interval,
		logger:   logger.WithComponent("scheduler"),
	}
}

// Run крутит тики до отмены контекста, затем дожидается воркеров.
// Первый цикл запускается сразу, не дожидаясь первого тика.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Планировщик запущен", utils.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Планировщик останавливается, ждём воркеров")
			s.executor.Wait()
			s.logger.Info("Планировщик остановлен")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.executor.ExecutePendingOrders(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Цикл исполнения провалился", utils.Err(err))
	}
	s.refreshGauges()
}

// refreshGauges обновляет gauge глубины очереди и открытых breaker'ов
func (s *Scheduler) refreshGauges() {
	if s.counter != nil {
		for _, status := range []string{
			models.OrderStatusPending,
			models.OrderStatusProcessing,
			models.OrderStatusRetry,
		} {
			count, err := s.counter.CountByStatus(status)
			if err != nil {
				continue
			}
			QueueDepth.WithLabelValues(status).Set(float64(count))
		}
	}

	if s.breaker != nil {
		BreakerOpenKeys.Set(float64(s.breaker.OpenCount()))
	}
}
