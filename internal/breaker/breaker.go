package breaker

import (
	"sync"
	"time"

	"orderexec/pkg/utils"
)

// ============================================================
// Per-key circuit breaker для API креденшелов
// ============================================================

// Состояния circuit breaker'а
const (
	StateClosed   = "CLOSED"    // нормальная работа, запросы разрешены
	StateOpen     = "OPEN"      // ключ деградировал, запросы блокируются
	StateHalfOpen = "HALF_OPEN" // пробный запрос после resetTimeout
)

// Config - конфигурация circuit breaker'а
type Config struct {
	// Enabled - выключенный breaker всегда разрешает запросы
	Enabled bool

	// FailureThreshold - количество ошибок подряд для открытия
	FailureThreshold int

	// FailureWindow - ошибка учитывается только если произошла
	// в пределах окна от предыдущей ошибки, иначе счётчик = 1
	FailureWindow time.Duration

	// ResetTimeout - время до перехода OPEN -> HALF_OPEN
	ResetTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 3,
		FailureWindow:    5 * time.Minute,
		ResetTimeout:     10 * time.Minute,
	}
}

// KeyState - состояние breaker'а одного креденшела
type KeyState struct {
	KeyID           string     `json:"keyId"`
	State           string     `json:"state"`
	Failures        int        `json:"failures"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	LastSuccessTime *time.Time `json:"lastSuccessTime,omitempty"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"` // заполнено только в OPEN
	LastError       string     `json:"lastError,omitempty"`
}

// StateListener получает события смены состояния breaker'а.
// Вызывается в отдельной горутине, блокировать можно.
type StateListener func(keyID, state string)

// Registry отслеживает здоровье каждого API креденшела независимо
//
// Состояние живёт только в памяти: после рестарта сервиса все ключи
// считаются здоровыми, что приемлемо - деградировавший ключ снова
// откроет breaker после FailureThreshold ошибок.
//
// Потокобезопасен: все методы сериализуются мьютексом.
type Registry struct {
	cfg    Config
	logger *utils.Logger

	mu       sync.Mutex
	keys     map[string]*KeyState
	listener StateListener

	// clock для тестов
	now func() time.Time
}

// NewRegistry создаёт registry circuit breaker'ов
func NewRegistry(cfg Config, logger *utils.Logger) *Registry {
	if logger == nil {
		logger = utils.L()
	}
	return &Registry{
		cfg:    cfg,
		logger: logger.WithComponent("breaker"),
		keys:   make(map[string]*KeyState),
		now:    time.Now,
	}
}

// SetStateListener устанавливает обработчик смены состояний.
// Вызывается один раз при старте, до начала работы executor'а.
func (r *Registry) SetStateListener(fn StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// notifyState уведомляет listener о переходе состояния
// ВАЖНО: вызывается под lock'ом, поэтому сам вызов уходит в горутину
func (r *Registry) notifyState(keyID, state string) {
	if r.listener != nil {
		go r.listener(keyID, state)
	}
}

// getOrCreate возвращает состояние ключа, создавая CLOSED при первом обращении
// ВАЖНО: вызывается под lock'ом
func (r *Registry) getOrCreate(keyID string) *KeyState {
	st, ok := r.keys[keyID]
	if !ok {
		st = &KeyState{KeyID: keyID, State: StateClosed}
		r.keys[keyID] = st
	}
	return st
}

// IsOpen сообщает, заблокирован ли ключ
//
// Возвращает false если breaker выключен, ключ неизвестен или состояние
// CLOSED/HALF_OPEN. Переход OPEN -> HALF_OPEN выполняется лениво здесь же:
// фонового таймера нет, состояние продвигается при следующем запросе.
func (r *Registry) IsOpen(keyID string) bool {
	if !r.cfg.Enabled {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.keys[keyID]
	if !ok {
		return false
	}

	if st.State == StateOpen {
		if st.OpenedAt != nil && r.now().Sub(*st.OpenedAt) >= r.cfg.ResetTimeout {
			st.State = StateHalfOpen
			st.OpenedAt = nil
			r.logger.Info("Пробный запрос разрешён после таймаута",
				utils.KeyID(keyID),
				utils.State(st.State))
			r.notifyState(keyID, st.State)
			return false
		}
		return true
	}

	return false
}

// RecordSuccess фиксирует успешный запрос через ключ
//
// Сбрасывает счётчик ошибок; из HALF_OPEN закрывает circuit.
func (r *Registry) RecordSuccess(keyID string) {
	if !r.cfg.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.getOrCreate(keyID)

	now := r.now()
	st.LastSuccessTime = &now
	st.Failures = 0
	st.LastError = ""

	if st.State == StateHalfOpen || st.State == StateOpen {
		st.State = StateClosed
		st.OpenedAt = nil
		r.logger.Info("Circuit breaker закрыт, ключ восстановлен",
			utils.KeyID(keyID),
			utils.State(st.State))
		r.notifyState(keyID, st.State)
	}
}

// RecordFailure фиксирует ошибку запроса через ключ
//
// Ошибка учитывается в счётчике только если произошла в пределах
// FailureWindow от предыдущей, иначе счётчик начинается заново с 1.
// Из HALF_OPEN любая ошибка немедленно открывает circuit заново.
func (r *Registry) RecordFailure(keyID, message string) {
	if !r.cfg.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.getOrCreate(keyID)
	now := r.now()

	if st.State == StateHalfOpen {
		// Пробный запрос провалился
		st.State = StateOpen
		st.OpenedAt = &now
		st.LastFailureTime = &now
		st.LastError = message
		r.logger.Warn("Пробный запрос провалился, circuit снова открыт",
			utils.KeyID(keyID),
			utils.String("error", message))
		r.notifyState(keyID, st.State)
		return
	}

	// Окно: свежая серия или продолжение текущей
	if st.LastFailureTime != nil && now.Sub(*st.LastFailureTime) <= r.cfg.FailureWindow {
		st.Failures++
	} else {
		st.Failures = 1
	}
	st.LastFailureTime = &now
	st.LastError = message

	if st.State == StateClosed && st.Failures >= r.cfg.FailureThreshold {
		st.State = StateOpen
		st.OpenedAt = &now
		r.logger.Warn("Circuit breaker открыт, ключ заблокирован",
			utils.KeyID(keyID),
			utils.Int("failures", st.Failures),
			utils.String("error", message))
		r.notifyState(keyID, st.State)
	}
}

// Reset принудительно закрывает circuit одного ключа (админ операция)
func (r *Registry) Reset(keyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.keys[keyID]
	if !ok {
		return false
	}

	st.State = StateClosed
	st.Failures = 0
	st.OpenedAt = nil
	st.LastError = ""
	r.logger.Info("Circuit breaker сброшен вручную", utils.KeyID(keyID))
	r.notifyState(keyID, StateClosed)
	return true
}

// ResetAll принудительно закрывает все circuits
func (r *Registry) ResetAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, st := range r.keys {
		if st.State != StateClosed || st.Failures > 0 {
			count++
			r.notifyState(st.KeyID, StateClosed)
		}
		st.State = StateClosed
		st.Failures = 0
		st.OpenedAt = nil
		st.LastError = ""
	}
	r.logger.Info("Все circuit breakers сброшены", utils.Int("affected", count))
	return count
}

// Snapshot возвращает копию состояний всех известных ключей (для мониторинга)
func (r *Registry) Snapshot() []KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]KeyState, 0, len(r.keys))
	for _, st := range r.keys {
		result = append(result, *st)
	}
	return result
}

// OpenCount возвращает число ключей в состоянии OPEN (для метрик)
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, st := range r.keys {
		if st.State == StateOpen {
			count++
		}
	}
	return count
}

// State возвращает текущее состояние ключа без побочных эффектов
func (r *Registry) State(keyID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.keys[keyID]
	if !ok {
		return StateClosed
	}
	return st.State
}
