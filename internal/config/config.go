package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Queue    QueueConfig
	Breaker  BreakerConfig
	Executor ExecutorConfig
	Exchange ExchangeConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// AdminToken - bearer токен для админ эндпоинтов
	AdminToken string

	// EncryptionKey - сырой 32-байтный ключ AES-256 (приоритетнее фразы)
	EncryptionKey string

	// EncryptionPassphrase - человекочитаемая фраза,
	// из которой ключ деривируется через scrypt
	EncryptionPassphrase string
}

// QueueConfig - настройки очереди ордеров
type QueueConfig struct {
	// MaxAttempts - максимум попыток исполнения одного ордера
	MaxAttempts int

	// Backoff для retry: delay = min(MaxRetryDelay, InitialRetryDelay * Multiplier^(attempt-1))
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	Multiplier        float64

	// AbandonCeiling - ордер с таким количеством записей об ошибках
	// принудительно завершается FAILED независимо от классификации
	AbandonCeiling int

	// StuckOrderTimeout - ордер в PROCESSING дольше этого времени
	// считается застрявшим и возвращается в RETRY
	StuckOrderTimeout time.Duration

	// FundsRetryLimit - отдельный потолок попыток для "insufficient funds"
	// 0 = ограничено только MaxAttempts
	FundsRetryLimit int
}

// BreakerConfig - настройки circuit breaker'а для API ключей
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
}

// ExecutorConfig - настройки исполнителя ордеров
type ExecutorConfig struct {
	// MaxConcurrentOrders - потолок одновременно исполняемых ордеров
	MaxConcurrentOrders int

	// MaxOrdersPerSecond - минимальный интервал между отправками = 1/rate
	MaxOrdersPerSecond float64

	// TickInterval - период вызова цикла исполнителя
	TickInterval time.Duration

	// CallTimeout - таймаут одного вызова биржи
	CallTimeout time.Duration

	// Верификация исполнения: N опросов статуса с постоянной задержкой
	VerifyAttempts int
	VerifyDelay    time.Duration

	// MaxPriceDriftPct - допустимый дрейф цены перед повтором (%)
	// 0 = проверка дрейфа отключена
	MaxPriceDriftPct float64
}

// ExchangeConfig - настройки клиента биржи
type ExchangeConfig struct {
	BaseURL string

	// Rate limits по категориям запросов (req/sec)
	OrderRate  float64
	QueryRate  float64
	PublicRate float64

	HTTPTimeout time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "orderexec"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			AdminToken:           getEnv("ADMIN_TOKEN", ""),
			EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
			EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
		},
		Queue: QueueConfig{
			MaxAttempts:       getEnvAsInt("MAX_ATTEMPTS", 4),
			InitialRetryDelay: getEnvAsDuration("INITIAL_RETRY_DELAY", 30*time.Second),
			MaxRetryDelay:     getEnvAsDuration("MAX_RETRY_DELAY", 30*time.Minute),
			Multiplier:        getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
			AbandonCeiling:    getEnvAsInt("ABANDON_CEILING", 50),
			StuckOrderTimeout: getEnvAsDuration("STUCK_ORDER_TIMEOUT", 10*time.Minute),
			FundsRetryLimit:   getEnvAsInt("FUNDS_RETRY_LIMIT", 0),
		},
		Breaker: BreakerConfig{
			Enabled:          getEnvAsBool("BREAKER_ENABLED", true),
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			FailureWindow:    getEnvAsDuration("BREAKER_FAILURE_WINDOW", 5*time.Minute),
			ResetTimeout:     getEnvAsDuration("BREAKER_RESET_TIMEOUT", 10*time.Minute),
		},
		Executor: ExecutorConfig{
			MaxConcurrentOrders: getEnvAsInt("MAX_CONCURRENT_ORDERS", 5),
			MaxOrdersPerSecond:  getEnvAsFloat("MAX_ORDERS_PER_SECOND", 2.0),
			TickInterval:        getEnvAsDuration("EXECUTOR_TICK_INTERVAL", 15*time.Second),
			CallTimeout:         getEnvAsDuration("EXCHANGE_CALL_TIMEOUT", 10*time.Second),
			VerifyAttempts:      getEnvAsInt("VERIFY_ATTEMPTS", 5),
			VerifyDelay:         getEnvAsDuration("VERIFY_DELAY", 2*time.Second),
			MaxPriceDriftPct:    getEnvAsFloat("MAX_PRICE_DRIFT_PCT", 1.0),
		},
		Exchange: ExchangeConfig{
			BaseURL:     getEnv("EXCHANGE_BASE_URL", "https://api.kraken.com"),
			OrderRate:   getEnvAsFloat("EXCHANGE_ORDER_RATE", 1.0),
			QueryRate:   getEnvAsFloat("EXCHANGE_QUERY_RATE", 3.0),
			PublicRate:  getEnvAsFloat("EXCHANGE_PUBLIC_RATE", 10.0),
			HTTPTimeout: getEnvAsDuration("EXCHANGE_HTTP_TIMEOUT", 15*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// Ключ шифрования обязателен: API креденшелы хранятся только зашифрованными
	if c.Security.EncryptionKey == "" && c.Security.EncryptionPassphrase == "" {
		return fmt.Errorf("ENCRYPTION_KEY or ENCRYPTION_PASSPHRASE is required for encrypting API credentials")
	}

	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Security.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required for admin API authentication")
	}

	if len(c.Security.AdminToken) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}

	if c.Queue.MaxAttempts > 20 {
		return fmt.Errorf("MAX_ATTEMPTS should not exceed 20, got %d", c.Queue.MaxAttempts)
	}

	if c.Queue.InitialRetryDelay <= 0 {
		return fmt.Errorf("INITIAL_RETRY_DELAY must be positive, got %v", c.Queue.InitialRetryDelay)
	}

	if c.Queue.MaxRetryDelay < c.Queue.InitialRetryDelay {
		return fmt.Errorf("MAX_RETRY_DELAY must not be less than INITIAL_RETRY_DELAY")
	}

	if c.Queue.Multiplier < 1.0 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1.0, got %v", c.Queue.Multiplier)
	}

	if c.Queue.AbandonCeiling < 1 {
		return fmt.Errorf("ABANDON_CEILING must be at least 1, got %d", c.Queue.AbandonCeiling)
	}

	if c.Queue.StuckOrderTimeout <= 0 {
		return fmt.Errorf("STUCK_ORDER_TIMEOUT must be positive, got %v", c.Queue.StuckOrderTimeout)
	}

	if c.Queue.FundsRetryLimit < 0 {
		return fmt.Errorf("FUNDS_RETRY_LIMIT cannot be negative, got %d", c.Queue.FundsRetryLimit)
	}

	if c.Executor.MaxConcurrentOrders < 1 {
		return fmt.Errorf("MAX_CONCURRENT_ORDERS must be at least 1, got %d", c.Executor.MaxConcurrentOrders)
	}

	if c.Executor.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("MAX_ORDERS_PER_SECOND must be positive, got %v", c.Executor.MaxOrdersPerSecond)
	}

	if c.Executor.TickInterval <= 0 {
		return fmt.Errorf("EXECUTOR_TICK_INTERVAL must be positive, got %v", c.Executor.TickInterval)
	}

	if c.Executor.CallTimeout <= 0 {
		return fmt.Errorf("EXCHANGE_CALL_TIMEOUT must be positive, got %v", c.Executor.CallTimeout)
	}

	if c.Executor.VerifyAttempts < 1 {
		return fmt.Errorf("VERIFY_ATTEMPTS must be at least 1, got %d", c.Executor.VerifyAttempts)
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.Breaker.FailureThreshold)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
