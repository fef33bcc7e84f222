package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"orderexec/internal/api"
	"orderexec/internal/breaker"
	"orderexec/internal/config"
	"orderexec/internal/exchange"
	"orderexec/internal/executor"
	"orderexec/internal/queue"
	"orderexec/internal/repository"
	"orderexec/internal/service"
	"orderexec/internal/websocket"
	"orderexec/pkg/crypto"
	"orderexec/pkg/utils"
)

func main() {
	// .env опционален: в контейнере конфигурация приходит окружением
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	cipherKey, err := resolveCipherKey(cfg)
	if err != nil {
		logger.Fatal("Не удалось получить ключ шифрования", utils.Err(err))
	}

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", utils.Err(err))
	}
	defer db.Close()
	logger.Info("Подключение к БД установлено",
		utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	orderRepo := repository.NewOrderRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Очередь и circuit breaker
	orderQueue := queue.NewQueue(orderRepo, cfg.Queue, logger)
	breakerRegistry := breaker.NewRegistry(breaker.Config{
		Enabled:          cfg.Breaker.Enabled,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, logger)

	// WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Сервисы
	notificationService := service.NewNotificationService(notificationRepo, logger)
	notificationService.SetWebSocketHub(hub)
	orderService := service.NewOrderService(orderQueue, notificationService, logger)
	credentialService := service.NewCredentialService(credentialRepo, cipherKey, logger)

	// События breaker'а уходят в журнал и в WebSocket
	breakerRegistry.SetStateListener(func(keyID, state string) {
		notificationService.NotifyBreakerState(keyID, state)
		hub.BroadcastBreakerUpdate(keyID, state)
	})

	// Клиент биржи
	krakenClient := exchange.NewKraken(cfg.Exchange, cipherKey, logger)

	// Валидатор торговых условий для повторов
	var validator executor.ConditionValidator = executor.AlwaysValid{}
	if cfg.Executor.MaxPriceDriftPct > 0 {
		validator = executor.NewPriceDriftValidator(krakenClient, cfg.Executor.MaxPriceDriftPct, logger)
	}

	// Исполнитель и планировщик
	exec := executor.NewExecutor(
		orderQueue,
		credentialRepo,
		breakerRegistry,
		krakenClient,
		validator,
		notificationService,
		cfg.Executor,
		cfg.Queue.StuckOrderTimeout,
		logger,
	)
	scheduler := executor.NewScheduler(exec, orderQueue, breakerRegistry, cfg.Executor.TickInterval, logger)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(schedulerCtx)
	}()

	// HTTP API
	deps := &api.Dependencies{
		OrderService:        orderService,
		CredentialService:   credentialService,
		NotificationService: notificationService,
		Breaker:             breakerRegistry,
		Hub:                 hub,
		AdminToken:          cfg.Security.AdminToken,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", utils.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP сервер упал", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Остановка сервиса...")

	// Сначала планировщик: дожидаемся in-flight ордеров,
	// чтобы не оставить PROCESSING записей
	stopScheduler()
	<-schedulerDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP сервер не остановился корректно", utils.Err(err))
	}

	hub.Stop()
	exchange.CloseGlobalClient()

	logger.Info("Сервис остановлен")
}

// resolveCipherKey возвращает 32-байтный ключ AES-256:
// сырой ENCRYPTION_KEY, либо деривация из ENCRYPTION_PASSPHRASE через scrypt
func resolveCipherKey(cfg *config.Config) ([]byte, error) {
	if cfg.Security.EncryptionKey != "" {
		key := []byte(cfg.Security.EncryptionKey)
		if err := crypto.ValidateKey(key); err != nil {
			return nil, err
		}
		return key, nil
	}

	// Соль должна быть постоянной для инсталляции: смена соли делает
	// ранее зашифрованные креденшелы нечитаемыми
	salt := os.Getenv("ENCRYPTION_SALT")
	if salt == "" {
		salt = "orderexec-credential-salt-v1"
	}

	return crypto.DeriveKey(cfg.Security.EncryptionPassphrase, []byte(salt))
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
