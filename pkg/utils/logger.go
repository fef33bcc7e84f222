package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Структурированное логирование на базе zap
// ============================================================

// LogConfig - конфигурация логгера
type LogConfig struct {
	// Level: debug, info, warn, error, fatal
	Level string

	// Format: json (production) или text (читаемый вывод)
	Format string

	// Output: путь к файлу или пусто (stderr)
	Output string

	// Development включает caller и stacktrace для warn+
	Development bool
}

// Logger - обёртка над zap.Logger с доменными helper'ами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel преобразует строку в zapcore.Level
// Неизвестные значения дают info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт и настраивает logger
//
// Параметры:
//   - cfg: конфигурация (пустая = info, json, stderr)
//
// Пример:
//
//	logger := utils.InitLogger(utils.LogConfig{Level: "debug", Format: "text"})
//	logger.Info("Сервис запущен", utils.Component("server"))
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	// Вывод: файл или stderr; при ошибке открытия файла - fallback на stderr
	var sink zapcore.WriteSyncer
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			sink = zapcore.Lock(os.Stderr)
		} else {
			sink = zapcore.AddSync(file)
		}
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	zapLogger := zap.New(core, opts...)

	return &Logger{
		Logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitGlobalLogger инициализирует глобальный логгер
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер
// Создаёт логгер по умолчанию при первом вызове
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}

	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает новый логгер с постоянными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	newLogger := l.Logger.With(fields...)
	return &Logger{
		Logger: newLogger,
		sugar:  newLogger.Sugar(),
	}
}

// Sugar возвращает SugaredLogger для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithOrderID возвращает логгер с полем order_id
func (l *Logger) WithOrderID(id int64) *Logger {
	return l.With(OrderID(id))
}

// WithBot возвращает логгер с полем bot_id
func (l *Logger) WithBot(botID string) *Logger {
	return l.With(BotID(botID))
}

// WithKeyID возвращает логгер с полем key_id
func (l *Logger) WithKeyID(keyID string) *Logger {
	return l.With(KeyID(keyID))
}

// ============================================================
// Глобальные функции логирования
// ============================================================

// Debug логирует сообщение уровня debug
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info логирует сообщение уровня info
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn логирует сообщение уровня warn
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error логирует сообщение уровня error
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal логирует сообщение и завершает процесс
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// Debugf логирует форматированное сообщение уровня debug
func Debugf(template string, args ...interface{}) {
	L().sugar.Debugf(template, args...)
}

// Infof логирует форматированное сообщение уровня info
func Infof(template string, args ...interface{}) {
	L().sugar.Infof(template, args...)
}

// Warnf логирует форматированное сообщение уровня warn
func Warnf(template string, args ...interface{}) {
	L().sugar.Warnf(template, args...)
}

// Errorf логирует форматированное сообщение уровня error
func Errorf(template string, args ...interface{}) {
	L().sugar.Errorf(template, args...)
}

// fieldsToInterface конвертирует zap.Field в плоский список key/value
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
	}
	return result
}

// ============================================================
// Доменные конструкторы полей
// ============================================================

// OrderID - внутренний идентификатор ордера в очереди
func OrderID(id int64) zap.Field {
	return zap.Int64("order_id", id)
}

// ClientOrderID - детерминированный идемпотентный идентификатор
func ClientOrderID(id string) zap.Field {
	return zap.String("client_order_id", id)
}

// ExecutionID - уникальный идентификатор попытки постановки
func ExecutionID(id string) zap.Field {
	return zap.String("execution_id", id)
}

// BotID - идентификатор бота-источника
func BotID(id string) zap.Field {
	return zap.String("bot_id", id)
}

// UserID - идентификатор пользователя
func UserID(id string) zap.Field {
	return zap.String("user_id", id)
}

// KeyID - идентификатор API креденшела
func KeyID(id string) zap.Field {
	return zap.String("key_id", id)
}

// Pair - торговая пара
func Pair(pair string) zap.Field {
	return zap.String("pair", pair)
}

// Side - направление ордера (buy/sell)
func Side(side string) zap.Field {
	return zap.String("side", side)
}

// Volume - объём ордера
func Volume(volume string) zap.Field {
	return zap.String("volume", volume)
}

// Attempt - номер попытки исполнения
func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}

// Status - статус ордера в очереди
func Status(status string) zap.Field {
	return zap.String("status", status)
}

// State - состояние circuit breaker'а
func State(state string) zap.Field {
	return zap.String("state", state)
}

// Latency - задержка в миллисекундах
func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

// RequestID - идентификатор HTTP запроса
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}

// Component - название компонента системы
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// ============================================================
// Переэкспорт стандартных конструкторов zap
// ============================================================

var (
	String   = zap.String
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
	Strings  = zap.Strings
)
