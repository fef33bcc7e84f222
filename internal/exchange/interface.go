package exchange

import (
	"context"
	"time"

	"orderexec/internal/models"
)

// Client определяет унифицированный интерфейс для работы с биржей.
// Каждый вызов получает креденшелы явно: исполнитель перебирает ключи
// пользователя при failover, поэтому клиент не хранит ключ в себе.
type Client interface {
	// PlaceOrder размещает ордер от имени переданного ключа
	PlaceOrder(ctx context.Context, cred *models.APICredential, req *OrderRequest) (*PlaceResult, error)

	// GetOrderStatus запрашивает состояние ордера по биржевому идентификатору
	GetOrderStatus(ctx context.Context, cred *models.APICredential, exchangeOrderID string) (*OrderStatus, error)

	// GetTicker получает текущую цену пары (публичный endpoint, ключ не нужен)
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
}

// OrderRequest описывает параметры размещаемого ордера
type OrderRequest struct {
	Pair          string // торговая пара в нотации биржи, например "XBT/USD"
	Side          string // "buy" или "sell"
	Type          string // "market" или "limit"
	Volume        string // объём в базовой валюте, десятичная строка
	Price         string // цена для limit ордеров, пустая для market
	Userref       int32  // биржевой тег идемпотентности, выводится из clientOrderId
	ClientOrderID string // наш детерминированный идентификатор, для журналов
}

// PlaceResult содержит ответ биржи на размещение ордера
type PlaceResult struct {
	ExchangeOrderID string `json:"exchange_order_id"`
	Description     string `json:"description"`
}

// OrderStatus описывает текущее состояние ордера на бирже
type OrderStatus struct {
	ExchangeOrderID string    `json:"exchange_order_id"`
	Status          string    `json:"status"` // "pending", "open", "closed", "canceled", "expired"
	ExecutedPrice   string    `json:"executed_price"`
	ExecutedVolume  string    `json:"executed_volume"`
	OpenedAt        time.Time `json:"opened_at"`
}

// Ticker содержит информацию о текущей цене пары
type Ticker struct {
	Pair      string    `json:"pair"`
	BidPrice  string    `json:"bid_price"`
	AskPrice  string    `json:"ask_price"`
	LastPrice string    `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Статусы ордера на бирже
const (
	ExchangeOrderPending  = "pending"
	ExchangeOrderOpen     = "open"
	ExchangeOrderClosed   = "closed"
	ExchangeOrderCanceled = "canceled"
	ExchangeOrderExpired  = "expired"
)

// ExchangeError представляет ошибку, возвращённую биржей в теле ответа
type ExchangeError struct {
	Code     string // машинный код, например "EOrder:Insufficient funds"
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}
