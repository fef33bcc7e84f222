package executor

import (
	"context"
	"errors"
	"testing"

	"orderexec/internal/exchange"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

type fakeTickers struct {
	ticker *exchange.Ticker
	err    error
}

func (f *fakeTickers) GetTicker(ctx context.Context, pair string) (*exchange.Ticker, error) {
	return f.ticker, f.err
}

func driftOrder(side, price string) *models.PendingOrder {
	return &models.PendingOrder{
		ID:    1,
		Pair:  "XBT/USD",
		Side:  side,
		Price: price,
	}
}

func newDriftValidator(maxPct float64, tickers *fakeTickers) *PriceDriftValidator {
	return NewPriceDriftValidator(tickers, maxPct, utils.InitLogger(utils.LogConfig{Level: "error"}))
}

func TestPriceDrift_WithinTolerance(t *testing.T) {
	v := newDriftValidator(1.0, &fakeTickers{
		ticker: &exchange.Ticker{AskPrice: "45200.0", BidPrice: "45100.0"},
	})

	valid, _, err := v.StillValid(context.Background(), driftOrder("buy", "45000.0"))
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("дрейф 0.44% при пороге 1% должен проходить")
	}
}

func TestPriceDrift_Exceeded(t *testing.T) {
	v := newDriftValidator(1.0, &fakeTickers{
		ticker: &exchange.Ticker{AskPrice: "46000.0", BidPrice: "45900.0"},
	})

	valid, reason, err := v.StillValid(context.Background(), driftOrder("buy", "45000.0"))
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("дрейф 2.2% при пороге 1% должен отклоняться")
	}
	if reason == "" {
		t.Error("причина отклонения должна быть заполнена")
	}
}

func TestPriceDrift_SellUsesBid(t *testing.T) {
	// ask ушёл далеко, bid на месте: sell должен проходить
	v := newDriftValidator(1.0, &fakeTickers{
		ticker: &exchange.Ticker{AskPrice: "50000.0", BidPrice: "45100.0"},
	})

	valid, _, err := v.StillValid(context.Background(), driftOrder("sell", "45000.0"))
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("sell сравнивается с bid, а не с ask")
	}
}

func TestPriceDrift_NoPriceAlwaysValid(t *testing.T) {
	// Тикер намеренно недоступен: ордер без цены не требует проверки
	v := newDriftValidator(1.0, &fakeTickers{err: errors.New("down")})

	valid, _, err := v.StillValid(context.Background(), driftOrder("buy", ""))
	if err != nil || !valid {
		t.Errorf("market без цены валиден всегда: valid=%v err=%v", valid, err)
	}
}

func TestPriceDrift_TickerError(t *testing.T) {
	v := newDriftValidator(1.0, &fakeTickers{err: errors.New("exchange down")})

	_, _, err := v.StillValid(context.Background(), driftOrder("buy", "45000.0"))
	if err == nil {
		t.Error("ошибка тикера должна возвращаться вызывающему (fail-open решает он)")
	}
}

func TestAlwaysValid(t *testing.T) {
	valid, reason, err := AlwaysValid{}.StillValid(context.Background(), driftOrder("buy", "1"))
	if !valid || reason != "" || err != nil {
		t.Errorf("заглушка должна пропускать всё: %v %q %v", valid, reason, err)
	}
}
