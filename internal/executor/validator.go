package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"orderexec/internal/exchange"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// PriceDriftValidator - проверка актуальности условий перед повтором:
// если текущая цена ушла от цены намерения дальше допустимого дрейфа,
// стратегическое решение устарело и повторять его нельзя.
type PriceDriftValidator struct {
	tickers     TickerSource
	maxDriftPct decimal.Decimal
	logger      *utils.Logger
}

// TickerSource отдаёт текущую цену пары
type TickerSource interface {
	GetTicker(ctx context.Context, pair string) (*exchange.Ticker, error)
}

var _ ConditionValidator = (*PriceDriftValidator)(nil)

// NewPriceDriftValidator создаёт валидатор с порогом дрейфа в процентах
func NewPriceDriftValidator(tickers TickerSource, maxDriftPct float64, logger *utils.Logger) *PriceDriftValidator {
	return &PriceDriftValidator{
		tickers:     tickers,
		maxDriftPct: decimal.NewFromFloat(maxDriftPct),
		logger:      logger.WithComponent("validator"),
	}
}

// StillValid сравнивает текущую цену с ценой намерения.
// Ордера без цены (market без reference) валидны всегда: у них нет
// ценового условия, проверять нечего.
func (v *PriceDriftValidator) StillValid(ctx context.Context, order *models.PendingOrder) (bool, string, error) {
	if order.Price == "" {
		return true, "", nil
	}

	intended, err := decimal.NewFromString(order.Price)
	if err != nil || intended.IsZero() {
		return true, "", nil
	}

	ticker, err := v.tickers.GetTicker(ctx, order.Pair)
	if err != nil {
		// fail-open решает вызывающий
		return false, "", fmt.Errorf("ticker %s: %w", order.Pair, err)
	}

	// Для buy сравниваем с ask, для sell с bid
	ref := ticker.AskPrice
	if order.Side == models.OrderSideSell {
		ref = ticker.BidPrice
	}

	current, err := decimal.NewFromString(ref)
	if err != nil || current.IsZero() {
		return false, "", fmt.Errorf("ticker %s: bad price %q", order.Pair, ref)
	}

	driftPct := current.Sub(intended).Div(intended).Mul(decimal.NewFromInt(100)).Abs()
	if driftPct.GreaterThan(v.maxDriftPct) {
		reason := fmt.Sprintf("price drifted %s%% (intended %s, current %s)",
			driftPct.StringFixed(2), intended.String(), current.String())

		v.logger.Warn("Условия ордера устарели",
			utils.OrderID(order.ID),
			utils.Pair(order.Pair),
			utils.String("drift_pct", driftPct.StringFixed(2)))

		return false, reason, nil
	}

	return true, "", nil
}

// AlwaysValid - валидатор-заглушка, пропускающий любые повторы.
// Используется когда ценовая проверка отключена конфигурацией.
type AlwaysValid struct{}

var _ ConditionValidator = (*AlwaysValid)(nil)

func (AlwaysValid) StillValid(context.Context, *models.PendingOrder) (bool, string, error) {
	return true, "", nil
}
