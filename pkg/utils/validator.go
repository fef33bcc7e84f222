package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================
// Валидация входных данных ордера
// ============================================================

// Ошибки валидации
var (
	ErrEmptyPair      = errors.New("pair must not be empty")
	ErrInvalidPair    = errors.New("invalid pair format")
	ErrInvalidSide    = errors.New("side must be 'buy' or 'sell'")
	ErrInvalidType    = errors.New("order type must be 'market' or 'limit'")
	ErrInvalidVolume  = errors.New("volume must be a positive number")
	ErrInvalidPrice   = errors.New("price must be a positive number")
	ErrPriceForMarket = errors.New("market order must not specify price")
)

// Формат пары: базовая/котируемая валюта, например XBT/USD или XBTUSD
var pairRe = regexp.MustCompile(`^[A-Z0-9]{2,10}(/[A-Z0-9]{2,10})?$`)

// ValidatePair проверяет формат торговой пары
func ValidatePair(pair string) error {
	if pair == "" {
		return ErrEmptyPair
	}
	if !pairRe.MatchString(strings.ToUpper(pair)) {
		return fmt.Errorf("%w: %q", ErrInvalidPair, pair)
	}
	return nil
}

// ValidateSide проверяет направление ордера
func ValidateSide(side string) error {
	switch strings.ToLower(side) {
	case "buy", "sell":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
}

// ValidateOrderType проверяет тип ордера
func ValidateOrderType(orderType string) error {
	switch strings.ToLower(orderType) {
	case "market", "limit":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, orderType)
	}
}

// ValidateVolume проверяет объём ордера
//
// Объёмы передаются строками чтобы не терять точность.
// decimal парсит и сравнивает без плавающей точки.
func ValidateVolume(volume string) error {
	d, err := decimal.NewFromString(volume)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVolume, volume)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrInvalidVolume, d.String())
	}
	return nil
}

// ValidatePrice проверяет цену ордера
func ValidatePrice(price string) error {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, d.String())
	}
	return nil
}

// ValidateOrderSpec проверяет совокупность полей ордера
//
// Для limit ордера цена обязательна, для market - запрещена.
func ValidateOrderSpec(pair, side, orderType, volume, price string) error {
	if err := ValidatePair(pair); err != nil {
		return err
	}
	if err := ValidateSide(side); err != nil {
		return err
	}
	if err := ValidateOrderType(orderType); err != nil {
		return err
	}
	if err := ValidateVolume(volume); err != nil {
		return err
	}

	switch strings.ToLower(orderType) {
	case "limit":
		if err := ValidatePrice(price); err != nil {
			return err
		}
	case "market":
		if price != "" {
			return ErrPriceForMarket
		}
	}

	return nil
}
