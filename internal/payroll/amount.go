package payroll

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SnowRail/internal/errors"
)

// currencyExponents lists minor-unit exponents that differ from the default.
var currencyExponents = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"MXN": 2,
	"JPY": 0,
}

const defaultExponent int32 = 2

// CurrencyExponent returns the number of minor-unit digits for currency.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return defaultExponent
}

// ToMinorUnits rounds a major-unit amount to the nearest minor unit, with
// halves rounded away from zero. This is the only place amounts are rounded.
func ToMinorUnits(units decimal.Decimal, currency string) (int64, bool) {
	minor := units.Shift(CurrencyExponent(currency)).Round(0)
	if !minor.BigInt().IsInt64() {
		return 0, false
	}
	return minor.IntPart(), true
}

// TokenAmount scales minor units into token base units. A token with fewer
// decimals than the currency exponent cannot carry the amount exactly; that
// is reported instead of rounding a second time.
func TokenAmount(minor int64, currency string, tokenDecimals int) (*big.Int, error) {
	exp := CurrencyExponent(currency)
	scaled := decimal.NewFromInt(minor).Shift(int32(tokenDecimals) - exp)
	if !scaled.IsInteger() {
		return nil, xerrors.New(xerrors.CodeConfiguration, "token decimals cannot represent the payment amount",
			xerrors.WithMetadata("currency", currency),
			xerrors.WithMetadata("currency_exponent", strconv.Itoa(int(exp))),
			xerrors.WithMetadata("token_decimals", strconv.Itoa(tokenDecimals)))
	}
	return scaled.BigInt(), nil
}
