package payroll

import (
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SnowRail/internal/errors"
)

func TestToMinorUnitsRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		units    string
		currency string
		want     int64
	}{
		{"12.345", "USD", 1235},
		{"12.344", "USD", 1234},
		{"0.005", "USD", 1},
		{"0.004", "USD", 0},
		{"100.00", "USD", 10000},
		{"100.5", "JPY", 101},
		{"100.4", "JPY", 100},
		{"7.125", "EUR", 713},
	}
	for _, tc := range cases {
		got, ok := ToMinorUnits(decimal.RequireFromString(tc.units), tc.currency)
		if !ok {
			t.Fatalf("%s %s: out of range", tc.units, tc.currency)
		}
		if got != tc.want {
			t.Fatalf("%s %s: want %d got %d", tc.units, tc.currency, tc.want, got)
		}
	}
}

func TestToMinorUnitsOverflow(t *testing.T) {
	if _, ok := ToMinorUnits(decimal.RequireFromString("1e30"), "USD"); ok {
		t.Fatal("expected overflow to be reported")
	}
}

func TestTokenAmountScalesExactly(t *testing.T) {
	cases := []struct {
		minor    int64
		currency string
		decimals int
		want     string
	}{
		{10000, "USD", 6, "100000000"},
		{500, "JPY", 6, "500000000"},
		{1235, "USD", 18, "12350000000000000000"},
		{1235, "USD", 2, "1235"},
		{1230, "USD", 1, "123"},
	}
	for _, tc := range cases {
		got, err := TokenAmount(tc.minor, tc.currency, tc.decimals)
		if err != nil {
			t.Fatalf("%d %s/%d: %v", tc.minor, tc.currency, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("%d %s/%d: want %s got %s", tc.minor, tc.currency, tc.decimals, tc.want, got)
		}
	}
}

func TestTokenAmountRefusesSecondRounding(t *testing.T) {
	_, err := TokenAmount(1235, "USD", 1)
	if !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := TokenAmount(1235, "USD", 0); err == nil {
		t.Fatal("expected error for a token without decimals")
	}
}

func TestCurrencyExponentDefault(t *testing.T) {
	if CurrencyExponent("jpy") != 0 || CurrencyExponent("CHF") != 2 {
		t.Fatal("unexpected exponents")
	}
}
