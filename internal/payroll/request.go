package payroll

import (
	"encoding/json"
	"net/mail"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "SnowRail/internal/errors"
)

// MailingAddress is the customer's postal address.
type MailingAddress struct {
	AddressLine1 string `json:"address_line1,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// Customer identifies the person being paid.
type Customer struct {
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	EmailAddress    string         `json:"email_address"`
	TelephoneNumber string         `json:"telephone_number,omitempty"`
	MailingAddress  MailingAddress `json:"mailing_address"`
}

// PaymentRequest is the payment part of an inbound request. Amount is in
// minor units; AmountUnits is an alternative in major units.
type PaymentRequest struct {
	Amount      json.Number      `json:"amount,omitempty"`
	AmountUnits *decimal.Decimal `json:"amount_units,omitempty"`
	Currency    string           `json:"currency"`
	Recipient   string           `json:"recipient,omitempty"`
	Description string           `json:"description,omitempty"`
}

// Request is the body accepted by the payroll endpoints.
type Request struct {
	Customer     Customer       `json:"customer"`
	Payment      PaymentRequest `json:"payment"`
	PaymentToken string         `json:"payment_token,omitempty"`
}

// LineItem is a validated payment ready for the state machine.
type LineItem struct {
	Customer    Customer
	Recipient   string
	Amount      int64
	Currency    string
	Description string
}

// Normalize validates req and converts its amount to minor units.
// defaultPayee is used when the request names no recipient. Every problem
// is reported at once, keyed by field path.
func Normalize(req Request, defaultPayee string) (LineItem, error) {
	fields := make(map[string]string)

	c := req.Customer
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.EmailAddress = strings.TrimSpace(c.EmailAddress)
	if c.FirstName == "" {
		fields["customer.first_name"] = "required"
	}
	if c.LastName == "" {
		fields["customer.last_name"] = "required"
	}
	if c.EmailAddress == "" {
		fields["customer.email_address"] = "required"
	} else if addr, err := mail.ParseAddress(c.EmailAddress); err != nil || addr.Address != c.EmailAddress {
		fields["customer.email_address"] = "invalid email address"
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Payment.Currency))
	if currency == "" {
		fields["payment.currency"] = "required"
	} else if !isCurrencyCode(currency) {
		fields["payment.currency"] = "must be a 3-letter currency code"
	}

	amount, reason := resolveAmount(req.Payment, currency)
	if reason != "" {
		fields["payment.amount"] = reason
	}

	recipient := strings.TrimSpace(req.Payment.Recipient)
	if recipient == "" {
		recipient = strings.TrimSpace(defaultPayee)
	}
	switch {
	case recipient == "":
		fields["payment.recipient"] = "required when no default payee is configured"
	case !common.IsHexAddress(recipient):
		fields["payment.recipient"] = "must be a hex account address"
	}

	if len(fields) > 0 {
		return LineItem{}, xerrors.New(xerrors.CodeValidation, "request validation failed", xerrors.WithFields(fields))
	}
	return LineItem{
		Customer:    c,
		Recipient:   common.HexToAddress(recipient).Hex(),
		Amount:      amount,
		Currency:    currency,
		Description: strings.TrimSpace(req.Payment.Description),
	}, nil
}

func resolveAmount(p PaymentRequest, currency string) (int64, string) {
	var (
		minor    int64
		hasMinor bool
	)
	if raw := strings.TrimSpace(p.Amount.String()); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, "must be a number"
		}
		if !d.IsInteger() {
			return 0, "must be an integer number of minor units; use amount_units for fractional amounts"
		}
		if !d.BigInt().IsInt64() {
			return 0, "out of range"
		}
		minor, hasMinor = d.IntPart(), true
	}

	if p.AmountUnits != nil {
		converted, ok := ToMinorUnits(*p.AmountUnits, currency)
		if !ok {
			return 0, "out of range"
		}
		if hasMinor && converted != minor {
			return 0, "amount and amount_units disagree"
		}
		minor, hasMinor = converted, true
	}

	if !hasMinor {
		return 0, "required"
	}
	if minor <= 0 {
		return 0, "must be greater than zero"
	}
	return minor, ""
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
