package snowrail

import "time"

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
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	EmailAddress    string          `json:"email_address"`
	TelephoneNumber string          `json:"telephone_number,omitempty"`
	MailingAddress  *MailingAddress `json:"mailing_address,omitempty"`
}

// Payment describes the amount to pay. Amount is in minor units (cents);
// AmountUnits may be sent instead as a decimal string in major units.
type Payment struct {
	Amount      int64  `json:"amount,omitempty"`
	AmountUnits string `json:"amount_units,omitempty"`
	Currency    string `json:"currency"`
	Recipient   string `json:"recipient,omitempty"`
	Description string `json:"description,omitempty"`
}

// PaymentRequest is the body of the payroll execution endpoints.
type PaymentRequest struct {
	Customer Customer `json:"customer"`
	Payment  Payment  `json:"payment"`
}

// Transactions lists on-chain transaction hashes in order.
type Transactions struct {
	RequestTxHashes []string `json:"request_tx_hashes"`
	ExecuteTxHashes []string `json:"execute_tx_hashes"`
}

// RailSummary is the fiat payout result.
type RailSummary struct {
	WithdrawalID string `json:"withdrawal_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

// StepError names a step that did not succeed.
type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// StepResult is one entry of the payroll step log.
type StepResult struct {
	Seq             int       `json:"seq"`
	Step            string    `json:"step"`
	Success         bool      `json:"success"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	GasUsed         string    `json:"gasUsed,omitempty"`
	Error           string    `json:"error,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// Outcome is the consolidated result of a payroll execution. It is returned
// for partial failures too; check Success and Errors.
type Outcome struct {
	Success        bool            `json:"success"`
	PayrollID      string          `json:"payrollId"`
	Status         string          `json:"status"`
	Steps          map[string]bool `json:"steps"`
	Transactions   Transactions    `json:"transactions"`
	Rail           RailSummary     `json:"rail"`
	Errors         []StepError     `json:"errors"`
	CompletedSteps []string        `json:"completed_steps"`
	FailedStep     string          `json:"failed_step,omitempty"`
	Log            []StepResult    `json:"log"`
}

// Payroll is the orchestration record.
type Payroll struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Resource  string    `json:"resource"`
	Customer  Customer  `json:"customer"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentRecord is a stored payment line.
type PaymentRecord struct {
	ID           string    `json:"id"`
	PayrollID    string    `json:"payrollId"`
	Recipient    string    `json:"recipient"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	TokenAddress string    `json:"tokenAddress"`
	TokenAmount  string    `json:"tokenAmount"`
	Status       string    `json:"status"`
	RailID       string    `json:"railId,omitempty"`
	RailStatus   string    `json:"railStatus,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Record is the audit view of one payroll.
type Record struct {
	Payroll  Payroll         `json:"payroll"`
	Payments []PaymentRecord `json:"payments"`
	Steps    []StepResult    `json:"steps"`
}

// Stats counts payrolls per status. Timestamps are unix milliseconds.
type Stats struct {
	Total           int   `json:"total"`
	Created         int   `json:"created"`
	Processing      int   `json:"processing"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldestUpdatedAt,omitempty"`
	NewestUpdatedAt int64 `json:"newestUpdatedAt,omitempty"`
}

// ListParams filters GET /api/payrolls. Zero values are omitted.
type ListParams struct {
	Statuses []string
	Limit    int
	Offset   int
}

// Challenge is the metering challenge carried by a 402 response.
type Challenge struct {
	MeterID     string `json:"meterId"`
	Price       string `json:"price"`
	Asset       string `json:"asset"`
	Chain       string `json:"chain"`
	Description string `json:"description"`
}

// MeteredResource is one entry of the identity card's price list.
type MeteredResource struct {
	ID          string `json:"id"`
	Price       string `json:"price"`
	Asset       string `json:"asset"`
	Chain       string `json:"chain"`
	Description string `json:"description"`
}

// Card is the subset of the agent identity card the SDK exposes.
type Card struct {
	Version string `json:"erc8004Version"`
	Agent   struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
		Protocols    []string `json:"protocols"`
		Networks     []string `json:"networks"`
	} `json:"agent"`
	Metering struct {
		Protocol  string            `json:"protocol"`
		Version   string            `json:"version"`
		Resources []MeteredResource `json:"resources"`
	} `json:"metering"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Price returns the price list entry for a resource id.
func (c Card) Price(resource string) (MeteredResource, bool) {
	for _, r := range c.Metering.Resources {
		if r.ID == resource {
			return r, true
		}
	}
	return MeteredResource{}, false
}
