package metering

import (
	"fmt"
	"strings"

	xerrors "SnowRail/internal/errors"
)

// Challenge is returned to a caller that has not presented a valid payment
// proof for a resource.
type Challenge struct {
	MeterID     string `json:"meterId"`
	Price       string `json:"price"`
	Asset       string `json:"asset"`
	Chain       string `json:"chain"`
	Description string `json:"description"`
}

// Decision is the outcome of Evaluate. Challenge is nil when Allowed.
type Decision struct {
	Allowed   bool
	Challenge *Challenge
}

// Entry pairs a resource with its challenge, used to publish the price list.
type Entry struct {
	Resource  Resource
	Challenge Challenge
}

// Gate decides whether a request for a metered resource may proceed.
// It holds no mutable state and is safe for concurrent use.
type Gate struct {
	table    PriceTable
	chain    string
	sentinel string
}

// NewGate builds a Gate over a validated price table. chain is attached to
// every challenge; sentinel is the only proof token accepted.
func NewGate(table PriceTable, chain, sentinel string) (*Gate, error) {
	if missing := table.missing(); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "price table incomplete",
			xerrors.WithMetadata("missing", strings.Join(missing, ",")))
	}
	if strings.TrimSpace(chain) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "metering chain is empty")
	}
	if strings.TrimSpace(sentinel) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "sentinel token is empty")
	}
	copied := make(PriceTable, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &Gate{table: copied, chain: chain, sentinel: sentinel}, nil
}

// Evaluate returns Allow when token is the sentinel and a Challenge
// otherwise. An unknown resource is a configuration error.
func (g *Gate) Evaluate(resource Resource, token string) (Decision, error) {
	challenge, err := g.Challenge(resource)
	if err != nil {
		return Decision{}, err
	}
	if strings.TrimSpace(token) == g.sentinel {
		return Decision{Allowed: true}, nil
	}
	return Decision{Challenge: &challenge}, nil
}

// Challenge returns the challenge configured for resource.
func (g *Gate) Challenge(resource Resource) (Challenge, error) {
	price, ok := g.table[resource]
	if !ok {
		return Challenge{}, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("unknown metered resource %q", resource),
			xerrors.WithMetadata("resource", string(resource)))
	}
	return Challenge{
		MeterID:     string(resource),
		Price:       price.Amount,
		Asset:       price.Asset,
		Chain:       g.chain,
		Description: price.Description,
	}, nil
}

// Entries lists every resource with its challenge in a stable order.
func (g *Gate) Entries() []Entry {
	out := make([]Entry, 0, len(g.table))
	for _, r := range Resources() {
		ch, err := g.Challenge(r)
		if err != nil {
			continue
		}
		out = append(out, Entry{Resource: r, Challenge: ch})
	}
	return out
}

// PaymentRequired converts a challenge into the error surfaced at the API
// boundary.
func PaymentRequired(ch Challenge) *xerrors.Error {
	return xerrors.New(xerrors.CodePaymentRequired, "Payment required",
		xerrors.WithMetadata("meterId", ch.MeterID),
		xerrors.WithMetadata("price", ch.Price),
		xerrors.WithMetadata("asset", ch.Asset),
		xerrors.WithMetadata("chain", ch.Chain))
}
