// Package identity publishes the agent capability card served at
// /agent/identity so other agents can discover what SnowRail offers and
// what each metered resource costs.
package identity

import (
	"strings"
	"time"

	"SnowRail/internal/metering"
)

const (
	cardVersion = "1.0"
	agentID     = "snowrail-treasury-v1"
	meteringTag = "8004-alpha"
)

var cardCreatedAt = time.Date(2025, 12, 4, 0, 0, 0, 0, time.UTC)

// Validation describes how the agent's claims can be verified.
type Validation struct {
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	ChainID    int64  `json:"chainId"`
	TrustLevel int    `json:"trustLevel"`
}

// Agent is the descriptive part of the card.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Version      string     `json:"version"`
	Capabilities []string   `json:"capabilities"`
	Protocols    []string   `json:"protocols"`
	Networks     []string   `json:"networks"`
	Validation   Validation `json:"validation"`
}

// Endpoints lists the public routes.
type Endpoints struct {
	BaseURL        string `json:"baseUrl"`
	Health         string `json:"health"`
	Identity       string `json:"identity"`
	Facilitator    string `json:"x402Facilitator"`
	PayrollExecute string `json:"payrollExecute"`
	PaymentProcess string `json:"paymentProcess"`
	PaymentSingle  string `json:"paymentSingle"`
	TreasuryTest   string `json:"treasuryTest"`
	SwapAuthorize  string `json:"swapAuthorize"`
	PayrollLookup  string `json:"payrollLookup"`
	PayrollListing string `json:"payrollListing"`
}

// MeteredResource is one priced resource.
type MeteredResource struct {
	ID          string `json:"id"`
	Price       string `json:"price"`
	Asset       string `json:"asset"`
	Chain       string `json:"chain"`
	Description string `json:"description"`
}

// Metering carries the price list.
type Metering struct {
	Protocol  string            `json:"protocol"`
	Version   string            `json:"version"`
	Resources []MeteredResource `json:"resources"`
}

// Audit advertises how payroll history is retained.
type Audit struct {
	PermanentStorage bool   `json:"permanentStorage"`
	StorageProtocol  string `json:"storageProtocol,omitempty"`
	AuditTrail       bool   `json:"auditTrail"`
}

// Card is the agent capability descriptor.
type Card struct {
	Version   string    `json:"erc8004Version"`
	Agent     Agent     `json:"agent"`
	Endpoints Endpoints `json:"endpoints"`
	Metering  Metering  `json:"metering"`
	Audit     Audit     `json:"audit"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings are the deployment values folded into the card.
type Settings struct {
	BaseURL         string
	TreasuryAddress string
	ChainID         int64
	// PersistentAudit is true when payrolls are stored durably.
	PersistentAudit bool
	StorageProtocol string
}

// Builder renders the card on demand. The price list is captured once.
type Builder struct {
	settings  Settings
	resources []MeteredResource
	now       func() time.Time
}

// NewBuilder captures the gate's price list.
func NewBuilder(gate *metering.Gate, settings Settings) *Builder {
	entries := gate.Entries()
	resources := make([]MeteredResource, 0, len(entries))
	for _, e := range entries {
		resources = append(resources, MeteredResource{
			ID:          e.Challenge.MeterID,
			Price:       e.Challenge.Price,
			Asset:       e.Challenge.Asset,
			Chain:       e.Challenge.Chain,
			Description: e.Challenge.Description,
		})
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &Builder{settings: settings, resources: resources, now: time.Now}
}

// Card returns the descriptor with UpdatedAt set to now.
func (b *Builder) Card() Card {
	return Card{
		Version: cardVersion,
		Agent: Agent{
			ID:          agentID,
			Name:        "SnowRail Treasury Agent",
			Description: "Autonomous treasury orchestration for cross-border payroll, bridging on-chain settlement on Avalanche with fiat payouts through metered machine-to-machine payments.",
			Version:     "1.0.0",
			Capabilities: []string{
				"treasury_management",
				"cross_border_payments",
				"payroll_execution",
				"crypto_to_fiat_bridge",
				"x402_payments",
				"eip3009_authorization",
				"dex_swaps",
				"payment_batching",
				"autonomous_operations",
			},
			Protocols: []string{"x402", "erc8004", "eip3009", "a2a", "rail_api"},
			Networks:  []string{"avalanche", "avalanche-fuji"},
			Validation: Validation{
				Type:       "SMART_CONTRACT",
				Address:    b.settings.TreasuryAddress,
				ChainID:    b.settings.ChainID,
				TrustLevel: 3,
			},
		},
		Endpoints: Endpoints{
			BaseURL:        b.settings.BaseURL,
			Health:         "/api/health",
			Identity:       "/agent/identity",
			Facilitator:    "/facilitator/health",
			PayrollExecute: "/api/payroll/execute",
			PaymentProcess: "/api/payment/process",
			PaymentSingle:  "/api/payment/single",
			TreasuryTest:   "/api/treasury/test",
			SwapAuthorize:  "/api/treasury/swap/authorize",
			PayrollLookup:  "/api/payroll/{id}",
			PayrollListing: "/api/payrolls",
		},
		Metering: Metering{
			Protocol:  "x402",
			Version:   meteringTag,
			Resources: append([]MeteredResource(nil), b.resources...),
		},
		Audit: Audit{
			PermanentStorage: b.settings.PersistentAudit,
			StorageProtocol:  b.settings.StorageProtocol,
			AuditTrail:       true,
		},
		CreatedAt: cardCreatedAt,
		UpdatedAt: b.now().UTC(),
	}
}

// Compatible reports whether another agent speaks x402 on a network this
// agent also operates on.
func Compatible(own, other Card) bool {
	if !contains(other.Agent.Protocols, "x402") {
		return false
	}
	for _, n := range other.Agent.Networks {
		if contains(own.Agent.Networks, n) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
