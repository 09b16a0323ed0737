package metering

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "SnowRail/internal/errors"
)

const testTable = `
resources:
  payroll_execute:
    price: "1"
    asset: USDC
    description: Execute payroll
  payment_process:
    price: "0.10"
    asset: USDC
    description: Process a single payment
  contract_test:
    price: "0.1"
    asset: USDC
    description: Treasury diagnostics
  payment_single:
    price: "0.1"
    asset: USDC
    description: Single payment
  swap_execute:
    price: "0.5"
    asset: USDC
    description: Authorize a swap
`

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	table, err := ParsePriceTable([]byte(testTable))
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}
	gate, err := NewGate(table, "fuji", "demo-token")
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func TestEvaluateChallengesWithoutToken(t *testing.T) {
	gate := newTestGate(t)

	for _, resource := range Resources() {
		for _, token := range []string{"", "not-a-real-proof"} {
			decision, err := gate.Evaluate(resource, token)
			if err != nil {
				t.Fatalf("evaluate %s: %v", resource, err)
			}
			if decision.Allowed || decision.Challenge == nil {
				t.Fatalf("expected challenge for %s with token %q", resource, token)
			}
			if decision.Challenge.MeterID != string(resource) {
				t.Fatalf("meter id %s does not match resource %s", decision.Challenge.MeterID, resource)
			}
			if decision.Challenge.Chain != "fuji" || decision.Challenge.Asset != "USDC" {
				t.Fatalf("unexpected challenge %+v", decision.Challenge)
			}
		}
	}
}

func TestEvaluateAllowsSentinel(t *testing.T) {
	gate := newTestGate(t)
	decision, err := gate.Evaluate(ResourcePayrollExecute, "demo-token")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Allowed || decision.Challenge != nil {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestEvaluateUnknownResource(t *testing.T) {
	gate := newTestGate(t)
	_, err := gate.Evaluate(Resource("teleport"), "demo-token")
	if !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPricesAreNormalized(t *testing.T) {
	gate := newTestGate(t)
	ch, err := gate.Challenge(ResourcePaymentProcess)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if ch.Price != "0.1" {
		t.Fatalf("expected normalized price 0.1, got %s", ch.Price)
	}
}

func TestParsePriceTableRequiresEveryResource(t *testing.T) {
	_, err := ParsePriceTable([]byte(`
resources:
  payroll_execute:
    price: "1"
    asset: USDC
`))
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if e.Metadata()["missing"] == "" {
		t.Fatal("expected missing resources in metadata")
	}
}

func TestParsePriceTableRejectsBadPrice(t *testing.T) {
	_, err := ParsePriceTable([]byte(`
resources:
  payroll_execute:
    price: "one dollar"
    asset: USDC
`))
	if !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadPriceTableFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metering.yaml")
	if err := os.WriteFile(path, []byte(testTable), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadPriceTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(table) != len(Resources()) {
		t.Fatalf("expected %d entries, got %d", len(Resources()), len(table))
	}
}

func TestPaymentRequiredCarriesMeter(t *testing.T) {
	gate := newTestGate(t)
	ch, _ := gate.Challenge(ResourceSwapExecute)
	err := PaymentRequired(ch)
	if err.Code() != xerrors.CodePaymentRequired || err.Metadata()["meterId"] != "swap_execute" {
		t.Fatalf("unexpected error %v %+v", err, err.Metadata())
	}
}
