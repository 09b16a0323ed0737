package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SnowRail/internal/identity"
	"SnowRail/internal/metering"
	"SnowRail/internal/payroll"
	"SnowRail/internal/rail"
	"SnowRail/internal/settlement"
	"SnowRail/internal/settlement/ledger"
	"SnowRail/internal/treasury"
)

const (
	treasuryAddr = "0xcba2318C6C4d9c98f7732c5fDe09D1BAe12c27be"
	usdc         = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
	usdt         = "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7"
	signer       = "0x1111111111111111111111111111111111111111"
	stranger     = "0x2222222222222222222222222222222222222222"
	payee        = "0x60aE616a2155Ee3d9A68541Ba4544862310933d4"
)

const priceYAML = `resources:
  payroll_execute: {price: "1", asset: USDC, description: Execute payroll}
  payment_process: {price: "0.1", asset: USDC, description: Process a payment}
  contract_test: {price: "0.1", asset: USDC, description: Test treasury}
  payment_single: {price: "0.1", asset: USDC, description: Single payment}
  swap_execute: {price: "0.5", asset: USDC, description: Swap}
`

const paymentBody = `{
  "customer": {"first_name": "Ana", "last_name": "Silva", "email_address": "ana@example.com"},
  "payment": {"amount": 10000, "currency": "USD", "recipient": "` + payee + `"}
}`

type testEnv struct {
	server *Server
	store  *payroll.MemoryStore
}

func newTestEnv(t *testing.T, ledgerOpts ...ledger.Option) *testEnv {
	t.Helper()
	table, err := metering.ParsePriceTable([]byte(priceYAML))
	if err != nil {
		t.Fatalf("parse price table: %v", err)
	}
	gate, err := metering.NewGate(table, "fuji", "demo-token")
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	account := settlement.Account{Treasury: treasuryAddr, Token: usdc, Payer: treasuryAddr, Signer: signer, TokenDecimals: 6}
	opts := append([]ledger.Option{ledger.WithBalance(usdc, big.NewInt(1_000_000_000_000))}, ledgerOpts...)
	l := ledger.New(account, opts...)

	store := payroll.NewMemoryStore()
	orch, err := payroll.NewOrchestrator(store, l, rail.NewMockClient(rail.MockConfig{}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	srv := NewServer(":0", Dependencies{
		Gate:     gate,
		Payrolls: orch,
		Records:  store,
		Treasury: treasury.NewRunner(l, treasury.Options{CallTimeout: time.Second}),
		Identity: identity.NewBuilder(gate, identity.Settings{BaseURL: "http://localhost:3000", TreasuryAddress: treasuryAddr, ChainID: 43113}),
		Network:  "fuji",
	})
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestPaymentRequiredWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/payment/process", paymentBody, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusPaymentRequired)
	}

	var got errorEnvelope
	decodeJSON(t, rec, &got)
	if got.Error.MeterID != "payment_process" || got.Error.Metering == nil {
		t.Fatalf("unexpected challenge %+v", got.Error)
	}
	if got.Error.Metering.Price != "0.1" || got.Error.Metering.Chain != "fuji" {
		t.Fatalf("unexpected metering %+v", got.Error.Metering)
	}

	items, err := env.store.List(context.Background())
	if err != nil || len(items) != 0 {
		t.Fatalf("challenge must not create records: %v %d", err, len(items))
	}
}

func TestWrongTokenIsChallenged(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/payroll/execute", paymentBody, map[string]string{PaymentHeader: "forged"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestExecuteWithHeaderToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/payroll/execute", paymentBody, map[string]string{PaymentHeader: "demo-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}

	var outcome payroll.Outcome
	decodeJSON(t, rec, &outcome)
	if !outcome.Success || outcome.Status != payroll.StatusCompleted {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(outcome.Transactions.RequestTxHashes) != 1 || len(outcome.Transactions.ExecuteTxHashes) != 1 {
		t.Fatalf("unexpected transactions %+v", outcome.Transactions)
	}
	if outcome.Rail.Status != string(rail.StatusPaid) {
		t.Fatalf("unexpected rail summary %+v", outcome.Rail)
	}

	detail := env.do(http.MethodGet, "/api/payroll/"+outcome.PayrollID, "", nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("detail status %d", detail.Code)
	}
	var record payroll.Record
	decodeJSON(t, detail, &record)
	if record.Payroll.Resource != "payroll_execute" || len(record.Steps) != len(payroll.Steps()) {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestExecuteWithBodyToken(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Replace(paymentBody, `"customer"`, `"payment_token": "demo-token", "customer"`, 1)
	rec := env.do(http.MethodPost, "/api/payment/process", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestValidationErrorDetails(t *testing.T) {
	env := newTestEnv(t)
	body := `{"customer": {"first_name": "Ana", "last_name": "Silva"}, "payment": {"amount": 100, "currency": "USD"}}`
	rec := env.do(http.MethodPost, "/api/payroll/execute", body, map[string]string{PaymentHeader: "demo-token"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	var got errorEnvelope
	decodeJSON(t, rec, &got)
	if got.Error.Code != "VALIDATION_FAILED" || got.Error.Details["customer.email_address"] == "" {
		t.Fatalf("unexpected error %+v", got.Error)
	}

	items, _ := env.store.List(context.Background())
	if len(items) != 0 {
		t.Fatalf("validation failure must not create records, got %d", len(items))
	}
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/payroll/execute", `{"customer":`, map[string]string{PaymentHeader: "demo-token"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestMalformedBodyWithoutTokenIsChallenged(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/payroll/execute", "/api/treasury/test", "/api/treasury/swap/authorize"} {
		rec := env.do(http.MethodPost, path, `{"customer":`, nil)
		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("%s: unexpected status code: got %d want %d", path, rec.Code, http.StatusPaymentRequired)
		}
		var got errorEnvelope
		decodeJSON(t, rec, &got)
		if got.Error.Metering == nil || got.Error.MeterID == "" {
			t.Fatalf("%s: missing challenge %+v", path, got.Error)
		}
	}
	items, _ := env.store.List(context.Background())
	if len(items) != 0 {
		t.Fatalf("challenged requests must not create records, got %d", len(items))
	}
}

func TestPayrollDetailNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/payroll/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
	}
	var got errorEnvelope
	decodeJSON(t, rec, &got)
	if got.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected code %s", got.Error.Code)
	}
}

func TestPayrollList(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodPost, "/api/payroll/execute", paymentBody, map[string]string{PaymentHeader: "demo-token"})
		if rec.Code != http.StatusOK {
			t.Fatalf("execute %d: status %d", i, rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/api/payrolls?status=completed&limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var got listResponse
	decodeJSON(t, rec, &got)
	if len(got.Payrolls) != 2 || got.Limit != 2 {
		t.Fatalf("unexpected list %+v", got)
	}

	rec = env.do(http.MethodGet, "/api/payrolls?status=failed", "", nil)
	decodeJSON(t, rec, &got)
	if len(got.Payrolls) != 0 {
		t.Fatalf("expected no failed payrolls, got %d", len(got.Payrolls))
	}

	rec = env.do(http.MethodGet, "/api/payrolls?status=bogus&limit=-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	var bad errorEnvelope
	decodeJSON(t, rec, &bad)
	if bad.Error.Details["status"] == "" || bad.Error.Details["limit"] == "" {
		t.Fatalf("missing field details %+v", bad.Error.Details)
	}
}

func TestPayrollStats(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodPost, "/api/payroll/execute", paymentBody, map[string]string{PaymentHeader: "demo-token"}); rec.Code != http.StatusOK {
			t.Fatalf("execute %d: status %d", i, rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/api/payrolls/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var stats payroll.Stats
	decodeJSON(t, rec, &stats)
	if stats.Total != 2 || stats.Completed != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = env.do(http.MethodGet, "/api/payrolls/stats?status=nope", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTreasuryTest(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/api/treasury/test", "", nil); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected challenge, got %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/api/treasury/test", "", map[string]string{PaymentHeader: "demo-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Success bool              `json:"success"`
		Results []treasury.Result `json:"results"`
		Summary treasury.Summary  `json:"summary"`
	}
	decodeJSON(t, rec, &got)
	if !got.Success || got.Summary.Total != 5 || got.Summary.Successful != 5 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestSwapAuthorize(t *testing.T) {
	body := `{"from_token": "` + usdc + `", "to_token": "` + usdt + `", "max_amount": "1000000000", "payment_token": "demo-token"}`

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/treasury/swap/authorize", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}

	env = newTestEnv(t, ledger.WithOwner(stranger))
	rec = env.do(http.MethodPost, "/api/treasury/swap/authorize", body, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusForbidden)
	}
	var got errorEnvelope
	decodeJSON(t, rec, &got)
	if got.Error.Code != "NOT_AUTHORIZED" {
		t.Fatalf("unexpected code %s", got.Error.Code)
	}
}

func TestIdentityAndHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/agent/identity", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("identity status %d", rec.Code)
	}
	var card identity.Card
	decodeJSON(t, rec, &card)
	if card.Agent.Validation.ChainID != 43113 || len(card.Metering.Resources) != 5 {
		t.Fatalf("unexpected card %+v", card)
	}

	for _, path := range []string{"/api/health", "/facilitator/health"} {
		rec := env.do(http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
			t.Fatalf("%s: unexpected response %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/health", "", nil)
	rec := env.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "snowrail_http_requests_total") {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
