package payroll

import (
	"context"
	stdErrors "errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/rail"
	"SnowRail/internal/settlement"
)

const testToken = "0x0000000000000000000000000000000000000001"

type fakeSettlement struct {
	mu           sync.Mutex
	balanceErr   error
	requestErr   error
	executeErr   error
	executeDelay time.Duration
	requests     int
	executes     int
	balances     int
	decimals     int
}

func (f *fakeSettlement) Account() settlement.Account {
	decimals := 6
	if f.decimals != 0 {
		decimals = f.decimals
	}
	return settlement.Account{
		Treasury:      "0xcba2f0e00d6e7e9f3f7c2e4a8f7a3c3b1d9d1f42",
		Token:         testToken,
		Payer:         "0x00000000000000000000000000000000000000aa",
		Signer:        "0x00000000000000000000000000000000000000aa",
		TokenDecimals: decimals,
	}
}

func (f *fakeSettlement) Owner(context.Context) (string, error) { return f.Account().Signer, nil }

func (f *fakeSettlement) TokenBalance(context.Context, string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeSettlement) RequestPayment(_ context.Context, _ string, _ *big.Int, _ string) (settlement.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requestErr != nil {
		return settlement.Receipt{}, f.requestErr
	}
	return settlement.Receipt{TxHash: "0xrequest", BlockNumber: 1, GasUsed: "32611"}, nil
}

func (f *fakeSettlement) ExecutePayment(ctx context.Context, _, _ string, _ *big.Int, _ string) (settlement.Receipt, error) {
	f.mu.Lock()
	f.executes++
	delay, err := f.executeDelay, f.executeErr
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return settlement.Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return settlement.Receipt{}, err
	}
	return settlement.Receipt{TxHash: "0xexecute", BlockNumber: 2, GasUsed: "58204"}, nil
}

func (f *fakeSettlement) AuthorizeSwap(context.Context, string, string, *big.Int) (settlement.Receipt, error) {
	return settlement.Receipt{}, nil
}

func (f *fakeSettlement) SwapAllowance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

type fakeRail struct {
	mu     sync.Mutex
	result rail.PaymentResult
	err    error
	calls  int
}

func (f *fakeRail) CreatePayment(_ context.Context, input rail.PaymentInput) (rail.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return rail.PaymentResult{}, f.err
	}
	res := f.result
	if res.Status == "" {
		res = rail.PaymentResult{ID: "rail_1_abc", Status: rail.StatusPaid}
	}
	return res, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []*Outcome
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, outcome *Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
	return p.err
}

func validRequest() Request {
	return Request{
		Customer: Customer{FirstName: "Ada", LastName: "Lovelace", EmailAddress: "ada@example.com"},
		Payment:  PaymentRequest{Amount: "10000", Currency: "USD", Recipient: samplePayee},
	}
}

func newTestOrchestrator(t *testing.T, ledger *fakeSettlement, railClient *fakeRail, opts ...Option) (*Orchestrator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	o, err := NewOrchestrator(store, ledger, railClient, opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, store
}

func TestExecuteHappyPathCompletes(t *testing.T) {
	ledger, railClient := &fakeSettlement{}, &fakeRail{}
	pub := &recordingPublisher{}
	var observed []Step
	o, store := newTestOrchestrator(t, ledger, railClient,
		WithPublisher(pub),
		WithStepObserver(func(step Step, _ bool) { observed = append(observed, step) }))

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Success || out.Status != StatusCompleted {
		t.Fatalf("expected completed outcome, got %+v", out)
	}
	for _, step := range Steps() {
		if !out.Steps.Get(step) {
			t.Fatalf("step %s not completed", step)
		}
	}
	if len(out.Errors) != 0 || out.FailedStep != "" {
		t.Fatalf("unexpected errors %+v", out.Errors)
	}
	if len(out.Transactions.RequestTxHashes) != 1 || len(out.Transactions.ExecuteTxHashes) != 1 {
		t.Fatalf("unexpected transactions %+v", out.Transactions)
	}
	if out.Rail.WithdrawalID != "rail_1_abc" || out.Rail.Status != "PAID" {
		t.Fatalf("unexpected rail summary %+v", out.Rail)
	}
	if out.Payment == nil || out.Payment.TokenAmount != "100000000" || out.Payment.Status != PaymentPaid {
		t.Fatalf("unexpected payment %+v", out.Payment)
	}
	if len(observed) != len(Steps()) || len(pub.outcomes) != 1 {
		t.Fatalf("observer saw %v, publisher saw %d", observed, len(pub.outcomes))
	}

	record, err := store.Get(context.Background(), out.PayrollID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Payroll.Status != StatusCompleted || len(record.Steps) != 6 {
		t.Fatalf("unexpected persisted record %+v", record)
	}
	for i, step := range Steps() {
		if record.Steps[i].Step != step || record.Steps[i].Seq != i+1 {
			t.Fatalf("step log out of order: %+v", record.Steps)
		}
	}
	if record.Steps[3].TransactionHash != "0xrequest" || record.Steps[4].TransactionHash != "0xexecute" {
		t.Fatalf("receipts not persisted: %+v", record.Steps)
	}
}

func TestExecuteValidationHasNoSideEffects(t *testing.T) {
	ledger, railClient := &fakeSettlement{}, &fakeRail{}
	o, store := newTestOrchestrator(t, ledger, railClient)

	req := validRequest()
	req.Customer.EmailAddress = ""
	out, err := o.Execute(context.Background(), "payroll_execute", req)
	if out != nil || !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v %+v", err, out)
	}
	if ledger.requests+ledger.executes+ledger.balances+railClient.calls != 0 {
		t.Fatal("collaborators must not be called on invalid input")
	}
	if list, _ := store.List(context.Background()); len(list) != 0 {
		t.Fatalf("no payroll should be stored, got %d", len(list))
	}
}

func TestExecuteSkipsExecuteWhenRequestFails(t *testing.T) {
	ledger := &fakeSettlement{requestErr: stdErrors.New("execution reverted")}
	railClient := &fakeRail{}
	o, _ := newTestOrchestrator(t, ledger, railClient)

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ledger.executes != 0 {
		t.Fatal("executePayment must not run after a failed request")
	}
	if out.Steps.OnchainRequested || out.Steps.OnchainExecuted {
		t.Fatalf("unexpected on-chain flags %+v", out.Steps)
	}
	if out.Status != StatusFailed || out.FailedStep != StepOnchainRequested {
		t.Fatalf("unexpected status %s failed step %s", out.Status, out.FailedStep)
	}
	if len(out.Transactions.RequestTxHashes) != 0 || len(out.Transactions.ExecuteTxHashes) != 0 {
		t.Fatalf("no transactions expected, got %+v", out.Transactions)
	}
	if !strings.HasPrefix(out.Errors[0].Error, "onchain request failed: ") {
		t.Fatalf("unexpected error text %q", out.Errors[0].Error)
	}
	if len(out.Log) != 6 || out.Log[4].Error != "skipped: onchain_requested failed" {
		t.Fatalf("execute step should be logged as skipped: %+v", out.Log)
	}
	if railClient.calls != 1 || !out.Steps.RailProcessed {
		t.Fatal("rail should still run under the default policy")
	}
}

func TestExecuteReportsFundsRequestedButNotMoved(t *testing.T) {
	ledger := &fakeSettlement{executeErr: stdErrors.New("insufficient balance")}
	o, _ := newTestOrchestrator(t, ledger, &fakeRail{})

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out.Transactions.RequestTxHashes) != 1 || len(out.Transactions.ExecuteTxHashes) != 0 {
		t.Fatalf("unexpected transactions %+v", out.Transactions)
	}
	if out.FailedStep != StepOnchainExecuted || !strings.Contains(out.Errors[0].Error, "funds requested but not moved") {
		t.Fatalf("unexpected failure %+v", out.Errors)
	}
	if out.Status != StatusFailed || out.Payment.Status != PaymentFailed {
		t.Fatalf("expected failed payroll, got %s/%s", out.Status, out.Payment.Status)
	}
}

func TestExecuteRailFailureKeepsEarlierSteps(t *testing.T) {
	railClient := &fakeRail{result: rail.PaymentResult{ID: "rail_2_x", Status: rail.StatusFailed, FailureReason: rail.FailureMockRandom}}
	o, _ := newTestOrchestrator(t, &fakeSettlement{}, railClient)

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Status != StatusFailed || out.Steps.RailProcessed {
		t.Fatalf("expected rail failure, got %+v", out)
	}
	for _, step := range Steps()[:5] {
		if !out.Steps.Get(step) {
			t.Fatalf("step %s should have succeeded", step)
		}
	}
	if len(out.Errors) != 1 || out.Errors[0].Error != rail.FailureMockRandom {
		t.Fatalf("unexpected errors %+v", out.Errors)
	}
	if out.Rail.WithdrawalID != "rail_2_x" || out.Rail.Status != "FAILED" {
		t.Fatalf("unexpected rail summary %+v", out.Rail)
	}
}

func TestExecuteRailProcessingCountsAsSuccess(t *testing.T) {
	railClient := &fakeRail{result: rail.PaymentResult{ID: "rail_3", Status: rail.StatusProcessing}}
	o, _ := newTestOrchestrator(t, &fakeSettlement{}, railClient)

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Status != StatusCompleted || out.Payment.Status != PaymentRailProcessing {
		t.Fatalf("unexpected status %s/%s", out.Status, out.Payment.Status)
	}
}

func TestExecuteTreasuryFailureIsNonBlocking(t *testing.T) {
	ledger := &fakeSettlement{balanceErr: stdErrors.New("rpc unavailable")}
	o, _ := newTestOrchestrator(t, ledger, &fakeRail{})

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Steps.TreasuryChecked || !out.Steps.OnchainRequested || !out.Steps.OnchainExecuted || !out.Steps.RailProcessed {
		t.Fatalf("unexpected flags %+v", out.Steps)
	}
	if out.Status != StatusFailed || out.FailedStep != StepTreasuryChecked {
		t.Fatalf("unexpected status %s failed step %s", out.Status, out.FailedStep)
	}
}

func TestExecuteRequireOnchainPolicySkipsRail(t *testing.T) {
	ledger := &fakeSettlement{executeErr: stdErrors.New("boom")}
	railClient := &fakeRail{}
	o, _ := newTestOrchestrator(t, ledger, railClient, WithRailPolicy(RailRequireOnchain))

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if railClient.calls != 0 || out.Steps.RailProcessed {
		t.Fatal("rail must be skipped when on-chain settlement failed")
	}
	if out.Log[5].Error != "skipped: rail policy require_onchain" {
		t.Fatalf("unexpected rail log %+v", out.Log[5])
	}
}

func TestExecuteSettlementTimeout(t *testing.T) {
	ledger := &fakeSettlement{executeDelay: time.Second}
	o, _ := newTestOrchestrator(t, ledger, &fakeRail{}, WithTimeouts(20*time.Millisecond, 0, 0))

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Steps.OnchainExecuted || out.Status != StatusFailed {
		t.Fatalf("expected execute timeout, got %+v", out.Steps)
	}
	if !strings.Contains(out.Errors[0].Error, string(xerrors.CodeTimeout)) {
		t.Fatalf("expected timeout error, got %q", out.Errors[0].Error)
	}
}

func TestExecuteAssignsDistinctIDs(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeSettlement{}, &fakeRail{})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := o.Execute(context.Background(), "payment_process", validRequest())
			if err != nil {
				t.Errorf("execute: %v", err)
				return
			}
			mu.Lock()
			ids[out.PayrollID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 20 {
		t.Fatalf("expected 20 distinct payroll ids, got %d", len(ids))
	}
}

func TestExecutePublishFailureDoesNotFailPayroll(t *testing.T) {
	pub := &recordingPublisher{err: stdErrors.New("broker down")}
	o, _ := newTestOrchestrator(t, &fakeSettlement{}, &fakeRail{}, WithPublisher(pub))

	out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
	if err != nil || out.Status != StatusCompleted {
		t.Fatalf("publish failure must be ignored, got %v %+v", err, out)
	}
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ *Outcome) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExecuteBoundsStalledPublish(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeSettlement{}, &fakeRail{},
		WithPublisher(stalledPublisher{}), WithPublishTimeout(50*time.Millisecond))

	done := make(chan *Outcome, 1)
	go func() {
		out, err := o.Execute(context.Background(), "payroll_execute", validRequest())
		if err != nil {
			t.Errorf("execute: %v", err)
		}
		done <- out
	}()

	select {
	case out := <-done:
		if out == nil || out.Status != StatusCompleted {
			t.Fatalf("stalled publish must not change the outcome: %+v", out)
		}
		record, err := store.Get(context.Background(), out.PayrollID)
		if err != nil || record.Payroll.Status != StatusCompleted {
			t.Fatalf("final status not persisted: %v %+v", err, record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute blocked on a stalled publisher")
	}
}

func TestExecuteRejectsLossyTokenScale(t *testing.T) {
	ledger := &fakeSettlement{decimals: 1}
	o, store := newTestOrchestrator(t, ledger, &fakeRail{})

	req := validRequest()
	req.Payment.Amount = "1235"
	_, err := o.Execute(context.Background(), "payroll_execute", req)
	if !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if ledger.requests != 0 || ledger.balances != 0 {
		t.Fatalf("no settlement call expected, got %d requests %d balance reads", ledger.requests, ledger.balances)
	}
	items, _ := store.List(context.Background())
	if len(items) != 1 || items[0].Status != StatusFailed {
		t.Fatalf("payroll must be closed as FAILED: %+v", items)
	}
}
