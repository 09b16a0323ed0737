package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/rail"
	"SnowRail/internal/settlement"
	"SnowRail/pkg/logger"
)

// RailPolicy decides whether the fiat payout runs after an on-chain failure.
type RailPolicy string

const (
	// RailAlways attempts the payout regardless of the on-chain outcome.
	RailAlways RailPolicy = "always"
	// RailRequireOnchain skips the payout unless both on-chain steps succeeded.
	RailRequireOnchain RailPolicy = "require_onchain"
)

// Publisher receives every finished outcome. Errors are logged only.
type Publisher interface {
	Publish(ctx context.Context, outcome *Outcome) error
}

// StepObserver is notified once per recorded step.
type StepObserver func(step Step, success bool)

// Orchestrator drives a payroll through its six steps. Steps run strictly in
// sequence; concurrent Execute calls share nothing but the collaborators.
type Orchestrator struct {
	store             Store
	settlement        settlement.Service
	rail              rail.Client
	publisher         Publisher
	observer          StepObserver
	policy            RailPolicy
	defaultPayee      string
	settlementTimeout time.Duration
	railTimeout       time.Duration
	flowTimeout       time.Duration
	publishTimeout    time.Duration
	now               func() time.Time
	log               *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the outcome publisher.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStepObserver sets the per-step callback.
func WithStepObserver(fn StepObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithRailPolicy sets the rail policy. Unknown values are ignored.
func WithRailPolicy(p RailPolicy) Option {
	return func(o *Orchestrator) {
		if p == RailAlways || p == RailRequireOnchain {
			o.policy = p
		}
	}
}

// WithDefaultPayee sets the payee used when a request names none.
func WithDefaultPayee(addr string) Option {
	return func(o *Orchestrator) { o.defaultPayee = addr }
}

// WithTimeouts sets per-call deadlines for settlement and rail calls and the
// deadline for the whole flow. Non-positive values keep the defaults.
func WithTimeouts(settlementCall, railCall, flow time.Duration) Option {
	return func(o *Orchestrator) {
		if settlementCall > 0 {
			o.settlementTimeout = settlementCall
		}
		if railCall > 0 {
			o.railTimeout = railCall
		}
		if flow > 0 {
			o.flowTimeout = flow
		}
	}
}

// WithPublishTimeout bounds the outcome publish. Non-positive values keep
// the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// NewOrchestrator wires the collaborators.
func NewOrchestrator(store Store, ledger settlement.Service, railClient rail.Client, opts ...Option) (*Orchestrator, error) {
	if store == nil || ledger == nil || railClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator requires store, settlement and rail")
	}
	o := &Orchestrator{
		store:             store,
		settlement:        ledger,
		rail:              railClient,
		policy:            RailAlways,
		settlementTimeout: 30 * time.Second,
		railTimeout:       10 * time.Second,
		flowTimeout:       2 * time.Minute,
		publishTimeout:    5 * time.Second,
		now:               time.Now,
		log:               logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// run carries the mutable state of one Execute call.
type run struct {
	o       *Orchestrator
	outcome *Outcome
	payroll *Payroll
	payment *Payment
}

// Execute validates req and runs the state machine. A validation error or a
// failure to create the payroll records is returned as an error with no
// outcome; every later failure is reported inside the outcome.
func (o *Orchestrator) Execute(ctx context.Context, resource string, req Request) (*Outcome, error) {
	item, err := Normalize(req, o.defaultPayee)
	if err != nil {
		return nil, err
	}

	flowCtx, cancel := context.WithTimeout(ctx, o.flowTimeout)
	defer cancel()
	// Persistence must outlive the flow deadline so the audit trail is complete.
	storeCtx := context.WithoutCancel(ctx)

	r := &run{o: o, outcome: &Outcome{
		Transactions: Transactions{RequestTxHashes: []string{}, ExecuteTxHashes: []string{}},
		Errors:       []StepError{},
		Log:          []StepResult{},
	}}

	if err := r.createPayroll(storeCtx, resource, item.Customer); err != nil {
		return nil, err
	}
	if err := r.createPayment(storeCtx, item); err != nil {
		r.finish(storeCtx)
		return nil, err
	}

	r.checkTreasury(flowCtx, storeCtx)
	requested := r.requestOnchain(flowCtx, storeCtx)
	executed := false
	if requested {
		executed = r.executeOnchain(flowCtx, storeCtx)
	} else {
		r.record(storeCtx, StepResult{Step: StepOnchainExecuted}, "skipped: onchain_requested failed")
	}

	if o.policy == RailRequireOnchain && !(requested && executed) {
		r.record(storeCtx, StepResult{Step: StepRailProcessed}, "skipped: rail policy require_onchain")
	} else {
		r.processRail(flowCtx, storeCtx)
	}

	r.finish(storeCtx)
	return r.outcome, nil
}

func (r *run) createPayroll(ctx context.Context, resource string, customer Customer) error {
	now := r.o.now()
	p := &Payroll{
		ID:        newPayrollID(now),
		Status:    StatusCreated,
		Resource:  resource,
		Customer:  customer,
		CreatedAt: now,
	}
	if err := r.o.store.CreatePayroll(ctx, p); err != nil {
		r.o.log.Error("创建工资单失败", slog.Any("error", err))
		return wrapStorage(err, "create payroll")
	}
	r.payroll = p
	r.outcome.PayrollID = p.ID
	r.record(ctx, StepResult{Step: StepPayrollCreated, Success: true}, "")

	if err := r.o.store.UpdatePayrollStatus(ctx, p.ID, StatusProcessing); err != nil {
		r.o.log.Warn("更新工资单状态失败", slog.String("payroll_id", p.ID), slog.Any("error", err))
	} else {
		p.Status = StatusProcessing
	}
	return nil
}

func (r *run) createPayment(ctx context.Context, item LineItem) error {
	account := r.o.settlement.Account()
	tokenAmount, err := TokenAmount(item.Amount, item.Currency, account.TokenDecimals)
	if err != nil {
		r.record(ctx, StepResult{Step: StepPaymentsCreated}, err.Error())
		return err
	}
	now := r.o.now()
	p := &Payment{
		ID:           uuid.NewString(),
		PayrollID:    r.payroll.ID,
		Recipient:    item.Recipient,
		Amount:       item.Amount,
		Currency:     item.Currency,
		Description:  item.Description,
		TokenAddress: account.Token,
		TokenAmount:  tokenAmount.String(),
		Status:       PaymentPending,
		CreatedAt:    now,
	}
	if err := r.o.store.CreatePayment(ctx, p); err != nil {
		r.record(ctx, StepResult{Step: StepPaymentsCreated}, err.Error())
		return wrapStorage(err, "create payment")
	}
	r.payment = p
	r.outcome.Payment = p
	r.record(ctx, StepResult{
		Step:    StepPaymentsCreated,
		Success: true,
		Detail:  fmt.Sprintf("payment %s: %d %s to %s", p.ID, p.Amount, p.Currency, p.Recipient),
	}, "")
	return nil
}

func (r *run) checkTreasury(flowCtx, storeCtx context.Context) {
	ctx, cancel := context.WithTimeout(flowCtx, r.o.settlementTimeout)
	defer cancel()

	balance, err := r.o.settlement.TokenBalance(ctx, r.payment.TokenAddress)
	if err != nil {
		err = settlement.Failure("getTokenBalance", err)
		r.o.log.Warn("读取金库余额失败，继续执行", slog.String("payroll_id", r.payroll.ID), slog.Any("error", err))
		r.record(storeCtx, StepResult{Step: StepTreasuryChecked, Detail: "balance unknown"}, err.Error())
		return
	}
	detail := "balance " + balance.String()
	if want, ok := new(big.Int).SetString(r.payment.TokenAmount, 10); ok && balance.Cmp(want) < 0 {
		detail += " below requested " + want.String()
	}
	r.record(storeCtx, StepResult{Step: StepTreasuryChecked, Success: true, Detail: detail}, "")
}

func (r *run) requestOnchain(flowCtx, storeCtx context.Context) bool {
	ctx, cancel := context.WithTimeout(flowCtx, r.o.settlementTimeout)
	defer cancel()

	amount, _ := new(big.Int).SetString(r.payment.TokenAmount, 10)
	receipt, err := r.o.settlement.RequestPayment(ctx, r.payment.Recipient, amount, r.payment.TokenAddress)
	if err != nil {
		err = settlement.Failure("requestPayment", err)
		r.record(storeCtx, StepResult{Step: StepOnchainRequested}, "onchain request failed: "+err.Error())
		return false
	}
	r.outcome.Transactions.RequestTxHashes = append(r.outcome.Transactions.RequestTxHashes, receipt.TxHash)
	r.record(storeCtx, receiptResult(StepOnchainRequested, receipt), "")
	r.updatePayment(storeCtx, PaymentOnchainRequested)
	return true
}

func (r *run) executeOnchain(flowCtx, storeCtx context.Context) bool {
	ctx, cancel := context.WithTimeout(flowCtx, r.o.settlementTimeout)
	defer cancel()

	amount, _ := new(big.Int).SetString(r.payment.TokenAmount, 10)
	payer := r.o.settlement.Account().Payer
	receipt, err := r.o.settlement.ExecutePayment(ctx, payer, r.payment.Recipient, amount, r.payment.TokenAddress)
	if err != nil {
		err = settlement.Failure("executePayment", err)
		r.record(storeCtx, StepResult{Step: StepOnchainExecuted},
			"funds requested but not moved: "+err.Error())
		return false
	}
	r.outcome.Transactions.ExecuteTxHashes = append(r.outcome.Transactions.ExecuteTxHashes, receipt.TxHash)
	r.record(storeCtx, receiptResult(StepOnchainExecuted, receipt), "")
	r.updatePayment(storeCtx, PaymentOnchainExecuted)
	return true
}

func (r *run) processRail(flowCtx, storeCtx context.Context) {
	ctx, cancel := context.WithTimeout(flowCtx, r.o.railTimeout)
	defer cancel()

	r.updatePayment(storeCtx, PaymentRailProcessing)
	result, err := r.o.rail.CreatePayment(ctx, rail.PaymentInput{
		PayrollID: r.payroll.ID,
		Amount:    r.payment.Amount,
		Currency:  r.payment.Currency,
	})
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = rail.Failure(err)
		}
		r.record(storeCtx, StepResult{Step: StepRailProcessed}, err.Error())
		return
	}

	r.outcome.Rail = RailSummary{WithdrawalID: result.ID, Status: string(result.Status)}
	r.payment.RailID = result.ID
	r.payment.RailStatus = string(result.Status)
	detail := "withdrawal " + result.ID + " " + string(result.Status)

	switch result.Status {
	case rail.StatusPaid, rail.StatusProcessing:
		r.record(storeCtx, StepResult{Step: StepRailProcessed, Success: true, Detail: detail}, "")
	default:
		reason := result.FailureReason
		if reason == "" {
			reason = "rail payout " + strings.ToLower(string(result.Status))
		}
		r.record(storeCtx, StepResult{Step: StepRailProcessed, Detail: detail}, reason)
	}
}

// record appends one StepResult, sets the step flag and, for failures,
// appends errText to the outcome's errors.
func (r *run) record(ctx context.Context, result StepResult, errText string) {
	result.Seq = len(r.outcome.Log) + 1
	result.RecordedAt = r.o.now()
	if !result.Success {
		result.Error = errText
		r.outcome.Errors = append(r.outcome.Errors, StepError{Step: result.Step, Error: errText})
		if r.outcome.FailedStep == "" {
			r.outcome.FailedStep = result.Step
		}
	} else {
		r.outcome.CompletedSteps = append(r.outcome.CompletedSteps, result.Step)
	}
	r.outcome.Log = append(r.outcome.Log, result)
	r.outcome.Steps.set(result.Step, result.Success)

	if r.payroll != nil {
		if err := r.o.store.AppendStep(ctx, r.payroll.ID, result); err != nil {
			r.o.log.Error("写入步骤日志失败",
				slog.String("payroll_id", r.payroll.ID),
				slog.String("step", string(result.Step)),
				slog.Any("error", err))
		}
		logger.Audit().Info("payroll step",
			slog.String("payroll_id", r.payroll.ID),
			slog.String("step", string(result.Step)),
			slog.Bool("success", result.Success),
			slog.String("tx_hash", result.TransactionHash),
			slog.String("error", result.Error))
	}
	if r.o.observer != nil {
		r.o.observer(result.Step, result.Success)
	}
}

func (r *run) updatePayment(ctx context.Context, status PaymentStatus) {
	if r.payment == nil {
		return
	}
	r.payment.Status = status
	if err := r.o.store.UpdatePayment(ctx, r.payment); err != nil {
		r.o.log.Warn("更新支付状态失败",
			slog.String("payment_id", r.payment.ID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

func (r *run) finish(ctx context.Context) {
	complete := len(r.outcome.Log) == len(Steps())
	for _, step := range Steps() {
		if !r.outcome.Steps.Get(step) {
			complete = false
		}
	}

	status := StatusFailed
	paymentStatus := PaymentFailed
	if complete {
		status = StatusCompleted
		paymentStatus = PaymentPaid
		if r.outcome.Rail.Status == string(rail.StatusProcessing) {
			paymentStatus = PaymentRailProcessing
		}
	}
	r.outcome.Status = status
	r.outcome.Success = complete
	r.payroll.Status = status
	r.updatePayment(ctx, paymentStatus)
	if err := r.o.store.UpdatePayrollStatus(ctx, r.payroll.ID, status); err != nil {
		r.o.log.Error("更新工资单终态失败", slog.String("payroll_id", r.payroll.ID), slog.Any("error", err))
	}

	logger.Audit().Info("payroll finished",
		slog.String("payroll_id", r.payroll.ID),
		slog.String("status", string(status)),
		slog.String("failed_step", string(r.outcome.FailedStep)),
		slog.Int("errors", len(r.outcome.Errors)))

	if r.o.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, r.o.publishTimeout)
		defer cancel()
		if err := r.o.publisher.Publish(pubCtx, r.outcome); err != nil {
			r.o.log.Warn("发布工资单结果失败", slog.String("payroll_id", r.payroll.ID), slog.Any("error", err))
		}
	}
}

func receiptResult(step Step, receipt settlement.Receipt) StepResult {
	return StepResult{
		Step:            step,
		Success:         true,
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}
}

func newPayrollID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("payroll_%d_%s", now.UnixMilli(), suffix)
}

func wrapStorage(err error, op string) error {
	if e, ok := xerrors.From(err); ok && e.Code() != xerrors.CodeUnknown {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, op)
}
