package treasury

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/observability/alerting"
	"SnowRail/internal/settlement"
	"SnowRail/pkg/logger"
)

// Alert codes raised by the balance watch.
const (
	CodeBalanceLow     xerrors.Code = "TREASURY_BALANCE_LOW"
	CodeCheckFailed    xerrors.Code = "TREASURY_CHECK_FAILED"
	CodeSignerNotOwner xerrors.Code = "TREASURY_SIGNER_NOT_OWNER"
)

func init() {
	xerrors.Register(CodeBalanceLow, xerrors.Attributes{
		Message: "treasury balance below threshold", Severity: xerrors.SeverityWarning, Alert: true,
	})
	xerrors.Register(CodeCheckFailed, xerrors.Attributes{
		Message: "treasury health check failed", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true,
	})
	xerrors.Register(CodeSignerNotOwner, xerrors.Attributes{
		Message: "settlement signer is not the treasury owner", Severity: xerrors.SeverityWarning, Alert: true,
	})
}

// Health is the result of a read-only treasury check.
type Health struct {
	Owner      string   `json:"owner"`
	Signer     string   `json:"signer"`
	IsOwner    bool     `json:"isOwner"`
	Token      string   `json:"token"`
	Balance    *big.Int `json:"balance"`
	LowBalance bool     `json:"lowBalance"`
}

// Check reads the owner and the token balance without sending transactions.
// minBalance may be nil to skip the threshold comparison.
func (r *Runner) Check(ctx context.Context, minBalance *big.Int) (Health, error) {
	account := r.svc.Account()
	owner, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (string, error) { return r.svc.Owner(c) })
	if err != nil {
		return Health{}, settlement.Failure("owner", err)
	}
	balance, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (*big.Int, error) {
		return r.svc.TokenBalance(c, account.Token)
	})
	if err != nil {
		return Health{}, settlement.Failure("getTokenBalance", err)
	}
	h := Health{
		Owner:   owner,
		Signer:  account.Signer,
		IsOwner: settlement.SameAddress(owner, account.Signer),
		Token:   account.Token,
		Balance: balance,
	}
	if minBalance != nil && balance.Cmp(minBalance) < 0 {
		h.LowBalance = true
	}
	return h, nil
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Schedule is a cron spec such as "@every 10m" or "*/15 * * * *".
	Schedule   string
	MinBalance *big.Int
	Dispatcher alerting.Dispatcher
	Logger     *slog.Logger
}

// Monitor runs Check on a cron schedule and raises alerts.
type Monitor struct {
	runner *Runner
	opts   MonitorOptions
	cron   *cron.Cron
	log    *slog.Logger
	now    func() time.Time
}

// NewMonitor validates the schedule and registers the job. The job does not
// run until Start.
func NewMonitor(runner *Runner, opts MonitorOptions) (*Monitor, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Named("treasury-monitor")
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(opts.Logger.Handler(), slog.LevelInfo))
	m := &Monitor{
		runner: runner,
		opts:   opts,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		log:    opts.Logger,
		now:    time.Now,
	}
	if _, err := m.cron.AddFunc(opts.Schedule, func() { m.RunOnce(context.Background()) }); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "invalid treasury check schedule",
			xerrors.WithMetadata("schedule", opts.Schedule))
	}
	return m, nil
}

// Start runs the scheduler until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.cron.Start()
	m.log.Info("treasury monitor scheduled", slog.String("schedule", m.opts.Schedule))
	<-ctx.Done()
	<-m.cron.Stop().Done()
}

// RunOnce performs one check and dispatches any alerts. It returns the
// number of alerts raised.
func (m *Monitor) RunOnce(ctx context.Context) int {
	health, err := m.runner.Check(ctx, m.opts.MinBalance)
	if err != nil {
		m.log.Error("treasury check failed", slog.String("error", err.Error()))
		m.alert(ctx, CodeCheckFailed, "treasury health check failed", map[string]string{"error": err.Error()})
		return 1
	}
	m.log.Info("treasury check",
		slog.String("balance", health.Balance.String()),
		slog.Bool("is_owner", health.IsOwner))

	raised := 0
	if health.LowBalance {
		m.alert(ctx, CodeBalanceLow, "treasury balance below threshold", map[string]string{
			"token":     health.Token,
			"balance":   health.Balance.String(),
			"threshold": m.opts.MinBalance.String(),
		})
		raised++
	}
	if !health.IsOwner {
		m.alert(ctx, CodeSignerNotOwner, "settlement signer is not the treasury owner", map[string]string{
			"owner":  health.Owner,
			"signer": health.Signer,
		})
		raised++
	}
	return raised
}

func (m *Monitor) alert(ctx context.Context, code xerrors.Code, message string, metadata map[string]string) {
	if m.opts.Dispatcher == nil {
		return
	}
	err := m.opts.Dispatcher.Notify(ctx, alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.AttributesOf(code).Severity,
		Metadata:   metadata,
		OccurredAt: m.now().UTC(),
	})
	if err != nil {
		m.log.Warn("dispatch treasury alert", slog.String("code", string(code)), slog.String("error", err.Error()))
	}
}
