// Package treasury runs operator diagnostics against the settlement service
// and validates owner-only swap authorizations.
package treasury

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/settlement"
	"SnowRail/pkg/logger"
)

// Diagnostic step names, in execution order.
const (
	StepOwner          = "owner"
	StepRequestPayment = "requestPayment"
	StepTokenBalance   = "getTokenBalance"
	StepAuthorizeSwap  = "authorizeSwap"
	StepSwapAllowance  = "swapAllowances"
)

const (
	defaultTestPayee = "0x60aE616a2155Ee3d9A68541Ba4544862310933d4"
	defaultSwapTo    = "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7"
)

// Result is one diagnostic step.
type Result struct {
	Step            string            `json:"step"`
	Success         bool              `json:"success"`
	TransactionHash string            `json:"transactionHash,omitempty"`
	BlockNumber     uint64            `json:"blockNumber,omitempty"`
	GasUsed         string            `json:"gasUsed,omitempty"`
	Error           string            `json:"error,omitempty"`
	Data            map[string]string `json:"data,omitempty"`
}

// Summary counts the results.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Report is the output of Run.
type Report struct {
	Results           []Result `json:"results"`
	TransactionHashes []string `json:"transactionHashes"`
	Summary           Summary  `json:"summary"`
}

// Options tunes the diagnostic calls. Zero values fall back to the account
// token and fixed test addresses.
type Options struct {
	TestPayee  string
	TestAmount *big.Int
	SwapTo     string
	SwapMax    *big.Int
	// CallTimeout bounds every settlement call.
	CallTimeout time.Duration
}

// Runner executes diagnostics and swap authorizations.
type Runner struct {
	svc  settlement.Service
	opts Options
	log  *slog.Logger
}

// NewRunner applies defaults to opts.
func NewRunner(svc settlement.Service, opts Options) *Runner {
	account := svc.Account()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(account.TokenDecimals)), nil)
	if opts.TestPayee == "" {
		opts.TestPayee = defaultTestPayee
	}
	if opts.TestAmount == nil {
		opts.TestAmount = new(big.Int).Set(unit)
	}
	if opts.SwapTo == "" {
		opts.SwapTo = defaultSwapTo
	}
	if opts.SwapMax == nil {
		opts.SwapMax = new(big.Int).Mul(big.NewInt(1000), unit)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Runner{svc: svc, opts: opts, log: logger.Named("treasury")}
}

// Run executes the diagnostic sequence. Every step runs regardless of the
// previous ones; failures are reported per step.
func (r *Runner) Run(ctx context.Context) Report {
	account := r.svc.Account()
	token := account.Token
	report := Report{Results: make([]Result, 0, 5), TransactionHashes: []string{}}

	add := func(res Result) {
		report.Results = append(report.Results, res)
		if res.TransactionHash != "" {
			report.TransactionHashes = append(report.TransactionHashes, res.TransactionHash)
		}
		logger.Audit().Info("treasury diagnostic",
			slog.String("step", res.Step),
			slog.Bool("success", res.Success),
			slog.String("tx_hash", res.TransactionHash),
			slog.String("error", res.Error))
	}

	isOwner := false
	{
		owner, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (string, error) { return r.svc.Owner(c) })
		res := Result{Step: StepOwner}
		if err != nil {
			res.Error = settlement.Failure("owner", err).Error()
		} else {
			isOwner = settlement.SameAddress(owner, account.Signer)
			res.Success = true
			res.Data = map[string]string{
				"owner":   owner,
				"signer":  account.Signer,
				"isOwner": boolString(isOwner),
			}
		}
		add(res)
	}

	{
		receipt, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (settlement.Receipt, error) {
			return r.svc.RequestPayment(c, r.opts.TestPayee, r.opts.TestAmount, token)
		})
		res := receiptResult(StepRequestPayment, receipt, settlement.Failure("requestPayment", err))
		res.Data = map[string]string{"payee": r.opts.TestPayee, "amount": r.opts.TestAmount.String(), "token": token}
		add(res)
	}

	{
		balance, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (*big.Int, error) {
			return r.svc.TokenBalance(c, token)
		})
		res := Result{Step: StepTokenBalance}
		if err != nil {
			res.Error = settlement.Failure("getTokenBalance", err).Error()
		} else {
			res.Success = true
			res.Data = map[string]string{"token": token, "balance": balance.String()}
		}
		add(res)
	}

	{
		receipt, err := r.authorize(ctx, token, r.opts.SwapTo, r.opts.SwapMax)
		res := receiptResult(StepAuthorizeSwap, receipt, err)
		res.Data = map[string]string{"fromToken": token, "toToken": r.opts.SwapTo, "maxAmount": r.opts.SwapMax.String()}
		if settlement.IsNotAuthorized(err) {
			res.Error = "not authorized: signer is not the treasury owner"
			res.Data["authorized"] = "false"
		}
		add(res)
	}

	{
		allowance, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (*big.Int, error) {
			return r.svc.SwapAllowance(c, token, r.opts.SwapTo)
		})
		res := Result{Step: StepSwapAllowance}
		if err != nil {
			res.Error = settlement.Failure("swapAllowances", err).Error()
		} else {
			res.Success = true
			res.Data = map[string]string{"fromToken": token, "toToken": r.opts.SwapTo, "allowance": allowance.String()}
		}
		add(res)
	}

	for _, res := range report.Results {
		report.Summary.Total++
		if res.Success {
			report.Summary.Successful++
		} else {
			report.Summary.Failed++
		}
	}
	if !isOwner {
		r.log.Info("diagnostics ran with a non-owner signer", slog.String("signer", account.Signer))
	}
	return report
}

// SwapRequest is the body of a swap authorization.
type SwapRequest struct {
	FromToken string `json:"from_token"`
	ToToken   string `json:"to_token"`
	MaxAmount string `json:"max_amount"`
}

// AuthorizeSwap validates req and authorizes the swap. A non-owner signer
// yields a NOT_AUTHORIZED error.
func (r *Runner) AuthorizeSwap(ctx context.Context, req SwapRequest) (settlement.Receipt, error) {
	fields := make(map[string]string)
	from := strings.TrimSpace(req.FromToken)
	if from == "" {
		from = r.svc.Account().Token
	}
	if !common.IsHexAddress(from) {
		fields["from_token"] = "must be a hex token address"
	}
	to := strings.TrimSpace(req.ToToken)
	if !common.IsHexAddress(to) {
		fields["to_token"] = "must be a hex token address"
	}
	maxAmount, ok := new(big.Int).SetString(strings.TrimSpace(req.MaxAmount), 10)
	if !ok || maxAmount.Sign() <= 0 {
		fields["max_amount"] = "must be a positive integer in token base units"
	}
	if len(fields) > 0 {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeValidation, "request validation failed", xerrors.WithFields(fields))
	}
	receipt, err := r.authorize(ctx, from, to, maxAmount)
	if err != nil {
		return settlement.Receipt{}, err
	}
	logger.Audit().Info("swap authorized",
		slog.String("from_token", from),
		slog.String("to_token", to),
		slog.String("max_amount", maxAmount.String()),
		slog.String("tx_hash", receipt.TxHash))
	return receipt, nil
}

func (r *Runner) authorize(ctx context.Context, from, to string, maxAmount *big.Int) (settlement.Receipt, error) {
	receipt, err := callWithTimeout(ctx, r.opts.CallTimeout, func(c context.Context) (settlement.Receipt, error) {
		return r.svc.AuthorizeSwap(c, from, to, maxAmount)
	})
	return receipt, settlement.Failure("authorizeSwap", err)
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(c)
}

func receiptResult(step string, receipt settlement.Receipt, err error) Result {
	if err != nil {
		return Result{Step: step, Error: err.Error()}
	}
	return Result{
		Step:            step,
		Success:         true,
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
