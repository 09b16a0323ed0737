package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/settlement"
)

// Gas figures reported on synthetic receipts.
const (
	gasRequestPayment = 32_611
	gasExecutePayment = 58_204
	gasAuthorizeSwap  = 46_877
)

// Event is one entry in the ledger's event log.
type Event struct {
	Name        string
	Payer       string
	Payee       string
	Amount      *big.Int
	Token       string
	Reason      string
	BlockNumber uint64
}

// Ledger is an in-process treasury. Writes are serialized; every successful
// write mines one synthetic block.
type Ledger struct {
	mu         sync.Mutex
	account    settlement.Account
	owner      string
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	events     []Event
	block      uint64
	nonce      uint64
	latency    time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithOwner sets the treasury owner. Defaults to the signer.
func WithOwner(owner string) Option {
	return func(l *Ledger) {
		l.owner = owner
	}
}

// WithBalance credits the treasury with amount of token.
func WithBalance(token string, amount *big.Int) Option {
	return func(l *Ledger) {
		if amount != nil {
			l.balances[key(token)] = new(big.Int).Set(amount)
		}
	}
}

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(l *Ledger) {
		l.latency = d
	}
}

// New creates a ledger acting as account.Signer.
func New(account settlement.Account, opts ...Option) *Ledger {
	l := &Ledger{
		account:    account,
		owner:      account.Signer,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		block:      1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Account implements settlement.Service.
func (l *Ledger) Account() settlement.Account { return l.account }

// Owner implements settlement.Service.
func (l *Ledger) Owner(ctx context.Context) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, nil
}

// TokenBalance implements settlement.Service.
func (l *Ledger) TokenBalance(ctx context.Context, token string) (*big.Int, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	if err := checkAddress("token", token); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[key(token)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// RequestPayment records payment intent. It moves no funds.
func (l *Ledger) RequestPayment(ctx context.Context, payee string, amount *big.Int, token string) (settlement.Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return settlement.Receipt{}, err
	}
	if err := validateTransfer(payee, amount, token); err != nil {
		return settlement.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mine(Event{
		Name:   "PaymentRequested",
		Payer:  l.account.Signer,
		Payee:  payee,
		Amount: new(big.Int).Set(amount),
		Token:  token,
	}, gasRequestPayment), nil
}

// ExecutePayment moves amount of token out of the treasury. Owner only.
func (l *Ledger) ExecutePayment(ctx context.Context, payer, payee string, amount *big.Int, token string) (settlement.Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return settlement.Receipt{}, err
	}
	if err := checkAddress("payer", payer); err != nil {
		return settlement.Receipt{}, err
	}
	if err := validateTransfer(payee, amount, token); err != nil {
		return settlement.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !settlement.SameAddress(l.owner, l.account.Signer) {
		return settlement.Receipt{}, settlement.NotAuthorized("executePayment", l.account.Signer)
	}
	balance := l.balances[key(token)]
	if balance == nil || balance.Cmp(amount) < 0 {
		l.events = append(l.events, Event{
			Name:        "PaymentFailed",
			Payer:       payer,
			Payee:       payee,
			Amount:      new(big.Int).Set(amount),
			Token:       token,
			Reason:      "insufficient treasury balance",
			BlockNumber: l.block,
		})
		return settlement.Receipt{}, xerrors.New(xerrors.CodeCollaborator, "insufficient treasury balance",
			xerrors.WithMetadata("token", token),
			xerrors.WithMetadata("requested", amount.String()))
	}
	l.balances[key(token)] = new(big.Int).Sub(balance, amount)
	return l.mine(Event{
		Name:   "PaymentExecuted",
		Payer:  payer,
		Payee:  payee,
		Amount: new(big.Int).Set(amount),
		Token:  token,
	}, gasExecutePayment), nil
}

// AuthorizeSwap sets the swap allowance for a token pair. Owner only.
func (l *Ledger) AuthorizeSwap(ctx context.Context, fromToken, toToken string, maxAmount *big.Int) (settlement.Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return settlement.Receipt{}, err
	}
	if err := checkAddress("fromToken", fromToken); err != nil {
		return settlement.Receipt{}, err
	}
	if err := checkAddress("toToken", toToken); err != nil {
		return settlement.Receipt{}, err
	}
	if maxAmount == nil || maxAmount.Sign() < 0 {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeCollaborator, "maxAmount must not be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !settlement.SameAddress(l.owner, l.account.Signer) {
		return settlement.Receipt{}, settlement.NotAuthorized("authorizeSwap", l.account.Signer)
	}
	l.allowances[pairKey(fromToken, toToken)] = new(big.Int).Set(maxAmount)
	return l.mine(Event{
		Name:   "SwapAuthorized",
		Payer:  l.owner,
		Payee:  toToken,
		Amount: new(big.Int).Set(maxAmount),
		Token:  fromToken,
	}, gasAuthorizeSwap), nil
}

// SwapAllowance implements settlement.Service.
func (l *Ledger) SwapAllowance(ctx context.Context, fromToken, toToken string) (*big.Int, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.allowances[pairKey(fromToken, toToken)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// Events returns a copy of the event log.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// mine must be called with l.mu held.
func (l *Ledger) mine(ev Event, gas uint64) settlement.Receipt {
	l.block++
	l.nonce++
	ev.BlockNumber = l.block

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], l.block)
	binary.BigEndian.PutUint64(buf[8:], l.nonce)
	hash := crypto.Keccak256Hash(buf[:], []byte(ev.Name), []byte(strings.ToLower(ev.Payee)), ev.Amount.Bytes())

	l.events = append(l.events, ev)
	return settlement.Receipt{
		TxHash:      hash.Hex(),
		BlockNumber: l.block,
		GasUsed:     strconv.FormatUint(gas, 10),
	}
}

func (l *Ledger) wait(ctx context.Context) error {
	if l.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateTransfer(payee string, amount *big.Int, token string) error {
	if err := checkAddress("payee", payee); err != nil {
		return err
	}
	if err := checkAddress("token", token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeCollaborator, "amount must be positive")
	}
	return nil
}

func checkAddress(field, value string) error {
	if !common.IsHexAddress(value) {
		return xerrors.New(xerrors.CodeCollaborator, fmt.Sprintf("invalid %s address %q", field, value))
	}
	return nil
}

func key(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func pairKey(from, to string) string {
	return key(from) + "->" + key(to)
}
