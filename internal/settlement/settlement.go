package settlement

import (
	"context"
	stdErrors "errors"
	"math/big"
	"strings"

	xerrors "SnowRail/internal/errors"
)

// Receipt is the ledger confirmation of a state-changing call.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
}

// Account describes the on-chain identities the service acts with.
type Account struct {
	Treasury      string `json:"treasury"`
	Token         string `json:"token"`
	Payer         string `json:"payer"`
	Signer        string `json:"signer"`
	TokenDecimals int    `json:"tokenDecimals"`
}

// Service is the treasury ledger used by the orchestrator. Implementations
// may serialize writes internally; callers do not lock around it.
type Service interface {
	Account() Account
	Owner(ctx context.Context) (string, error)
	TokenBalance(ctx context.Context, token string) (*big.Int, error)
	RequestPayment(ctx context.Context, payee string, amount *big.Int, token string) (Receipt, error)
	ExecutePayment(ctx context.Context, payer, payee string, amount *big.Int, token string) (Receipt, error)
	AuthorizeSwap(ctx context.Context, fromToken, toToken string, maxAmount *big.Int) (Receipt, error)
	SwapAllowance(ctx context.Context, fromToken, toToken string) (*big.Int, error)
}

// NotAuthorized reports an owner-gated call made by another account.
func NotAuthorized(operation, caller string) *xerrors.Error {
	return xerrors.New(xerrors.CodeNotAuthorized, "Not owner",
		xerrors.WithMetadata("operation", operation),
		xerrors.WithMetadata("caller", caller))
}

// IsNotAuthorized reports whether err is an ownership failure.
func IsNotAuthorized(err error) bool {
	return xerrors.HasCode(err, xerrors.CodeNotAuthorized)
}

// Failure wraps a raw ledger error as a collaborator failure. Errors that
// already carry a code, such as NOT_AUTHORIZED, pass through unchanged.
func Failure(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, operation+" timed out",
			xerrors.WithMetadata("collaborator", "settlement"))
	}
	return xerrors.Wrap(xerrors.CodeCollaborator, err, operation+" failed",
		xerrors.WithMetadata("collaborator", "settlement"))
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
