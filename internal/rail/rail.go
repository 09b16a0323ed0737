package rail

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	xerrors "SnowRail/internal/errors"
)

// Status is the payout state reported by the rail.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
)

// FailureMockRandom is the reason attached to simulated failures.
const FailureMockRandom = "MOCK_RANDOM_FAILURE"

// PaymentInput is a payout request in minor units.
type PaymentInput struct {
	PayrollID string
	Amount    int64
	Currency  string
}

// PaymentResult is the rail's answer. A FAILED status is a normal result,
// not an error.
type PaymentResult struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// Client creates fiat payouts.
type Client interface {
	CreatePayment(ctx context.Context, input PaymentInput) (PaymentResult, error)
}

// MockConfig controls the simulated rail.
type MockConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

// MockClient simulates payouts with random latency and a fixed failure rate.
type MockClient struct {
	cfg MockConfig
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// MockOption customizes a MockClient.
type MockOption func(*MockClient)

// WithRand injects the random source, for deterministic tests.
func WithRand(r *rand.Rand) MockOption {
	return func(c *MockClient) {
		if r != nil {
			c.rnd = r
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) MockOption {
	return func(c *MockClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMockClient builds a simulated rail. Zero latency bounds disable the
// delay; the failure rate is clamped to [0,1].
func NewMockClient(cfg MockConfig, opts ...MockOption) *MockClient {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	if cfg.FailureRate < 0 {
		cfg.FailureRate = 0
	}
	if cfg.FailureRate > 1 {
		cfg.FailureRate = 1
	}
	c := &MockClient{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CreatePayment waits for the simulated latency, then reports PAID or FAILED.
func (c *MockClient) CreatePayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	if input.Amount <= 0 {
		return PaymentResult{}, xerrors.New(xerrors.CodeCollaborator, "rail amount must be positive",
			xerrors.WithMetadata("collaborator", "rail"))
	}

	c.mu.Lock()
	delay := c.cfg.MinLatency
	if span := c.cfg.MaxLatency - c.cfg.MinLatency; span > 0 {
		delay += time.Duration(c.rnd.Int63n(int64(span)))
	}
	failed := c.rnd.Float64() < c.cfg.FailureRate
	suffix := strconv.FormatInt(c.rnd.Int63(), 36)
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return PaymentResult{}, Failure(ctx.Err())
		case <-timer.C:
		}
	}

	now := c.now()
	if len(suffix) > 7 {
		suffix = suffix[:7]
	}
	result := PaymentResult{
		ID:        fmt.Sprintf("rail_%d_%s", now.UnixMilli(), suffix),
		Status:    StatusPaid,
		CreatedAt: now.UTC(),
	}
	if failed {
		result.Status = StatusFailed
		result.FailureReason = FailureMockRandom
	}
	return result, nil
}

// Failure wraps a rail transport error as a collaborator failure.
func Failure(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "rail payout timed out",
			xerrors.WithMetadata("collaborator", "rail"))
	}
	return xerrors.Wrap(xerrors.CodeCollaborator, err, "rail payout failed",
		xerrors.WithMetadata("collaborator", "rail"))
}
