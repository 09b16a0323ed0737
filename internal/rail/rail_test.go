package rail

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	xerrors "SnowRail/internal/errors"
)

func TestMockClientAlwaysPaysWithZeroFailureRate(t *testing.T) {
	c := NewMockClient(MockConfig{}, WithRand(rand.New(rand.NewSource(1))))
	for i := 0; i < 20; i++ {
		res, err := c.CreatePayment(context.Background(), PaymentInput{PayrollID: "p", Amount: 10000, Currency: "USD"})
		if err != nil {
			t.Fatalf("create payment: %v", err)
		}
		if res.Status != StatusPaid || res.FailureReason != "" {
			t.Fatalf("unexpected result %+v", res)
		}
		if !strings.HasPrefix(res.ID, "rail_") {
			t.Fatalf("unexpected id %s", res.ID)
		}
	}
}

func TestMockClientFailsWithReason(t *testing.T) {
	c := NewMockClient(MockConfig{FailureRate: 1})
	res, err := c.CreatePayment(context.Background(), PaymentInput{PayrollID: "p", Amount: 1, Currency: "USD"})
	if err != nil {
		t.Fatalf("a FAILED payout must not be an error: %v", err)
	}
	if res.Status != StatusFailed || res.FailureReason != FailureMockRandom {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMockClientFailureRateIsApproximate(t *testing.T) {
	c := NewMockClient(MockConfig{FailureRate: 0.1}, WithRand(rand.New(rand.NewSource(42))))
	failed := 0
	const total = 2000
	for i := 0; i < total; i++ {
		res, _ := c.CreatePayment(context.Background(), PaymentInput{PayrollID: "p", Amount: 1, Currency: "USD"})
		if res.Status == StatusFailed {
			failed++
		}
	}
	if failed < total/20 || failed > total/5 {
		t.Fatalf("failure count %d far from 10%%", failed)
	}
}

func TestMockClientHonoursDeadline(t *testing.T) {
	c := NewMockClient(MockConfig{MinLatency: time.Second, MaxLatency: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.CreatePayment(ctx, PaymentInput{PayrollID: "p", Amount: 1, Currency: "USD"})
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestMockClientUsesClock(t *testing.T) {
	fixed := time.Date(2025, 12, 4, 10, 0, 0, 0, time.UTC)
	c := NewMockClient(MockConfig{}, WithClock(func() time.Time { return fixed }))
	res, err := c.CreatePayment(context.Background(), PaymentInput{PayrollID: "p", Amount: 1, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.CreatedAt.Equal(fixed) || !strings.HasPrefix(res.ID, "rail_1764842400000_") {
		t.Fatalf("unexpected result %+v", res)
	}
}
