package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"SnowRail/sdk/go/snowrail"
)

// 演示 402 挑战与携带凭证重试的完整流程，需要本地已启动 snowraild。
func main() {
	baseURL := os.Getenv("SNOWRAIL_URL")
	if baseURL == "" {
		baseURL = "http://localhost:4000"
	}
	client, err := snowrail.NewClient(baseURL, nil)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := snowrail.PaymentRequest{
		Customer: snowrail.Customer{FirstName: "Ana", LastName: "Silva", EmailAddress: "ana@example.com"},
		Payment:  snowrail.Payment{AmountUnits: "100.00", Currency: "USD"},
	}

	_, err = client.ProcessPayment(ctx, req)
	var challenge *snowrail.PaymentRequiredError
	if !errors.As(err, &challenge) {
		panic(fmt.Sprintf("expected a payment challenge, got %v", err))
	}
	fmt.Printf("challenge: %s costs %s %s on %s\n",
		challenge.Challenge.MeterID, challenge.Challenge.Price, challenge.Challenge.Asset, challenge.Challenge.Chain)

	outcome, err := client.WithPaymentToken("demo-token").ProcessPayment(ctx, req)
	if err != nil {
		panic(err)
	}
	fmt.Printf("payroll %s finished with status %s (rail=%s)\n", outcome.PayrollID, outcome.Status, outcome.Rail.Status)
	for _, e := range outcome.Errors {
		fmt.Printf("  %s: %s\n", e.Step, e.Error)
	}

	record, err := client.GetPayroll(ctx, outcome.PayrollID)
	if err != nil {
		panic(err)
	}
	for _, step := range record.Steps {
		fmt.Printf("  #%d %-18s success=%v tx=%s\n", step.Seq, step.Step, step.Success, step.TransactionHash)
	}
}
