// Package api exposes the SnowRail HTTP boundary: metered payroll and payment
// execution, treasury diagnostics, swap authorization, payroll audit lookups and counters,
// the agent identity card and liveness probes.
//
// Metered routes answer 402 with the metering challenge until the caller
// presents a payment proof in the X-PAYMENT header or the payment_token field.
package api
