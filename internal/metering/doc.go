// Package metering implements the pay-per-call gate. Each protected resource
// has a price; callers without an accepted proof token receive a challenge
// describing what to pay, and callers presenting the sentinel token pass.
package metering
