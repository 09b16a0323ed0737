// Package settlement defines the treasury ledger used for the on-chain leg of
// a payroll. The ledger subpackage keeps state in process; the evm subpackage
// binds the deployed treasury contract.
package settlement
