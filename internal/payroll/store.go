package payroll

import (
	"context"

	xerrors "SnowRail/internal/errors"
)

var (
	// ErrPayrollNotFound 表示工资单不存在。
	ErrPayrollNotFound = xerrors.New(xerrors.CodeNotFound, "payroll not found")
	// ErrConflict 表示记录已存在或步骤序号重复。
	ErrConflict = xerrors.New(xerrors.CodeConflict, "payroll record already exists")
)

// Store 抽象了工资单、支付明细与步骤日志的持久化。步骤日志只追加不修改。
type Store interface {
	CreatePayroll(ctx context.Context, p *Payroll) error
	UpdatePayrollStatus(ctx context.Context, id string, status Status) error
	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	AppendStep(ctx context.Context, payrollID string, result StepResult) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, opts ...ListOption) ([]*Payroll, error)
	Stats(ctx context.Context, opts ...ListOption) (Stats, error)
	Close() error
}
