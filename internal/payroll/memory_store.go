package payroll

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SnowRail/internal/errors"
)

// MemoryStore 在内存中保存工资单，适合开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	payrolls map[string]*Payroll
	payments map[string][]*Payment
	steps    map[string][]StepResult
	now      func() time.Time
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payrolls: make(map[string]*Payroll),
		payments: make(map[string][]*Payment),
		steps:    make(map[string][]StepResult),
		now:      time.Now,
	}
}

// CreatePayroll 保存新的工资单。
func (s *MemoryStore) CreatePayroll(_ context.Context, p *Payroll) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payroll ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payrolls[p.ID]; exists {
		return ErrConflict
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	clone := *p
	s.payrolls[p.ID] = &clone
	return nil
}

// UpdatePayrollStatus 更新工资单状态。
func (s *MemoryStore) UpdatePayrollStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payrolls[id]
	if !ok {
		return ErrPayrollNotFound
	}
	p.Status = status
	p.UpdatedAt = s.now()
	return nil
}

// CreatePayment 保存支付明细。
func (s *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payrolls[p.PayrollID]; !ok {
		return ErrPayrollNotFound
	}
	for _, existing := range s.payments[p.PayrollID] {
		if existing.ID == p.ID {
			return ErrConflict
		}
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	clone := *p
	s.payments[p.PayrollID] = append(s.payments[p.PayrollID], &clone)
	return nil
}

// UpdatePayment 覆盖支付明细的可变字段。
func (s *MemoryStore) UpdatePayment(_ context.Context, p *Payment) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments[p.PayrollID] {
		if existing.ID == p.ID {
			p.UpdatedAt = s.now()
			existing.Status = p.Status
			existing.RailID = p.RailID
			existing.RailStatus = p.RailStatus
			existing.UpdatedAt = p.UpdatedAt
			return nil
		}
	}
	return xerrors.New(xerrors.CodeNotFound, "payment not found")
}

// AppendStep 追加一条步骤结果，序号重复视为冲突。
func (s *MemoryStore) AppendStep(_ context.Context, payrollID string, result StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payrolls[payrollID]; !ok {
		return ErrPayrollNotFound
	}
	for _, existing := range s.steps[payrollID] {
		if existing.Seq == result.Seq {
			return ErrConflict
		}
	}
	s.steps[payrollID] = append(s.steps[payrollID], result)
	return nil
}

// Get 返回工资单及其支付明细和步骤日志。
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payrolls[id]
	if !ok {
		return nil, ErrPayrollNotFound
	}
	record := &Record{Payroll: *p}
	for _, payment := range s.payments[id] {
		record.Payments = append(record.Payments, *payment)
	}
	record.Steps = append([]StepResult(nil), s.steps[id]...)
	sort.SliceStable(record.Steps, func(i, j int) bool { return record.Steps[i].Seq < record.Steps[j].Seq })
	return record, nil
}

// List 返回满足过滤条件的工资单。
func (s *MemoryStore) List(_ context.Context, opts ...ListOption) ([]*Payroll, error) {
	options := buildListOptions(opts)

	s.mu.RLock()
	matched := make([]*Payroll, 0, len(s.payrolls))
	for _, p := range s.payrolls {
		if options.matches(p) {
			clone := *p
			matched = append(matched, &clone)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			if options.Order == SortByCreatedAsc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if options.Order == SortByCreatedAsc {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	if options.Offset >= len(matched) {
		return []*Payroll{}, nil
	}
	matched = matched[options.Offset:]
	if len(matched) > options.Limit {
		matched = matched[:options.Limit]
	}
	return matched, nil
}

// Stats 统计满足过滤条件的工资单。
func (s *MemoryStore) Stats(_ context.Context, opts ...ListOption) (Stats, error) {
	options := buildListOptions(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats Stats
	for _, p := range s.payrolls {
		if options.matches(p) {
			stats.add(p)
		}
	}
	return stats, nil
}

// Close 对内存存储无操作。
func (s *MemoryStore) Close() error { return nil }
