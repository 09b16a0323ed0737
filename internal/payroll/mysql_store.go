package payroll

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SnowRail/internal/errors"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 保存工资单、支付明细与步骤日志。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 打开连接并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := newMySQLStoreWithDB(db)
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

func newMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

const (
	insertPayrollSQL = `INSERT INTO payrolls (id, status, resource, customer_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	updatePayrollStatusSQL = `UPDATE payrolls SET status = ?, updated_at = ? WHERE id = ?`
	insertPaymentSQL       = `INSERT INTO payments
        (id, payroll_id, recipient, amount, currency, description, token_address, token_amount, status, rail_id, rail_status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	updatePaymentSQL = `UPDATE payments SET status = ?, rail_id = ?, rail_status = ?, updated_at = ? WHERE id = ? AND payroll_id = ?`
	insertStepSQL    = `INSERT INTO payroll_steps
        (payroll_id, seq, step, success, tx_hash, block_number, gas_used, error, detail, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectPayrollSQL = `SELECT id, status, resource, customer_json, created_at, updated_at FROM payrolls`
	selectPaymentSQL = `SELECT id, payroll_id, recipient, amount, currency, description, token_address, token_amount,
        status, rail_id, rail_status, created_at, updated_at FROM payments WHERE payroll_id = ? ORDER BY created_at, id`
	selectStepsSQL = `SELECT seq, step, success, tx_hash, block_number, gas_used, error, detail, recorded_at
        FROM payroll_steps WHERE payroll_id = ? ORDER BY seq`
	statsSQL = `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS created,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS processing,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM payrolls`
)

// CreatePayroll 插入工资单记录。
func (s *MySQLStore) CreatePayroll(ctx context.Context, p *Payroll) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payroll ID 不能为空")
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	customer, err := json.Marshal(p.Customer)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码客户信息失败")
	}
	_, err = s.db.ExecContext(ctx, insertPayrollSQL,
		p.ID, string(p.Status), p.Resource, string(customer),
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	return mapWriteError(err, "插入工资单失败")
}

// UpdatePayrollStatus 更新工资单状态。
func (s *MySQLStore) UpdatePayrollStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, updatePayrollStatusSQL, string(status), s.now().UnixMilli(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新工资单状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrPayrollNotFound
	}
	return nil
}

// CreatePayment 插入支付明细。
func (s *MySQLStore) CreatePayment(ctx context.Context, p *Payment) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment ID 不能为空")
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, insertPaymentSQL,
		p.ID, p.PayrollID, p.Recipient, p.Amount, p.Currency, p.Description,
		p.TokenAddress, p.TokenAmount, string(p.Status), p.RailID, p.RailStatus,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	return mapWriteError(err, "插入支付明细失败")
}

// UpdatePayment 更新支付状态与法币通道信息。
func (s *MySQLStore) UpdatePayment(ctx context.Context, p *Payment) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment 不能为空")
	}
	p.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, updatePaymentSQL,
		string(p.Status), p.RailID, p.RailStatus, p.UpdatedAt.UnixMilli(), p.ID, p.PayrollID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付明细失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return xerrors.New(xerrors.CodeNotFound, "payment not found")
	}
	return nil
}

// AppendStep 追加步骤日志，主键 (payroll_id, seq) 保证只追加。
func (s *MySQLStore) AppendStep(ctx context.Context, payrollID string, r StepResult) error {
	_, err := s.db.ExecContext(ctx, insertStepSQL,
		payrollID, r.Seq, string(r.Step), r.Success, r.TransactionHash, r.BlockNumber,
		r.GasUsed, r.Error, r.Detail, r.RecordedAt.UnixMilli())
	return mapWriteError(err, "写入步骤日志失败")
}

// Get 查询工资单、支付明细与步骤日志。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectPayrollSQL+" WHERE id = ?", id)
	p, err := scanPayroll(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPayrollNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工资单失败")
	}
	record := &Record{Payroll: *p}

	payments, err := s.db.QueryContext(ctx, selectPaymentSQL, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付明细失败")
	}
	defer payments.Close()
	for payments.Next() {
		var (
			pay                  Payment
			status               string
			description          sql.NullString
			createdAt, updatedAt int64
		)
		if err := payments.Scan(&pay.ID, &pay.PayrollID, &pay.Recipient, &pay.Amount, &pay.Currency,
			&description, &pay.TokenAddress, &pay.TokenAmount, &status, &pay.RailID, &pay.RailStatus,
			&createdAt, &updatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付明细失败")
		}
		pay.Description = description.String
		pay.Status = PaymentStatus(status)
		pay.CreatedAt = time.UnixMilli(createdAt)
		pay.UpdatedAt = time.UnixMilli(updatedAt)
		record.Payments = append(record.Payments, pay)
	}
	if err := payments.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付明细失败")
	}

	steps, err := s.db.QueryContext(ctx, selectStepsSQL, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询步骤日志失败")
	}
	defer steps.Close()
	for steps.Next() {
		var (
			r             StepResult
			step          string
			errText, info sql.NullString
			recordedAt    int64
		)
		if err := steps.Scan(&r.Seq, &step, &r.Success, &r.TransactionHash, &r.BlockNumber,
			&r.GasUsed, &errText, &info, &recordedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤日志失败")
		}
		r.Step = Step(step)
		r.Error = errText.String
		r.Detail = info.String
		r.RecordedAt = time.UnixMilli(recordedAt)
		record.Steps = append(record.Steps, r)
	}
	if err := steps.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历步骤日志失败")
	}
	return record, nil
}

// List 返回最近的工资单。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Payroll, error) {
	options := buildListOptions(opts)

	query := selectPayrollSQL
	clause, args := buildFilterClause(options)
	if clause != "" {
		query += " WHERE " + clause
	}
	if options.Order == SortByCreatedAsc {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工资单列表失败")
	}
	defer rows.Close()

	payrolls := make([]*Payroll, 0, options.Limit)
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工资单失败")
		}
		payrolls = append(payrolls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历工资单失败")
	}
	return payrolls, nil
}

// Stats 返回符合过滤条件的工资单聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	options := buildListOptions(opts)

	query := statsSQL
	clause, filterArgs := buildFilterClause(options)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusCreated), string(StatusProcessing), string(StatusCompleted), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Created,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工资单统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

func buildFilterClause(options ListOptions) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(options.Statuses) > 0 {
		placeholders := make([]string, len(options.Statuses))
		for i, st := range options.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !options.CreatedSince.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, options.CreatedSince.UnixMilli())
	}
	return strings.Join(clauses, " AND "), args
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayroll(row rowScanner) (*Payroll, error) {
	var (
		p                    Payroll
		status               string
		customer             sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &status, &p.Resource, &customer, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	if customer.Valid && customer.String != "" {
		if err := json.Unmarshal([]byte(customer.String), &p.Customer); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func mapWriteError(err error, message string) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return ErrConflict
		case 1452:
			return ErrPayrollNotFound
		}
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
