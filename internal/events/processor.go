package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/observability/alerting"
	"SnowRail/internal/payroll"
	"SnowRail/pkg/logger"
)

// CodePayrollFailed 标识以 FAILED 结束的工资单。
const CodePayrollFailed xerrors.Code = "PAYROLL_FAILED"

func init() {
	xerrors.Register(CodePayrollFailed, xerrors.Attributes{
		Message:  "payroll finished in FAILED",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// RecordReader 是处理器补全告警信息所需的存储能力。
type RecordReader interface {
	Get(ctx context.Context, id string) (*payroll.Record, error)
}

// Processor 从队列消费工资单终态事件，为失败的工资单派发告警。
type Processor struct {
	consumer    Consumer
	records     RecordReader
	alerter     alerting.Dispatcher
	observer    func(Event)
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithRecordReader 配置用于补全告警的存储。
func WithRecordReader(records RecordReader) ProcessorOption {
	return func(p *Processor) {
		p.records = records
	}
}

// WithEventObserver 在每个事件处理完成后回调。
func WithEventObserver(fn func(Event)) ProcessorOption {
	return func(p *Processor) {
		p.observer = fn
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("events"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动事件处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, event Event) error {
	logger.Audit().Info("payroll event",
		slog.String("event_id", event.ID),
		slog.String("payroll_id", event.PayrollID),
		slog.String("status", string(event.Status)),
		slog.String("failed_step", string(event.FailedStep)),
	)
	if event.Failed() {
		if err := p.emitAlert(ctx, event); err != nil {
			p.logger.Error("告警通知失败",
				slog.Any("error", err),
				slog.String("payroll_id", event.PayrollID))
		}
	}
	if p.observer != nil {
		p.observer(event)
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, event Event) error {
	if p.alerter == nil {
		return nil
	}
	attrs := xerrors.AttributesOf(CodePayrollFailed)
	metadata := map[string]string{
		"failed_step": string(event.FailedStep),
		"event_id":    event.ID,
	}
	for i, stepErr := range event.Errors {
		metadata[fmt.Sprintf("error.%d.%s", i+1, stepErr.Step)] = stepErr.Error
	}
	if p.records != nil {
		if record, err := p.records.Get(ctx, event.PayrollID); err != nil {
			p.logger.Warn("读取工资单失败，告警不含支付明细",
				slog.String("payroll_id", event.PayrollID), slog.Any("error", err))
		} else {
			for _, pay := range record.Payments {
				metadata["payment.recipient"] = pay.Recipient
				metadata["payment.amount"] = strconv.FormatInt(pay.Amount, 10) + " " + pay.Currency
				metadata["payment.status"] = string(pay.Status)
			}
			metadata["steps_recorded"] = strconv.Itoa(len(record.Steps))
		}
	}

	message := fmt.Sprintf("payroll %s failed", event.PayrollID)
	if event.FailedStep != "" {
		message += " at " + string(event.FailedStep)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return p.alerter.Notify(ctx, alerting.Event{
		Code:       CodePayrollFailed,
		Message:    message,
		Severity:   attrs.Severity,
		PayrollID:  event.PayrollID,
		Metadata:   metadata,
		OccurredAt: occurred,
	})
}
