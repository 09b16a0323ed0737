package events

import (
	"context"
	"time"

	"SnowRail/internal/payroll"
)

// Publisher 把编排结果转换为事件并投递到队列，实现 payroll.Publisher。
type Publisher struct {
	producer Producer
	now      func() time.Time
}

// NewPublisher 创建事件发布器。
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{producer: producer, now: time.Now}
}

// Publish 投递一条终态事件。
func (p *Publisher) Publish(ctx context.Context, outcome *payroll.Outcome) error {
	if p == nil || p.producer == nil || outcome == nil {
		return nil
	}
	return p.producer.Publish(ctx, FromOutcome(outcome, p.now()))
}

var _ payroll.Publisher = (*Publisher)(nil)
