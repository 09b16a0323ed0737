package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/payroll"
)

// Event 是工资单终态的通知消息。
type Event struct {
	ID         string              `json:"id"`
	PayrollID  string              `json:"payroll_id"`
	Status     payroll.Status      `json:"status"`
	FailedStep payroll.Step        `json:"failed_step,omitempty"`
	Errors     []payroll.StepError `json:"errors,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// FromOutcome 根据编排结果构造事件。
func FromOutcome(outcome *payroll.Outcome, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		PayrollID:  outcome.PayrollID,
		Status:     outcome.Status,
		FailedStep: outcome.FailedStep,
		Errors:     append([]payroll.StepError(nil), outcome.Errors...),
		OccurredAt: now.UTC(),
	}
}

// Failed reports whether the payroll ended in FAILED.
func (e Event) Failed() bool {
	return e.Status == payroll.StatusFailed
}

func encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码事件失败")
	}
	return data, nil
}

func decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析事件失败")
	}
	if e.PayrollID == "" {
		return Event{}, xerrors.New(xerrors.CodeQueueFailure, "事件缺少 payroll_id")
	}
	return e, nil
}
