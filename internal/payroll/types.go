package payroll

import "time"

// Status 表示工资单的生命周期状态。
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsValidStatus 判断状态是否合法。
func IsValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// PaymentStatus 表示单笔支付的状态。
type PaymentStatus string

const (
	PaymentPending          PaymentStatus = "PENDING"
	PaymentOnchainRequested PaymentStatus = "ONCHAIN_REQUESTED"
	PaymentOnchainExecuted  PaymentStatus = "ONCHAIN_EXECUTED"
	PaymentRailProcessing   PaymentStatus = "RAIL_PROCESSING"
	PaymentPaid             PaymentStatus = "PAID"
	PaymentFailed           PaymentStatus = "FAILED"
)

// Step 是编排流程中的一个步骤名称。
type Step string

const (
	StepPayrollCreated   Step = "payroll_created"
	StepPaymentsCreated  Step = "payments_created"
	StepTreasuryChecked  Step = "treasury_checked"
	StepOnchainRequested Step = "onchain_requested"
	StepOnchainExecuted  Step = "onchain_executed"
	StepRailProcessed    Step = "rail_processed"
)

// Steps 按执行顺序返回全部步骤。
func Steps() []Step {
	return []Step{
		StepPayrollCreated,
		StepPaymentsCreated,
		StepTreasuryChecked,
		StepOnchainRequested,
		StepOnchainExecuted,
		StepRailProcessed,
	}
}

// Payroll 是一次端到端支付请求的编排记录。
type Payroll struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Resource  string    `json:"resource"`
	Customer  Customer  `json:"customer"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Payment 是工资单下的一条支付明细，金额以最小货币单位保存。
type Payment struct {
	ID           string        `json:"id"`
	PayrollID    string        `json:"payrollId"`
	Recipient    string        `json:"recipient"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Description  string        `json:"description,omitempty"`
	TokenAddress string        `json:"tokenAddress"`
	TokenAmount  string        `json:"tokenAmount"`
	Status       PaymentStatus `json:"status"`
	RailID       string        `json:"railId,omitempty"`
	RailStatus   string        `json:"railStatus,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// StepResult 记录单个步骤的结果，写入后不可修改。
type StepResult struct {
	Seq             int       `json:"seq"`
	Step            Step      `json:"step"`
	Success         bool      `json:"success"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	GasUsed         string    `json:"gasUsed,omitempty"`
	Error           string    `json:"error,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// StepFlags 是结果中步骤到布尔值的映射，字段顺序即执行顺序。
type StepFlags struct {
	PayrollCreated   bool `json:"payroll_created"`
	PaymentsCreated  bool `json:"payments_created"`
	TreasuryChecked  bool `json:"treasury_checked"`
	OnchainRequested bool `json:"onchain_requested"`
	OnchainExecuted  bool `json:"onchain_executed"`
	RailProcessed    bool `json:"rail_processed"`
}

func (f *StepFlags) set(step Step, ok bool) {
	switch step {
	case StepPayrollCreated:
		f.PayrollCreated = ok
	case StepPaymentsCreated:
		f.PaymentsCreated = ok
	case StepTreasuryChecked:
		f.TreasuryChecked = ok
	case StepOnchainRequested:
		f.OnchainRequested = ok
	case StepOnchainExecuted:
		f.OnchainExecuted = ok
	case StepRailProcessed:
		f.RailProcessed = ok
	}
}

// Get 返回指定步骤的布尔值。
func (f StepFlags) Get(step Step) bool {
	switch step {
	case StepPayrollCreated:
		return f.PayrollCreated
	case StepPaymentsCreated:
		return f.PaymentsCreated
	case StepTreasuryChecked:
		return f.TreasuryChecked
	case StepOnchainRequested:
		return f.OnchainRequested
	case StepOnchainExecuted:
		return f.OnchainExecuted
	case StepRailProcessed:
		return f.RailProcessed
	default:
		return false
	}
}

// Transactions 按顺序收集链上交易哈希。
type Transactions struct {
	RequestTxHashes []string `json:"request_tx_hashes"`
	ExecuteTxHashes []string `json:"execute_tx_hashes"`
}

// RailSummary 概括法币通道的处理结果。
type RailSummary struct {
	WithdrawalID string `json:"withdrawal_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

// StepError 是结果中的一条错误记录。
type StepError struct {
	Step  Step   `json:"step"`
	Error string `json:"error"`
}

// Outcome 是一次编排的汇总结果。部分失败时同样返回 Outcome，
// CompletedSteps/FailedStep/Log 便于调用方人工对账。
type Outcome struct {
	Success        bool         `json:"success"`
	PayrollID      string       `json:"payrollId"`
	Status         Status       `json:"status"`
	Steps          StepFlags    `json:"steps"`
	Transactions   Transactions `json:"transactions"`
	Rail           RailSummary  `json:"rail"`
	Errors         []StepError  `json:"errors"`
	CompletedSteps []Step       `json:"completed_steps"`
	FailedStep     Step         `json:"failed_step,omitempty"`
	Log            []StepResult `json:"log"`
	Payment        *Payment     `json:"payment,omitempty"`
}

// Record 是按工资单 ID 查询得到的审计视图。
type Record struct {
	Payroll  Payroll      `json:"payroll"`
	Payments []Payment    `json:"payments"`
	Steps    []StepResult `json:"steps"`
}
