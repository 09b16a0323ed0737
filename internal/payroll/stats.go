package payroll

// Stats 汇总工资单在各状态下的数量，供仪表盘与健康检查使用。
// 分页参数不参与统计。
type Stats struct {
	Total           int   `json:"total"`
	Created         int   `json:"created"`
	Processing      int   `json:"processing"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldestUpdatedAt,omitempty"`
	NewestUpdatedAt int64 `json:"newestUpdatedAt,omitempty"`
}

func (s *Stats) add(p *Payroll) {
	s.Total++
	switch p.Status {
	case StatusCreated:
		s.Created++
	case StatusProcessing:
		s.Processing++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
	updated := p.UpdatedAt.UnixMilli()
	if updated > s.NewestUpdatedAt {
		s.NewestUpdatedAt = updated
	}
	if s.OldestUpdatedAt == 0 || updated < s.OldestUpdatedAt {
		s.OldestUpdatedAt = updated
	}
}
