package entities

// DenialReasonCount is one entry in the top-denial-reasons breakdown
type DenialReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// CaseStatistics aggregates metrics across all prior-authorization cases
type CaseStatistics struct {
	TotalCases       int                 `json:"total_cases"`
	Approved         int                 `json:"approved"`
	Denied           int                 `json:"denied"`
	Pending          int                 `json:"pending"`
	ApprovalRate     float64             `json:"approval_rate"`
	CompletionRate   float64             `json:"completion_rate"`
	TopDenialReasons []DenialReasonCount `json:"top_denial_reasons"`
}
