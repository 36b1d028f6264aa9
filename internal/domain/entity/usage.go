package entity

// Usage 单次生成调用的用量
type Usage struct {
	PromptUnits     int    `json:"promptUnits"`
	CompletionUnits int    `json:"completionUnits"`
	TotalUnits      int    `json:"totalUnits"`
	Model           string `json:"model,omitempty"`
	ReasoningUnits  *int   `json:"reasoningUnits,omitempty"`
}

// UsageTotals 按阶段累计的用量
type UsageTotals struct {
	Calls           int            `json:"calls"`
	PromptUnits     int            `json:"promptUnits"`
	CompletionUnits int            `json:"completionUnits"`
	TotalUnits      int            `json:"totalUnits"`
	ByStage         map[string]int `json:"byStage,omitempty"`
}

// Add 累加一次调用的用量；u 为 nil 时只计调用次数
func (t *UsageTotals) Add(stage string, u *Usage) {
	if t == nil {
		return
	}
	t.Calls++
	if u == nil {
		return
	}
	total := u.TotalUnits
	if total == 0 {
		total = u.PromptUnits + u.CompletionUnits
	}
	t.PromptUnits += u.PromptUnits
	t.CompletionUnits += u.CompletionUnits
	t.TotalUnits += total
	if stage != "" {
		if t.ByStage == nil {
			t.ByStage = make(map[string]int)
		}
		t.ByStage[stage] += total
	}
}

// Merge 合并另一份累计用量
func (t *UsageTotals) Merge(o UsageTotals) {
	if t == nil {
		return
	}
	t.Calls += o.Calls
	t.PromptUnits += o.PromptUnits
	t.CompletionUnits += o.CompletionUnits
	t.TotalUnits += o.TotalUnits
	for k, v := range o.ByStage {
		if t.ByStage == nil {
			t.ByStage = make(map[string]int)
		}
		t.ByStage[k] += v
	}
}
