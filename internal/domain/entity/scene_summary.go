package entity

// SceneSummary 从章节正文提取的画面摘要
type SceneSummary struct {
	Chapter    int      `json:"chapter"`
	Setting    string   `json:"setting"`
	Characters []string `json:"characters"`
	Action     string   `json:"action"`
	Mood       string   `json:"mood"`
	Fallback   bool     `json:"fallback,omitempty"`
}
