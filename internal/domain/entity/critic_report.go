package entity

// 评分维度权重，合计为 1
const (
	WeightCraft     = 0.27
	WeightNarrative = 0.27
	WeightChildFit  = 0.22
	WeightHumor     = 0.12
	WeightWarmth    = 0.12
)

// MaxPatchTasks 单份报告最多保留的修订任务数
const MaxPatchTasks = 5

// DimensionScores 各维度得分（0–10）
type DimensionScores struct {
	Craft     float64 `json:"craft"`
	Narrative float64 `json:"narrative"`
	ChildFit  float64 `json:"childFit"`
	Humor     float64 `json:"humor"`
	Warmth    float64 `json:"warmth"`
}

// Weighted 按固定权重计算总分
func (d DimensionScores) Weighted() float64 {
	return d.Craft*WeightCraft +
		d.Narrative*WeightNarrative +
		d.ChildFit*WeightChildFit +
		d.Humor*WeightHumor +
		d.Warmth*WeightWarmth
}

// CriticIssue 评审发现的问题，Chapter 为 0 表示全局问题
type CriticIssue struct {
	Chapter          int    `json:"chapter"`
	Code             string `json:"code"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	PatchInstruction string `json:"patchInstruction,omitempty"`
}

// PatchTask 定向修订任务，Priority 1 最紧急
type PatchTask struct {
	Chapter     int    `json:"chapter"`
	Priority    int    `json:"priority"`
	Objective   string `json:"objective"`
	Instruction string `json:"instruction"`
}

// SemanticCriticReport 全稿评审报告
type SemanticCriticReport struct {
	OverallScore    float64         `json:"overallScore"`
	DimensionScores DimensionScores `json:"dimensionScores"`
	ReleaseReady    bool            `json:"releaseReady"`
	Summary         string          `json:"summary,omitempty"`
	Issues          []CriticIssue   `json:"issues"`
	PatchTasks      []PatchTask     `json:"patchTasks"`
	Fallback        bool            `json:"fallback,omitempty"`
}
