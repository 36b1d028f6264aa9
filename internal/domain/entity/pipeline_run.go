package entity

import (
	"encoding/json"
	"time"
)

// RunStatus 流水线运行状态
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// PipelineRun 一次流水线运行
type PipelineRun struct {
	ID             string          `json:"id" gorm:"type:uuid;primaryKey"`
	StoryID        string          `json:"story_id" gorm:"type:varchar(64);index;not null"`
	Status         RunStatus       `json:"status" gorm:"type:varchar(16);index;not null"`
	State          string          `json:"state" gorm:"type:varchar(32);not null"`
	InputParams    json.RawMessage `json:"input_params" gorm:"type:jsonb"`
	OutputResult   json.RawMessage `json:"output_result,omitempty" gorm:"type:jsonb"`
	ErrorMessage   string          `json:"error_message,omitempty" gorm:"type:text"`
	FinalScore     float64         `json:"final_score"`
	QualityCycles  int             `json:"quality_cycles"`
	TokensPrompt   int             `json:"tokens_prompt"`
	TokensComplete int             `json:"tokens_completion"`
	DurationMs     int             `json:"duration_ms"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" gorm:"type:varchar(128);index"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// TableName 表名
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// NewPipelineRun 创建排队中的运行
func NewPipelineRun(id, storyID string, inputParams json.RawMessage) *PipelineRun {
	return &PipelineRun{
		ID:          id,
		StoryID:     storyID,
		Status:      RunStatusQueued,
		State:       "INIT",
		InputParams: inputParams,
		CreatedAt:   time.Now(),
	}
}

// Start 开始执行
func (r *PipelineRun) Start() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// Complete 成功结束
func (r *PipelineRun) Complete(result json.RawMessage, score float64, cycles int) {
	now := time.Now()
	r.Status = RunStatusDone
	r.State = "DONE"
	r.OutputResult = result
	r.FinalScore = score
	r.QualityCycles = cycles
	r.CompletedAt = &now
	r.fillDuration(now)
}

// Fail 失败结束；不保留任何部分产出
func (r *PipelineRun) Fail(errMsg string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.State = "FAILED"
	r.ErrorMessage = errMsg
	r.OutputResult = nil
	r.CompletedAt = &now
	r.fillDuration(now)
}

// SetUsage 记录累计用量
func (r *PipelineRun) SetUsage(u UsageTotals) {
	r.TokensPrompt = u.PromptUnits
	r.TokensComplete = u.CompletionUnits
}

// Finished 是否已处于终态
func (r *PipelineRun) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

func (r *PipelineRun) fillDuration(now time.Time) {
	if r.StartedAt != nil {
		r.DurationMs = int(now.Sub(*r.StartedAt).Milliseconds())
	}
}
