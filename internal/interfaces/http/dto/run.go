package dto

import (
	"encoding/json"
	"time"

	apprun "z-novel-pipeline/internal/application/run"
	"z-novel-pipeline/internal/domain/entity"
)

// SubmitRunRequest 提交运行请求
type SubmitRunRequest struct {
	Request    entity.NormalizedRequest `json:"request"`
	Blueprint  entity.Blueprint         `json:"blueprint"`
	Cast       entity.CastSet           `json:"cast" binding:"required"`
	Directives []entity.SceneDirective  `json:"directives"`
	Draft      entity.StoryDraft        `json:"draft"`
}

// ToSubmission 转换为应用层提交；幂等键来自请求头
func (r *SubmitRunRequest) ToSubmission(idempotencyKey string) *apprun.Submission {
	return &apprun.Submission{
		Request:        r.Request,
		Blueprint:      r.Blueprint,
		Cast:           r.Cast,
		Directives:     r.Directives,
		Draft:          r.Draft,
		IdempotencyKey: idempotencyKey,
	}
}

// ListRunsQuery 运行列表查询参数
type ListRunsQuery struct {
	StoryID  string `form:"story_id"`
	Status   string `form:"status" binding:"omitempty,oneof=queued running done failed"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// RunResponse 运行响应
type RunResponse struct {
	ID               string          `json:"id"`
	StoryID          string          `json:"story_id"`
	Status           string          `json:"status"`
	State            string          `json:"state"`
	Error            string          `json:"error,omitempty"`
	FinalScore       float64         `json:"final_score,omitempty"`
	QualityCycles    int             `json:"quality_cycles"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	DurationMs       int             `json:"duration_ms,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// ToRunResponse 转换运行；withResult 为 false 时省略结果体
func ToRunResponse(r *entity.PipelineRun, withResult bool) *RunResponse {
	if r == nil {
		return nil
	}
	resp := &RunResponse{
		ID:               r.ID,
		StoryID:          r.StoryID,
		Status:           string(r.Status),
		State:            r.State,
		Error:            r.ErrorMessage,
		FinalScore:       r.FinalScore,
		QualityCycles:    r.QualityCycles,
		PromptTokens:     r.TokensPrompt,
		CompletionTokens: r.TokensComplete,
		DurationMs:       r.DurationMs,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
	if withResult && len(r.OutputResult) > 0 {
		resp.Result = r.OutputResult
	}
	return resp
}

// RunListResponse 运行列表响应
type RunListResponse struct {
	Runs []*RunResponse `json:"runs"`
}

// WorldStateResponse 逐章快照响应
type WorldStateResponse struct {
	Chapter       int             `json:"chapter"`
	Location      string          `json:"location"`
	OnStage       []string        `json:"on_stage"`
	OpenLoops     []string        `json:"open_loops"`
	ResolvedLoops []string        `json:"resolved_loops"`
	State         json.RawMessage `json:"state"`
}

// ToWorldStateResponses 按章节顺序转换快照
func ToWorldStateResponses(snapshots []*entity.WorldStateSnapshot) []*WorldStateResponse {
	out := make([]*WorldStateResponse, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, &WorldStateResponse{
			Chapter:       s.Chapter,
			Location:      s.Location,
			OnStage:       s.OnStage,
			OpenLoops:     s.OpenLoops,
			ResolvedLoops: s.ResolvedLoops,
			State:         s.State,
		})
	}
	return out
}

// GenerationEventResponse 生成调用镜像响应
type GenerationEventResponse struct {
	ID         string          `json:"id"`
	Stage      string          `json:"stage,omitempty"`
	Chapter    int             `json:"chapter,omitempty"`
	Model      string          `json:"model,omitempty"`
	Error      string          `json:"error,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	DurationMs int             `json:"duration_ms"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToGenerationEventResponses 转换调用镜像；请求与响应体不对外暴露
func ToGenerationEventResponses(events []*entity.GenerationEvent) []*GenerationEventResponse {
	out := make([]*GenerationEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, &GenerationEventResponse{
			ID:         e.ID,
			Stage:      e.Stage,
			Chapter:    e.Chapter,
			Model:      e.Model,
			Error:      e.ErrorMessage,
			Metadata:   e.Metadata,
			DurationMs: e.DurationMs,
			Timestamp:  e.Timestamp,
		})
	}
	return out
}

// CheckpointResponse 检查点响应
type CheckpointResponse struct {
	Latest    string                     `json:"latest"`
	Artifacts map[string]json.RawMessage `json:"artifacts"`
}
