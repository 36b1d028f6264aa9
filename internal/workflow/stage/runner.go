// Package stage 实现通用的 “生成 → 解码 → 校验 → 单次修复” 阶段执行器
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-pipeline/internal/domain/entity"
	llmctx "z-novel-pipeline/internal/domain/service"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
	"z-novel-pipeline/pkg/tracer"
)

const (
	AttemptInitial = "initial"
	AttemptRepair  = "repair"
)

// Spec 描述一个结构化阶段
type Spec[T any] struct {
	// Stage 阶段名（日志、指标、错误）
	Stage string
	// Artifact 产物名，出现在修复提示中
	Artifact string

	Build    func(ctx context.Context) (*wfmodel.GenerationRequest, error)
	Decode   func(content string) (T, error)
	Validate func(artifact T) []string
	// Repair 可选；缺省时使用通用修复模板并沿用首次请求的模型参数
	Repair func(ctx context.Context, original string, issues []string) (*wfmodel.GenerationRequest, error)
}

// Result 阶段产出
type Result[T any] struct {
	Artifact T
	Usage    entity.UsageTotals
	Repaired bool
}

// Run 执行一次阶段：最多两次生成调用（首次 + 一次修复）
func Run[T any](ctx context.Context, gen workflowport.Generator, spec Spec[T]) (*Result[T], error) {
	if gen == nil {
		return nil, &StageFatalError{Stage: spec.Stage, Err: errors.New("generator not configured")}
	}
	if spec.Build == nil || spec.Validate == nil {
		return nil, &StageFatalError{Stage: spec.Stage, Err: errors.New("stage spec incomplete")}
	}
	if spec.Decode == nil {
		spec.Decode = DecodeJSON[T]
	}
	if spec.Artifact == "" {
		spec.Artifact = spec.Stage
	}

	ctx = llmctx.WithStage(ctx, spec.Stage)
	ctx, span := tracer.StartStage(ctx, spec.Stage)
	defer span.End()

	res := &Result[T]{}

	req, err := spec.Build(ctx)
	if err != nil {
		return nil, fatal(ctx, span, spec.Stage, nil, fmt.Errorf("build request: %w", err))
	}
	stampCorrelation(ctx, req, spec.Stage, AttemptInitial)

	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return nil, fatal(ctx, span, spec.Stage, nil, err)
	}
	res.Usage.Add(spec.Stage, resp.Usage)

	artifact, issues := check(spec, resp.Content)
	if len(issues) == 0 {
		res.Artifact = artifact
		metrics.StageRunTotal.WithLabelValues(spec.Stage, "ok").Inc()
		return res, nil
	}

	logger.Warn(ctx, "stage output invalid, issuing repair",
		"stage", spec.Stage,
		"issues", len(issues),
		"first_issue", issues[0],
	)
	metrics.StageRepairTotal.WithLabelValues(spec.Stage).Inc()

	var repairReq *wfmodel.GenerationRequest
	if spec.Repair != nil {
		repairReq, err = spec.Repair(ctx, resp.Content, issues)
	} else {
		repairReq, err = DefaultRepairRequest(ctx, req, spec.Artifact, resp.Content, issues)
	}
	if err != nil {
		return nil, fatal(ctx, span, spec.Stage, issues, fmt.Errorf("build repair request: %w", err))
	}
	stampCorrelation(ctx, repairReq, spec.Stage, AttemptRepair)

	repaired, err := gen.Generate(ctx, repairReq)
	if err != nil {
		return nil, fatal(ctx, span, spec.Stage, issues, err)
	}
	res.Usage.Add(spec.Stage, repaired.Usage)

	artifact, issues = check(spec, repaired.Content)
	if len(issues) > 0 {
		return nil, fatal(ctx, span, spec.Stage, issues, &ValidationError{Artifact: spec.Artifact, Issues: issues})
	}

	span.SetAttributes(attribute.Bool("pipeline.repaired", true))
	metrics.StageRunTotal.WithLabelValues(spec.Stage, "repaired").Inc()
	res.Artifact = artifact
	res.Repaired = true
	return res, nil
}

// check 解码并校验；解码失败视为一条校验问题
func check[T any](spec Spec[T], content string) (T, []string) {
	artifact, err := spec.Decode(content)
	if err != nil {
		var zero T
		return zero, []string{"invalid JSON document: " + err.Error()}
	}
	return artifact, spec.Validate(artifact)
}

func fatal(ctx context.Context, span trace.Span, stage string, issues []string, err error) error {
	fe := &StageFatalError{Stage: stage, Issues: issues, Err: err}
	tracer.RecordError(span, fe)
	metrics.StageRunTotal.WithLabelValues(stage, "fatal").Inc()
	logger.Error(ctx, "stage failed", fe, "stage", stage, "issues", len(issues))
	return fe
}

func stampCorrelation(ctx context.Context, req *wfmodel.GenerationRequest, stage, attempt string) {
	if req == nil {
		return
	}
	if req.Correlation.Stage == "" {
		req.Correlation.Stage = stage
	}
	if req.Correlation.RunID == "" {
		if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
			req.Correlation.RunID = runID
		}
	}
	req.Correlation.Attempt = attempt
}

// DecodeJSON 缺省解码：截取第一个 JSON 值并反序列化
func DecodeJSON[T any](content string) (T, error) {
	var v T
	raw := wfnode.ExtractJSONObject(content)
	if raw == "" {
		return v, errors.New("empty response")
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, err
	}
	return v, nil
}

// DefaultRepairRequest 构造通用修复请求：原文 + 错误列表，沿用原请求的模型参数
func DefaultRepairRequest(ctx context.Context, base *wfmodel.GenerationRequest, artifact, original string, issues []string) (*wfmodel.GenerationRequest, error) {
	system, user, err := workflowprompt.Default().Render(ctx, workflowprompt.PromptStageRepairV1, map[string]any{
		"artifact":     artifact,
		"issues_block": wfnode.NumberedIssues(issues),
		"original":     strings.TrimSpace(original),
	})
	if err != nil {
		return nil, err
	}

	req := wfmodel.NewUserRequest(system, user)
	if base != nil {
		req.Provider = base.Provider
		req.ModelID = base.ModelID
		req.StructuredOutput = base.StructuredOutput
		req.SchemaName = base.SchemaName
		req.Schema = base.Schema
		req.MaxOutputUnits = base.MaxOutputUnits
		req.Temperature = base.Temperature
		req.ReasoningEffort = base.ReasoningEffort
		req.Seed = base.Seed
		req.Correlation = base.Correlation
	}
	return req, nil
}
