// Package critic 对整稿打分并给出定向修订任务
package critic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	llmctx "z-novel-pipeline/internal/domain/service"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/internal/workflow/stage"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
	"z-novel-pipeline/pkg/tracer"
)

// ErrEvaluationUnavailable 评审不可用（调用失败或输出无法解析），仅用于日志，不向调用方返回
var ErrEvaluationUnavailable = errors.New("semantic critic evaluation unavailable")

const (
	excerptLeadRunes   = 600
	excerptTailRunes   = 400
	directiveFieldRune = 160
)

// EvaluateInput 评审输入
type EvaluateInput struct {
	Request        *entity.NormalizedRequest
	Draft          *entity.StoryDraft
	Directives     []entity.SceneDirective
	Cast           entity.CastSet
	TargetMinScore float64
	HumorLevel     string
	// Cycle 质量循环序号，仅用于关联信息
	Cycle int
}

// Result 评审结果
type Result struct {
	Report *entity.SemanticCriticReport
	Usage  entity.UsageTotals
}

// Critic 语义评审
type Critic struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	prompts *workflowprompt.Registry
}

// NewCritic 创建评审器
func NewCritic(gen workflowport.Generator, params storyutil.ModelParams) *Critic {
	return &Critic{gen: gen, params: params, prompts: workflowprompt.Default()}
}

// Evaluate 评审整稿；评审不可用时返回启发式兜底报告，永不失败
func (c *Critic) Evaluate(ctx context.Context, in EvaluateInput) *Result {
	ctx = llmctx.WithStage(ctx, stage.NameCritic)
	ctx, span := tracer.StartStage(ctx, stage.NameCritic)
	defer span.End()

	res := &Result{}
	report, err := c.evaluate(ctx, in, res)
	if err != nil {
		logger.Warn(ctx, "semantic critic degraded to heuristic report",
			"error", errors.Join(ErrEvaluationUnavailable, err).Error(),
		)
		metrics.CriticFallbackTotal.Inc()
		report = FallbackReport(in.Draft)
	}

	metrics.CriticScore.Observe(report.OverallScore)
	logger.Info(ctx, "semantic critic finished",
		"overall_score", report.OverallScore,
		"release_ready", report.ReleaseReady,
		"patch_tasks", len(report.PatchTasks),
		"fallback", report.Fallback,
	)
	res.Report = report
	return res
}

func (c *Critic) evaluate(ctx context.Context, in EvaluateInput, res *Result) (*entity.SemanticCriticReport, error) {
	if c == nil || c.gen == nil {
		return nil, errors.New("critic not configured")
	}
	if in.Draft == nil || len(in.Draft.Chapters) == 0 {
		return nil, errors.New("draft is empty")
	}

	lang, ageMin, ageMax := "en", 0, 0
	if in.Request != nil {
		lang = storyutil.LanguageOrDefault(in.Request.Language)
		ageMin, ageMax = in.Request.AgeRange.Min, in.Request.AgeRange.Max
	}
	humor := strings.TrimSpace(in.HumorLevel)
	if humor == "" {
		humor = "medium"
	}
	n := len(in.Draft.Chapters)

	system, user, err := c.prompts.Render(ctx, workflowprompt.PromptSemanticCriticV1, map[string]any{
		"language":         lang,
		"age_min":          ageMin,
		"age_max":          ageMax,
		"target_min_score": fmt.Sprintf("%.1f", in.TargetMinScore),
		"humor_level":      humor,
		"cast_names":       storyutil.CastNames(in.Cast),
		"chapters_block":   ChaptersBlock(in.Draft),
		"directives_block": DirectivesBlock(in.Directives),
		"chapter_count":    n,
	})
	if err != nil {
		return nil, err
	}

	req := storyutil.NewRequest(system, user, c.params, in.Request)
	req.SchemaName = "semantic_critic_report"
	req.Schema = jsonSchema()
	req.Correlation.Stage = stage.NameCritic
	req.Correlation.Attempt = fmt.Sprintf("cycle-%d", in.Cycle)
	if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
		req.Correlation.RunID = runID
	}

	resp, err := c.gen.Generate(ctx, req)
	if err != nil {
		res.Usage.Add(stage.NameCritic, nil)
		return nil, err
	}
	res.Usage.Add(stage.NameCritic, resp.Usage)
	return Normalize(resp.Content, n, in.TargetMinScore)
}

// ChaptersBlock 每章压缩为首尾摘录
func ChaptersBlock(d *entity.StoryDraft) string {
	var b strings.Builder
	for i, ch := range d.Chapters {
		fmt.Fprintf(&b, "Chapter %d: %s\n%s\n\n", i+1, strings.TrimSpace(ch.Title),
			wfnode.LeadTailExcerpt(strings.TrimSpace(ch.Text), excerptLeadRunes, excerptTailRunes))
	}
	return strings.TrimSpace(b.String())
}

// DirectivesBlock 场景指令摘要（目标/冲突/结果截断）
func DirectivesBlock(directives []entity.SceneDirective) string {
	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		lines = append(lines, fmt.Sprintf("Chapter %d: goal=%s; conflict=%s; outcome=%s",
			d.Chapter,
			wfnode.TruncateByRunes(strings.TrimSpace(d.Goal), directiveFieldRune),
			wfnode.TruncateByRunes(strings.TrimSpace(d.Conflict), directiveFieldRune),
			wfnode.TruncateByRunes(strings.TrimSpace(d.Outcome), directiveFieldRune),
		))
	}
	return wfnode.BulletBlock(lines, "(none)")
}

// FallbackReport 基于平均句长的确定性兜底报告：8–14 词/句不扣分，分数区间 [3,7]
func FallbackReport(d *entity.StoryDraft) *entity.SemanticCriticReport {
	var texts []string
	if d != nil {
		for _, ch := range d.Chapters {
			texts = append(texts, ch.Text)
		}
	}
	avg := wfnode.AverageWordsPerSentence(strings.Join(texts, "\n"))
	dev := math.Max(0, math.Abs(avg-11)-3)
	score := round2(math.Min(7, math.Max(3, 7-dev*0.5)))

	dims := entity.DimensionScores{Craft: score, Narrative: score, ChildFit: score, Humor: score, Warmth: score}
	return &entity.SemanticCriticReport{
		OverallScore:    round2(dims.Weighted()),
		DimensionScores: dims,
		ReleaseReady:    false,
		Summary:         fmt.Sprintf("Automated evaluation unavailable; readability heuristic applied (%.1f words per sentence).", avg),
		Issues: []entity.CriticIssue{{
			Chapter:  0,
			Code:     "evaluation_unavailable",
			Severity: "low",
			Message:  "Semantic evaluation could not be completed; score is a readability estimate.",
		}},
		PatchTasks: []entity.PatchTask{},
		Fallback:   true,
	}
}

func jsonSchema() map[string]any {
	num := map[string]any{"type": "number"}
	str := map[string]any{"type": "string"}
	integer := map[string]any{"type": "integer"}
	return map[string]any{
		"type":     "object",
		"required": []any{"overallScore", "dimensionScores", "releaseReady", "issues", "patchTasks"},
		"properties": map[string]any{
			"overallScore": num,
			"dimensionScores": map[string]any{
				"type":     "object",
				"required": []any{"craft", "narrative", "childFit", "humor", "warmth"},
				"properties": map[string]any{
					"craft": num, "narrative": num, "childFit": num, "humor": num, "warmth": num,
				},
			},
			"releaseReady": map[string]any{"type": "boolean"},
			"summary":      str,
			"issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"chapter", "code", "severity", "message"},
					"properties": map[string]any{
						"chapter": integer, "code": str, "severity": str, "message": str, "patchInstruction": str,
					},
				},
			},
			"patchTasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"chapter", "priority", "objective", "instruction"},
					"properties": map[string]any{
						"chapter": integer, "priority": integer, "objective": str, "instruction": str,
					},
				},
			},
		},
	}
}
