package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"z-novel-pipeline/internal/application/story/bible"
	"z-novel-pipeline/internal/application/story/critic"
	"z-novel-pipeline/internal/application/story/extraction"
	"z-novel-pipeline/internal/application/story/outline"
	"z-novel-pipeline/internal/application/story/surgery"
	"z-novel-pipeline/internal/application/story/worldstate"
	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/workflow/stage"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
)

// Config 质量循环参数
type Config struct {
	TargetMinScore   float64
	MaxQualityCycles int
	MaxEdits         int
	HumorLevel       string
}

// Stages 各阶段实现；Extraction 可为空
type Stages struct {
	Bible      *bible.Generator
	Outline    *outline.Generator
	WorldState *worldstate.Tracker
	Critic     *critic.Critic
	Surgery    *surgery.Engine
	Extraction *extraction.Extractor
}

// Input 单次运行输入
type Input struct {
	RunID      string
	Request    *entity.NormalizedRequest
	Blueprint  entity.Blueprint
	Cast       entity.CastSet
	Directives []entity.SceneDirective
	Drafter    ChapterDrafter
}

// Result 运行结果；FAILED 时不携带任何产物
type Result struct {
	RunID           string                         `json:"runId"`
	State           State                          `json:"state"`
	FailedStage     string                         `json:"failedStage,omitempty"`
	Error           string                         `json:"error,omitempty"`
	Bible           *entity.StoryBible             `json:"bible,omitempty"`
	Outline         *entity.StoryOutline           `json:"outline,omitempty"`
	Draft           *entity.StoryDraft             `json:"draft,omitempty"`
	WorldStates     []*entity.WorldState           `json:"worldStates,omitempty"`
	Report          *entity.SemanticCriticReport   `json:"report,omitempty"`
	Reports         []*entity.SemanticCriticReport `json:"reports,omitempty"`
	Cycles          int                            `json:"cycles"`
	Edited          [][]int                        `json:"edited,omitempty"`
	SurgeryFailures []string                       `json:"surgeryFailures,omitempty"`
	Scenes          []entity.SceneSummary          `json:"scenes,omitempty"`
	SceneSuccess    int                            `json:"sceneSuccess,omitempty"`
	Usage           entity.UsageTotals             `json:"usage"`
}

// Controller 流水线控制器
type Controller struct {
	stages   Stages
	cfg      Config
	observer Observer
}

// NewController 创建控制器；observer 可为 nil
func NewController(stages Stages, cfg Config, observer Observer) *Controller {
	if cfg.MaxQualityCycles < 0 {
		cfg.MaxQualityCycles = 0
	}
	cfg.MaxEdits = surgery.ClampMaxEdits(cfg.MaxEdits)
	return &Controller{stages: stages, cfg: cfg, observer: observer}
}

type run struct {
	c     *Controller
	in    Input
	state State
	cycle int
	res   *Result
	start time.Time
}

// Run 执行完整流水线。Bible/Outline/章节/WorldState 任一致命错误进入 FAILED 并返回错误。
func (c *Controller) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Request == nil {
		return nil, errors.New("normalized request is nil")
	}
	if in.Drafter == nil {
		return nil, errors.New("chapter drafter is nil")
	}

	ctx = logger.WithRunContext(ctx, in.RunID, in.Request.StoryID)
	r := &run{c: c, in: in, state: StateInit, res: &Result{RunID: in.RunID, State: StateInit}, start: time.Now()}

	if err := r.execute(ctx); err != nil {
		return r.fail(ctx, err), err
	}
	return r.res, nil
}

func (r *run) execute(ctx context.Context) error {
	n := r.in.Blueprint.ChapterCount
	if n < 1 {
		n = r.in.Request.ChapterCount
	}

	r.transition(ctx, StateBible, nil)
	bibleOut, err := r.c.stages.Bible.Generate(ctx, bible.Input{Request: r.in.Request, Blueprint: r.in.Blueprint, Cast: r.in.Cast})
	if err != nil {
		return err
	}
	r.res.Usage.Merge(bibleOut.Usage)
	r.res.Bible = bibleOut.Bible

	r.transition(ctx, StateOutline, bibleOut.Bible)
	outlineOut, err := r.c.stages.Outline.Generate(ctx, outline.Input{Request: r.in.Request, Bible: bibleOut.Bible, Cast: r.in.Cast, ChapterCount: n})
	if err != nil {
		return err
	}
	r.res.Usage.Merge(outlineOut.Usage)
	r.res.Outline = outlineOut.Outline

	r.transition(ctx, StateChapters, outlineOut.Outline)
	draft, err := r.in.Drafter.Draft(ctx, DraftInput{
		Request:    r.in.Request,
		Bible:      bibleOut.Bible,
		Outline:    outlineOut.Outline,
		Cast:       r.in.Cast,
		Directives: r.in.Directives,
	})
	if err != nil {
		return &stage.StageFatalError{Stage: "chapters", Err: err}
	}
	if len(draft.Chapters) != n {
		return &stage.StageFatalError{Stage: "chapters", Issues: []string{
			fmt.Sprintf("draft must contain exactly %d chapters (got %d)", n, len(draft.Chapters)),
		}}
	}
	r.res.Draft = draft

	r.transition(ctx, StateWorldStateChain, draft)
	chain, err := r.c.stages.WorldState.Chain(ctx, worldstate.ChainInput{
		Request:    r.in.Request,
		Bible:      bibleOut.Bible,
		Cast:       r.in.Cast,
		Directives: r.in.Directives,
		Draft:      draft,
	})
	if err != nil {
		return err
	}
	r.res.Usage.Merge(chain.Usage)
	r.res.WorldStates = chain.States

	r.transition(ctx, StateCritique, chain.States)
	r.qualityLoop(ctx)
	r.extractScenes(ctx)

	r.transition(ctx, StateDone, r.res.Report)
	r.finish(ctx)
	return nil
}

// qualityLoop 初始评审为第 0 轮；每轮 = 一次修订 + 重新评审。
// 分数达标、轮次用尽或某轮未修改任何章节时结束。
func (r *run) qualityLoop(ctx context.Context) {
	cfg := r.c.cfg
	r.critique(ctx)

	for {
		report := r.res.Report
		if report.OverallScore >= cfg.TargetMinScore {
			logger.Info(ctx, "quality target met", "score", report.OverallScore, "cycles", r.cycle)
			return
		}
		if r.cycle >= cfg.MaxQualityCycles {
			logger.Info(ctx, "quality cycle budget exhausted", "score", report.OverallScore, "cycles", r.cycle)
			return
		}
		if len(report.PatchTasks) == 0 {
			logger.Info(ctx, "critic produced no patch tasks, ending quality loop", "score", report.OverallScore, "fallback", report.Fallback)
			return
		}

		r.transition(ctx, StateSurgery, report)
		r.cycle++
		r.res.Cycles = r.cycle
		applied, err := r.c.stages.Surgery.Apply(ctx, surgery.ApplyInput{
			Request:    r.in.Request,
			Draft:      r.res.Draft,
			Tasks:      report.PatchTasks,
			Directives: r.in.Directives,
			MaxEdits:   cfg.MaxEdits,
			Cycle:      r.cycle,
		})
		if err != nil {
			logger.Error(ctx, "surgery pass skipped", err)
			return
		}
		r.res.Usage.Merge(applied.Usage)
		r.res.Draft = applied.Draft
		r.res.Edited = append(r.res.Edited, applied.Edited)
		for _, f := range applied.Failures {
			r.res.SurgeryFailures = append(r.res.SurgeryFailures, f.Error())
		}
		if len(applied.Edited) == 0 {
			logger.Info(ctx, "surgery edited no chapters, ending quality loop", "cycle", r.cycle)
			return
		}

		r.transition(ctx, StateCritique, applied.Draft)
		r.critique(ctx)
	}
}

func (r *run) critique(ctx context.Context) {
	out := r.c.stages.Critic.Evaluate(ctx, critic.EvaluateInput{
		Request:        r.in.Request,
		Draft:          r.res.Draft,
		Directives:     r.in.Directives,
		Cast:           r.in.Cast,
		TargetMinScore: r.c.cfg.TargetMinScore,
		HumorLevel:     r.c.cfg.HumorLevel,
		Cycle:          r.cycle,
	})
	r.res.Usage.Merge(out.Usage)
	r.res.Report = out.Report
	r.res.Reports = append(r.res.Reports, out.Report)
}

func (r *run) extractScenes(ctx context.Context) {
	if r.c.stages.Extraction == nil {
		return
	}
	batch := r.c.stages.Extraction.ExtractAll(ctx, extraction.Input{
		Request:    r.in.Request,
		Draft:      r.res.Draft,
		Directives: r.in.Directives,
		Cast:       r.in.Cast,
	})
	r.res.Usage.Merge(batch.Usage)
	r.res.Scenes = batch.Summaries
	r.res.SceneSuccess = batch.SuccessCount
}

func (r *run) transition(ctx context.Context, to State, artifact any) {
	from := r.state
	r.state = to
	r.res.State = to
	metrics.PipelineTransitionTotal.WithLabelValues(string(to)).Inc()
	logger.Info(ctx, "pipeline transition", "from", string(from), "to", string(to), "cycle", r.cycle)
	r.notify(ctx, Event{RunID: r.in.RunID, From: from, To: to, Cycle: r.cycle, Artifact: artifact, At: time.Now()})
}

func (r *run) notify(ctx context.Context, ev Event) {
	if r.c.observer != nil {
		r.c.observer.OnTransition(ctx, ev)
	}
}

// fail 丢弃所有中间产物，仅保留失败信息与用量
func (r *run) fail(ctx context.Context, err error) *Result {
	failedStage := string(r.state)
	if fe, ok := stage.AsStageFatal(err); ok {
		failedStage = fe.Stage
	}

	from := r.state
	r.state = StateFailed
	failed := &Result{
		RunID:       r.in.RunID,
		State:       StateFailed,
		FailedStage: failedStage,
		Error:       err.Error(),
		Cycles:      r.cycle,
		Usage:       r.res.Usage,
	}
	r.res = failed

	metrics.PipelineTransitionTotal.WithLabelValues(string(StateFailed)).Inc()
	logger.Error(ctx, "pipeline failed", err, "from", string(from), "failed_stage", failedStage)
	r.notify(ctx, Event{RunID: r.in.RunID, From: from, To: StateFailed, Cycle: r.cycle, Err: err, At: time.Now()})
	r.finish(ctx)
	return failed
}

func (r *run) finish(ctx context.Context) {
	metrics.PipelineRunTotal.WithLabelValues(string(r.state)).Inc()
	metrics.PipelineRunDuration.Observe(time.Since(r.start).Seconds())
	if r.state == StateDone {
		metrics.QualityCycles.Observe(float64(r.cycle))
		logger.Info(ctx, "pipeline finished",
			"score", r.res.Report.OverallScore,
			"cycles", r.cycle,
			"usage_total", r.res.Usage.TotalUnits,
		)
	}
}
