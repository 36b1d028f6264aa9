// Package extraction 从已成稿的章节中并发提取画面摘要
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	llmctx "z-novel-pipeline/internal/domain/service"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/internal/workflow/stage"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
)

const (
	DefaultMaxRetries  = 2
	DefaultConcurrency = 4
	maxTextRunes       = 4000
	fallbackMood       = "calm"
)

// Options 提取配置
type Options struct {
	MaxRetries    int
	Concurrency   int
	RetryInterval time.Duration
}

// Input 提取输入
type Input struct {
	Request    *entity.NormalizedRequest
	Draft      *entity.StoryDraft
	Directives []entity.SceneDirective
	Cast       entity.CastSet
}

// Batch 提取结果；Summaries[i] 对应第 i+1 章
type Batch struct {
	Summaries    []entity.SceneSummary
	SuccessCount int
	Total        int
	Usage        entity.UsageTotals
}

// Extractor 场景提取器
type Extractor struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	opts    Options
	prompts *workflowprompt.Registry
}

// NewExtractor 创建提取器
func NewExtractor(gen workflowport.Generator, params storyutil.ModelParams, opts Options) *Extractor {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	return &Extractor{gen: gen, params: params, opts: opts, prompts: workflowprompt.Default()}
}

type slot struct {
	summary entity.SceneSummary
	usage   entity.UsageTotals
}

// ExtractAll 每章一个任务并发执行；单章耗尽重试后回落到模板摘要，不会让整批失败
func (e *Extractor) ExtractAll(ctx context.Context, in Input) *Batch {
	ctx = llmctx.WithStage(ctx, stage.NameExtraction)

	var chapters []entity.DraftChapter
	if in.Draft != nil {
		chapters = in.Draft.Chapters
	}
	slots := make([]slot, len(chapters))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range chapters {
		i := i
		g.Go(func() error {
			slots[i] = e.extractOne(ctx, in, i)
			return nil
		})
	}
	_ = g.Wait()

	batch := &Batch{Summaries: make([]entity.SceneSummary, len(slots)), Total: len(slots)}
	for i, s := range slots {
		batch.Summaries[i] = s.summary
		batch.Usage.Merge(s.usage)
		if !s.summary.Fallback {
			batch.SuccessCount++
		}
	}
	logger.Info(ctx, "scene extraction finished", "success", batch.SuccessCount, "total", batch.Total)
	return batch
}

func (e *Extractor) extractOne(ctx context.Context, in Input, i int) slot {
	chapter := i + 1
	ch := in.Draft.Chapters[i]
	ctx = logger.WithContext(ctx, logger.ChapterKey, chapter)

	var out slot
	var summary entity.SceneSummary
	op := func() error {
		if e.gen == nil {
			return backoff.Permanent(errors.New("extractor not configured"))
		}
		req, err := e.buildRequest(ctx, in, ch.Text, chapter)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.gen.Generate(ctx, req)
		if err != nil {
			out.usage.Add(stage.NameExtraction, nil)
			return err
		}
		out.usage.Add(stage.NameExtraction, resp.Usage)

		s, err := stage.DecodeJSON[entity.SceneSummary](resp.Content)
		if err != nil {
			return err
		}
		if err := validate(&s); err != nil {
			return err
		}
		s.Chapter = chapter
		summary = s
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.RetryInterval), uint64(e.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		logger.Warn(ctx, "scene extraction exhausted retries, using template", "error", err.Error())
		metrics.ExtractionTotal.WithLabelValues("fallback").Inc()
		out.summary = Fallback(chapter, ch.Text, in.Directives, in.Cast)
		return out
	}

	metrics.ExtractionTotal.WithLabelValues("success").Inc()
	out.summary = summary
	return out
}

func validate(s *entity.SceneSummary) error {
	s.Setting = strings.TrimSpace(s.Setting)
	s.Action = strings.TrimSpace(s.Action)
	s.Mood = strings.TrimSpace(s.Mood)
	if s.Setting == "" || s.Action == "" {
		return errors.New("scene summary requires setting and action")
	}
	if s.Mood == "" {
		s.Mood = fallbackMood
	}
	if s.Characters == nil {
		s.Characters = []string{}
	}
	s.Fallback = false
	return nil
}

func (e *Extractor) buildRequest(ctx context.Context, in Input, text string, chapter int) (*wfmodel.GenerationRequest, error) {
	system, user, err := e.prompts.Render(ctx, workflowprompt.PromptSceneExtractV1, map[string]any{
		"chapter":      chapter,
		"cast_names":   storyutil.CastNames(in.Cast),
		"chapter_text": wfnode.TruncateByRunes(strings.TrimSpace(text), maxTextRunes),
	})
	if err != nil {
		return nil, err
	}
	req := storyutil.NewRequest(system, user, e.params, in.Request)
	req.SchemaName = "scene_summary"
	req.Correlation.Stage = stage.NameExtraction
	req.Correlation.Chapter = chapter
	if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
		req.Correlation.RunID = runID
	}
	return req, nil
}

// Fallback 模板摘要：地点与角色取自场景指令，动作取正文首句
func Fallback(chapter int, text string, directives []entity.SceneDirective, cast entity.CastSet) entity.SceneSummary {
	s := entity.SceneSummary{
		Chapter:    chapter,
		Setting:    fmt.Sprintf("Scene from chapter %d", chapter),
		Characters: []string{},
		Action:     wfnode.TruncateByRunes(wfnode.FirstSentences(text, 1), 160),
		Mood:       fallbackMood,
		Fallback:   true,
	}
	if d, ok := entity.DirectiveFor(directives, chapter); ok {
		if setting := strings.TrimSpace(d.Setting); setting != "" {
			s.Setting = setting
		}
		for _, slot := range d.CharactersOnStage {
			if n := strings.TrimSpace(slot.Name); n != "" {
				s.Characters = append(s.Characters, n)
			}
		}
	}
	if len(s.Characters) == 0 {
		for _, name := range cast.Names() {
			if strings.Contains(text, name) {
				s.Characters = append(s.Characters, name)
			}
		}
	}
	if s.Action == "" {
		s.Action = "A quiet moment in the story."
	}
	return s
}
