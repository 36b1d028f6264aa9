// Package bible 生成全书主线契约 StoryBible
package bible

import (
	"context"
	"errors"
	"strings"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/internal/workflow/stage"
)

// Input StoryBible 阶段输入
type Input struct {
	Request   *entity.NormalizedRequest
	Blueprint entity.Blueprint
	Cast      entity.CastSet
}

// Output StoryBible 阶段输出
type Output struct {
	Bible    *entity.StoryBible
	Usage    entity.UsageTotals
	Repaired bool
}

// Generator StoryBible 阶段
type Generator struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	prompts *workflowprompt.Registry
}

// NewGenerator 创建 StoryBible 生成器
func NewGenerator(gen workflowport.Generator, params storyutil.ModelParams) *Generator {
	return &Generator{gen: gen, params: params, prompts: workflowprompt.Default()}
}

// ChapterCount 取蓝图章节数，缺省回落到请求
func (in Input) ChapterCount() int {
	if in.Blueprint.ChapterCount > 0 {
		return in.Blueprint.ChapterCount
	}
	if in.Request != nil {
		return in.Request.ChapterCount
	}
	return 0
}

// Generate 生成并校验 StoryBible；校验失败且修复后仍失败时返回 *stage.StageFatalError
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	if g == nil || g.gen == nil {
		return nil, errors.New("bible generator not configured")
	}
	if in.Request == nil {
		return nil, errors.New("normalized request is nil")
	}
	n := in.ChapterCount()
	if n < 1 {
		return nil, errors.New("chapter count must be positive")
	}
	if len(in.Cast) == 0 {
		return nil, errors.New("cast is empty")
	}

	res, err := stage.Run(ctx, g.gen, stage.Spec[*entity.StoryBible]{
		Stage:    stage.NameBible,
		Artifact: "StoryBible",
		Build: func(ctx context.Context) (*wfmodel.GenerationRequest, error) {
			return g.buildRequest(ctx, in, n)
		},
		Validate: func(b *entity.StoryBible) []string {
			return Validate(b, n, in.Cast)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Output{Bible: res.Artifact, Usage: res.Usage, Repaired: res.Repaired}, nil
}

func (g *Generator) buildRequest(ctx context.Context, in Input, n int) (*wfmodel.GenerationRequest, error) {
	humor := strings.TrimSpace(in.Blueprint.HumorLevel)
	if humor == "" {
		humor = "medium"
	}
	system, user, err := g.prompts.Render(ctx, workflowprompt.PromptStoryBibleV1, map[string]any{
		"language":      storyutil.LanguageOrDefault(in.Request.Language),
		"age_min":       in.Request.AgeRange.Min,
		"age_max":       in.Request.AgeRange.Max,
		"chapter_count": n,
		"theme":         strings.TrimSpace(in.Blueprint.Theme),
		"humor_level":   humor,
		"cast_block":    storyutil.CastBlock(in.Cast),
	})
	if err != nil {
		return nil, err
	}

	req := storyutil.NewRequest(system, user, g.params, in.Request)
	req.SchemaName = "story_bible"
	req.Schema = jsonSchema()
	return req, nil
}
