// Package outline 生成与 StoryBible 绑定的章节大纲
package outline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/internal/workflow/stage"
)

// Input 大纲阶段输入
type Input struct {
	Request      *entity.NormalizedRequest
	Bible        *entity.StoryBible
	Cast         entity.CastSet
	ChapterCount int
}

// Output 大纲阶段输出
type Output struct {
	Outline  *entity.StoryOutline
	Usage    entity.UsageTotals
	Repaired bool
}

// Generator 大纲阶段
type Generator struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	prompts *workflowprompt.Registry
}

// NewGenerator 创建大纲生成器
func NewGenerator(gen workflowport.Generator, params storyutil.ModelParams) *Generator {
	return &Generator{gen: gen, params: params, prompts: workflowprompt.Default()}
}

// Generate 生成、校验并重新编号大纲
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	if g == nil || g.gen == nil {
		return nil, errors.New("outline generator not configured")
	}
	if in.Request == nil || in.Bible == nil {
		return nil, errors.New("outline requires request and bible")
	}
	n := in.ChapterCount
	if n < 1 {
		n = len(in.Bible.ChapterArcs)
	}
	if n < 1 {
		return nil, errors.New("chapter count must be positive")
	}

	res, err := stage.Run(ctx, g.gen, stage.Spec[*entity.StoryOutline]{
		Stage:    stage.NameOutline,
		Artifact: "StoryOutline",
		Build: func(ctx context.Context) (*wfmodel.GenerationRequest, error) {
			return g.buildRequest(ctx, in, n)
		},
		Validate: func(o *entity.StoryOutline) []string {
			return Validate(o, n)
		},
	})
	if err != nil {
		return nil, err
	}

	Renumber(res.Artifact)
	return &Output{Outline: res.Artifact, Usage: res.Usage, Repaired: res.Repaired}, nil
}

// Renumber 无条件将 chapters[i].chapter 改写为 i+1
func Renumber(o *entity.StoryOutline) {
	if o == nil {
		return
	}
	for i := range o.Chapters {
		o.Chapters[i].Chapter = i + 1
	}
}

// Validate 校验章节数与必填文本；章节号由 Renumber 统一改写，此处不做要求
func Validate(o *entity.StoryOutline, n int) []string {
	var is stage.Issues
	if o == nil {
		is.Addf("storyOutline is missing")
		return is
	}
	if len(o.Chapters) != n {
		is.Addf("chapters must contain exactly %d entries (got %d)", n, len(o.Chapters))
	}
	for i, ch := range o.Chapters {
		path := fmt.Sprintf("chapters[%d]", i)
		is.RequireText(path+".title", ch.Title)
		is.RequireText(path+".subgoal", ch.Subgoal)
		is.RequireText(path+".reversal", ch.Reversal)
		is.RequireText(path+".hook", ch.Hook)
	}
	return is
}

func (g *Generator) buildRequest(ctx context.Context, in Input, n int) (*wfmodel.GenerationRequest, error) {
	system, user, err := g.prompts.Render(ctx, workflowprompt.PromptStoryOutlineV1, map[string]any{
		"language":        storyutil.LanguageOrDefault(in.Request.Language),
		"age_min":         in.Request.AgeRange.Min,
		"age_max":         in.Request.AgeRange.Max,
		"chapter_count":   n,
		"bible_summary":   bibleSummary(in.Bible),
		"binding_block":   BindingBlock(in.Bible),
		"contracts_block": contractsBlock(in.Bible, in.Cast),
		"artifact_block":  artifactBlock(in.Bible.ArtifactArc),
	})
	if err != nil {
		return nil, err
	}

	req := storyutil.NewRequest(system, user, g.params, in.Request)
	req.SchemaName = "story_outline"
	req.Schema = jsonSchema()
	return req, nil
}

// BindingBlock 将 Bible 的逐章弧线渲染为约束块
func BindingBlock(b *entity.StoryBible) string {
	lines := make([]string, 0, len(b.ChapterArcs))
	for i, arc := range b.ChapterArcs {
		lines = append(lines, fmt.Sprintf("Chapter %d: subgoal=%s; reversal=%s; hook=%s",
			i+1,
			strings.TrimSpace(arc.Subgoal),
			strings.TrimSpace(arc.Reversal),
			strings.TrimSpace(arc.CarryOverHook),
		))
	}
	return wfnode.BulletBlock(lines, "(none)")
}

func bibleSummary(b *entity.StoryBible) string {
	return wfnode.BulletBlock([]string{
		"Goal: " + strings.TrimSpace(b.CoreGoal),
		"Problem: " + strings.TrimSpace(b.CoreProblem),
		"Stakes: " + strings.TrimSpace(b.Stakes),
		"Promise: " + strings.TrimSpace(b.Promise),
		optional("Mystery: ", b.MysteryOrQuestion),
	}, "(none)")
}

func contractsBlock(b *entity.StoryBible, cast entity.CastSet) string {
	lines := make([]string, 0, len(cast))
	for _, m := range cast {
		c, ok := b.EntryContracts[m.Name]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s enters in chapter %d: %s", m.Name, c.Chapter, strings.TrimSpace(c.Reason))
		if exit, ok := b.ExitContracts[m.Name]; ok {
			line += fmt.Sprintf("; exits in chapter %d: %s", exit.Chapter, strings.TrimSpace(exit.Reason))
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return wfnode.BulletBlock(lines, "(none)")
}

func artifactBlock(a entity.ArtifactArc) string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = "the key object"
	}
	return fmt.Sprintf("%s: introduced in chapter %d, attempted in chapter %d, decisive in chapter %d",
		name, a.IntroduceChapter, a.AttemptChapter, a.DecisiveChapter)
}

func optional(prefix, v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return prefix + strings.TrimSpace(v)
}

func jsonSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type":     "object",
		"required": []any{"chapters"},
		"properties": map[string]any{
			"chapters": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"chapter", "title", "subgoal", "reversal", "hook"},
					"properties": map[string]any{
						"chapter":      map[string]any{"type": "integer"},
						"title":        str,
						"subgoal":      str,
						"reversal":     str,
						"hook":         str,
						"entryNotes":   str,
						"exitNotes":    str,
						"artifactBeat": str,
					},
				},
			},
		},
	}
}
