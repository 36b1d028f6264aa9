// Package worldstate 逐章推导并修正连续性快照
package worldstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	workflowprompt "z-novel-pipeline/internal/workflow/prompt"
	"z-novel-pipeline/internal/workflow/stage"
	"z-novel-pipeline/pkg/logger"
)

// AdvanceInput 单章推进输入
type AdvanceInput struct {
	Request     *entity.NormalizedRequest
	Prev        *entity.WorldState
	Directive   entity.SceneDirective
	ChapterText string
	Cast        entity.CastSet
	Bible       *entity.StoryBible
}

// AdvanceOutput 单章推进输出
type AdvanceOutput struct {
	State    *entity.WorldState
	Usage    entity.UsageTotals
	Repaired bool
}

// ChainInput 全书状态链输入
type ChainInput struct {
	Request    *entity.NormalizedRequest
	Bible      *entity.StoryBible
	Cast       entity.CastSet
	Directives []entity.SceneDirective
	Draft      *entity.StoryDraft
}

// ChainOutput 全书状态链；States[i] 为第 i+1 章结束时的快照
type ChainOutput struct {
	Initial *entity.WorldState
	States  []*entity.WorldState
	Usage   entity.UsageTotals
}

// Tracker WorldState 阶段
type Tracker struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	prompts *workflowprompt.Registry
}

// NewTracker 创建连续性追踪器
func NewTracker(gen workflowport.Generator, params storyutil.ModelParams) *Tracker {
	return &Tracker{gen: gen, params: params, prompts: workflowprompt.Default()}
}

// Advance 基于上一章快照推导本章快照，并执行权威修正
func (t *Tracker) Advance(ctx context.Context, in AdvanceInput) (*AdvanceOutput, error) {
	if t == nil || t.gen == nil {
		return nil, errors.New("world state tracker not configured")
	}
	if in.Prev == nil {
		return nil, errors.New("previous world state is nil")
	}
	chapter := in.Directive.Chapter
	if chapter < 1 {
		return nil, fmt.Errorf("invalid directive chapter %d", chapter)
	}

	ctx = logger.WithContext(ctx, logger.ChapterKey, chapter)
	res, err := stage.Run(ctx, t.gen, stage.Spec[*entity.WorldState]{
		Stage:    stage.NameWorldState,
		Artifact: "WorldState",
		Build: func(ctx context.Context) (*wfmodel.GenerationRequest, error) {
			return t.buildRequest(ctx, in, chapter)
		},
		Validate: func(ws *entity.WorldState) []string {
			return Validate(ws, chapter)
		},
	})
	if err != nil {
		return nil, err
	}

	return &AdvanceOutput{
		State:    Reconcile(res.Artifact, in.Prev, in.Directive, in.Cast),
		Usage:    res.Usage,
		Repaired: res.Repaired,
	}, nil
}

// Chain 严格按章节顺序推进；任一章失败即中止
func (t *Tracker) Chain(ctx context.Context, in ChainInput) (*ChainOutput, error) {
	if in.Draft == nil || len(in.Draft.Chapters) == 0 {
		return nil, errors.New("draft has no chapters")
	}

	out := &ChainOutput{
		Initial: InitialState(in.Cast, in.Directives, in.Bible),
		States:  make([]*entity.WorldState, 0, len(in.Draft.Chapters)),
	}
	prev := out.Initial
	for i, ch := range in.Draft.Chapters {
		number := i + 1
		directive, ok := entity.DirectiveFor(in.Directives, number)
		if !ok {
			logger.Warn(ctx, "scene directive missing, tracking chapter without staging", "chapter", number)
			directive = entity.SceneDirective{Chapter: number}
		}

		step, err := t.Advance(ctx, AdvanceInput{
			Request:     in.Request,
			Prev:        prev,
			Directive:   directive,
			ChapterText: ch.Text,
			Cast:        in.Cast,
			Bible:       in.Bible,
		})
		if err != nil {
			return nil, err
		}
		out.Usage.Merge(step.Usage)
		out.States = append(out.States, step.State)
		prev = step.State
	}
	return out, nil
}

func (t *Tracker) buildRequest(ctx context.Context, in AdvanceInput, chapter int) (*wfmodel.GenerationRequest, error) {
	prevJSON, err := json.MarshalIndent(in.Prev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal previous state: %w", err)
	}

	system, user, err := t.prompts.Render(ctx, workflowprompt.PromptWorldStateV1, map[string]any{
		"chapter":          chapter,
		"previous_state":   string(prevJSON),
		"directive_block":  storyutil.DirectiveBlock(in.Directive),
		"continuity_block": wfnode.BulletBlock(in.Directive.ContinuityMusts, "(none)"),
		"cast_names":       storyutil.CastNames(in.Cast),
		"chapter_text":     strings.TrimSpace(in.ChapterText),
	})
	if err != nil {
		return nil, err
	}

	req := storyutil.NewRequest(system, user, t.params, in.Request)
	req.SchemaName = "world_state"
	req.Schema = jsonSchema()
	req.Correlation.Chapter = chapter
	return req, nil
}

func jsonSchema() map[string]any {
	str := map[string]any{"type": "string"}
	strs := map[string]any{"type": "array", "items": str}
	return map[string]any{
		"type":     "object",
		"required": []any{"chapter", "location", "characterState", "summary"},
		"properties": map[string]any{
			"chapter":       map[string]any{"type": "integer"},
			"location":      str,
			"timeOfDay":     str,
			"inventory":     strs,
			"artifactState": str,
			"characterState": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type":     "object",
					"required": []any{"status", "lastSeenChapter"},
					"properties": map[string]any{
						"status":           map[string]any{"type": "string", "enum": []any{"onStage", "offStage", "left"}},
						"lastSeenChapter":  map[string]any{"type": "integer"},
						"reasonIfOffStage": str,
					},
				},
			},
			"openLoops":     strs,
			"resolvedLoops": strs,
			"summary":       str,
		},
	}
}
