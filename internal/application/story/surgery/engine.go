// Package surgery 只对评审排名最靠前的章节做定向修订
package surgery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

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
	"z-novel-pipeline/pkg/tracer"
)

const (
	// MinRevisionRunes 修订文本最小长度
	MinRevisionRunes = 30
	// MaxIssuesPerChapter 单章请求内嵌的最多任务数
	MaxIssuesPerChapter = 4
	contextSentences    = 2
)

var (
	ErrMalformedRevision = errors.New("malformed revision")
	ErrRevisionTooShort  = errors.New("revision too short")
	ErrRevisionUnchanged = errors.New("revision identical to original")
)

// ItemFailure 单章修订失败；只记录，不上抛
type ItemFailure struct {
	Chapter int
	Reason  string
	Err     error
}

func (f ItemFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("chapter %d: %s", f.Chapter, f.Reason)
	}
	return fmt.Sprintf("chapter %d: %s: %v", f.Chapter, f.Reason, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// ApplyInput 修订输入
type ApplyInput struct {
	Request    *entity.NormalizedRequest
	Draft      *entity.StoryDraft
	Tasks      []entity.PatchTask
	Directives []entity.SceneDirective
	MaxEdits   int
	Cycle      int
}

// ApplyResult 修订结果；Draft 为新副本，入参草稿不被修改
type ApplyResult struct {
	Draft    *entity.StoryDraft
	Edited   []int
	Failures []ItemFailure
	Usage    entity.UsageTotals
}

// Engine 定向修订引擎
type Engine struct {
	gen     workflowport.Generator
	params  storyutil.ModelParams
	prompts *workflowprompt.Registry
}

// NewEngine 创建修订引擎
func NewEngine(gen workflowport.Generator, params storyutil.ModelParams) *Engine {
	return &Engine{gen: gen, params: params, prompts: workflowprompt.Default()}
}

// Apply 按排名顺序逐章修订；单章失败不影响其他章节
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	if e == nil || e.gen == nil {
		return nil, errors.New("surgery engine not configured")
	}
	if in.Draft == nil {
		return nil, errors.New("draft is nil")
	}

	ctx = llmctx.WithStage(ctx, stage.NameSurgery)
	ctx, span := tracer.StartStage(ctx, stage.NameSurgery)
	defer span.End()

	res := &ApplyResult{Draft: in.Draft.Clone(), Edited: []int{}, Failures: []ItemFailure{}}
	for _, rank := range RankChapters(in.Tasks, in.MaxEdits) {
		chCtx := logger.WithContext(ctx, logger.ChapterKey, rank.Chapter)
		patched, err := e.reviseChapter(chCtx, in, res, rank)
		if err != nil {
			var failure ItemFailure
			if !errors.As(err, &failure) {
				failure = ItemFailure{Chapter: rank.Chapter, Reason: "revision failed", Err: err}
			}
			result := "failed"
			if errors.Is(err, ErrRevisionTooShort) || errors.Is(err, ErrRevisionUnchanged) || errors.Is(err, ErrMalformedRevision) {
				result = "rejected"
			}
			metrics.SurgeryEditTotal.WithLabelValues(result).Inc()
			logger.Warn(chCtx, "surgery item failed, chapter left unchanged", "reason", failure.Reason, "error", failure.Error())
			res.Failures = append(res.Failures, failure)
			continue
		}
		res.Draft = patched
		res.Edited = append(res.Edited, rank.Chapter)
		metrics.SurgeryEditTotal.WithLabelValues("applied").Inc()
	}

	logger.Info(ctx, "surgery pass finished", "edited", len(res.Edited), "failed", len(res.Failures))
	return res, nil
}

func (e *Engine) reviseChapter(ctx context.Context, in ApplyInput, res *ApplyResult, rank ChapterRank) (*entity.StoryDraft, error) {
	draft := res.Draft
	idx := rank.Chapter - 1
	if idx < 0 || idx >= len(draft.Chapters) {
		return nil, ItemFailure{Chapter: rank.Chapter, Reason: "chapter out of range"}
	}
	original := draft.Chapters[idx]

	req, err := e.buildRequest(ctx, in, draft, idx, rank)
	if err != nil {
		return nil, ItemFailure{Chapter: rank.Chapter, Reason: "build request", Err: err}
	}

	resp, err := e.gen.Generate(ctx, req)
	if err != nil {
		res.Usage.Add(stage.NameSurgery, nil)
		return nil, ItemFailure{Chapter: rank.Chapter, Reason: "generation failed", Err: err}
	}
	res.Usage.Add(stage.NameSurgery, resp.Usage)

	text, err := AcceptRevision(original.Text, resp.Content)
	if err != nil {
		return nil, ItemFailure{Chapter: rank.Chapter, Reason: "revision rejected", Err: err}
	}

	patched, err := replaceChapterText(draft, idx, text)
	if err != nil {
		return nil, ItemFailure{Chapter: rank.Chapter, Reason: "patch failed", Err: err}
	}
	return patched, nil
}

// AcceptRevision 解析并校验修订文本：空/格式错误、少于 30 字符、与原文相同均拒绝
func AcceptRevision(original, content string) (string, error) {
	text, err := parseRevision(content)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(text) < MinRevisionRunes {
		return "", ErrRevisionTooShort
	}
	if text == strings.TrimSpace(original) {
		return "", ErrRevisionUnchanged
	}
	return text, nil
}

func parseRevision(content string) (string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if strings.HasPrefix(s, "{") {
		var wrapped struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil || strings.TrimSpace(wrapped.Text) == "" {
			return "", ErrMalformedRevision
		}
		s = strings.TrimSpace(wrapped.Text)
	}
	if s == "" {
		return "", ErrMalformedRevision
	}
	return s, nil
}

func (e *Engine) buildRequest(ctx context.Context, in ApplyInput, draft *entity.StoryDraft, idx int, rank ChapterRank) (*wfmodel.GenerationRequest, error) {
	directiveBlock := "(none)"
	if d, ok := entity.DirectiveFor(in.Directives, rank.Chapter); ok {
		directiveBlock = storyutil.DirectiveBlock(d)
	}
	lang := "en"
	if in.Request != nil {
		lang = storyutil.LanguageOrDefault(in.Request.Language)
	}

	system, user, err := e.prompts.Render(ctx, workflowprompt.PromptSelectiveSurgeryV1, map[string]any{
		"language":        lang,
		"chapter":         rank.Chapter,
		"chapter_title":   strings.TrimSpace(draft.Chapters[idx].Title),
		"issues_block":    IssueLines(rank.Tasks),
		"directive_block": directiveBlock,
		"prev_context":    AdjacentContext(draft, idx-1),
		"next_context":    AdjacentContext(draft, idx+1),
		"chapter_text":    strings.TrimSpace(draft.Chapters[idx].Text),
	})
	if err != nil {
		return nil, err
	}

	req := storyutil.NewRequest(system, user, e.params, in.Request)
	req.StructuredOutput = false
	req.Correlation.Stage = stage.NameSurgery
	req.Correlation.Chapter = rank.Chapter
	req.Correlation.Attempt = fmt.Sprintf("cycle-%d", in.Cycle)
	if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
		req.Correlation.RunID = runID
	}
	return req, nil
}

// IssueLines 渲染至多 4 条 "[p] objective: instruction"
func IssueLines(tasks []entity.PatchTask) string {
	lines := make([]string, 0, MaxIssuesPerChapter)
	for i, t := range tasks {
		if i == MaxIssuesPerChapter {
			break
		}
		lines = append(lines, fmt.Sprintf("[%d] %s: %s", t.Priority, strings.TrimSpace(t.Objective), strings.TrimSpace(t.Instruction)))
	}
	return strings.Join(lines, "\n")
}

// AdjacentContext 相邻章节的前两句与后两句；越界时返回 (none)
func AdjacentContext(draft *entity.StoryDraft, idx int) string {
	if idx < 0 || idx >= len(draft.Chapters) {
		return "(none)"
	}
	text := draft.Chapters[idx].Text
	sentences := wfnode.SplitSentences(text)
	if len(sentences) == 0 {
		return "(none)"
	}
	if len(sentences) <= 2*contextSentences {
		return strings.Join(sentences, " ")
	}
	return wfnode.FirstSentences(text, contextSentences) + " [...] " + wfnode.LastSentences(text, contextSentences)
}
