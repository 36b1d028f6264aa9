package critic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/workflow/port/porttest"
	"z-novel-pipeline/internal/workflow/stage"
)

func testDraft(n int) *entity.StoryDraft {
	d := &entity.StoryDraft{Title: "Moon"}
	for i := 1; i <= n; i++ {
		d.Chapters = append(d.Chapters, entity.DraftChapter{
			Chapter: i,
			Title:   "Chapter",
			Text:    "The fox ran to the hill to see the moon. It was bright and round tonight.",
		})
	}
	return d
}

func evalInput(n int) EvaluateInput {
	return EvaluateInput{
		Request:        &entity.NormalizedRequest{StoryID: "s1", Language: "en", AgeRange: entity.AgeRange{Min: 4, Max: 7}},
		Draft:          testDraft(n),
		Cast:           entity.CastSet{{Name: "fox"}},
		TargetMinScore: 7.5,
		HumorLevel:     "high",
	}
}

func TestEvaluate_NormalizesReport(t *testing.T) {
	content := "Here you go:\n" + `{
		"overallScore": 12,
		"dimensionScores": {"craft": 11, "narrative": -2, "childFit": "8", "humor": 7, "warmth": 9},
		"releaseReady": true,
		"summary": " solid ",
		"issues": [
			{"chapter": 2, "code": "pacing", "severity": "MAJOR", "message": "slow middle"},
			{"chapter": "nine", "code": "tone", "severity": "low", "message": "too dark"},
			{"chapter": 7, "code": "x", "severity": "low", "message": "out of range"},
			{"chapter": 1, "code": "x", "severity": "low", "message": ""}
		],
		"patchTasks": [
			{"chapter": 2, "priority": 2, "objective": "Tighten", "instruction": "cut filler"},
			{"chapter": 2, "priority": 1, "objective": "tighten ", "instruction": "dup"},
			{"chapter": 0, "priority": 1, "objective": "global", "instruction": "drop"},
			{"chapter": 3, "priority": 9, "objective": "Warmth", "instruction": "add hug"},
			{"chapter": 1, "priority": 1, "objective": "", "instruction": "missing objective"}
		]
	}`
	gen := porttest.NewScripted(porttest.Reply(content))
	res := NewCritic(gen, storyutil.ModelParams{}).Evaluate(context.Background(), evalInput(3))

	r := res.Report
	require.NotNil(t, r)
	assert.False(t, r.Fallback)
	assert.Equal(t, 10.0, r.OverallScore)
	assert.Equal(t, entity.DimensionScores{Craft: 10, Narrative: 0, ChildFit: 8, Humor: 7, Warmth: 9}, r.DimensionScores)
	assert.True(t, r.ReleaseReady)
	assert.Equal(t, "solid", r.Summary)

	require.Len(t, r.Issues, 3)
	assert.Equal(t, 2, r.Issues[0].Chapter)
	assert.Equal(t, "high", r.Issues[0].Severity)
	assert.Equal(t, 0, r.Issues[1].Chapter)
	assert.Equal(t, 0, r.Issues[2].Chapter)

	require.Len(t, r.PatchTasks, 2)
	assert.Equal(t, entity.PatchTask{Chapter: 2, Priority: 1, Objective: "Tighten", Instruction: "cut filler"}, r.PatchTasks[0])
	assert.Equal(t, entity.PatchTask{Chapter: 3, Priority: 3, Objective: "Warmth", Instruction: "add hug"}, r.PatchTasks[1])

	assert.Equal(t, 1, res.Usage.Calls)
	assert.Equal(t, stage.NameCritic, gen.Request(0).Correlation.Stage)
}

func TestEvaluate_ReleaseReadyRequiresTargetScore(t *testing.T) {
	gen := porttest.NewScripted(porttest.Reply(`{"overallScore": 6.9, "releaseReady": true, "issues": [], "patchTasks": []}`))
	r := NewCritic(gen, storyutil.ModelParams{}).Evaluate(context.Background(), evalInput(2)).Report

	assert.Equal(t, 6.9, r.OverallScore)
	assert.False(t, r.ReleaseReady)
}

func TestEvaluate_RecomputesWeightedScore(t *testing.T) {
	gen := porttest.NewScripted(porttest.Reply(`{"dimensionScores": {"craft": 10, "narrative": 10, "childFit": 5, "humor": 0, "warmth": 10}, "releaseReady": false}`))
	r := NewCritic(gen, storyutil.ModelParams{}).Evaluate(context.Background(), evalInput(2)).Report

	assert.InDelta(t, 2.7+2.7+1.1+0+1.2, r.OverallScore, 1e-9)
	assert.False(t, r.Fallback)
}

func TestEvaluate_FallbackOnFailure(t *testing.T) {
	cases := map[string]porttest.Step{
		"capability error": porttest.Fail(errors.New("provider down")),
		"malformed":        porttest.Reply("I think the story is lovely!"),
		"no scores":        porttest.Reply(`{"releaseReady": true, "dimensionScores": {"craft": 9}}`),
	}
	for name, step := range cases {
		t.Run(name, func(t *testing.T) {
			gen := porttest.NewScripted(step)
			res := NewCritic(gen, storyutil.ModelParams{}).Evaluate(context.Background(), evalInput(2))

			require.NotNil(t, res.Report)
			assert.True(t, res.Report.Fallback)
			assert.False(t, res.Report.ReleaseReady)
			assert.Empty(t, res.Report.PatchTasks)
			assert.Equal(t, 1, gen.Calls())
			assert.Equal(t, FallbackReport(evalInput(2).Draft), res.Report)
		})
	}
}

func TestFallbackReport_Deterministic(t *testing.T) {
	short := &entity.StoryDraft{Chapters: []entity.DraftChapter{{Text: "Ten words make a fine sentence for a young reader today."}}}
	long := &entity.StoryDraft{Chapters: []entity.DraftChapter{{Text: strings.Repeat("word ", 40) + "."}}}

	assert.Equal(t, 7.0, FallbackReport(short).OverallScore)
	assert.Equal(t, 3.0, FallbackReport(long).OverallScore)
	assert.Equal(t, 3.0, FallbackReport(nil).OverallScore)
	for _, r := range []*entity.SemanticCriticReport{FallbackReport(short), FallbackReport(long)} {
		assert.GreaterOrEqual(t, r.OverallScore, 0.0)
		assert.LessOrEqual(t, r.OverallScore, 10.0)
	}
}

func TestNormalizeTasks_CapAndStableOrder(t *testing.T) {
	var tasks []entity.PatchTask
	for i := 1; i <= 7; i++ {
		tasks = append(tasks, entity.PatchTask{Chapter: i, Priority: 3 - i%3, Objective: "o", Instruction: "i"})
	}
	got := NormalizeTasks(tasks)

	require.Len(t, got, entity.MaxPatchTasks)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Priority, got[i].Priority)
	}
	// 同优先级保持输入顺序
	assert.Equal(t, []int{2, 5, 1, 4, 7}, []int{got[0].Chapter, got[1].Chapter, got[2].Chapter, got[3].Chapter, got[4].Chapter})
}

func TestToTasks_ClampsPriorityBeforeConversion(t *testing.T) {
	got := toTasks([]rawTask{
		{Chapter: 1.0, Priority: 1e300, Objective: "huge", Instruction: "x"},
		{Chapter: 2.0, Priority: -1e300, Objective: "tiny", Instruction: "x"},
		{Chapter: "3", Priority: "2.4", Objective: "text", Instruction: "x"},
	}, 3)

	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Priority)
	assert.Equal(t, 1, got[1].Priority)
	assert.Equal(t, 2, got[2].Priority)
}

func TestChaptersBlock_BoundsExcerpt(t *testing.T) {
	d := &entity.StoryDraft{Chapters: []entity.DraftChapter{{Title: "Long", Text: strings.Repeat("a", 2000)}}}
	block := ChaptersBlock(d)
	assert.Less(t, len([]rune(block)), 1100)
	assert.Contains(t, block, "Chapter 1: Long")
}
