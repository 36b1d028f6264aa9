package surgery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	"z-novel-pipeline/internal/workflow/port/porttest"
	"z-novel-pipeline/internal/workflow/stage"
)

func task(chapter, priority int, objective string) entity.PatchTask {
	return entity.PatchTask{Chapter: chapter, Priority: priority, Objective: objective, Instruction: "do " + objective}
}

func testDraft(n int) *entity.StoryDraft {
	d := &entity.StoryDraft{Title: "Boats"}
	for i := 1; i <= n; i++ {
		d.Chapters = append(d.Chapters, entity.DraftChapter{
			Chapter: i,
			Title:   fmt.Sprintf("Part %d", i),
			Text:    fmt.Sprintf("C%d first. C%d second. C%d third. C%d fourth. C%d fifth.", i, i, i, i, i),
		})
	}
	return d
}

func revised(chapter int) string {
	return fmt.Sprintf("Chapter %d was rewritten with warmer moments and a clearer ending.", chapter)
}

func TestRankChapters_TaskCountBreaksPriorityTie(t *testing.T) {
	tasks := []entity.PatchTask{
		task(2, 1, "a"), task(2, 2, "b"),
		task(4, 1, "c"), task(4, 3, "d"), task(4, 2, "e"),
	}
	ranked := RankChapters(tasks, 3)

	require.Len(t, ranked, 2)
	assert.Equal(t, 4, ranked[0].Chapter)
	assert.Equal(t, 1, ranked[0].MinPriority)
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Tasks[0].Priority, ranked[0].Tasks[1].Priority, ranked[0].Tasks[2].Priority})
	assert.Equal(t, 2, ranked[1].Chapter)
}

func TestRankChapters_LimitAndOrdering(t *testing.T) {
	tasks := []entity.PatchTask{task(5, 2, "a"), task(1, 3, "b"), task(3, 2, "c"), task(2, 1, "d"), task(0, 1, "global")}

	ranked := RankChapters(tasks, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, 2, ranked[0].Chapter)
	assert.Equal(t, 3, ranked[1].Chapter)

	assert.Len(t, RankChapters(tasks, 0), DefaultMaxEdits)
	assert.Len(t, RankChapters(tasks, 99), 4)
}

func TestApply_EditsInRankOrder(t *testing.T) {
	draft := testDraft(5)
	var order []int
	router := porttest.NewStageRouter().On(stage.NameSurgery, func(req *wfmodel.GenerationRequest) porttest.Step {
		order = append(order, req.Correlation.Chapter)
		return porttest.Reply(revised(req.Correlation.Chapter))
	})
	tasks := []entity.PatchTask{
		task(2, 1, "a"), task(2, 2, "b"),
		task(4, 1, "c"), task(4, 3, "d"), task(4, 2, "e"),
	}

	res, err := NewEngine(router, storyutil.ModelParams{}).Apply(context.Background(), ApplyInput{
		Draft: draft, Tasks: tasks, MaxEdits: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{4, 2}, order)
	assert.Equal(t, []int{4, 2}, res.Edited)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Draft.Chapters, 5)
	assert.Equal(t, revised(4), res.Draft.Chapters[3].Text)
	assert.Equal(t, revised(2), res.Draft.Chapters[1].Text)
	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, draft.Chapters[i], res.Draft.Chapters[i])
	}
	// 输入草稿不被修改
	assert.True(t, strings.HasPrefix(draft.Chapters[3].Text, "C4 first."))
	assert.Equal(t, 2, res.Usage.Calls)
}

func TestApply_NeverTouchesChaptersOutsideTopRanked(t *testing.T) {
	draft := testDraft(4)
	router := porttest.NewStageRouter().On(stage.NameSurgery, func(req *wfmodel.GenerationRequest) porttest.Step {
		return porttest.Reply(revised(req.Correlation.Chapter))
	})
	tasks := []entity.PatchTask{task(1, 1, "a"), task(2, 2, "b"), task(3, 3, "c")}

	res, err := NewEngine(router, storyutil.ModelParams{}).Apply(context.Background(), ApplyInput{Draft: draft, Tasks: tasks, MaxEdits: 1})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, res.Edited)
	assert.Equal(t, 1, router.Calls(stage.NameSurgery))
	assert.Equal(t, draft.Chapters[1:], res.Draft.Chapters[1:])
}

func TestApply_FailuresAreIsolated(t *testing.T) {
	draft := testDraft(4)
	router := porttest.NewStageRouter().On(stage.NameSurgery, func(req *wfmodel.GenerationRequest) porttest.Step {
		switch req.Correlation.Chapter {
		case 1:
			return porttest.Fail(errors.New("provider exploded"))
		case 2:
			return porttest.Reply("too short")
		case 3:
			return porttest.Reply("  " + draft.Chapters[2].Text + "\n")
		default:
			return porttest.Reply(`{"text": "` + revised(4) + `"}`)
		}
	})
	tasks := []entity.PatchTask{task(1, 1, "a"), task(2, 1, "b"), task(3, 1, "c"), task(4, 2, "d")}

	res, err := NewEngine(router, storyutil.ModelParams{}).Apply(context.Background(), ApplyInput{Draft: draft, Tasks: tasks, MaxEdits: 5})
	require.NoError(t, err)

	assert.Equal(t, []int{4}, res.Edited)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, 1, res.Failures[0].Chapter)
	assert.ErrorContains(t, res.Failures[0], "provider exploded")
	assert.ErrorIs(t, res.Failures[1], ErrRevisionTooShort)
	assert.ErrorIs(t, res.Failures[2], ErrRevisionUnchanged)

	assert.Equal(t, draft.Chapters[:3], res.Draft.Chapters[:3])
	assert.Equal(t, revised(4), res.Draft.Chapters[3].Text)
}

func TestApply_RequestCarriesLocalContextOnly(t *testing.T) {
	draft := testDraft(5)
	gen := porttest.NewScripted(porttest.Reply(revised(3)))
	tasks := []entity.PatchTask{task(3, 1, "one"), task(3, 2, "two"), task(3, 2, "three"), task(3, 3, "four"), task(3, 3, "five")}
	directives := []entity.SceneDirective{{Chapter: 3, Setting: "Dock", Goal: "launch"}}

	_, err := NewEngine(gen, storyutil.ModelParams{}).Apply(context.Background(), ApplyInput{
		Draft: draft, Tasks: tasks, Directives: directives, MaxEdits: 3,
	})
	require.NoError(t, err)

	req := gen.Request(0)
	user := req.Messages[0].Content
	assert.False(t, req.StructuredOutput)
	assert.Contains(t, user, "[1] one: do one\n[2] two: do two\n[2] three: do three\n[3] four: do four")
	assert.NotContains(t, user, "five")
	assert.Contains(t, user, "C2 first. C2 second. [...] C2 fourth. C2 fifth.")
	assert.Contains(t, user, "C4 first. C4 second. [...] C4 fourth. C4 fifth.")
	assert.NotContains(t, user, "C1 first")
	assert.NotContains(t, user, "C5 first")
	assert.NotContains(t, user, "C2 third")
	assert.Contains(t, user, "Setting: Dock")
}

func TestAcceptRevision(t *testing.T) {
	orig := "The original chapter text is here and long enough."
	_, err := AcceptRevision(orig, "   ")
	assert.ErrorIs(t, err, ErrMalformedRevision)
	_, err = AcceptRevision(orig, `{"title": "no text"}`)
	assert.ErrorIs(t, err, ErrMalformedRevision)
	_, err = AcceptRevision(orig, "short")
	assert.ErrorIs(t, err, ErrRevisionTooShort)
	_, err = AcceptRevision(orig, "\n"+orig+"  ")
	assert.ErrorIs(t, err, ErrRevisionUnchanged)

	text, err := AcceptRevision(orig, "```text\nA brand new chapter body that is clearly long enough.\n```")
	require.NoError(t, err)
	assert.Equal(t, "A brand new chapter body that is clearly long enough.", text)
}

func TestReplaceChapterText_KeepsStructure(t *testing.T) {
	draft := testDraft(3)
	out, err := replaceChapterText(draft, 1, "new body")
	require.NoError(t, err)
	assert.Equal(t, "new body", out.Chapters[1].Text)
	assert.Equal(t, draft.Chapters[1].Title, out.Chapters[1].Title)
	assert.Equal(t, draft.Title, out.Title)

	_, err = replaceChapterText(draft, 3, "x")
	assert.Error(t, err)
}

func TestReplaceChapterText_LeavesOtherChaptersByteIdentical(t *testing.T) {
	draft := testDraft(3)
	draft.Chapters[2].Text = "Caf\xe9 lights. The end."

	out, err := replaceChapterText(draft, 0, "rewritten opening")
	require.NoError(t, err)
	assert.Equal(t, "rewritten opening", out.Chapters[0].Text)
	assert.Equal(t, draft.Chapters[1].Text, out.Chapters[1].Text)
	assert.Equal(t, []byte("Caf\xe9 lights. The end."), []byte(out.Chapters[2].Text))
	assert.NotEqual(t, "rewritten opening", draft.Chapters[0].Text)
}
