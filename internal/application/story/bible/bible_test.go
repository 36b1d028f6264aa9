package bible

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/workflow/port/porttest"
	"z-novel-pipeline/internal/workflow/stage"
)

var testCast = entity.CastSet{
	{ID: "c1", Name: "avatarA", Role: "protagonist"},
	{ID: "c2", Name: "helperB", Role: "sidekick"},
}

func validBible(n int, cast entity.CastSet) *entity.StoryBible {
	b := &entity.StoryBible{
		CoreGoal:             "Find the lost lantern",
		CoreProblem:          "The lantern keeps moving at night",
		Stakes:               "The village festival will be dark",
		Promise:              "A cozy mystery with a brave friendship",
		MysteryOrQuestion:    "Who moves the lantern?",
		CharacterMotivations: map[string]string{},
		EntryContracts:       map[string]entity.Contract{},
		ArtifactArc:          entity.ArtifactArc{Name: "lantern", IntroduceChapter: 1, AttemptChapter: 2, DecisiveChapter: n},
	}
	for i := 1; i <= n; i++ {
		b.ChapterArcs = append(b.ChapterArcs, entity.ChapterArc{
			Chapter:        i,
			Subgoal:        fmt.Sprintf("subgoal %d", i),
			Reversal:       fmt.Sprintf("reversal %d", i),
			ProgressDelta:  "one step closer",
			NewInformation: "a new clue",
			CostOrTradeoff: "a small cost",
			CarryOverHook:  "a hook",
		})
	}
	for i, m := range cast {
		b.CharacterMotivations[m.Name] = "wants to help the village"
		b.EntryContracts[m.Name] = entity.Contract{Chapter: i%2 + 1, Reason: "arrives with the festival news"}
	}
	return b
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func testInput(n int) Input {
	return Input{
		Request:   &entity.NormalizedRequest{StoryID: "s1", Language: "en", AgeRange: entity.AgeRange{Min: 5, Max: 8}, ChapterCount: n, CastIDs: []string{"c1", "c2"}},
		Blueprint: entity.Blueprint{ChapterCount: n, Theme: "friendship"},
		Cast:      testCast,
	}
}

func TestGenerate_ValidFirstAttempt(t *testing.T) {
	gen := porttest.NewScripted(porttest.Reply(toJSON(t, validBible(5, testCast))))
	g := NewGenerator(gen, storyutil.ModelParams{Temperature: 0.7, MaxOutputUnits: 2000})

	out, err := g.Generate(context.Background(), testInput(5))
	require.NoError(t, err)

	assert.False(t, out.Repaired)
	assert.Equal(t, 1, gen.Calls())
	require.Len(t, out.Bible.ChapterArcs, 5)
	for i, arc := range out.Bible.ChapterArcs {
		assert.Equal(t, i+1, arc.Chapter)
	}

	req := gen.Request(0)
	assert.True(t, req.StructuredOutput)
	assert.Equal(t, "story_bible", req.SchemaName)
	assert.Equal(t, stage.NameBible, req.Correlation.Stage)
	assert.Equal(t, "s1", req.Correlation.StoryID)
	assert.Contains(t, req.Messages[0].Content, "helperB (role: sidekick)")
}

func TestGenerate_MissingEntryContractFailsAfterOneRepair(t *testing.T) {
	bad := validBible(5, testCast)
	delete(bad.EntryContracts, "helperB")
	gen := porttest.NewScripted(
		porttest.Reply(toJSON(t, bad)),
		porttest.Reply(toJSON(t, bad)),
	)
	g := NewGenerator(gen, storyutil.ModelParams{})

	out, err := g.Generate(context.Background(), testInput(5))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 2, gen.Calls())

	fatal, ok := stage.AsStageFatal(err)
	require.True(t, ok)
	assert.Equal(t, stage.NameBible, fatal.Stage)
	assert.Contains(t, err.Error(), "Missing entryContract for")
	assert.Contains(t, err.Error(), "helperB")

	repair := gen.Request(1)
	assert.Equal(t, stage.AttemptRepair, repair.Correlation.Attempt)
	assert.Contains(t, repair.Messages[0].Content, "Missing entryContract for helperB")
}

func TestGenerate_RepairSucceeds(t *testing.T) {
	bad := validBible(5, testCast)
	delete(bad.EntryContracts, "helperB")
	gen := porttest.NewScripted(
		porttest.Reply(toJSON(t, bad)),
		porttest.Reply(toJSON(t, validBible(5, testCast))),
	)
	g := NewGenerator(gen, storyutil.ModelParams{})

	out, err := g.Generate(context.Background(), testInput(5))
	require.NoError(t, err)
	assert.True(t, out.Repaired)
	assert.Equal(t, 2, out.Usage.Calls)
}

func TestGenerate_RejectsEmptyCast(t *testing.T) {
	in := testInput(3)
	in.Cast = nil
	_, err := NewGenerator(porttest.NewScripted(), storyutil.ModelParams{}).Generate(context.Background(), in)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cast := entity.CastSet{
		{Name: "avatarA", Role: "protagonist"},
		{Name: "helperB", Role: "sidekick"},
		{Name: "owl", Role: "cameo"},
	}

	t.Run("valid with late cameo", func(t *testing.T) {
		b := validBible(4, cast)
		b.EntryContracts["owl"] = entity.Contract{Chapter: 4, Reason: "drops by at the end"}
		assert.Empty(t, Validate(b, 4, cast))
	})

	t.Run("late non-cameo entry", func(t *testing.T) {
		b := validBible(4, cast)
		b.EntryContracts["helperB"] = entity.Contract{Chapter: 3, Reason: "comes late"}
		assert.Contains(t, Validate(b, 4, cast), "entryContract for helperB must be chapter <= 2 (role sidekick)")
	})

	t.Run("arc count and numbering", func(t *testing.T) {
		b := validBible(4, cast)
		b.ChapterArcs = b.ChapterArcs[:3]
		b.ChapterArcs[2].Chapter = 7
		issues := Validate(b, 4, cast)
		assert.Contains(t, issues, "chapterArcs must contain exactly 4 entries (got 3)")
		assert.Contains(t, issues, "chapterArcs[2].chapter must be 3 (got 7)")
	})

	t.Run("short text and missing motivation", func(t *testing.T) {
		b := validBible(4, cast)
		b.Stakes = " x "
		delete(b.CharacterMotivations, "avatarA")
		issues := Validate(b, 4, cast)
		assert.Contains(t, issues, "stakes must be a non-empty string of at least 2 characters")
		assert.Contains(t, issues, "Missing characterMotivation for avatarA")
	})

	t.Run("artifact arc ordering and range", func(t *testing.T) {
		b := validBible(4, cast)
		b.ArtifactArc = entity.ArtifactArc{IntroduceChapter: 3, AttemptChapter: 2, DecisiveChapter: 5}
		issues := Validate(b, 4, cast)
		assert.Contains(t, issues, "artifactArc chapters must be within 1..4 (got 3/2/5)")
		assert.Contains(t, issues, "artifactArc must satisfy introduceChapter <= attemptChapter <= decisiveChapter")
	})

	t.Run("unknown names", func(t *testing.T) {
		b := validBible(4, cast)
		b.EntryContracts["ghost"] = entity.Contract{Chapter: 1, Reason: "haunts"}
		assert.Contains(t, Validate(b, 4, cast), "entryContract references unknown character ghost")
	})
}
