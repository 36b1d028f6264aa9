package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-pipeline/internal/application/story/bible"
	"z-novel-pipeline/internal/application/story/critic"
	"z-novel-pipeline/internal/application/story/extraction"
	"z-novel-pipeline/internal/application/story/outline"
	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/application/story/surgery"
	"z-novel-pipeline/internal/application/story/worldstate"
	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	"z-novel-pipeline/internal/workflow/port/porttest"
	"z-novel-pipeline/internal/workflow/stage"
)

const chapters = 3

var testCast = entity.CastSet{
	{ID: "c1", Name: "avatarA", Role: "protagonist"},
	{ID: "c2", Name: "helperB", Role: "sidekick"},
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func testBible() *entity.StoryBible {
	b := &entity.StoryBible{
		CoreGoal:             "Light the harbor beacon",
		CoreProblem:          "The beacon oil went missing",
		Stakes:               "Boats cannot find home",
		Promise:              "A brave and funny rescue",
		CharacterMotivations: map[string]string{"avatarA": "wants to help", "helperB": "loves boats"},
		EntryContracts: map[string]entity.Contract{
			"avatarA": {Chapter: 1, Reason: "lives at the harbor"},
			"helperB": {Chapter: 1, Reason: "fixes the nets"},
		},
		ArtifactArc: entity.ArtifactArc{Name: "beacon", IntroduceChapter: 1, AttemptChapter: 2, DecisiveChapter: 3},
	}
	for i := 1; i <= chapters; i++ {
		b.ChapterArcs = append(b.ChapterArcs, entity.ChapterArc{
			Chapter:        i,
			Subgoal:        fmt.Sprintf("subgoal %d", i),
			Reversal:       fmt.Sprintf("reversal %d", i),
			ProgressDelta:  "closer",
			NewInformation: "a clue",
			CostOrTradeoff: "a cost",
			CarryOverHook:  "a hook",
		})
	}
	return b
}

func testOutline() *entity.StoryOutline {
	o := &entity.StoryOutline{}
	for i := 1; i <= chapters; i++ {
		o.Chapters = append(o.Chapters, entity.OutlineChapter{
			Chapter:  i,
			Title:    fmt.Sprintf("Title %d", i),
			Subgoal:  fmt.Sprintf("subgoal %d", i),
			Reversal: fmt.Sprintf("reversal %d", i),
			Hook:     "a hook",
		})
	}
	return o
}

func testDraft() *entity.StoryDraft {
	d := &entity.StoryDraft{Title: "Beacon"}
	for i := 1; i <= chapters; i++ {
		d.Chapters = append(d.Chapters, entity.DraftChapter{
			Chapter: i,
			Title:   fmt.Sprintf("Title %d", i),
			Text:    fmt.Sprintf("Chapter %d begins at the harbor. avatarA and helperB look for the oil.", i),
		})
	}
	return d
}

func stateFor(chapter int) entity.WorldState {
	return entity.WorldState{
		Chapter:  chapter,
		Location: "Harbor",
		CharacterState: map[string]entity.CharacterState{
			"avatarA": {Status: entity.StatusOnStage, LastSeenChapter: chapter},
			"helperB": {Status: entity.StatusOnStage, LastSeenChapter: chapter},
		},
		Summary: "They search.",
	}
}

func report(score float64, tasks ...entity.PatchTask) *entity.SemanticCriticReport {
	return &entity.SemanticCriticReport{
		OverallScore:    score,
		DimensionScores: entity.DimensionScores{Craft: score, Narrative: score, ChildFit: score, Humor: score, Warmth: score},
		ReleaseReady:    true,
		Issues:          []entity.CriticIssue{},
		PatchTasks:      tasks,
	}
}

type harness struct {
	router      *porttest.StageRouter
	mu          sync.Mutex
	reports     []*entity.SemanticCriticReport
	criticCalls int
	surgeryText func(req *wfmodel.GenerationRequest) string
}

// newHarness 构造一个所有阶段都成功的路由；reports 按评审调用顺序返回，用尽后重复最后一份
func newHarness(t *testing.T, reports ...*entity.SemanticCriticReport) *harness {
	h := &harness{reports: reports}
	h.surgeryText = func(req *wfmodel.GenerationRequest) string {
		return fmt.Sprintf("Chapter %d was revised (%s) so the beacon scene feels warm and funny for everyone.",
			req.Correlation.Chapter, req.Correlation.Attempt)
	}
	h.router = porttest.NewStageRouter().
		On(stage.NameBible, func(*wfmodel.GenerationRequest) porttest.Step {
			return porttest.Reply(mustJSON(t, testBible()))
		}).
		On(stage.NameOutline, func(*wfmodel.GenerationRequest) porttest.Step {
			return porttest.Reply(mustJSON(t, testOutline()))
		}).
		On(stage.NameWorldState, func(req *wfmodel.GenerationRequest) porttest.Step {
			return porttest.Reply(mustJSON(t, stateFor(req.Correlation.Chapter)))
		}).
		On(stage.NameCritic, func(*wfmodel.GenerationRequest) porttest.Step {
			h.mu.Lock()
			defer h.mu.Unlock()
			idx := min(h.criticCalls, len(h.reports)-1)
			h.criticCalls++
			return porttest.Reply(mustJSON(t, h.reports[idx]))
		}).
		On(stage.NameSurgery, func(req *wfmodel.GenerationRequest) porttest.Step {
			return porttest.Reply(h.surgeryText(req))
		}).
		On(stage.NameExtraction, func(req *wfmodel.GenerationRequest) porttest.Step {
			return porttest.Reply(`{"setting": "Harbor", "characters": ["avatarA"], "action": "They search for oil.", "mood": "hopeful"}`)
		})
	return h
}

func (h *harness) controller(cfg Config, observer Observer) *Controller {
	params := storyutil.ModelParams{Temperature: 0.5, MaxOutputUnits: 1000}
	return NewController(Stages{
		Bible:      bible.NewGenerator(h.router, params),
		Outline:    outline.NewGenerator(h.router, params),
		WorldState: worldstate.NewTracker(h.router, params),
		Critic:     critic.NewCritic(h.router, params),
		Surgery:    surgery.NewEngine(h.router, params),
		Extraction: extraction.NewExtractor(h.router, params, extraction.Options{MaxRetries: 0, Concurrency: 2}),
	}, cfg, observer)
}

func testRunInput() Input {
	return Input{
		RunID:     "run-1",
		Request:   &entity.NormalizedRequest{StoryID: "s1", Language: "en", AgeRange: entity.AgeRange{Min: 5, Max: 8}, ChapterCount: chapters, CastIDs: []string{"c1", "c2"}},
		Blueprint: entity.Blueprint{ChapterCount: chapters, Theme: "courage"},
		Cast:      testCast,
		Directives: []entity.SceneDirective{
			{Chapter: 1, Setting: "Harbor", CharactersOnStage: []entity.StageSlot{{SlotKey: "a", Name: "avatarA"}}},
		},
		Drafter: SuppliedDrafter{Story: testDraft()},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnTransition(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

func defaultConfig() Config {
	return Config{TargetMinScore: 7.5, MaxQualityCycles: 2, MaxEdits: 3, HumorLevel: "medium"}
}

func TestRun_RevisesUntilTargetMet(t *testing.T) {
	h := newHarness(t,
		report(6.0, entity.PatchTask{Chapter: 2, Priority: 1, Objective: "Warmth", Instruction: "add a hug"}),
		report(8.2),
	)
	rec := &recorder{}

	res, err := h.controller(defaultConfig(), rec).Run(context.Background(), testRunInput())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Cycles)
	assert.Equal(t, [][]int{{2}}, res.Edited)
	assert.Equal(t, 8.2, res.Report.OverallScore)
	require.Len(t, res.Reports, 2)
	require.Len(t, res.WorldStates, chapters)
	require.Len(t, res.Scenes, chapters)
	assert.Equal(t, chapters, res.SceneSuccess)

	assert.Contains(t, res.Draft.Chapters[1].Text, "revised")
	assert.Equal(t, testDraft().Chapters[0].Text, res.Draft.Chapters[0].Text)
	assert.Equal(t, testDraft().Chapters[2].Text, res.Draft.Chapters[2].Text)

	assert.Equal(t, []State{
		StateBible, StateOutline, StateChapters, StateWorldStateChain,
		StateCritique, StateSurgery, StateCritique, StateDone,
	}, rec.states())

	// bible + outline + 3 world states + 2 critiques + 1 surgery + 3 extractions
	assert.Equal(t, 11, res.Usage.Calls)
	assert.Equal(t, 15, res.Usage.ByStage[stage.NameBible])
}

func TestRun_ZeroEditCycleEndsLoop(t *testing.T) {
	h := newHarness(t, report(5.0, entity.PatchTask{Chapter: 1, Priority: 1, Objective: "Pacing", Instruction: "tighten"}))
	h.surgeryText = func(*wfmodel.GenerationRequest) string { return "too short" }

	res, err := h.controller(defaultConfig(), nil).Run(context.Background(), testRunInput())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Cycles)
	assert.Equal(t, 1, h.router.Calls(stage.NameCritic))
	assert.Equal(t, 1, h.router.Calls(stage.NameSurgery))
	require.Len(t, res.SurgeryFailures, 1)
	assert.Equal(t, testDraft().Chapters[0].Text, res.Draft.Chapters[0].Text)
}

func TestRun_CycleBudgetBoundsRevisions(t *testing.T) {
	task := entity.PatchTask{Chapter: 3, Priority: 1, Objective: "Ending", Instruction: "land the beacon"}

	t.Run("zero cycles skips surgery", func(t *testing.T) {
		h := newHarness(t, report(5.0, task))
		cfg := defaultConfig()
		cfg.MaxQualityCycles = 0

		res, err := h.controller(cfg, nil).Run(context.Background(), testRunInput())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cycles)
		assert.Equal(t, 0, h.router.Calls(stage.NameSurgery))
		assert.Equal(t, 1, h.router.Calls(stage.NameCritic))
	})

	t.Run("budget exhausted below target", func(t *testing.T) {
		h := newHarness(t, report(5.0, task))
		res, err := h.controller(defaultConfig(), nil).Run(context.Background(), testRunInput())
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, 2, res.Cycles)
		assert.Equal(t, 2, h.router.Calls(stage.NameSurgery))
		assert.Equal(t, 3, h.router.Calls(stage.NameCritic))
		assert.Equal(t, 5.0, res.Report.OverallScore)
	})
}

func TestRun_CriticFallbackEndsLoopWithoutSurgery(t *testing.T) {
	h := newHarness(t, report(9))
	h.router.On(stage.NameCritic, func(*wfmodel.GenerationRequest) porttest.Step {
		return porttest.Reply("not a report")
	})

	res, err := h.controller(defaultConfig(), nil).Run(context.Background(), testRunInput())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Report.Fallback)
	assert.False(t, res.Report.ReleaseReady)
	assert.Equal(t, 0, h.router.Calls(stage.NameSurgery))
}

func TestRun_FatalStageFailsWithoutArtifacts(t *testing.T) {
	h := newHarness(t, report(9))
	h.router.On(stage.NameOutline, func(*wfmodel.GenerationRequest) porttest.Step {
		return porttest.Reply(`{"chapters": []}`)
	})
	rec := &recorder{}

	res, err := h.controller(defaultConfig(), rec).Run(context.Background(), testRunInput())
	require.Error(t, err)

	fatal, ok := stage.AsStageFatal(err)
	require.True(t, ok)
	assert.Equal(t, stage.NameOutline, fatal.Stage)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, stage.NameOutline, res.FailedStage)
	assert.Nil(t, res.Bible)
	assert.Nil(t, res.Outline)
	assert.Nil(t, res.Draft)
	assert.Equal(t, 2, h.router.Calls(stage.NameOutline))
	assert.Equal(t, 0, h.router.Calls(stage.NameWorldState))
	// 失败阶段的用量不计入
	assert.Equal(t, 1, res.Usage.Calls)

	states := rec.states()
	assert.Equal(t, StateFailed, states[len(states)-1])
	assert.Equal(t, StateOutline, rec.events[len(rec.events)-1].From)
}

func TestRun_DraftChapterCountMismatch(t *testing.T) {
	h := newHarness(t, report(9))
	in := testRunInput()
	short := testDraft()
	short.Chapters = short.Chapters[:2]
	in.Drafter = SuppliedDrafter{Story: short}

	res, err := h.controller(defaultConfig(), nil).Run(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, "chapters", res.FailedStage)
	assert.Contains(t, err.Error(), "draft must contain exactly 3 chapters (got 2)")
	assert.Equal(t, 0, h.router.Calls(stage.NameWorldState))
}

func TestRun_RejectsMissingInputs(t *testing.T) {
	h := newHarness(t, report(9))
	c := h.controller(defaultConfig(), nil)

	_, err := c.Run(context.Background(), Input{Drafter: SuppliedDrafter{}})
	assert.Error(t, err)

	in := testRunInput()
	in.Drafter = nil
	_, err = c.Run(context.Background(), in)
	assert.Error(t, err)
}
