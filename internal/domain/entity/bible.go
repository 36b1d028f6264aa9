package entity

// StoryBible 全书主线契约
type StoryBible struct {
	CoreGoal             string              `json:"coreGoal"`
	CoreProblem          string              `json:"coreProblem"`
	Stakes               string              `json:"stakes"`
	Promise              string              `json:"promise"`
	MysteryOrQuestion    string              `json:"mysteryOrQuestion"`
	ChapterArcs          []ChapterArc        `json:"chapterArcs"`
	CharacterMotivations map[string]string   `json:"characterMotivations"`
	EntryContracts       map[string]Contract `json:"entryContracts"`
	ExitContracts        map[string]Contract `json:"exitContracts,omitempty"`
	ArtifactArc          ArtifactArc         `json:"artifactArc"`
}

// ChapterArc 单章弧线
type ChapterArc struct {
	Chapter        int    `json:"chapter"`
	Subgoal        string `json:"subgoal"`
	Reversal       string `json:"reversal"`
	ProgressDelta  string `json:"progressDelta"`
	NewInformation string `json:"newInformation"`
	CostOrTradeoff string `json:"costOrTradeoff"`
	CarryOverHook  string `json:"carryOverHook"`
}

// Contract 角色登场/退场契约
type Contract struct {
	Chapter     int    `json:"chapter"`
	Reason      string `json:"reason"`
	AllowReturn *bool  `json:"allowReturn,omitempty"`
}

// ArtifactArc 关键道具的三段弧线：引入 ≤ 尝试 ≤ 决定
type ArtifactArc struct {
	Name             string `json:"name,omitempty"`
	IntroduceChapter int    `json:"introduceChapter"`
	AttemptChapter   int    `json:"attemptChapter"`
	DecisiveChapter  int    `json:"decisiveChapter"`
}

// ArcFor 返回指定章节（1-based）的弧线
func (b *StoryBible) ArcFor(chapter int) (ChapterArc, bool) {
	if b == nil || chapter < 1 || chapter > len(b.ChapterArcs) {
		return ChapterArc{}, false
	}
	return b.ChapterArcs[chapter-1], true
}
