package bible

import (
	"fmt"
	"sort"
	"strings"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/workflow/stage"
)

// MaxEntryChapter 非客串角色最晚登场章节
const MaxEntryChapter = 2

// Validate 校验 StoryBible；返回空切片表示通过
func Validate(b *entity.StoryBible, chapterCount int, cast entity.CastSet) []string {
	var is stage.Issues
	if b == nil {
		is.Addf("storyBible is missing")
		return is
	}

	is.RequireText("coreGoal", b.CoreGoal)
	is.RequireText("coreProblem", b.CoreProblem)
	is.RequireText("stakes", b.Stakes)
	is.RequireText("promise", b.Promise)
	if strings.TrimSpace(b.MysteryOrQuestion) != "" {
		is.RequireText("mysteryOrQuestion", b.MysteryOrQuestion)
	}

	validateArcs(&is, b.ChapterArcs, chapterCount)
	validateCast(&is, b, chapterCount, cast)
	validateArtifactArc(&is, b.ArtifactArc, chapterCount)
	return is
}

func validateArcs(is *stage.Issues, arcs []entity.ChapterArc, n int) {
	if len(arcs) != n {
		is.Addf("chapterArcs must contain exactly %d entries (got %d)", n, len(arcs))
	}
	for i, arc := range arcs {
		path := fmt.Sprintf("chapterArcs[%d]", i)
		if arc.Chapter != i+1 {
			is.Addf("%s.chapter must be %d (got %d)", path, i+1, arc.Chapter)
		}
		is.RequireText(path+".subgoal", arc.Subgoal)
		is.RequireText(path+".reversal", arc.Reversal)
		is.RequireText(path+".progressDelta", arc.ProgressDelta)
		is.RequireText(path+".newInformation", arc.NewInformation)
		is.RequireText(path+".costOrTradeoff", arc.CostOrTradeoff)
		is.RequireText(path+".carryOverHook", arc.CarryOverHook)
	}
}

func validateCast(is *stage.Issues, b *entity.StoryBible, n int, cast entity.CastSet) {
	for _, m := range cast {
		if motivation, ok := b.CharacterMotivations[m.Name]; !ok {
			is.Addf("Missing characterMotivation for %s", m.Name)
		} else {
			is.RequireText("characterMotivations."+m.Name, motivation)
		}

		contract, ok := b.EntryContracts[m.Name]
		if !ok {
			is.Addf("Missing entryContract for %s", m.Name)
			continue
		}
		if contract.Chapter < 1 || contract.Chapter > n {
			is.Addf("entryContract for %s must be within chapters 1..%d (got %d)", m.Name, n, contract.Chapter)
		}
		if !m.IsCameo() && contract.Chapter > MaxEntryChapter {
			is.Addf("entryContract for %s must be chapter <= %d (role %s)", m.Name, MaxEntryChapter, roleLabel(m.Role))
		}
		is.RequireText("entryContracts."+m.Name+".reason", contract.Reason)
	}

	for _, name := range unknownNames(b.EntryContracts, cast) {
		is.Addf("entryContract references unknown character %s", name)
	}
	for _, name := range unknownNames(b.ExitContracts, cast) {
		is.Addf("exitContract references unknown character %s", name)
	}
	for _, name := range sortedKeys(b.ExitContracts) {
		c := b.ExitContracts[name]
		if c.Chapter < 1 || c.Chapter > n {
			is.Addf("exitContract for %s must be within chapters 1..%d (got %d)", name, n, c.Chapter)
		}
	}
}

func validateArtifactArc(is *stage.Issues, a entity.ArtifactArc, n int) {
	in := func(c int) bool { return c >= 1 && c <= n }
	if !in(a.IntroduceChapter) || !in(a.AttemptChapter) || !in(a.DecisiveChapter) {
		is.Addf("artifactArc chapters must be within 1..%d (got %d/%d/%d)", n,
			a.IntroduceChapter, a.AttemptChapter, a.DecisiveChapter)
	}
	if a.IntroduceChapter > a.AttemptChapter || a.AttemptChapter > a.DecisiveChapter {
		is.Addf("artifactArc must satisfy introduceChapter <= attemptChapter <= decisiveChapter")
	}
}

func unknownNames(contracts map[string]entity.Contract, cast entity.CastSet) []string {
	var out []string
	for _, name := range sortedKeys(contracts) {
		if _, ok := cast.ByName(name); !ok {
			out = append(out, name)
		}
	}
	return out
}

func sortedKeys(m map[string]entity.Contract) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func roleLabel(role string) string {
	if r := strings.TrimSpace(role); r != "" {
		return r
	}
	return "unspecified"
}
