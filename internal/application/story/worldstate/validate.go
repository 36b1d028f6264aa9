package worldstate

import (
	"sort"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/workflow/stage"
)

// Validate 校验单章快照。只检查已给出的角色条目；
// 遗漏的角色不算错误，由 Reconcile 补为 offStage。
func Validate(ws *entity.WorldState, chapter int) []string {
	var is stage.Issues
	if ws == nil {
		is.Addf("worldState is missing")
		return is
	}
	if ws.Chapter != chapter {
		is.Addf("chapter must be %d (got %d)", chapter, ws.Chapter)
	}
	is.RequireText("location", ws.Location)

	names := make([]string, 0, len(ws.CharacterState))
	for name := range ws.CharacterState {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := ws.CharacterState[name]
		if !st.Status.Valid() {
			is.Addf("characterState.%s.status must be one of onStage, offStage, left (got %q)", name, st.Status)
		}
		if st.LastSeenChapter < 0 || st.LastSeenChapter > chapter {
			is.Addf("characterState.%s.lastSeenChapter must be within 0..%d (got %d)", name, chapter, st.LastSeenChapter)
		}
	}
	return is
}
