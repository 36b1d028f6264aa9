package worldstate

import (
	"sort"
	"strings"

	"z-novel-pipeline/internal/domain/entity"
)

const (
	ReasonNotIntroduced = "not introduced"
	ReasonNotMentioned  = "not mentioned"
)

// InitialState 合成第 0 章状态：所有角色未登场，地点取首个场景指令
func InitialState(cast entity.CastSet, directives []entity.SceneDirective, bible *entity.StoryBible) *entity.WorldState {
	ws := &entity.WorldState{
		Chapter:        0,
		Inventory:      []string{},
		CharacterState: make(map[string]entity.CharacterState, len(cast)),
		OpenLoops:      []string{},
		ResolvedLoops:  []string{},
		Summary:        "The story has not started yet.",
	}
	if first, ok := firstDirective(directives); ok {
		ws.Location = strings.TrimSpace(first.Setting)
	}
	for _, m := range cast {
		ws.CharacterState[m.Name] = entity.CharacterState{
			Status:           entity.StatusOffStage,
			LastSeenChapter:  0,
			ReasonIfOffStage: ReasonNotIntroduced,
		}
	}
	if bible != nil {
		if q := strings.TrimSpace(bible.MysteryOrQuestion); q != "" {
			ws.OpenLoops = append(ws.OpenLoops, q)
		}
	}
	return ws
}

func firstDirective(directives []entity.SceneDirective) (entity.SceneDirective, bool) {
	if len(directives) == 0 {
		return entity.SceneDirective{}, false
	}
	sorted := append([]entity.SceneDirective(nil), directives...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Chapter < sorted[j].Chapter })
	return sorted[0], true
}

// Reconcile 对模型提议做权威修正，返回新快照（不修改入参）：
// 遗漏的角色补为 offStage；场景指令中的在场角色强制为 onStage 且 lastSeenChapter 为本章。
// 指令未提及的角色保持模型提议不变。
func Reconcile(proposed, prev *entity.WorldState, directive entity.SceneDirective, cast entity.CastSet) *entity.WorldState {
	ws := proposed.Clone()
	if ws == nil {
		ws = &entity.WorldState{}
	}
	if ws.CharacterState == nil {
		ws.CharacterState = make(map[string]entity.CharacterState)
	}
	if ws.Inventory == nil {
		ws.Inventory = []string{}
	}
	if ws.OpenLoops == nil {
		ws.OpenLoops = []string{}
	}
	if ws.ResolvedLoops == nil {
		ws.ResolvedLoops = []string{}
	}

	for _, m := range cast {
		if _, ok := ws.CharacterState[m.Name]; ok {
			continue
		}
		lastSeen := 0
		if prev != nil {
			lastSeen = prev.CharacterState[m.Name].LastSeenChapter
		}
		ws.CharacterState[m.Name] = entity.CharacterState{
			Status:           entity.StatusOffStage,
			LastSeenChapter:  lastSeen,
			ReasonIfOffStage: ReasonNotMentioned,
		}
	}

	chapter := directive.Chapter
	if chapter == 0 {
		chapter = ws.Chapter
	}
	for _, slot := range directive.CharactersOnStage {
		name := strings.TrimSpace(slot.Name)
		if name == "" {
			continue
		}
		ws.CharacterState[name] = entity.CharacterState{
			Status:          entity.StatusOnStage,
			LastSeenChapter: chapter,
		}
	}
	return ws
}
