package entity

// SceneDirective 外部提供的单章场景指令（只读）
type SceneDirective struct {
	Chapter           int         `json:"chapter"`
	Setting           string      `json:"setting"`
	CharactersOnStage []StageSlot `json:"charactersOnStage"`
	Goal              string      `json:"goal"`
	Conflict          string      `json:"conflict"`
	Outcome           string      `json:"outcome"`
	ArtifactUsage     string      `json:"artifactUsage,omitempty"`
	ContinuityMusts   []string    `json:"continuityMusts,omitempty"`
}

// StageSlot 将角色绑定到场景中的一个位置；SlotKey 对本核心不透明
type StageSlot struct {
	SlotKey string `json:"slotKey"`
	Name    string `json:"name"`
}

// DirectiveFor 在指令列表中查找指定章节
func DirectiveFor(directives []SceneDirective, chapter int) (SceneDirective, bool) {
	for _, d := range directives {
		if d.Chapter == chapter {
			return d, true
		}
	}
	return SceneDirective{}, false
}
