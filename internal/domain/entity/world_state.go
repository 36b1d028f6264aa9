package entity

// CharacterStatus 角色在场状态
type CharacterStatus string

const (
	StatusOnStage  CharacterStatus = "onStage"
	StatusOffStage CharacterStatus = "offStage"
	StatusLeft     CharacterStatus = "left"
)

// Valid 是否为合法状态
func (s CharacterStatus) Valid() bool {
	switch s {
	case StatusOnStage, StatusOffStage, StatusLeft:
		return true
	default:
		return false
	}
}

// CharacterState 单个角色的连续性快照
type CharacterState struct {
	Status           CharacterStatus `json:"status"`
	LastSeenChapter  int             `json:"lastSeenChapter"`
	ReasonIfOffStage string          `json:"reasonIfOffStage,omitempty"`
}

// WorldState 每章结束时的连续性快照
type WorldState struct {
	Chapter        int                       `json:"chapter"`
	Location       string                    `json:"location"`
	TimeOfDay      string                    `json:"timeOfDay"`
	Inventory      []string                  `json:"inventory"`
	ArtifactState  string                    `json:"artifactState,omitempty"`
	CharacterState map[string]CharacterState `json:"characterState"`
	OpenLoops      []string                  `json:"openLoops"`
	ResolvedLoops  []string                  `json:"resolvedLoops"`
	Summary        string                    `json:"summary"`
}

// Clone 深拷贝
func (w *WorldState) Clone() *WorldState {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Inventory = append([]string(nil), w.Inventory...)
	cp.OpenLoops = append([]string(nil), w.OpenLoops...)
	cp.ResolvedLoops = append([]string(nil), w.ResolvedLoops...)
	cp.CharacterState = make(map[string]CharacterState, len(w.CharacterState))
	for k, v := range w.CharacterState {
		cp.CharacterState[k] = v
	}
	return &cp
}

// OnStageNames 返回当前在场角色
func (w *WorldState) OnStageNames() []string {
	if w == nil {
		return nil
	}
	var out []string
	for name, st := range w.CharacterState {
		if st.Status == StatusOnStage {
			out = append(out, name)
		}
	}
	return out
}
