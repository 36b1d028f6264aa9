package stage

// 流水线阶段名，同时用于日志、指标标签与遥测关联
const (
	NameBible      = "bible"
	NameOutline    = "outline"
	NameWorldState = "world_state"
	NameCritic     = "critic"
	NameSurgery    = "surgery"
	NameExtraction = "extraction"
)
