package entity

// StoryOutline 章节大纲，与 Bible 的章节弧线一一对应
type StoryOutline struct {
	Chapters []OutlineChapter `json:"chapters"`
}

// OutlineChapter 单章大纲
type OutlineChapter struct {
	Chapter      int    `json:"chapter"`
	Title        string `json:"title"`
	Subgoal      string `json:"subgoal"`
	Reversal     string `json:"reversal"`
	Hook         string `json:"hook"`
	EntryNotes   string `json:"entryNotes,omitempty"`
	ExitNotes    string `json:"exitNotes,omitempty"`
	ArtifactBeat string `json:"artifactBeat,omitempty"`
}
