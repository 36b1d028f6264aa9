package entity

import "strings"

// StoryDraft 上游生成的草稿；结构与章节数不可变，仅章节正文可被定向修订替换
type StoryDraft struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Chapters    []DraftChapter `json:"chapters"`
}

// DraftChapter 草稿章节
type DraftChapter struct {
	Chapter int    `json:"chapter"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// Clone 深拷贝
func (d *StoryDraft) Clone() *StoryDraft {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Chapters = append([]DraftChapter(nil), d.Chapters...)
	return &cp
}

// IndexOf 返回章节号在数组中的下标，不存在时返回 -1
func (d *StoryDraft) IndexOf(chapter int) int {
	if d == nil {
		return -1
	}
	for i, ch := range d.Chapters {
		if ch.Chapter == chapter {
			return i
		}
	}
	return -1
}

// WordCount 全文词数
func (d *StoryDraft) WordCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, ch := range d.Chapters {
		n += len(strings.Fields(ch.Text))
	}
	return n
}
