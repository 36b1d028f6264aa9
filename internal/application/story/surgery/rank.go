package surgery

import (
	"sort"

	"z-novel-pipeline/internal/domain/entity"
)

const (
	DefaultMaxEdits = 3
	MaxEditsCeiling = 5
)

// ChapterRank 单章的修订任务分组
type ChapterRank struct {
	Chapter     int
	MinPriority int
	Tasks       []entity.PatchTask
}

// ClampMaxEdits 收敛到 [1,5]，非正数取默认值
func ClampMaxEdits(n int) int {
	if n <= 0 {
		return DefaultMaxEdits
	}
	return min(n, MaxEditsCeiling)
}

// RankChapters 按章节分组并排序：最小优先级升序，任务数降序，章节号升序；取前 maxEdits 章
func RankChapters(tasks []entity.PatchTask, maxEdits int) []ChapterRank {
	groups := make(map[int]*ChapterRank)
	order := make([]int, 0)
	for _, t := range tasks {
		if t.Chapter < 1 {
			continue
		}
		g, ok := groups[t.Chapter]
		if !ok {
			g = &ChapterRank{Chapter: t.Chapter, MinPriority: t.Priority}
			groups[t.Chapter] = g
			order = append(order, t.Chapter)
		}
		g.Tasks = append(g.Tasks, t)
		if t.Priority < g.MinPriority {
			g.MinPriority = t.Priority
		}
	}

	ranked := make([]ChapterRank, 0, len(order))
	for _, ch := range order {
		g := groups[ch]
		sort.SliceStable(g.Tasks, func(i, j int) bool { return g.Tasks[i].Priority < g.Tasks[j].Priority })
		ranked = append(ranked, *g)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.MinPriority != b.MinPriority {
			return a.MinPriority < b.MinPriority
		}
		if len(a.Tasks) != len(b.Tasks) {
			return len(a.Tasks) > len(b.Tasks)
		}
		return a.Chapter < b.Chapter
	})

	if limit := ClampMaxEdits(maxEdits); len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
