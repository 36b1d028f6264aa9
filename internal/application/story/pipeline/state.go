// Package pipeline 串联各阶段的叙事一致性流水线状态机
package pipeline

import (
	"context"
	"errors"
	"time"

	"z-novel-pipeline/internal/domain/entity"
)

// State 流水线状态
type State string

const (
	StateInit            State = "INIT"
	StateBible           State = "BIBLE"
	StateOutline         State = "OUTLINE"
	StateChapters        State = "CHAPTERS"
	StateWorldStateChain State = "WORLDSTATE_CHAIN"
	StateCritique        State = "CRITIQUE"
	StateSurgery         State = "SURGERY"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event 状态迁移事件；Artifact 为离开 From 状态时产出的产物（可能为 nil）
type Event struct {
	RunID    string
	From     State
	To       State
	Cycle    int
	Artifact any
	Err      error
	At       time.Time
}

// Observer 接收状态迁移（用于检查点与运行状态持久化）；实现不得阻塞过久
type Observer interface {
	OnTransition(ctx context.Context, ev Event)
}

// ObserverFunc 函数适配器
type ObserverFunc func(ctx context.Context, ev Event)

// OnTransition 实现 Observer
func (f ObserverFunc) OnTransition(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// DraftInput 章节起草输入
type DraftInput struct {
	Request    *entity.NormalizedRequest
	Bible      *entity.StoryBible
	Outline    *entity.StoryOutline
	Cast       entity.CastSet
	Directives []entity.SceneDirective
}

// ChapterDrafter 章节正文起草（外部协作方）
type ChapterDrafter interface {
	Draft(ctx context.Context, in DraftInput) (*entity.StoryDraft, error)
}

// SuppliedDrafter 直接返回调用方提交的草稿
type SuppliedDrafter struct {
	Story *entity.StoryDraft
}

// Draft 实现 ChapterDrafter
func (d SuppliedDrafter) Draft(_ context.Context, in DraftInput) (*entity.StoryDraft, error) {
	if d.Story == nil || len(d.Story.Chapters) == 0 {
		return nil, errors.New("no drafted chapters supplied")
	}
	return d.Story.Clone(), nil
}
