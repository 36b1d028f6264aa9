package repository

import (
	"context"

	"z-novel-pipeline/internal/domain/entity"
)

// WorldStateRepository 连续性快照仓储接口
type WorldStateRepository interface {
	// SaveChain 保存一次运行的全部快照（覆盖已有同章快照）
	SaveChain(ctx context.Context, runID string, states []*entity.WorldState) error

	// ListByRun 按章节顺序返回快照
	ListByRun(ctx context.Context, runID string) ([]*entity.WorldStateSnapshot, error)
}
