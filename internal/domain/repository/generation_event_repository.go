package repository

import (
	"context"

	"z-novel-pipeline/internal/domain/entity"
)

// GenerationEventRepository 生成调用镜像仓储接口
type GenerationEventRepository interface {
	// CreateBatch 批量写入
	CreateBatch(ctx context.Context, events []*entity.GenerationEvent) error

	// ListByRun 查询一次运行的全部调用
	ListByRun(ctx context.Context, runID string) ([]*entity.GenerationEvent, error)
}
