package repository

import (
	"context"

	"z-novel-pipeline/internal/domain/entity"
)

// PipelineRunFilter 运行过滤条件
type PipelineRunFilter struct {
	StoryID string
	Status  entity.RunStatus
}

// PipelineRunRepository 流水线运行仓储接口
type PipelineRunRepository interface {
	// Create 创建运行记录
	Create(ctx context.Context, run *entity.PipelineRun) error

	// GetByID 根据 ID 获取运行；不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.PipelineRun, error)

	// GetByIdempotencyKey 根据幂等键获取运行
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.PipelineRun, error)

	// Update 更新运行记录
	Update(ctx context.Context, run *entity.PipelineRun) error

	// UpdateState 更新状态机当前状态
	UpdateState(ctx context.Context, id string, state string) error

	// List 分页查询
	List(ctx context.Context, filter *PipelineRunFilter, pagination Pagination) (*PagedResult[*entity.PipelineRun], error)
}
