package postgres

import (
	"context"
	"fmt"

	"z-novel-pipeline/internal/domain/entity"
)

const eventBatchSize = 100

// GenerationEventRepository 生成调用镜像仓储实现
type GenerationEventRepository struct {
	client *Client
}

// NewGenerationEventRepository 创建调用镜像仓储
func NewGenerationEventRepository(client *Client) *GenerationEventRepository {
	return &GenerationEventRepository{client: client}
}

// CreateBatch 批量写入
func (r *GenerationEventRepository) CreateBatch(ctx context.Context, events []*entity.GenerationEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "postgres.GenerationEventRepository.CreateBatch")
	defer span.End()

	if err := getDB(ctx, r.client.db).CreateInBatches(events, eventBatchSize).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create generation events: %w", err)
	}
	return nil
}

// ListByRun 查询一次运行的全部调用
func (r *GenerationEventRepository) ListByRun(ctx context.Context, runID string) ([]*entity.GenerationEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.GenerationEventRepository.ListByRun")
	defer span.End()

	var events []*entity.GenerationEvent
	if err := getDB(ctx, r.client.db).Where("run_id = ?", runID).Order("timestamp ASC").Find(&events).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list generation events: %w", err)
	}
	return events, nil
}
