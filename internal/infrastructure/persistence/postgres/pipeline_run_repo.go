package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
)

// PipelineRunRepository 流水线运行仓储实现
type PipelineRunRepository struct {
	client *Client
}

// NewPipelineRunRepository 创建运行仓储
func NewPipelineRunRepository(client *Client) *PipelineRunRepository {
	return &PipelineRunRepository{client: client}
}

// Create 创建运行记录
func (r *PipelineRunRepository) Create(ctx context.Context, run *entity.PipelineRun) error {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取运行
func (r *PipelineRunRepository) GetByID(ctx context.Context, id string) (*entity.PipelineRun, error) {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.GetByID")
	defer span.End()

	return r.first(ctx, "id = ?", id)
}

// GetByIdempotencyKey 根据幂等键获取运行
func (r *PipelineRunRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entity.PipelineRun, error) {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.GetByIdempotencyKey")
	defer span.End()

	return r.first(ctx, "idempotency_key = ?", key)
}

func (r *PipelineRunRepository) first(ctx context.Context, query string, arg any) (*entity.PipelineRun, error) {
	var run entity.PipelineRun
	if err := getDB(ctx, r.client.db).First(&run, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	return &run, nil
}

// Update 更新运行记录
func (r *PipelineRunRepository) Update(ctx context.Context, run *entity.PipelineRun) error {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.Update")
	defer span.End()

	if err := getDB(ctx, r.client.db).Save(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update pipeline run: %w", err)
	}
	return nil
}

// UpdateState 更新状态机当前状态
func (r *PipelineRunRepository) UpdateState(ctx context.Context, id string, state string) error {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.UpdateState")
	defer span.End()

	err := getDB(ctx, r.client.db).Model(&entity.PipelineRun{}).
		Where("id = ?", id).
		Update("state", state).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update pipeline run state: %w", err)
	}
	return nil
}

// List 分页查询
func (r *PipelineRunRepository) List(ctx context.Context, filter *repository.PipelineRunFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.PipelineRun], error) {
	ctx, span := tracer.Start(ctx, "postgres.PipelineRunRepository.List")
	defer span.End()

	query := getDB(ctx, r.client.db).Model(&entity.PipelineRun{})
	if filter != nil {
		if filter.StoryID != "" {
			query = query.Where("story_id = ?", filter.StoryID)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count pipeline runs: %w", err)
	}

	var runs []*entity.PipelineRun
	err := query.Omit("output_result").
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&runs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list pipeline runs: %w", err)
	}
	return repository.NewPagedResult(runs, total, pagination), nil
}
