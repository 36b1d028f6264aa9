package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"z-novel-pipeline/internal/domain/entity"
)

// WorldStateRepository 连续性快照仓储实现
type WorldStateRepository struct {
	client *Client
}

// NewWorldStateRepository 创建快照仓储
func NewWorldStateRepository(client *Client) *WorldStateRepository {
	return &WorldStateRepository{client: client}
}

// SaveChain 保存一次运行的全部快照，(run_id, chapter) 冲突时覆盖
func (r *WorldStateRepository) SaveChain(ctx context.Context, runID string, states []*entity.WorldState) error {
	if len(states) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "postgres.WorldStateRepository.SaveChain")
	defer span.End()

	rows := make([]*entity.WorldStateSnapshot, 0, len(states))
	for _, ws := range states {
		snap, err := entity.NewWorldStateSnapshot(runID, ws)
		if err != nil {
			return fmt.Errorf("failed to encode world state for chapter %d: %w", ws.Chapter, err)
		}
		rows = append(rows, snap)
	}

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "chapter"}},
		DoUpdates: clause.AssignmentColumns([]string{"location", "on_stage", "open_loops", "resolved_loops", "state"}),
	}).Create(&rows).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save world states: %w", err)
	}
	return nil
}

// ListByRun 按章节顺序返回快照
func (r *WorldStateRepository) ListByRun(ctx context.Context, runID string) ([]*entity.WorldStateSnapshot, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldStateRepository.ListByRun")
	defer span.End()

	var rows []*entity.WorldStateSnapshot
	if err := getDB(ctx, r.client.db).Where("run_id = ?", runID).Order("chapter ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world states: %w", err)
	}
	return rows, nil
}
