package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const latestField = "_latest"

// CheckpointStore 按运行保存每个状态产出的阶段产物（Hash：状态 → JSON）
type CheckpointStore struct {
	client *Client
	ttl    time.Duration
}

// NewCheckpointStore 创建检查点存储
func NewCheckpointStore(client *Client, ttl time.Duration) *CheckpointStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CheckpointStore{client: client, ttl: ttl}
}

func checkpointKey(runID string) string {
	return "run:" + runID + ":checkpoint"
}

// Save 记录 state 阶段产出的产物并将其标为最新；artifact 为 nil 时仅更新最新状态
func (s *CheckpointStore) Save(ctx context.Context, runID, state string, artifact any) error {
	ctx, span := tracer.Start(ctx, "checkpoint.Save",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("pipeline.state", state),
		))
	defer span.End()

	values := map[string]any{latestField: state}
	if artifact != nil {
		raw, err := json.Marshal(artifact)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		values[state] = raw
	}

	key := checkpointKey(runID)
	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Checkpoint 一次运行的检查点快照
type Checkpoint struct {
	Latest    string                     `json:"latest"`
	Artifacts map[string]json.RawMessage `json:"artifacts"`
}

// Load 读取检查点；不存在时返回 nil, nil
func (s *CheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Load",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	fields, err := s.client.rdb.HGetAll(ctx, checkpointKey(runID)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cp := &Checkpoint{Latest: fields[latestField], Artifacts: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		if k == latestField {
			continue
		}
		cp.Artifacts[k] = json.RawMessage(v)
	}
	return cp, nil
}

// Delete 删除运行的全部检查点；运行进入 FAILED 时调用
func (s *CheckpointStore) Delete(ctx context.Context, runID string) error {
	ctx, span := tracer.Start(ctx, "checkpoint.Delete",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if err := s.client.rdb.Del(ctx, checkpointKey(runID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
