package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/messaging"
	"z-novel-pipeline/pkg/logger"
)

// 后端名称
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLog      = "log"
)

// RepositoryWriter 写入 generation_events 表
type RepositoryWriter struct {
	repo repository.GenerationEventRepository
}

// NewRepositoryWriter 创建数据库后端
func NewRepositoryWriter(repo repository.GenerationEventRepository) *RepositoryWriter {
	return &RepositoryWriter{repo: repo}
}

// Write 实现 Writer
func (w *RepositoryWriter) Write(ctx context.Context, events []*entity.GenerationEvent) error {
	return w.repo.CreateBatch(ctx, events)
}

// StreamPublisher Redis Stream 发布能力
type StreamPublisher interface {
	Publish(ctx context.Context, stream messaging.Stream, msg *messaging.Message) (string, error)
}

// StreamWriter 逐条写入遥测流
type StreamWriter struct {
	publisher StreamPublisher
}

// NewStreamWriter 创建 Redis Stream 后端
func NewStreamWriter(publisher StreamPublisher) *StreamWriter {
	return &StreamWriter{publisher: publisher}
}

// Write 实现 Writer；单条失败不影响其余事件
func (w *StreamWriter) Write(ctx context.Context, events []*entity.GenerationEvent) error {
	var errs []error
	for _, ev := range events {
		msg, err := messaging.NewMessage(ev.ID, messaging.TypeTelemetry, ev.RunID, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msg.SetMetadata("source", ev.Source)
		msg.SetMetadata("stage", ev.Stage)
		if _, err := w.publisher.Publish(ctx, messaging.StreamTelemetry, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogWriter 以结构化日志输出
type LogWriter struct{}

// Write 实现 Writer
func (LogWriter) Write(ctx context.Context, events []*entity.GenerationEvent) error {
	for _, ev := range events {
		args := []any{
			"source", ev.Source,
			"run_id", ev.RunID,
			"stage", ev.Stage,
			"chapter", ev.Chapter,
			"model", ev.Model,
			"duration_ms", ev.DurationMs,
		}
		if ev.ErrorMessage != "" {
			args = append(args, "error", ev.ErrorMessage)
		}
		logger.Info(ctx, "generation call", args...)
	}
	return nil
}

// NewWriter 按名称选择后端；所需依赖缺失时返回错误
func NewWriter(backend string, repo repository.GenerationEventRepository, publisher StreamPublisher) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendRedis:
		if publisher == nil {
			return nil, errors.New("telemetry backend redis requires a stream publisher")
		}
		return NewStreamWriter(publisher), nil
	case BackendPostgres:
		if repo == nil {
			return nil, errors.New("telemetry backend postgres requires a repository")
		}
		return NewRepositoryWriter(repo), nil
	case BackendLog, "":
		return LogWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", backend)
	}
}
