package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/messaging"
	apperrors "z-novel-pipeline/pkg/errors"
	"z-novel-pipeline/pkg/logger"
)

// JobQueue 运行任务队列
type JobQueue interface {
	PublishPipelineJob(ctx context.Context, job *messaging.PipelineJobMessage) (string, error)
}

// ResultCache 已结束运行的读穿缓存
type ResultCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (any, bool, error)) ([]byte, error)
}

// Service 运行提交与查询
type Service struct {
	runs     repository.PipelineRunRepository
	queue    JobQueue
	cache    ResultCache
	cacheKey func(runID string) string
	cacheTTL time.Duration
}

// NewService 创建运行服务；cache 可为 nil
func NewService(runs repository.PipelineRunRepository, queue JobQueue, cache ResultCache, cacheKey func(string) string, cacheTTL time.Duration) *Service {
	return &Service{runs: runs, queue: queue, cache: cache, cacheKey: cacheKey, cacheTTL: cacheTTL}
}

// Submit 校验并持久化运行，随后投递任务。
// 幂等键命中时返回已有运行，created 为 false。
func (s *Service) Submit(ctx context.Context, sub *Submission) (run *entity.PipelineRun, created bool, err error) {
	if sub == nil {
		return nil, false, apperrors.ErrInvalidParam.WithDetail("submission is empty")
	}
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}

	if sub.IdempotencyKey != "" {
		existing, err := s.runs.GetByIdempotencyKey(ctx, sub.IdempotencyKey)
		if err != nil {
			return nil, false, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to check idempotency key")
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode submission")
	}
	run = entity.NewPipelineRun(uuid.NewString(), sub.Request.StoryID, raw)
	run.IdempotencyKey = sub.IdempotencyKey
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create pipeline run")
	}

	ctx = logger.WithRunContext(ctx, run.ID, run.StoryID)
	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	if _, err := s.queue.PublishPipelineJob(ctx, &messaging.PipelineJobMessage{
		RunID:     run.ID,
		StoryID:   run.StoryID,
		RequestID: requestID,
	}); err != nil {
		logger.Error(ctx, "failed to enqueue pipeline run", err)
		run.Fail(fmt.Sprintf("enqueue failed: %v", err))
		if uerr := s.runs.Update(ctx, run); uerr != nil {
			logger.Error(ctx, "failed to mark run as failed", uerr)
		}
		return nil, false, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue pipeline run")
	}

	logger.Info(ctx, "pipeline run submitted", "chapters", sub.Blueprint.ChapterCount)
	return run, true, nil
}

var errRunMissing = errors.New("run missing")

// Get 查询运行；已结束的运行经由缓存读取
func (s *Service) Get(ctx context.Context, id string) (*entity.PipelineRun, error) {
	if s.cache == nil {
		return s.load(ctx, id)
	}

	raw, err := s.cache.GetOrLoad(ctx, s.cacheKey(id), s.cacheTTL, func(ctx context.Context) (any, bool, error) {
		run, err := s.runs.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if run == nil {
			return nil, false, errRunMissing
		}
		return run, run.Finished(), nil
	})
	if err != nil {
		if errors.Is(err, errRunMissing) {
			return nil, apperrors.ErrRunNotFound
		}
		logger.Warn(ctx, "run cache unavailable, reading from database", "error", err.Error())
		return s.load(ctx, id)
	}

	var run entity.PipelineRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return s.load(ctx, id)
	}
	return &run, nil
}

func (s *Service) load(ctx context.Context, id string) (*entity.PipelineRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get pipeline run")
	}
	if run == nil {
		return nil, apperrors.ErrRunNotFound
	}
	return run, nil
}

// List 分页查询运行
func (s *Service) List(ctx context.Context, filter *repository.PipelineRunFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.PipelineRun], error) {
	result, err := s.runs.List(ctx, filter, pagination)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list pipeline runs")
	}
	return result, nil
}
