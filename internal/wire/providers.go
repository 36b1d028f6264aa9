// Package wire 组装 API 与 worker 两个进程的依赖
package wire

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	apprun "z-novel-pipeline/internal/application/run"
	"z-novel-pipeline/internal/application/story/bible"
	"z-novel-pipeline/internal/application/story/critic"
	"z-novel-pipeline/internal/application/story/extraction"
	"z-novel-pipeline/internal/application/story/outline"
	"z-novel-pipeline/internal/application/story/pipeline"
	"z-novel-pipeline/internal/application/story/storyutil"
	"z-novel-pipeline/internal/application/story/surgery"
	"z-novel-pipeline/internal/application/story/worldstate"
	"z-novel-pipeline/internal/config"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/domain/service"
	"z-novel-pipeline/internal/infrastructure/llm"
	"z-novel-pipeline/internal/infrastructure/messaging"
	"z-novel-pipeline/internal/infrastructure/persistence/postgres"
	"z-novel-pipeline/internal/infrastructure/persistence/redis"
	"z-novel-pipeline/internal/infrastructure/telemetry"
	"z-novel-pipeline/internal/interfaces/http/handler"
	"z-novel-pipeline/internal/workflow/chain"
	workflowport "z-novel-pipeline/internal/workflow/port"
	"z-novel-pipeline/pkg/logger"
)

// WorkerApp worker 进程依赖容器
type WorkerApp struct {
	Worker   *apprun.Worker
	Ingestor *telemetry.Ingestor
	Redis    *redis.Client
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideCheckpointStore 提供检查点存储
func ProvideCheckpointStore(client *redis.Client, cfg *config.Config) *redis.CheckpointStore {
	return redis.NewCheckpointStore(client, cfg.Cache.CheckpointTTL)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvideRunService 提供运行服务
func ProvideRunService(runs repository.PipelineRunRepository, queue apprun.JobQueue, cache apprun.ResultCache, cfg *config.Config) *apprun.Service {
	return apprun.NewService(runs, queue, cache, redis.RunResultKey, cfg.Cache.ResultTTL)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, redisClient *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg.App.Version, map[string]handler.HealthChecker{
		"postgres": pg,
		"redis":    redisClient,
	})
}

// ProvideTelemetrySink 提供生成调用镜像 sink；关闭时在 DrainTimeout 内排空缓冲
func ProvideTelemetrySink(cfg *config.Config, events repository.GenerationEventRepository, producer *messaging.Producer) (service.TelemetrySink, func(), error) {
	tc := cfg.Telemetry
	if !tc.Enabled {
		return service.NopTelemetrySink{}, func() {}, nil
	}

	writer, err := telemetry.NewWriter(tc.Backend, events, producer)
	if err != nil {
		return nil, nil, err
	}
	sink := telemetry.NewAsyncSink(writer, telemetry.Options{BufferSize: tc.BufferSize})
	cleanup := func() {
		drain := tc.DrainTimeout
		if drain <= 0 {
			drain = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			logger.Warn(ctx, "telemetry sink closed before drain completed",
				"error", err.Error(), "dropped", sink.Dropped())
		}
	}
	return sink, cleanup, nil
}

// ProvideTelemetryIngestor 提供遥测流入库器
func ProvideTelemetryIngestor(events repository.GenerationEventRepository) *telemetry.Ingestor {
	return telemetry.NewIngestor(telemetry.NewRepositoryWriter(events))
}

// ProvideGenerator 提供生成能力（Eino 链 + 重试 + 限流 + 调用镜像）
func ProvideGenerator(cfg *config.Config, sink service.TelemetrySink) workflowport.Generator {
	lc := cfg.LLM
	opts := []chain.Option{
		chain.WithDefaultProvider(lc.DefaultProvider),
		chain.WithRetryPolicy(chain.RetryPolicy{
			MaxAttempts:     lc.Retry.MaxAttempts,
			InitialInterval: lc.Retry.InitialInterval,
			MaxInterval:     lc.Retry.MaxInterval,
		}),
		chain.WithTelemetry(sink, cfg.Telemetry.SourceTag),
	}
	if lc.RateLimit.Enabled && lc.RateLimit.RequestsPerSecond > 0 {
		burst := max(lc.RateLimit.Burst, 1)
		opts = append(opts, chain.WithRateLimiter(rate.NewLimiter(rate.Limit(lc.RateLimit.RequestsPerSecond), burst)))
	}
	return chain.NewGenerationChain(llm.NewEinoFactory(&cfg.LLM), opts...)
}

// ProvideStages 按阶段温度组装流水线各阶段
func ProvideStages(cfg *config.Config, gen workflowport.Generator) pipeline.Stages {
	pc := cfg.Pipeline
	params := func(temperature float32) storyutil.ModelParams {
		return storyutil.ModelParams{
			Provider:       cfg.LLM.DefaultProvider,
			Temperature:    temperature,
			MaxOutputUnits: pc.MaxOutputTokens,
		}
	}

	stages := pipeline.Stages{
		Bible:      bible.NewGenerator(gen, params(pc.Temperatures.Bible)),
		Outline:    outline.NewGenerator(gen, params(pc.Temperatures.Outline)),
		WorldState: worldstate.NewTracker(gen, params(pc.Temperatures.WorldState)),
		Critic:     critic.NewCritic(gen, params(pc.Temperatures.Critic)),
		Surgery:    surgery.NewEngine(gen, params(pc.Temperatures.Surgery)),
	}
	if pc.Extraction.Enabled {
		stages.Extraction = extraction.NewExtractor(gen, params(pc.Temperatures.Extraction), extraction.Options{
			MaxRetries:  pc.Extraction.MaxRetries,
			Concurrency: pc.Extraction.Concurrency,
		})
	}
	return stages
}

// ProvidePipelineConfig 提供质量循环参数
func ProvidePipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		TargetMinScore:   cfg.Pipeline.TargetMinScore,
		MaxQualityCycles: cfg.Pipeline.MaxQualityCycles,
		MaxEdits:         cfg.Pipeline.MaxEdits,
		HumorLevel:       cfg.Pipeline.HumorLevel,
	}
}
