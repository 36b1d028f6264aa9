//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	apprun "z-novel-pipeline/internal/application/run"
	"z-novel-pipeline/internal/config"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/messaging"
	"z-novel-pipeline/internal/infrastructure/persistence/postgres"
	"z-novel-pipeline/internal/infrastructure/persistence/redis"
	"z-novel-pipeline/internal/interfaces/http/handler"
	"z-novel-pipeline/internal/interfaces/http/middleware"
	"z-novel-pipeline/internal/interfaces/http/router"
)

// InitializeApp 初始化 API 进程（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化 worker 进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*WorkerApp, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		PipelineSet,
		wire.Struct(new(WorkerApp), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewPipelineRunRepository,
	postgres.NewGenerationEventRepository,
	postgres.NewWorldStateRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.PipelineRunRepository), new(*postgres.PipelineRunRepository)),
	wire.Bind(new(repository.GenerationEventRepository), new(*postgres.GenerationEventRepository)),
	wire.Bind(new(repository.WorldStateRepository), new(*postgres.WorldStateRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	redis.NewRateLimiter,
	ProvideCheckpointStore,
	wire.Bind(new(apprun.ResultCache), new(*redis.Cache)),
	wire.Bind(new(apprun.CheckpointSaver), new(*redis.CheckpointStore)),
	wire.Bind(new(handler.CheckpointReader), new(*redis.CheckpointStore)),
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	wire.Bind(new(apprun.JobQueue), new(*messaging.Producer)),
)

// PipelineSet 流水线执行提供者集合
var PipelineSet = wire.NewSet(
	ProvideTelemetrySink,
	ProvideGenerator,
	ProvideStages,
	ProvidePipelineConfig,
	ProvideTelemetryIngestor,
	apprun.NewWorker,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideRunService,
	wire.Bind(new(handler.RunService), new(*apprun.Service)),
	ProvideHealthHandler,
	handler.NewPipelineRunHandler,
	wire.Struct(new(router.RouterHandlers), "*"),
	router.NewWithDeps,
)
