// Package main 流水线执行器入口（pipeline-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"z-novel-pipeline/internal/config"
	"z-novel-pipeline/internal/infrastructure/eino/callback"
	"z-novel-pipeline/internal/infrastructure/messaging"
	"z-novel-pipeline/internal/infrastructure/telemetry"
	"z-novel-pipeline/internal/wire"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	// 收到信号后取消 ctx：进行中的运行保持 running，消息留在待处理列表等待重投
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name + "-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	callback.Init()

	app, cleanupApp, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanupApp()

	name := hostnameConsumerName()
	consumers := []*messaging.Consumer{
		newConsumer(app, cfg, messaging.StreamPipelineJobs, messaging.ConsumerGroupPipelineWorker, name),
	}
	consumers[0].RegisterHandler(messaging.TypePipelineRun, app.Worker.HandleMessage)

	if cfg.Telemetry.Enabled && cfg.Telemetry.Backend == telemetry.BackendRedis {
		ingest := newConsumer(app, cfg, messaging.StreamTelemetry, messaging.ConsumerGroupTelemetryIngest, name)
		ingest.RegisterHandler(messaging.TypeTelemetry, app.Ingestor.HandleMessage)
		consumers = append(consumers, ingest)
	}

	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
	}

	logger.Info(ctx, "pipeline-worker started", "consumer", name, "consumers", len(consumers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "pipeline-worker shutting down")
	cancel()
	for _, c := range consumers {
		c.Stop()
	}
}

func newConsumer(app *wire.WorkerApp, cfg *config.Config, stream messaging.Stream, group messaging.ConsumerGroup, name string) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(app.Redis.Redis(), messaging.ConsumerConfig{
		Stream:        stream,
		Group:         group,
		ConsumerName:  name,
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
