package telemetry

import (
	"context"
	"fmt"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/infrastructure/messaging"
)

// Ingestor 消费遥测流并落库，使 API 与 worker 进程无需直连数据库写镜像
type Ingestor struct {
	writer Writer
}

// NewIngestor 创建遥测入库器
func NewIngestor(writer Writer) *Ingestor {
	return &Ingestor{writer: writer}
}

// HandleMessage 处理 llm_telemetry 消息；载荷损坏的消息直接确认
func (i *Ingestor) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var ev entity.GenerationEvent
	if err := msg.UnmarshalPayload(&ev); err != nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = msg.ID
	}
	if err := i.writer.Write(ctx, []*entity.GenerationEvent{&ev}); err != nil {
		return fmt.Errorf("ingest generation event %s: %w", ev.ID, err)
	}
	return nil
}
