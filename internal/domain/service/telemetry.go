package service

import (
	"context"
	"time"
)

// TelemetryEvent 一次生成调用（成功或失败）的镜像
type TelemetryEvent struct {
	Source     string
	Timestamp  time.Time
	RunID      string
	Stage      string
	Chapter    int
	Model      string
	Request    any
	Response   any
	Err        error
	DurationMs int
	Metadata   map[string]any
}

// TelemetrySink 接收生成调用镜像。
// 约定：Publish 必须立即返回，不得阻塞或让调用方失败；实现自行丢弃溢出事件。
type TelemetrySink interface {
	Publish(ctx context.Context, ev TelemetryEvent)
}

// NopTelemetrySink 丢弃所有事件
type NopTelemetrySink struct{}

// Publish 实现 TelemetrySink
func (NopTelemetrySink) Publish(context.Context, TelemetryEvent) {}
