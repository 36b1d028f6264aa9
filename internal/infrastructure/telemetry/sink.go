// Package telemetry 异步镜像每一次生成调用到可插拔的后端
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/service"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
)

// Writer 遥测后端
type Writer interface {
	Write(ctx context.Context, events []*entity.GenerationEvent) error
}

// Options 缓冲与批量参数
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

// AsyncSink 有界缓冲的遥测 sink：Publish 从不阻塞，缓冲满时丢弃并计数
type AsyncSink struct {
	writer  Writer
	opts    Options
	ch      chan *entity.GenerationEvent
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

var _ service.TelemetrySink = (*AsyncSink)(nil)

// NewAsyncSink 创建并启动后台写入协程
func NewAsyncSink(writer Writer, opts Options) *AsyncSink {
	opts.applyDefaults()
	s := &AsyncSink{
		writer: writer,
		opts:   opts,
		ch:     make(chan *entity.GenerationEvent, opts.BufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish 实现 service.TelemetrySink
func (s *AsyncSink) Publish(ctx context.Context, ev service.TelemetryEvent) {
	record := ToGenerationEvent(ev)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(ctx, record)
		return
	}
	select {
	case s.ch <- record:
	default:
		s.drop(ctx, record)
	}
}

func (s *AsyncSink) drop(ctx context.Context, ev *entity.GenerationEvent) {
	s.dropped.Add(1)
	metrics.TelemetryDroppedTotal.Inc()
	logger.Debug(ctx, "telemetry event dropped", "stage", ev.Stage, "source", ev.Source)
}

// Dropped 已丢弃的事件数
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close 停止接收并在 ctx 截止前写完缓冲中的事件
func (s *AsyncSink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*entity.GenerationEvent, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = make([]*entity.GenerationEvent, 0, s.opts.BatchSize)
	}

	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *AsyncSink) write(batch []*entity.GenerationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if err := s.writer.Write(ctx, batch); err != nil {
		logger.Warn(ctx, "failed to write telemetry batch", "size", len(batch), "error", err.Error())
	}
}

// ToGenerationEvent 将调用镜像转换为可持久化的记录；无法序列化的载荷以错误描述代替
func ToGenerationEvent(ev service.TelemetryEvent) *entity.GenerationEvent {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out := &entity.GenerationEvent{
		ID:         uuid.NewString(),
		Source:     ev.Source,
		RunID:      ev.RunID,
		Stage:      ev.Stage,
		Chapter:    ev.Chapter,
		Model:      ev.Model,
		Request:    encode(ev.Request),
		DurationMs: ev.DurationMs,
		Timestamp:  ts,
	}
	if ev.Response != nil {
		out.Response = encode(ev.Response)
	}
	if ev.Err != nil {
		out.ErrorMessage = ev.Err.Error()
	}
	if len(ev.Metadata) > 0 {
		out.Metadata = encode(ev.Metadata)
	}
	return out
}

func encode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"encodeError": err.Error()})
	}
	return raw
}
