package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/service"
	"z-novel-pipeline/internal/infrastructure/messaging"
)

type recordingWriter struct {
	mu      sync.Mutex
	events  []*entity.GenerationEvent
	batches int
	gate    chan struct{}
}

func (w *recordingWriter) Write(_ context.Context, events []*entity.GenerationEvent) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, events...)
	w.batches++
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func event(stage string) service.TelemetryEvent {
	return service.TelemetryEvent{Source: "test", Stage: stage, RunID: "run-1", Request: map[string]string{"k": "v"}}
}

func TestAsyncSink_DrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &recordingWriter{}
	s := NewAsyncSink(w, Options{BufferSize: 16, BatchSize: 4, FlushInterval: time.Hour})
	for i := 0; i < 10; i++ {
		s.Publish(context.Background(), event("bible"))
	}

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 10, w.count())
	assert.Equal(t, int64(0), s.Dropped())
	assert.Equal(t, 3, w.batches)
}

func TestAsyncSink_DropsWhenBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &recordingWriter{gate: make(chan struct{})}
	s := NewAsyncSink(w, Options{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour})

	const total = 11
	for i := 0; i < total; i++ {
		s.Publish(context.Background(), event("critic"))
	}
	// 后台协程最多持有 1 条，缓冲最多 2 条
	assert.GreaterOrEqual(t, s.Dropped(), int64(total-3))

	close(w.gate)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, int64(total), int64(w.count())+s.Dropped())
}

func TestAsyncSink_PublishAfterCloseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &recordingWriter{}
	s := NewAsyncSink(w, Options{})
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	s.Publish(context.Background(), event("outline"))
	assert.Equal(t, int64(1), s.Dropped())
	assert.Equal(t, 0, w.count())
}

func TestAsyncSink_CloseHonorsDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &recordingWriter{gate: make(chan struct{})}
	s := NewAsyncSink(w, Options{BatchSize: 1})
	s.Publish(context.Background(), event("surgery"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	close(w.gate)
	require.NoError(t, s.Close(context.Background()))
}

func TestToGenerationEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := ToGenerationEvent(service.TelemetryEvent{
		Source:    "svc",
		Timestamp: ts,
		Stage:     "world_state",
		Chapter:   3,
		Request:   map[string]any{"bad": func() {}},
		Err:       errors.New("rate limited"),
		Metadata:  map[string]any{"attempts": 2},
	})

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, 3, got.Chapter)
	assert.Contains(t, string(got.Request), "encodeError")
	assert.Nil(t, got.Response)
	assert.Equal(t, "rate limited", got.ErrorMessage)
	assert.JSONEq(t, `{"attempts": 2}`, string(got.Metadata))
}

type fakePublisher struct {
	msgs []*messaging.Message
	fail bool
}

func (p *fakePublisher) Publish(_ context.Context, stream messaging.Stream, msg *messaging.Message) (string, error) {
	if p.fail {
		return "", errors.New("redis down")
	}
	p.msgs = append(p.msgs, msg)
	return "1-0", nil
}

func TestNewWriter(t *testing.T) {
	pub := &fakePublisher{}

	w, err := NewWriter("redis", nil, pub)
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), []*entity.GenerationEvent{ToGenerationEvent(event("bible"))}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, messaging.TypeTelemetry, pub.msgs[0].Type)
	assert.Equal(t, "bible", pub.msgs[0].GetMetadata("stage"))

	_, err = NewWriter("postgres", nil, nil)
	assert.Error(t, err)

	w, err = NewWriter("", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, LogWriter{}, w)

	_, err = NewWriter("kafka", nil, nil)
	assert.Error(t, err)

	failing := NewStreamWriter(&fakePublisher{fail: true})
	assert.Error(t, failing.Write(context.Background(), []*entity.GenerationEvent{ToGenerationEvent(event("x"))}))
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, []*entity.GenerationEvent) error {
	return errors.New("db down")
}

func TestIngestor_RoundTripsStreamMessages(t *testing.T) {
	ev := ToGenerationEvent(event("critic"))
	msg, err := messaging.NewMessage(ev.ID, messaging.TypeTelemetry, ev.RunID, ev)
	require.NoError(t, err)

	w := &recordingWriter{}
	require.NoError(t, NewIngestor(w).HandleMessage(context.Background(), msg))
	require.Equal(t, 1, w.count())
	assert.Equal(t, ev.ID, w.events[0].ID)
	assert.Equal(t, "critic", w.events[0].Stage)
	assert.Equal(t, "run-1", w.events[0].RunID)

	assert.Error(t, NewIngestor(failingWriter{}).HandleMessage(context.Background(), msg), "write failures keep the message pending")

	bad := &messaging.Message{ID: "m", Type: messaging.TypeTelemetry, Payload: []byte(`"not an object"`)}
	assert.NoError(t, NewIngestor(failingWriter{}).HandleMessage(context.Background(), bad))
}
