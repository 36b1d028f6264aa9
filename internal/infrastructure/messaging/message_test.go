package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(2))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(3))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(10))
}

func TestDecode(t *testing.T) {
	msg, err := NewMessage("run-1", TypePipelineRun, "run-1", PipelineJobMessage{RunID: "run-1", StoryID: "s1"})
	require.NoError(t, err)
	msg.SetMetadata("request_id", "req-9")
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	got, ok := decode(redis.XMessage{ID: "1-0", Values: map[string]any{"data": string(raw)}})
	require.True(t, ok)
	assert.Equal(t, TypePipelineRun, got.Type)
	assert.Equal(t, "req-9", got.GetMetadata("request_id"))

	var job PipelineJobMessage
	require.NoError(t, got.UnmarshalPayload(&job))
	assert.Equal(t, "s1", job.StoryID)

	_, ok = decode(redis.XMessage{ID: "2-0", Values: map[string]any{"data": 42}})
	assert.False(t, ok)
	_, ok = decode(redis.XMessage{ID: "3-0", Values: map[string]any{"data": "{broken"}})
	assert.False(t, ok)
}

func TestStreamNames(t *testing.T) {
	assert.Equal(t, "dlq:stream:pipeline:jobs", StreamPipelineJobs.DLQStream())
}
