package callback

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"z-novel-pipeline/internal/domain/service"
	"z-novel-pipeline/pkg/metrics"
)

func TestChatModelHandler_LabelsByStage(t *testing.T) {
	h := newChatModelCallbackHandler()
	ctx := service.WithStageProvider(context.Background(), "critic", "openai")

	before := testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("critic", "gpt-test", "success"))
	prompt := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("critic", "gpt-test", "prompt"))

	ctx = h.OnStart(ctx, nil, &model.CallbackInput{Config: &model.Config{Model: "gpt-test"}})
	h.OnEnd(ctx, nil, &model.CallbackOutput{
		TokenUsage: &model.TokenUsage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50},
	})

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("critic", "gpt-test", "success")))
	assert.Equal(t, prompt+40, testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("critic", "gpt-test", "prompt")))
}

func TestChatModelHandler_ErrorWithoutStage(t *testing.T) {
	h := newChatModelCallbackHandler()
	before := testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("unknown", "m", "error"))

	ctx := h.OnStart(context.Background(), nil, &model.CallbackInput{Config: &model.Config{Model: "m"}})
	h.OnError(ctx, nil, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("unknown", "m", "error")))
}
