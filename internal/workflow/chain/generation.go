// Package chain 基于 Eino compose 编排生成调用
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/service"
	wfmodel "z-novel-pipeline/internal/workflow/model"
	wfnode "z-novel-pipeline/internal/workflow/node"
	workflowport "z-novel-pipeline/internal/workflow/port"
	"z-novel-pipeline/pkg/logger"
	"z-novel-pipeline/pkg/metrics"
)

// RetryPolicy 瞬时错误重试策略
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy 默认 3 次尝试
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 20 * time.Second}
}

type responseFormat int

const (
	formatNone responseFormat = iota
	formatJSONObject
	formatJSONSchema
)

// GenerationChain 生成能力实现：模板消息 → LLM（限流、瞬时重试、response_format 降级）→ 结果
type GenerationChain struct {
	factory         workflowport.ChatModelFactory
	retry           RetryPolicy
	limiter         *rate.Limiter
	sink            service.TelemetrySink
	source          string
	defaultProvider string

	chainOnce sync.Once
	chain     compose.Runnable[*generationState, *wfmodel.GenerationResponse]
	chainErr  error
}

// Option 生成链配置项
type Option func(*GenerationChain)

// WithRetryPolicy 设置重试策略
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *GenerationChain) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		c.retry = p
	}
}

// WithRateLimiter 设置调用限流器
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *GenerationChain) { c.limiter = l }
}

// WithTelemetry 设置调用镜像
func WithTelemetry(sink service.TelemetrySink, source string) Option {
	return func(c *GenerationChain) {
		if sink != nil {
			c.sink = sink
		}
		c.source = source
	}
}

// WithDefaultProvider 请求未指定提供商时使用
func WithDefaultProvider(name string) Option {
	return func(c *GenerationChain) { c.defaultProvider = strings.TrimSpace(name) }
}

// NewGenerationChain 创建生成链
func NewGenerationChain(factory workflowport.ChatModelFactory, opts ...Option) *GenerationChain {
	c := &GenerationChain{
		factory: factory,
		retry:   DefaultRetryPolicy(),
		sink:    service.NopTelemetrySink{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generationState struct {
	Req      *wfmodel.GenerationRequest
	Provider string
	Format   responseFormat
	Messages []*schema.Message
	OutMsg   *schema.Message
	Attempts int
	Degraded bool
}

// Generate 实现 port.Generator。每次调用（无论成败）都会向遥测镜像发布一条事件。
func (c *GenerationChain) Generate(ctx context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if req == nil {
		return nil, fmt.Errorf("generation request is nil")
	}

	st := &generationState{Req: req, Provider: c.pickProvider(req), Format: initialFormat(req)}
	ctx = service.WithStageProvider(ctx, req.Correlation.Stage, st.Provider)

	start := time.Now()
	runnable, err := c.getChain()
	if err != nil {
		c.publish(ctx, st, nil, err, start)
		return nil, err
	}

	resp, err := runnable.Invoke(ctx, st)
	c.publish(ctx, st, resp, err, start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *GenerationChain) getChain() (compose.Runnable[*generationState, *wfmodel.GenerationResponse], error) {
	c.chainOnce.Do(func() {
		c.chain, c.chainErr = c.buildChain(context.Background())
	})
	return c.chain, c.chainErr
}

func (c *GenerationChain) buildChain(ctx context.Context) (compose.Runnable[*generationState, *wfmodel.GenerationResponse], error) {
	chain := compose.NewChain[*generationState, *wfmodel.GenerationResponse]()

	chain.AppendLambda(
		compose.InvokableLambda(func(_ context.Context, st *generationState) (*generationState, error) {
			if st == nil || st.Req == nil {
				return nil, fmt.Errorf("state is nil")
			}
			msgs, err := buildMessages(st.Req)
			if err != nil {
				return nil, err
			}
			st.Messages = msgs
			return st, nil
		}),
		compose.WithNodeName("generation.messages"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(c.invokeModel),
		compose.WithNodeName("generation.llm"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(_ context.Context, st *generationState) (*wfmodel.GenerationResponse, error) {
			if st == nil || st.OutMsg == nil {
				return nil, fmt.Errorf("state is nil")
			}
			return toResponse(st), nil
		}),
		compose.WithNodeName("generation.finalize"),
	)

	return chain.Compile(ctx)
}

func (c *GenerationChain) invokeModel(ctx context.Context, st *generationState) (*generationState, error) {
	if st == nil || st.Req == nil {
		return nil, fmt.Errorf("state is nil")
	}
	chatModel, err := c.factory.Get(ctx, st.Provider)
	if err != nil {
		return nil, err
	}

	stage := st.Req.Correlation.Stage
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialInterval
	if c.retry.MaxInterval > 0 {
		bo.MaxInterval = c.retry.MaxInterval
	}
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx)

	op := func() error {
		st.Attempts++
		if st.Attempts > 1 {
			metrics.LLMRetryTotal.WithLabelValues(stage).Inc()
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		out, err := c.callOnce(ctx, chatModel, st)
		if err == nil {
			st.OutMsg = out
			return nil
		}
		if wfnode.IsTransient(err) {
			logger.Warn(ctx, "transient llm failure, will retry",
				"provider", st.Provider,
				"attempt", st.Attempts,
				"max_attempts", c.retry.MaxAttempts,
				"error", err.Error(),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return st, nil
}

// callOnce 单次调用；提供商拒绝 response_format 时降级为纯提示词约束并立即重发
func (c *GenerationChain) callOnce(ctx context.Context, chatModel model.BaseChatModel, st *generationState) (*schema.Message, error) {
	out, err := chatModel.Generate(ctx, st.Messages, buildModelOptions(st.Req, st.Format)...)
	if err != nil && st.Format != formatNone && wfnode.IsResponseFormatUnsupportedError(err) {
		logger.Warn(ctx, "llm response_format not supported, fallback to prompt-only",
			"provider", st.Provider,
			"model", st.Req.ModelID,
			"error", err.Error(),
		)
		st.Format = formatNone
		st.Degraded = true
		out, err = chatModel.Generate(ctx, st.Messages, buildModelOptions(st.Req, st.Format)...)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("empty llm response")
	}
	return out, nil
}

func (c *GenerationChain) publish(ctx context.Context, st *generationState, resp *wfmodel.GenerationResponse, err error, start time.Time) {
	corr := st.Req.Correlation
	meta := map[string]any{
		"provider": st.Provider,
		"attempts": st.Attempts,
		"attempt":  corr.Attempt,
	}
	if st.Degraded {
		meta["responseFormatFallback"] = true
	}
	if resp != nil && resp.FinishReason != "" {
		meta["finishReason"] = resp.FinishReason
	}

	ev := service.TelemetryEvent{
		Source:     c.source,
		Timestamp:  start,
		RunID:      corr.RunID,
		Stage:      corr.Stage,
		Chapter:    corr.Chapter,
		Model:      st.Req.ModelID,
		Request:    st.Req,
		Err:        err,
		DurationMs: int(time.Since(start).Milliseconds()),
		Metadata:   meta,
	}
	if resp != nil {
		ev.Response = resp
	}
	c.sink.Publish(ctx, ev)
}

func (c *GenerationChain) pickProvider(req *wfmodel.GenerationRequest) string {
	if p := strings.TrimSpace(req.Provider); p != "" {
		return p
	}
	return c.defaultProvider
}

func initialFormat(req *wfmodel.GenerationRequest) responseFormat {
	switch {
	case req.StructuredOutput && len(req.Schema) > 0:
		return formatJSONSchema
	case req.StructuredOutput:
		return formatJSONObject
	default:
		return formatNone
	}
}

func buildMessages(req *wfmodel.GenerationRequest) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, schema.SystemMessage(s))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case wfmodel.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role == schema.System {
		return nil, fmt.Errorf("generation request has no user message")
	}
	return msgs, nil
}

func buildModelOptions(req *wfmodel.GenerationRequest, format responseFormat) []model.Option {
	opts := make([]model.Option, 0, 4)

	if req.Temperature != nil && strings.TrimSpace(req.ReasoningEffort) == "" {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.MaxOutputUnits > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxOutputUnits))
	}
	if m := strings.TrimSpace(req.ModelID); m != "" {
		opts = append(opts, model.WithModel(m))
	}

	extra := make(map[string]any)
	switch format {
	case formatJSONSchema:
		name := req.SchemaName
		if name == "" {
			name = "structured_output"
		}
		extra["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": false,
				"schema": req.Schema,
			},
		}
	case formatJSONObject:
		extra["response_format"] = map[string]any{"type": "json_object"}
	}
	if req.Seed != nil {
		extra["seed"] = *req.Seed
	}
	if e := strings.TrimSpace(req.ReasoningEffort); e != "" {
		extra["reasoning_effort"] = e
	}
	if len(extra) > 0 {
		opts = append(opts, openaiopts.WithExtraFields(extra))
	}
	return opts
}

func toResponse(st *generationState) *wfmodel.GenerationResponse {
	out := st.OutMsg
	resp := &wfmodel.GenerationResponse{Content: out.Content}
	if out.ResponseMeta != nil {
		resp.FinishReason = out.ResponseMeta.FinishReason
		if u := out.ResponseMeta.Usage; u != nil {
			resp.Usage = &entity.Usage{
				PromptUnits:     u.PromptTokens,
				CompletionUnits: u.CompletionTokens,
				TotalUnits:      u.TotalTokens,
				Model:           st.Req.ModelID,
			}
		}
	}
	return resp
}
