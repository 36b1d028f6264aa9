// Package porttest 提供测试用的生成能力替身
package porttest

import (
	"context"
	"fmt"
	"sync"

	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
)

// Step 一次脚本化响应
type Step struct {
	Content string
	Usage   *entity.Usage
	Err     error
}

// Reply 成功响应
func Reply(content string) Step {
	return Step{Content: content, Usage: &entity.Usage{PromptUnits: 10, CompletionUnits: 5, TotalUnits: 15}}
}

// Fail 失败响应
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedGenerator 按顺序返回预设响应，并记录收到的请求
type ScriptedGenerator struct {
	mu       sync.Mutex
	steps    []Step
	requests []*wfmodel.GenerationRequest
}

// NewScripted 创建脚本化生成器
func NewScripted(steps ...Step) *ScriptedGenerator {
	return &ScriptedGenerator{steps: steps}
}

// Generate 实现 port.Generator
func (g *ScriptedGenerator) Generate(_ context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := len(g.requests)
	g.requests = append(g.requests, req)
	if idx >= len(g.steps) {
		return nil, fmt.Errorf("scripted generator exhausted after %d calls", len(g.steps))
	}
	step := g.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return &wfmodel.GenerationResponse{Content: step.Content, Usage: step.Usage, FinishReason: "stop"}, nil
}

// Calls 已收到的调用次数
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Request 返回第 i 次调用的请求
func (g *ScriptedGenerator) Request(i int) *wfmodel.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= len(g.requests) {
		return nil
	}
	return g.requests[i]
}

// HandlerFunc 按请求动态生成响应
type HandlerFunc func(req *wfmodel.GenerationRequest) Step

// StageRouter 按 Correlation.Stage 分派到不同处理函数，适合端到端流水线测试
type StageRouter struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    map[string]int
}

// NewStageRouter 创建路由生成器
func NewStageRouter() *StageRouter {
	return &StageRouter{handlers: make(map[string]HandlerFunc), calls: make(map[string]int)}
}

// On 注册阶段处理函数
func (r *StageRouter) On(stage string, h HandlerFunc) *StageRouter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stage] = h
	return r
}

// Generate 实现 port.Generator
func (r *StageRouter) Generate(_ context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error) {
	r.mu.Lock()
	stage := req.Correlation.Stage
	r.calls[stage]++
	h, ok := r.handlers[stage]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no handler for stage %q", stage)
	}
	step := h(req)
	if step.Err != nil {
		return nil, step.Err
	}
	return &wfmodel.GenerationResponse{Content: step.Content, Usage: step.Usage, FinishReason: "stop"}, nil
}

// Calls 返回某阶段的调用次数
func (r *StageRouter) Calls(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[stage]
}
