package port

import (
	"context"

	wfmodel "z-novel-pipeline/internal/workflow/model"
)

// Generator 文本生成能力。
// 实现内部只重试瞬时传输错误；调用方不得再次重试。
type Generator interface {
	Generate(ctx context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error)

// Generate 实现 Generator
func (f GeneratorFunc) Generate(ctx context.Context, req *wfmodel.GenerationRequest) (*wfmodel.GenerationResponse, error) {
	return f(ctx, req)
}
