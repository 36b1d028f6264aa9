// Package storyutil 提供 story 应用层内部共享的工具函数。
package storyutil

import (
	"fmt"
	"strings"

	"z-novel-pipeline/internal/domain/entity"
	wfmodel "z-novel-pipeline/internal/workflow/model"
)

// ModelParams 单个阶段的模型参数
type ModelParams struct {
	Provider        string
	Temperature     float32
	ReasoningEffort string
	MaxOutputUnits  int
}

// NewRequest 按阶段参数构造结构化输出请求，并继承规范化请求中的模型与种子
func NewRequest(system, user string, p ModelParams, req *entity.NormalizedRequest) *wfmodel.GenerationRequest {
	out := wfmodel.NewUserRequest(system, user)
	out.Provider = strings.TrimSpace(p.Provider)
	out.StructuredOutput = true
	out.MaxOutputUnits = p.MaxOutputUnits
	if strings.TrimSpace(p.ReasoningEffort) != "" {
		out.ReasoningEffort = strings.TrimSpace(p.ReasoningEffort)
	} else if p.Temperature > 0 {
		out.Temperature = wfmodel.Float32(p.Temperature)
	}
	if req != nil {
		out.ModelID = strings.TrimSpace(req.ModelID)
		if req.Seed != nil {
			seed := *req.Seed
			out.Seed = &seed
		}
		out.Correlation.StoryID = req.StoryID
	}
	return out
}

// CastBlock 渲染角色表
func CastBlock(cast entity.CastSet) string {
	if len(cast) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range cast {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "supporting"
		}
		fmt.Fprintf(&b, "- %s (role: %s)\n", m.Name, role)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CastNames 逗号分隔的角色名
func CastNames(cast entity.CastSet) string {
	return strings.Join(cast.Names(), ", ")
}

// LanguageOrDefault 缺省语言为 en
func LanguageOrDefault(lang string) string {
	if s := strings.TrimSpace(lang); s != "" {
		return s
	}
	return "en"
}

// DirectiveBlock 渲染单章场景指令
func DirectiveBlock(d entity.SceneDirective) string {
	names := make([]string, 0, len(d.CharactersOnStage))
	for _, s := range d.CharactersOnStage {
		if n := strings.TrimSpace(s.Name); n != "" {
			names = append(names, n)
		}
	}
	onStage := "(nobody)"
	if len(names) > 0 {
		onStage = strings.Join(names, ", ")
	}

	lines := []string{
		"Setting: " + strings.TrimSpace(d.Setting),
		"On stage: " + onStage,
		"Goal: " + strings.TrimSpace(d.Goal),
		"Conflict: " + strings.TrimSpace(d.Conflict),
		"Outcome: " + strings.TrimSpace(d.Outcome),
	}
	if u := strings.TrimSpace(d.ArtifactUsage); u != "" {
		lines = append(lines, "Artifact usage: "+u)
	}
	return strings.Join(lines, "\n")
}
