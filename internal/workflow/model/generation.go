// Package model 定义工作流层与生成能力之间的数据契约
package model

import (
	"z-novel-pipeline/internal/domain/entity"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 用户/助手消息（系统消息单独放在 GenerationRequest.System）
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Correlation 关联信息，随请求传递到遥测与日志
type Correlation struct {
	RunID   string `json:"runId,omitempty"`
	StoryID string `json:"storyId,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Chapter int    `json:"chapter,omitempty"`
	Attempt string `json:"attempt,omitempty"` // initial/repair
}

// GenerationRequest 生成能力请求
type GenerationRequest struct {
	System   string    `json:"system"`
	Messages []Message `json:"messages"`

	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"modelId,omitempty"`

	// StructuredOutput 请求模型返回 JSON 文档；Schema 为空时仅要求 json_object
	StructuredOutput bool           `json:"structuredOutput"`
	SchemaName       string         `json:"schemaName,omitempty"`
	Schema           map[string]any `json:"-"`

	MaxOutputUnits int `json:"maxOutputUnits,omitempty"`

	// Temperature 与 ReasoningEffort 二选一；ReasoningEffort 非空时忽略 Temperature
	Temperature     *float32 `json:"temperature,omitempty"`
	ReasoningEffort string   `json:"reasoningEffort,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`

	Correlation Correlation `json:"correlation"`
}

// GenerationResponse 生成能力响应
type GenerationResponse struct {
	Content      string        `json:"content"`
	Usage        *entity.Usage `json:"usage,omitempty"`
	FinishReason string        `json:"finishReason,omitempty"`
}

// NewUserRequest 构造单条用户消息的请求
func NewUserRequest(system, user string) *GenerationRequest {
	return &GenerationRequest{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}

// Float32 返回指针
func Float32(v float32) *float32 {
	return &v
}
