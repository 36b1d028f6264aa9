// Package prompt 管理内嵌提示词模板（Eino FString 语法，模板内不出现字面花括号）
package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptStoryBibleV1       PromptID = "story_bible_v1"
	PromptStoryOutlineV1     PromptID = "story_outline_v1"
	PromptWorldStateV1       PromptID = "world_state_v1"
	PromptSemanticCriticV1   PromptID = "semantic_critic_v1"
	PromptSelectiveSurgeryV1 PromptID = "selective_surgery_v1"
	PromptStageRepairV1      PromptID = "stage_repair_v1"
	PromptSceneExtractV1     PromptID = "scene_extract_v1"
)

var knownPrompts = map[PromptID]struct{}{
	PromptStoryBibleV1:       {},
	PromptStoryOutlineV1:     {},
	PromptWorldStateV1:       {},
	PromptSemanticCriticV1:   {},
	PromptSelectiveSurgeryV1: {},
	PromptStageRepairV1:      {},
	PromptSceneExtractV1:     {},
}

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

var defaultRegistry = NewRegistry()

// Default 进程级默认注册表（模板只读，可共享）
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	if _, ok := knownPrompts[id]; !ok {
		return nil, fmt.Errorf("unknown prompt id: %s", id)
	}
	system, err := readEmbeddedText("templates/" + string(id) + ".system.txt")
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText("templates/" + string(id) + ".user.txt")
	if err != nil {
		return nil, err
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 格式化模板，返回系统消息与用户消息正文
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) (system string, user string, err error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return "", "", err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", "", fmt.Errorf("format prompt %s: %w", id, err)
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			system = m.Content
		case schema.User:
			user = m.Content
		}
	}
	return system, user, nil
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
