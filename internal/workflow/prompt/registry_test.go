package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadsEveryKnownPrompt(t *testing.T) {
	r := NewRegistry()
	for id := range knownPrompts {
		tpl, err := r.ChatTemplate(id)
		require.NoError(t, err, id)
		require.NotNil(t, tpl, id)
	}
}

func TestRegistry_CachesTemplates(t *testing.T) {
	r := NewRegistry()
	first, err := r.ChatTemplate(PromptStageRepairV1)
	require.NoError(t, err)
	second, err := r.ChatTemplate(PromptStageRepairV1)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegistry_UnknownPrompt(t *testing.T) {
	_, err := NewRegistry().ChatTemplate("missing_v9")
	require.Error(t, err)

	var nilRegistry *Registry
	_, err = nilRegistry.ChatTemplate(PromptStoryBibleV1)
	require.Error(t, err)
}

func TestRegistry_RenderSubstitutesVars(t *testing.T) {
	system, user, err := Default().Render(context.Background(), PromptStageRepairV1, map[string]any{
		"artifact":     "outline",
		"issues_block": "1. chapters: expected 3 items",
		"original":     "[]",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, system)
	assert.Contains(t, user, "The following outline document failed validation.")
	assert.Contains(t, user, "1. chapters: expected 3 items")
	assert.NotContains(t, user, "{original}")
}
