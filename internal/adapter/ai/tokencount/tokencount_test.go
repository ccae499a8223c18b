package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	tests := []struct {
		name     string
		text     string
		model    string
		minCount int
		maxCount int
	}{
		{
			name:     "short greeting",
			text:     "Hello, world!",
			model:    "deepseek-chat",
			minCount: 3,
			maxCount: 5,
		},
		{
			name:     "sentence",
			text:     "Your Z960M mower is due for its 100 hour service.",
			model:    "deepseek-chat",
			minCount: 10,
			maxCount: 20,
		},
		{
			name:     "unknown model falls back to the gpt-4 family",
			text:     "Hello, world!",
			model:    "some-future-model",
			minCount: 3,
			maxCount: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.CountTokens(tt.text, tt.model)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestCountChatTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	system := "You are a helpful customer service representative."
	user := "Company Name: Acme Equipment\nCustomer Name: Kyle"

	chat, err := counter.CountChatTokens(system, user, "deepseek-chat")
	require.NoError(t, err)

	sysOnly, err := counter.CountTokens(system, "deepseek-chat")
	require.NoError(t, err)
	userOnly, err := counter.CountTokens(user, "deepseek-chat")
	require.NoError(t, err)

	// Chat framing adds per-message overhead on top of the raw text tokens.
	assert.Greater(t, chat, sysOnly+userOnly)
	assert.LessOrEqual(t, chat, sysOnly+userOnly+16)
}

func TestCalculateUsage(t *testing.T) {
	t.Parallel()

	counter := NewCounter()
	usage := counter.CalculateUsage(
		"You are a helpful assistant.",
		"Write a short reminder.",
		"Hello Kyle, your mower is due for service.",
		"deepseek-chat",
	)

	assert.Positive(t, usage.PromptTokens)
	assert.Positive(t, usage.CompletionTokens)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
	assert.Equal(t, "deepseek-chat", usage.Model)
}

func TestEncodingCacheReuse(t *testing.T) {
	t.Parallel()

	counter := NewCounter()
	first, err := counter.CountTokens("same text", "deepseek-chat")
	require.NoError(t, err)
	second, err := counter.CountTokens("same text", "deepseek-chat")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
