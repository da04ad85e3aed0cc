package llm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fachebot/talk-insight/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationTestConfig 从环境变量构建测试配置，若 LLM_API_KEY 未设置则跳过
func integrationTestConfig(t *testing.T) *config.LLM {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" || apiKey == "your-api-key-here" {
		t.Skip("跳过集成测试：请设置 LLM_API_KEY 环境变量")
	}
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &config.LLM{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
	}
}

func TestComplete_Integration(t *testing.T) {
	cfg := integrationTestConfig(t)
	client := NewClient(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	raw, err := client.Complete(ctx, CompletionRequest{
		Messages: []Message{
			UserMessage(`Classify the sentiment of "the like button does not work". Respond in JSON only: {"sentiment": "positive|negative|neutral"}`),
		},
		MaxTokens:   100,
		Temperature: 0,
	})
	require.NoError(t, err)

	var parsed struct {
		Sentiment string `json:"sentiment"`
	}
	require.NoError(t, ParseJSON(raw, &parsed))
	assert.Equal(t, "negative", parsed.Sentiment)
}

func TestEmbed_Integration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("跳过集成测试：请设置 OPENAI_API_KEY 环境变量")
	}
	client := NewEmbeddingClient(&config.Embedding{APIKey: apiKey}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	vectors, err := client.Embed(ctx, []string{"로그인이 안 돼요", "결제 오류"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 1536)
}
