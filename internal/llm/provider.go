package llm

import (
	"context"
	"net/http"

	"github.com/fachebot/talk-insight/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewCompleter 按配置的 Provider 创建补全客户端
func NewCompleter(ctx context.Context, cfg *config.LLM, httpClient *http.Client) (Completer, error) {
	if cfg.Provider == ProviderGemini {
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, "", httpClient)
	}
	return NewClient(cfg, httpClient), nil
}

// NewEmbedder 按配置的 Provider 创建向量客户端
func NewEmbedder(ctx context.Context, cfg *config.Embedding, httpClient *http.Client) (Embedder, error) {
	if cfg.Provider == ProviderGemini {
		return NewGeminiClient(ctx, cfg.APIKey, "", cfg.Model, httpClient)
	}
	return NewEmbeddingClient(cfg, httpClient), nil
}
