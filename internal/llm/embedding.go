package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fachebot/talk-insight/internal/config"
	"github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingModel 默认向量模型，输出 1536 维
const DefaultEmbeddingModel = string(openai.SmallEmbedding3)

// Embedder 文本向量化接口，按输入顺序返回向量
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedFunc 函数形式的 Embedder
type EmbedFunc func(ctx context.Context, texts []string) ([][]float64, error)

func (f EmbedFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

type EmbeddingClient struct {
	model        string
	openaiClient openAIClientInterface
	timeout      time.Duration
}

func NewEmbeddingClient(cfg *config.Embedding, httpClient *http.Client) *EmbeddingClient {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		openaiConfig.HTTPClient = httpClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &EmbeddingClient{
		model:        model,
		openaiClient: openai.NewClientWithConfig(openaiConfig),
		timeout:      defaultTimeout,
	}
}

// Embed 调用向量接口，结果按 Index 还原为输入顺序
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.openaiClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用 Embedding API 失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("Embedding API 返回数量不匹配: 期望 %d, 实际 %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("Embedding API 返回非法索引: %d", item.Index)
		}
		vectors[item.Index] = toFloat64(item.Embedding)
	}
	return vectors, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
