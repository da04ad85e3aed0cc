// Package llmtest 提供测试用的 LLM 替身
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockCompleter 基于 testify mock 的 Completer
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// PromptContains 匹配首条消息包含指定文本的请求
func PromptContains(text string) any {
	return mock.MatchedBy(func(req llm.CompletionRequest) bool {
		return len(req.Messages) > 0 && strings.Contains(Prompt(req), text)
	})
}

// Prompt 返回请求中全部消息内容的拼接
func Prompt(req llm.CompletionRequest) string {
	var sb strings.Builder
	for _, msg := range req.Messages {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Recorder 记录请求并按回调返回结果，可并发调用
type Recorder struct {
	mu       sync.Mutex
	Requests []llm.CompletionRequest
	Respond  func(req llm.CompletionRequest) (string, error)
}

func (r *Recorder) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	r.mu.Lock()
	r.Requests = append(r.Requests, req)
	r.mu.Unlock()
	return r.Respond(req)
}

// Calls 返回已记录的请求数
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Requests)
}
