package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripCodeFence 去掉模型输出外层的 Markdown 代码块
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```JSON")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// ParseJSON 解析模型返回的 JSON，失败时尝试截取首个 '{' 到最后一个 '}' 之间的内容
func ParseJSON(raw string, v any) error {
	content := StripCodeFence(raw)
	if content == "" {
		return ErrEmptyResponse
	}

	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(content[start:end+1]), v) == nil {
			return nil
		}
	}
	return fmt.Errorf("解析 LLM 返回的 JSON 失败: %w", err)
}
