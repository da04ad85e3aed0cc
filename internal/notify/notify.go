package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/talk-insight/internal/config"
	"github.com/fachebot/talk-insight/internal/logger"
)

const (
	DefaultMaxMessageLength = 4000
	DefaultTimeout          = 30 * time.Second
)

// Payload 推送到 webhook 的消息体
type Payload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Part  int    `json:"part"`
	Total int    `json:"total"`
}

type Notifier struct {
	httpClient       *http.Client
	webhookURLs      []string
	maxMessageLength int
}

// NewNotifier httpClient 为 nil 时使用默认客户端
func NewNotifier(cfg *config.Notify, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = DefaultTimeout
	}
	maxLength := cfg.MaxMessageLength
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}

	return &Notifier{
		httpClient:       httpClient,
		webhookURLs:      cfg.WebhookURLs,
		maxMessageLength: maxLength,
	}
}

// Notify 将报告分段推送到所有 webhook，单个地址失败不影响其余地址
func (n *Notifier) Notify(ctx context.Context, title, content string) error {
	if content == "" {
		return nil
	}
	if len(n.webhookURLs) == 0 {
		logger.Warnf("[Notify] 未配置 webhook 地址")
		return nil
	}

	messages := n.splitMessage(content)

	var errs []error
	for _, url := range n.webhookURLs {
		for i, msg := range messages {
			payload := Payload{Title: title, Text: msg, Part: i + 1, Total: len(messages)}
			if err := n.post(ctx, url, payload); err != nil {
				errs = append(errs, fmt.Errorf("推送到 %s 失败: %w", url, err))
				break
			}
		}
		logger.Infof("[Notify] 已推送 %d 条消息到 %s", len(messages), url)
	}
	return errors.Join(errs...)
}

func (n *Notifier) post(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// splitMessage 将消息按长度拆分为多条
func (n *Notifier) splitMessage(content string) []string {
	maxLength := n.maxMessageLength
	if len(content) <= maxLength {
		return []string{content}
	}

	// 按段落拆分
	paragraphs := strings.Split(content, "\n\n")
	if len(paragraphs) == 1 {
		paragraphs = strings.Split(content, "\n")
	}

	messages := make([]string, 0)
	currentMsg := ""

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		testMsg := currentMsg
		if testMsg != "" {
			testMsg += "\n\n"
		}
		testMsg += para

		if len(testMsg) <= maxLength {
			currentMsg = testMsg
			continue
		}

		if currentMsg != "" {
			messages = append(messages, currentMsg)
			currentMsg = ""
		}
		if len(para) <= maxLength {
			currentMsg = para
			continue
		}

		// 单个段落超长时按行拆分，单行仍超长则按字符截断
		for _, line := range strings.Split(para, "\n") {
			for _, piece := range splitRunes(line, maxLength) {
				if currentMsg != "" && len(currentMsg)+len(piece)+1 > maxLength {
					messages = append(messages, currentMsg)
					currentMsg = ""
				}
				if currentMsg != "" {
					currentMsg += "\n"
				}
				currentMsg += piece
			}
		}
	}

	if currentMsg != "" {
		messages = append(messages, currentMsg)
	}

	return messages
}

// splitRunes 按字节上限切分字符串，不拆开多字节字符
func splitRunes(s string, maxBytes int) []string {
	if len(s) <= maxBytes {
		return []string{s}
	}

	var parts []string
	start, size := 0, 0
	for i, r := range s {
		width := len(string(r))
		if size+width > maxBytes {
			parts = append(parts, s[start:i])
			start, size = i, 0
		}
		size += width
	}
	return append(parts, s[start:])
}
