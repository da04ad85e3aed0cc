package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/talk-insight/internal/id"
)

// ThreadImport 导入的会话及其消息，缺失的 ID 自动生成
type ThreadImport struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Agents   []Agent   `json:"agents"`
	Messages []Message `json:"messages"`
}

// Import 保存会话并追加消息，返回会话 ID 和新写入的消息数
func (m *ThreadModel) Import(ctx context.Context, imp ThreadImport) (string, int, error) {
	threadID := strings.TrimSpace(imp.ID)
	if threadID == "" {
		threadID = id.NewString()
	}

	messages := make([]Message, 0, len(imp.Messages))
	for i, msg := range imp.Messages {
		if msg.Speaker == "" {
			return "", 0, fmt.Errorf("第 %d 条消息缺少 speaker", i+1)
		}
		if msg.ID == "" {
			msg.ID = id.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		msg.ThreadID = threadID
		messages = append(messages, msg)
	}

	thread := &Thread{ID: threadID, Title: imp.Title, Agents: imp.Agents}
	if err := m.SaveThread(ctx, thread); err != nil {
		return "", 0, err
	}
	inserted, err := m.AppendMessages(ctx, threadID, messages)
	if err != nil {
		return "", 0, err
	}
	return threadID, inserted, nil
}
