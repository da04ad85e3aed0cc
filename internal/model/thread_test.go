package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) *ThreadModel {
	t.Helper()
	drv, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return NewThreadModel(drv)
}

func TestThreadModel_SaveAndList(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveThread(ctx, &Thread{
		ID:        "t1",
		Title:     "결제 문의",
		Agents:    []Agent{{Name: "PayBot", A2AURL: "https://pay.example.com"}},
		CreatedAt: base,
	}))
	require.NoError(t, m.SaveThread(ctx, &Thread{ID: "t2", CreatedAt: base.Add(time.Hour)}))

	// 再次保存会更新标题并替换 Agent
	require.NoError(t, m.SaveThread(ctx, &Thread{
		ID:        "t1",
		Title:     "결제 오류",
		Agents:    []Agent{{Name: "Helper", A2AURL: "https://help.example.com"}},
		CreatedAt: base,
	}))

	threads, err := m.GetAllThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "t1", threads[0].ID)
	assert.Equal(t, "결제 오류", threads[0].Title)
	assert.Equal(t, []Agent{{Name: "Helper", A2AURL: "https://help.example.com"}}, threads[0].Agents)
	assert.Empty(t, threads[1].Agents)
	assert.True(t, threads[0].CreatedAt.Equal(base))
}

func TestThreadModel_Messages(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	require.NoError(t, m.SaveThread(ctx, &Thread{ID: "t1"}))

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	n, err := m.AppendMessages(ctx, "t1", []Message{
		{ID: "m2", Speaker: "Bot", Content: "무엇을 도와드릴까요?", Timestamp: base.Add(time.Minute)},
		{ID: "m1", Speaker: SpeakerUser, Content: "로그인이 안 돼요", Timestamp: base},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 重复 ID 被忽略
	n, err = m.AppendMessages(ctx, "t1", []Message{{ID: "m1", Speaker: SpeakerUser, Content: "dup", Timestamp: base}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	history, err := m.GetHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID)
	assert.Equal(t, "로그인이 안 돼요", history[0].Content)
	assert.Equal(t, "t1", history[0].ThreadID)
	assert.True(t, history[0].Timestamp.Equal(base))

	deleted, err := m.DeleteBefore(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	history, err = m.GetHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m2", history[0].ID)
}

func TestThreadModel_EmptyHistory(t *testing.T) {
	m := newTestModel(t)
	history, err := m.GetHistory(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestThreadModel_Import(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	ts := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	threadID, inserted, err := m.Import(ctx, ThreadImport{
		Title:  "imported",
		Agents: []Agent{{Name: "PayBot", A2AURL: "https://pay.example.com"}},
		Messages: []Message{
			{ID: "m1", Speaker: SpeakerUser, Content: "hello", Timestamp: ts},
			{Speaker: "PayBot", Content: "hi there", Timestamp: ts.Add(time.Minute)},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, threadID)
	assert.Equal(t, 2, inserted)

	history, err := m.GetHistory(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID)
	assert.NotEmpty(t, history[1].ID)
	assert.Equal(t, threadID, history[1].ThreadID)

	// 重复导入相同 ID 的消息不会重复写入
	_, inserted, err = m.Import(ctx, ThreadImport{
		ID:       threadID,
		Messages: []Message{{ID: "m1", Speaker: SpeakerUser, Content: "hello", Timestamp: ts}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	_, _, err = m.Import(ctx, ThreadImport{Messages: []Message{{Content: "no speaker"}}})
	assert.Error(t, err)
}
