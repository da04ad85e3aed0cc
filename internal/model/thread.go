package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const (
	tableThreads  = "threads"
	tableAgents   = "thread_agents"
	tableMessages = "messages"
)

// SpeakerUser 人类用户的发言者标识，其余发言者视为 Agent
const SpeakerUser = "User"

type Agent struct {
	Name   string `json:"name"`
	A2AURL string `json:"a2aUrl"`
}

type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Agents    []Agent   `json:"agents"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ThreadModel struct {
	drv *entsql.Driver
}

func NewThreadModel(drv *entsql.Driver) *ThreadModel {
	return &ThreadModel{drv: drv}
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

// SaveThread 创建或更新会话，并整体替换其 Agent 列表
func (m *ThreadModel) SaveThread(ctx context.Context, thread *Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}

	tx, err := m.drv.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := builder().Insert(tableThreads).
		Columns("id", "title", "created_at").
		Values(thread.ID, thread.Title, thread.CreatedAt.UnixMilli()).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("title")
			}),
		).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("保存会话失败: %w", err)
	}

	query, args = builder().Delete(tableAgents).Where(entsql.EQ("thread_id", thread.ID)).Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("清理会话 Agent 失败: %w", err)
	}

	if len(thread.Agents) > 0 {
		insert := builder().Insert(tableAgents).Columns("thread_id", "name", "a2a_url")
		for _, agent := range thread.Agents {
			insert.Values(thread.ID, agent.Name, agent.A2AURL)
		}
		query, args = insert.OnConflict(
			entsql.ConflictColumns("thread_id", "a2a_url"),
			entsql.ResolveWithIgnore(),
		).Query()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("保存会话 Agent 失败: %w", err)
		}
	}

	return tx.Commit()
}

// AppendMessages 写入会话消息，ID 已存在的消息被忽略，返回实际写入条数
func (m *ThreadModel) AppendMessages(ctx context.Context, threadID string, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	insert := builder().Insert(tableMessages).Columns("id", "thread_id", "speaker", "content", "sent_at")
	for _, msg := range messages {
		insert.Values(msg.ID, threadID, msg.Speaker, msg.Content, msg.Timestamp.UnixMilli())
	}
	query, args := insert.OnConflict(
		entsql.ConflictColumns("id"),
		entsql.ResolveWithIgnore(),
	).Query()

	result, err := m.drv.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("写入消息失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetAllThreads 返回全部会话及其 Agent，按创建时间升序
func (m *ThreadModel) GetAllThreads(ctx context.Context) ([]Thread, error) {
	query, args := builder().Select("id", "title", "created_at").
		From(entsql.Table(tableThreads)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()
	rows, err := m.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	index := make(map[string]int)
	for rows.Next() {
		var (
			thread    Thread
			createdAt int64
		)
		if err := rows.Scan(&thread.ID, &thread.Title, &createdAt); err != nil {
			return nil, err
		}
		thread.CreatedAt = time.UnixMilli(createdAt)
		index[thread.ID] = len(threads)
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	agents, err := m.queryAgents(ctx)
	if err != nil {
		return nil, err
	}
	for threadID, list := range agents {
		if i, ok := index[threadID]; ok {
			threads[i].Agents = list
		}
	}
	return threads, nil
}

func (m *ThreadModel) queryAgents(ctx context.Context) (map[string][]Agent, error) {
	query, args := builder().Select("thread_id", "name", "a2a_url").
		From(entsql.Table(tableAgents)).
		OrderBy(entsql.Asc("thread_id"), entsql.Asc("name")).
		Query()
	rows, err := m.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询会话 Agent 失败: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]Agent)
	for rows.Next() {
		var (
			threadID string
			agent    Agent
		)
		if err := rows.Scan(&threadID, &agent.Name, &agent.A2AURL); err != nil {
			return nil, err
		}
		result[threadID] = append(result[threadID], agent)
	}
	return result, rows.Err()
}

// GetHistory 返回会话的全部消息，按时间升序
func (m *ThreadModel) GetHistory(ctx context.Context, threadID string) ([]Message, error) {
	query, args := builder().Select("id", "thread_id", "speaker", "content", "sent_at").
		From(entsql.Table(tableMessages)).
		Where(entsql.EQ("thread_id", threadID)).
		OrderBy(entsql.Asc("sent_at"), entsql.Asc("id")).
		Query()
	rows, err := m.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询会话消息失败: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteBefore 删除指定时间之前的消息
func (m *ThreadModel) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query, args := builder().Delete(tableMessages).
		Where(entsql.LT("sent_at", cutoff.UnixMilli())).
		Query()
	result, err := m.drv.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("清理消息失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var (
			msg    Message
			sentAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Speaker, &msg.Content, &sentAt); err != nil {
			return nil, err
		}
		msg.Timestamp = time.UnixMilli(sentAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
