package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDatabasePath = "data/sqlite.db"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_agents (
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		a2a_url TEXT NOT NULL,
		PRIMARY KEY (thread_id, a2a_url)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		speaker TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_sent_at ON messages (thread_id, sent_at)`,
}

// OpenSQLite 打开 SQLite 数据库并创建表结构
func OpenSQLite(ctx context.Context, path string) (*entsql.Driver, error) {
	if path == "" {
		path = defaultDatabasePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_fk=1", path)
	drv, err := entsql.Open(dialect.SQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := Migrate(ctx, drv); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}

// Migrate 创建缺失的表和索引
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	for _, stmt := range schemaStatements {
		if _, err := drv.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("创建数据库Schema失败: %w", err)
		}
	}
	return nil
}
