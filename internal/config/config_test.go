package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LLM: LLM{
			BaseURL: "https://api.openai.com/v1",
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
		},
		Pipeline: Pipeline{Mode: "embedding"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"有效配置", func(c *Config) {}, ""},
		{"缺少 APIKey", func(c *Config) { c.LLM.APIKey = "" }, "LLM.APIKey 不能为空"},
		{"缺少 BaseURL", func(c *Config) { c.LLM.BaseURL = "" }, "LLM.BaseURL 不能为空"},
		{"gemini 不需要 BaseURL", func(c *Config) { c.LLM.Provider = "gemini"; c.LLM.BaseURL = "" }, ""},
		{"未知 Provider", func(c *Config) { c.LLM.Provider = "claude" }, "LLM.Provider"},
		{"缺少 Model", func(c *Config) { c.LLM.Model = "" }, "LLM.Model 不能为空"},
		{"未知流水线模式", func(c *Config) { c.Pipeline.Mode = "hybrid" }, "Pipeline.Mode"},
		{"采样比例越界", func(c *Config) { c.Pipeline.RecentRatio = 1.5 }, "Pipeline.RecentRatio"},
		{"未知语言", func(c *Config) { c.Pipeline.DefaultLanguage = "ja" }, "Pipeline.DefaultLanguage"},
		{"时间坐标轴", func(c *Config) { c.Pipeline.ScatterXAxis = "time"; c.Pipeline.ScatterYAxis = "custom" }, ""},
		{"未知坐标轴", func(c *Config) { c.Pipeline.ScatterYAxis = "volume" }, "Pipeline.ScatterYAxis"},
		{"启用 Redis 但缺少地址", func(c *Config) { c.Redis.Enable = true }, "Redis.Addr"},
		{"启用调度但缺少 Cron", func(c *Config) { c.Schedule.Enable = true }, "Schedule.Cron"},
		{"启用通知但缺少 Webhook", func(c *Config) { c.Notify.Enable = true }, "Notify.WebhookURLs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-embed")
	t.Setenv("LLM_API_KEY", "")

	content := `
LLM:
  BaseURL: "https://api.openai.com/v1"
  APIKey: "sk-chat"
  Model: "gpt-4o-mini"
Pipeline:
  Mode: "llm"
  NumClusters: 6
Schedule:
  Enable: true
  Cron: "0 1 * * 1"
  RangeDays: 7
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-chat", c.LLM.APIKey)
	assert.Equal(t, "sk-embed", c.Embedding.APIKey)
	assert.Equal(t, "llm", c.Pipeline.Mode)
	assert.Equal(t, 6, c.Pipeline.NumClusters)
	assert.Equal(t, 7, c.Schedule.RangeDays)
}

func TestLoadFromFile_EnvFillsLLMKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-from-env")

	content := `
LLM:
  BaseURL: "https://api.openai.com/v1"
  Model: "gpt-4o-mini"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", c.LLM.APIKey)
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
