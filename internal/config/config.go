package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type LLM struct {
	Provider  string `yaml:"Provider"` // "openai" / "gemini"，默认 openai
	BaseURL   string `yaml:"BaseURL"`  // 兼容 OpenAI API 的端点
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`     // 如 gpt-4o-mini, deepseek-chat, gemini-2.0-flash
	MaxTokens int    `yaml:"MaxTokens"` // 模型上下文窗口大小
	Timeout   int    `yaml:"Timeout"`   // 单次请求超时（秒），默认 300
}

type Embedding struct {
	Provider     string `yaml:"Provider"` // "openai" / "gemini"，默认 openai
	BaseURL      string `yaml:"BaseURL"`
	APIKey       string `yaml:"APIKey"`
	Model        string `yaml:"Model"`        // 默认 text-embedding-3-small
	BatchSize    int    `yaml:"BatchSize"`    // 每批请求的文本数，默认 100
	CacheTTLDays int    `yaml:"CacheTTLDays"` // 向量缓存天数，默认 30
}

type Redis struct {
	Enable      bool   `yaml:"Enable"` // 关闭时使用进程内 LRU 存储
	Addr        string `yaml:"Addr"`
	Password    string `yaml:"Password"`
	DB          int    `yaml:"DB"`
	Capacity    int    `yaml:"Capacity"`    // 进程内向量缓存容量，默认 10000
	JobCapacity int    `yaml:"JobCapacity"` // 进程内任务存储容量，默认 10000
}

type Database struct {
	Path string `yaml:"Path"` // SQLite 文件路径，默认 data/sqlite.db
}

type Pipeline struct {
	Mode            string  `yaml:"Mode"`            // "embedding" / "llm"
	MaxConcurrency  int     `yaml:"MaxConcurrency"`  // 单阶段并发上限，0 表示不限制
	NumClusters     int     `yaml:"NumClusters"`     // k-means 目标簇数，默认 8
	MinClusterSize  int     `yaml:"MinClusterSize"`  // 少于该数量不聚类，默认 10
	RecentRatio     float64 `yaml:"RecentRatio"`     // 分层采样中保留最新消息的比例，默认 0.7
	DefaultLanguage string  `yaml:"DefaultLanguage"` // "ko" / "en"
	ScatterXAxis    string  `yaml:"ScatterXAxis"`    // "sentiment" / "time" / "priority" / "custom"，默认 sentiment
	ScatterYAxis    string  `yaml:"ScatterYAxis"`    // 同上，默认 priority
	TreeMessages    bool    `yaml:"TreeMessages"`    // 话题树是否包含消息节点
}

type Report struct {
	CacheTTL        int `yaml:"CacheTTL"`        // 报告缓存秒数，默认 3600
	StaleJobMinutes int `yaml:"StaleJobMinutes"` // 启动时超过该时长仍未完成的任务标记为失败，默认 60
}

type Schedule struct {
	Enable    bool   `yaml:"Enable"`
	Cron      string `yaml:"Cron"`      // cron 表达式，如 "0 1 * * 1"
	RangeDays int    `yaml:"RangeDays"` // 报告覆盖天数，默认 7
	Timezone  string `yaml:"Timezone"`  // IANA 时区，用于推断报告语言
	Language  string `yaml:"Language"`
	Title     string `yaml:"Title"`

	RetryTimes    int `yaml:"RetryTimes"`    // 报告生成失败重试次数，默认 3
	RetryInterval int `yaml:"RetryInterval"` // 重试间隔（秒），默认 60
	RetentionDays int `yaml:"RetentionDays"` // 消息保留天数，0 表示不清理
}

type Notify struct {
	Enable           bool     `yaml:"Enable"`
	WebhookURLs      []string `yaml:"WebhookURLs"`
	MaxMessageLength int      `yaml:"MaxMessageLength"` // 单条推送最大字节数，默认 4000
	Timeout          int      `yaml:"Timeout"`          // 推送超时（秒），默认 30
}

type Server struct {
	Addr    string `yaml:"Addr"`    // 监听地址，默认 :8080
	GinMode string `yaml:"GinMode"` // debug / release / test
}

type Config struct {
	Sock5Proxy Sock5Proxy `yaml:"Sock5Proxy"`
	LLM        LLM        `yaml:"LLM"`
	Embedding  Embedding  `yaml:"Embedding"`
	Redis      Redis      `yaml:"Redis"`
	Database   Database   `yaml:"Database"`
	Pipeline   Pipeline   `yaml:"Pipeline"`
	Report     Report     `yaml:"Report"`
	Schedule   Schedule   `yaml:"Schedule"`
	Notify     Notify     `yaml:"Notify"`
	Server     Server     `yaml:"Server"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, err
	}

	// 密钥允许放在 .env 或环境变量中
	_ = godotenv.Load()
	c.applyEnv()

	// 验证配置
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// applyEnv 用环境变量补齐未在配置文件中填写的密钥
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if c.LLM.APIKey == "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Embedding.APIKey == "" {
		if c.Embedding.Provider == "gemini" {
			c.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
		} else {
			c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" && c.Redis.Addr == "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" && c.Redis.Password == "" {
		c.Redis.Password = password
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 LLM
	if c.LLM.Provider != "" && c.LLM.Provider != "openai" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("LLM.Provider 必须是 'openai' 或 'gemini'")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空")
	}
	if c.LLM.Provider != "gemini" && c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("LLM.MaxTokens 必须 >= 0")
	}

	// 验证 Embedding，密钥缺失在流水线启动时报错
	if c.Embedding.Provider != "" && c.Embedding.Provider != "openai" && c.Embedding.Provider != "gemini" {
		return fmt.Errorf("Embedding.Provider 必须是 'openai' 或 'gemini'")
	}
	if c.Embedding.BatchSize < 0 {
		return fmt.Errorf("Embedding.BatchSize 必须 >= 0")
	}

	// 验证 Redis
	if c.Redis.Enable && c.Redis.Addr == "" {
		return fmt.Errorf("Redis.Addr 不能为空（当 Redis.Enable 为 true 时）")
	}

	// 验证 Pipeline
	if c.Pipeline.Mode != "" && c.Pipeline.Mode != "embedding" && c.Pipeline.Mode != "llm" {
		return fmt.Errorf("Pipeline.Mode 必须是 'embedding' 或 'llm'")
	}
	if c.Pipeline.RecentRatio < 0 || c.Pipeline.RecentRatio > 1 {
		return fmt.Errorf("Pipeline.RecentRatio 必须在 0 到 1 之间")
	}
	if c.Pipeline.MaxConcurrency < 0 {
		return fmt.Errorf("Pipeline.MaxConcurrency 必须 >= 0")
	}
	if c.Pipeline.DefaultLanguage != "" && c.Pipeline.DefaultLanguage != "ko" && c.Pipeline.DefaultLanguage != "en" {
		return fmt.Errorf("Pipeline.DefaultLanguage 必须是 'ko' 或 'en'")
	}
	for name, axis := range map[string]string{"ScatterXAxis": c.Pipeline.ScatterXAxis, "ScatterYAxis": c.Pipeline.ScatterYAxis} {
		switch axis {
		case "", "sentiment", "time", "priority", "custom":
		default:
			return fmt.Errorf("Pipeline.%s 必须是 'sentiment'、'time'、'priority' 或 'custom'", name)
		}
	}

	// 验证 Schedule
	if c.Schedule.Enable {
		if c.Schedule.Cron == "" {
			return fmt.Errorf("Schedule.Cron 不能为空（当 Schedule.Enable 为 true 时）")
		}
		if c.Schedule.RangeDays < 0 {
			return fmt.Errorf("Schedule.RangeDays 必须 >= 0")
		}
		if c.Schedule.RetentionDays < 0 {
			return fmt.Errorf("Schedule.RetentionDays 必须 >= 0")
		}
		if c.Schedule.Language != "" && c.Schedule.Language != "ko" && c.Schedule.Language != "en" {
			return fmt.Errorf("Schedule.Language 必须是 'ko' 或 'en'")
		}
	}

	// 验证 Notify
	if c.Notify.Enable && len(c.Notify.WebhookURLs) == 0 {
		return fmt.Errorf("Notify.WebhookURLs 不能为空（当 Notify.Enable 为 true 时）")
	}

	return nil
}
