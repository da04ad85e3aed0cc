package categorizer

import (
	"context"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

// Categorizer 消息分类策略，两种实现输出结构一致
type Categorizer interface {
	Categorize(ctx context.Context, messages []report.EmbeddedMessage) (*Result, error)
}

// Result 分类结果
type Result struct {
	Messages           []report.CategorizedMessage
	FilteringBreakdown report.FilteringBreakdown
}

// FallbackCategorization LLM 批次失败时使用的默认分类
var FallbackCategorization = Categorization{
	Category:      report.CategoryOther,
	Sentiment:     report.SentimentNeutral,
	IsSubstantive: true,
}

// Categorization 单条消息的分类字段
type Categorization struct {
	Category      string
	SubCategory   string
	Intent        string
	Sentiment     report.Sentiment
	IsSubstantive bool
}

// Apply 返回带分类字段的新消息
func (c Categorization) Apply(msg report.EmbeddedMessage) report.CategorizedMessage {
	return report.CategorizedMessage{
		ParsedMessage: msg.ParsedMessage,
		Embedding:     msg.Embedding,
		Category:      c.Category,
		SubCategory:   c.SubCategory,
		Intent:        c.Intent,
		Sentiment:     c.Sentiment,
		IsSubstantive: c.IsSubstantive,
	}
}

func logResult(result *Result) {
	substantive := 0
	for _, msg := range result.Messages {
		if msg.IsSubstantive {
			substantive++
		}
	}
	b := result.FilteringBreakdown
	logger.Infof("[Categorizer] 完成: %d 条消息, 有效 %d, 无效 %d", len(result.Messages), substantive, len(result.Messages)-substantive)
	logger.Infof("[Categorizer] 过滤明细: greetings=%d, chitchat=%d, short=%d, other=%d", b.Greetings, b.Chitchat, b.ShortMessages, b.Other)
}
