package clusterer

import (
	"context"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

// Clusterer 话题聚类策略，两种实现输出结构一致
type Clusterer interface {
	Cluster(ctx context.Context, messages []report.CategorizedMessage, language report.Language) (*Result, error)
}

// Result 聚类结果，Projection 仅在向量聚类时存在
type Result struct {
	Clusters   []report.MessageCluster
	Projection *report.Projection
}

// dominantRatio 某一情感占比超过该值时作为话题整体情感
const dominantRatio = 0.6

// ClusterSentiment 计算话题整体情感
func ClusterSentiment(messages []report.CategorizedMessage) report.Sentiment {
	total := len(messages)
	if total == 0 {
		return report.SentimentNeutral
	}

	var positive, negative int
	for _, m := range messages {
		switch m.Sentiment {
		case report.SentimentPositive:
			positive++
		case report.SentimentNegative:
			negative++
		}
	}

	switch {
	case float64(positive)/float64(total) > dominantRatio:
		return report.SentimentPositive
	case float64(negative)/float64(total) > dominantRatio:
		return report.SentimentNegative
	case positive > 0 && negative > 0:
		return report.SentimentMixed
	default:
		return report.SentimentNeutral
	}
}

// substantiveOnly 剔除混入的无实质内容消息
func substantiveOnly(messages []report.CategorizedMessage) []report.CategorizedMessage {
	result := make([]report.CategorizedMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsSubstantive {
			result = append(result, m)
		}
	}
	if dropped := len(messages) - len(result); dropped > 0 {
		logger.Warnf("[Clusterer] 剔除 %d 条无实质内容的消息", dropped)
	}
	return result
}

// nonEmpty 过滤没有消息的话题
func nonEmpty(clusters []report.MessageCluster) []report.MessageCluster {
	result := clusters[:0]
	for _, c := range clusters {
		if len(c.Messages) > 0 {
			result = append(result, c)
		}
	}
	return result
}
