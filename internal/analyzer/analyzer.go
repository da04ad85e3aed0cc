package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/fachebot/talk-insight/internal/report"
)

const maxTopTopics = 10

// Input 统计所需的上游结果
type Input struct {
	Messages                    []report.CategorizedMessage
	Clusters                    []report.MessageCluster
	ThreadCount                 int
	TotalMessagesBeforeSampling int
	WasSampled                  bool
	NonSubstantiveCount         int
	FilteringBreakdown          *report.FilteringBreakdown
}

// Analyze 计算报告统计，messages 应为有实质内容的消息集合
func Analyze(in Input, now time.Time) report.ReportStatistics {
	stats := report.ReportStatistics{
		TotalMessages:               len(in.Messages),
		TotalThreads:                in.ThreadCount,
		DateRange:                   dateRange(in.Messages, now),
		CategoryDistribution:        categoryDistribution(in.Messages),
		SentimentDistribution:       sentimentDistribution(in.Messages),
		TopTopics:                   TopTopics(in.Clusters),
		TotalMessagesBeforeSampling: in.TotalMessagesBeforeSampling,
		WasSampled:                  in.WasSampled,
		NonSubstantiveCount:         in.NonSubstantiveCount,
		FilteringBreakdown:          in.FilteringBreakdown,
	}
	if in.ThreadCount > 0 {
		stats.AverageMessagesPerThread = float64(len(in.Messages)) / float64(in.ThreadCount)
	}
	return stats
}

func dateRange(messages []report.CategorizedMessage, now time.Time) report.DateRange {
	if len(messages) == 0 {
		return report.DateRange{Start: now, End: now}
	}

	r := report.DateRange{Start: messages[0].Timestamp, End: messages[0].Timestamp}
	for _, msg := range messages[1:] {
		if msg.Timestamp.Before(r.Start) {
			r.Start = msg.Timestamp
		}
		if msg.Timestamp.After(r.End) {
			r.End = msg.Timestamp
		}
	}
	return r
}

func categoryDistribution(messages []report.CategorizedMessage) map[string]int {
	distribution := make(map[string]int)
	for _, msg := range messages {
		category := msg.Category
		if category == "" {
			category = report.CategoryOther
		}
		distribution[category]++
	}
	return distribution
}

func sentimentDistribution(messages []report.CategorizedMessage) map[string]int {
	distribution := map[string]int{
		string(report.SentimentPositive): 0,
		string(report.SentimentNegative): 0,
		string(report.SentimentNeutral):  0,
	}
	for _, msg := range messages {
		sentiment := msg.Sentiment
		if sentiment == "" {
			sentiment = report.SentimentNeutral
		}
		distribution[string(sentiment)]++
	}
	return distribution
}

// TopTopics 按消息数降序返回前 10 个话题，占比保留一位小数
func TopTopics(clusters []report.MessageCluster) []report.TopicRank {
	total := 0
	for _, c := range clusters {
		total += len(c.Messages)
	}

	topics := make([]report.TopicRank, 0, len(clusters))
	for _, c := range clusters {
		rank := report.TopicRank{Topic: c.Topic, Count: len(c.Messages)}
		if total > 0 {
			rank.Percentage = math.Round(float64(rank.Count)/float64(total)*1000) / 10
		}
		topics = append(topics, rank)
	}

	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Count > topics[j].Count
	})
	if len(topics) > maxTopTopics {
		topics = topics[:maxTopTopics]
	}
	return topics
}
