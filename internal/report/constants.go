package report

import (
	"fmt"
	"time"
)

const (
	DefaultMaxMessages   = 1000 // 超过后进行分层采样
	DefaultDateRangeDays = 30   // 未指定时间时默认最近 30 天
	MinMessageLength     = 3    // 过滤 "Hi"、"ㅇㅇ" 之类的消息

	CategorizerBatchSize = 10 // 分类器每批消息数
	ClustererBatchSize   = 20 // 话题分配每批消息数

	SampleSizeForTopics         = 50 // 识别话题时的采样上限
	MaxSampleMessagesPerCluster = 30 // 总结观点时的采样上限

	ReportCacheTTL = time.Hour
)

const (
	CategoryQuestion    = "question"
	CategoryRequest     = "request"
	CategoryFeedback    = "feedback"
	CategoryComplaint   = "complaint"
	CategoryInformation = "information"
	CategoryGreeting    = "greeting"
	CategoryOther       = "other"
)

// NewEmptyStatistics 返回空统计，时间区间两端均为 now
func NewEmptyStatistics(threadCount int, now time.Time) ReportStatistics {
	return ReportStatistics{
		TotalThreads:          threadCount,
		DateRange:             DateRange{Start: now, End: now},
		CategoryDistribution:  map[string]int{},
		SentimentDistribution: map[string]int{"positive": 0, "negative": 0, "neutral": 0},
		TopTopics:             []TopicRank{},
	}
}

// OpinionsFromStrings 将旧版字符串观点转换为结构化观点
func OpinionsFromStrings(clusterID string, texts []string) []Opinion {
	opinions := make([]Opinion, 0, len(texts))
	for idx, text := range texts {
		opinions = append(opinions, Opinion{
			ID:                 fmt.Sprintf("%s-op-%d", clusterID, idx),
			Text:               text,
			Type:               OpinionGeneral,
			SupportingMessages: []string{},
		})
	}
	return opinions
}

// Truncate 按字符截断文本，超长时以 "..." 结尾
func Truncate(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}
