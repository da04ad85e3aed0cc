package report

import "time"

// Sentiment 单条消息情感
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// Priority 行动项优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// OpinionType 观点类型
type OpinionType string

const (
	OpinionConsensus   OpinionType = "consensus"
	OpinionConflicting OpinionType = "conflicting"
	OpinionGeneral     OpinionType = "general"
)

// Language 报告语言
type Language string

const (
	LanguageKorean  Language = "ko"
	LanguageEnglish Language = "en"
)

// ParsedMessage 解析并脱敏后的用户消息
type ParsedMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EmbeddedMessage 带向量的消息
type EmbeddedMessage struct {
	ParsedMessage
	Embedding []float64 `json:"-"`
}

// CategorizedMessage 分类后的消息
type CategorizedMessage struct {
	ParsedMessage
	Embedding     []float64 `json:"-"`
	Category      string    `json:"category"`
	SubCategory   string    `json:"subCategory,omitempty"`
	Intent        string    `json:"intent,omitempty"`
	Sentiment     Sentiment `json:"sentiment"`
	IsSubstantive bool      `json:"isSubstantive"`
}

// Opinion 话题内的观点及其来源消息
type Opinion struct {
	ID                  string      `json:"id"`
	Text                string      `json:"text"`
	Type                OpinionType `json:"type"`
	SupportingMessages  []string    `json:"supportingMessages"`
	MentionCount        int         `json:"mentionCount"`
	RepresentativeQuote string      `json:"representativeQuote,omitempty"`
	Confidence          *float64    `json:"confidence,omitempty"`
}

// ClusterSummary 话题共识与分歧
type ClusterSummary struct {
	Consensus   []string  `json:"consensus"`
	Conflicting []string  `json:"conflicting"`
	Sentiment   Sentiment `json:"sentiment"`
}

// ActionItem 建议的后续行动
type ActionItem struct {
	Action    string   `json:"action"`
	Priority  Priority `json:"priority"`
	Rationale string   `json:"rationale"`
}

// MessageCluster 话题簇
type MessageCluster struct {
	ID          string               `json:"id"`
	Topic       string               `json:"topic"`
	Description string               `json:"description"`
	Messages    []CategorizedMessage `json:"messages"`
	Opinions    []Opinion            `json:"opinions"`
	Summary     ClusterSummary       `json:"summary"`
	NextSteps   []ActionItem         `json:"nextSteps"`
}

// FilteringBreakdown 无实质内容消息的过滤原因统计
type FilteringBreakdown struct {
	Greetings     int `json:"greetings"`
	Chitchat      int `json:"chitchat"`
	ShortMessages int `json:"shortMessages"`
	Other         int `json:"other"`
}

// DateRange 时间区间
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TopicRank 热门话题
type TopicRank struct {
	Topic      string  `json:"topic"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ReportStatistics 报告统计
type ReportStatistics struct {
	TotalMessages               int                 `json:"totalMessages"`
	TotalThreads                int                 `json:"totalThreads"`
	DateRange                   DateRange           `json:"dateRange"`
	CategoryDistribution        map[string]int      `json:"categoryDistribution"`
	SentimentDistribution       map[string]int      `json:"sentimentDistribution"`
	TopTopics                   []TopicRank         `json:"topTopics"`
	AverageMessagesPerThread    float64             `json:"averageMessagesPerThread"`
	TotalMessagesBeforeSampling int                 `json:"totalMessagesBeforeSampling"`
	WasSampled                  bool                `json:"wasSampled"`
	NonSubstantiveCount         int                 `json:"nonSubstantiveCount"`
	FilteringBreakdown          *FilteringBreakdown `json:"filteringBreakdown,omitempty"`
}

// ReportSynthesis 跨话题的总体结论
type ReportSynthesis struct {
	OverallSentiment Sentiment    `json:"overallSentiment"`
	KeyFindings      []string     `json:"keyFindings"`
	TopPriorities    []ActionItem `json:"topPriorities"`
	ExecutiveSummary string       `json:"executiveSummary"`
}

// Report 最终报告
type Report struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	CreatedAt     time.Time          `json:"createdAt"`
	Statistics    ReportStatistics   `json:"statistics"`
	Clusters      []MessageCluster   `json:"clusters"`
	Synthesis     *ReportSynthesis   `json:"synthesis,omitempty"`
	Visualization *VisualizationData `json:"visualization,omitempty"`
	Markdown      string             `json:"markdown"`
}

// RequestParams 报告请求参数，同时用于计算缓存键
type RequestParams struct {
	ThreadIDs   []string `json:"threadIds,omitempty"`
	AgentURLs   []string `json:"agentUrls,omitempty"`
	AgentNames  []string `json:"agentNames,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	MaxMessages int      `json:"maxMessages,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	Language    Language `json:"language,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Progress 任务进度
type Progress struct {
	Step        int    `json:"step"`
	TotalSteps  int    `json:"totalSteps"`
	CurrentStep string `json:"currentStep"`
	Percentage  int    `json:"percentage"`
}

// ProgressFunc 进度回调
type ProgressFunc func(Progress)

// ProjectionPoint 降维后的二维坐标
type ProjectionPoint struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ClusterID int     `json:"clusterId"`
}

// Projection 聚类阶段产出的二维投影
type Projection struct {
	Points []ProjectionPoint `json:"points"`
}

// ValidationResult 校验结果
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
