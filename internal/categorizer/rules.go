package categorizer

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fachebot/talk-insight/internal/report"
)

var (
	greetingPattern    = regexp.MustCompile(`(?i)^(hi|hello|hey|안녕|하이|헬로|good\s*(morning|afternoon|evening)|greetings)[\s!.?]*$`)
	chitchatPattern    = regexp.MustCompile(`(?i)^(ok|okay|yes|no|yeah|yep|nope|thanks|thank you|thx|ty|ㅇㅇ|ㄴㄴ|ㅋ+|ㅎ+|lol|haha|good|nice|cool|great|sure|alright|got it|i see|understood)[\s!.?]*$`)
	botQuestionPattern = regexp.MustCompile(`(?i)^(who are you|what are you|누구|뭐야|너 뭐야|what is this)[\s?]*$`)

	punctuationPattern = regexp.MustCompile(`[?!.\s]`)
	letterPattern      = regexp.MustCompile(`[a-zA-Z가-힣]`)
)

// shortMessageLength 低于该长度且不含字母的消息视为无实质内容
const shortMessageLength = 20

// 否定词优先于肯定词，"좋아요 버튼이 안 눌려요" 判定为负面
var negativeKeywords = []string{
	"안됨", "안 됨", "안돼", "안 돼", "안 ", "못", "없", "싫", "별로", "불만",
	"나쁘", "최악", "실망", "짜증", "화나", "문제", "오류", "버그",
	"에러", "고장", "망", "안되", "안 되", "not working", "broken",
	"error", "bug", "issue", "problem", "bad", "worst", "terrible",
	"disappointed", "frustrated", "angry",
}

var positiveKeywords = []string{
	"좋", "감사", "최고", "만족", "잘", "굿", "훌륭", "대박", "멋",
	"짱", "완벽", "편리", "유용", "좋아", "사랑", "👍", "❤️", "🎉",
	"good", "great", "awesome", "amazing", "love", "thanks", "perfect",
	"excellent", "wonderful", "helpful", "useful",
}

// DetectSentiment 基于关键词判断情感，出现任一否定词即为负面
func DetectSentiment(content string) report.Sentiment {
	lower := strings.ToLower(content)
	for _, w := range negativeKeywords {
		if strings.Contains(lower, w) {
			return report.SentimentNegative
		}
	}
	for _, w := range positiveKeywords {
		if strings.Contains(lower, w) {
			return report.SentimentPositive
		}
	}
	return report.SentimentNeutral
}

// IsSubstantive 判断消息是否有分析价值
func IsSubstantive(content, category string) bool {
	trimmed := strings.TrimSpace(content)
	length := utf8.RuneCountInString(trimmed)

	if length < report.MinMessageLength {
		return false
	}
	if category == report.CategoryGreeting {
		return false
	}
	if greetingPattern.MatchString(trimmed) ||
		chitchatPattern.MatchString(trimmed) ||
		botQuestionPattern.MatchString(trimmed) {
		return false
	}
	if length < shortMessageLength {
		stripped := punctuationPattern.ReplaceAllString(trimmed, "")
		if !letterPattern.MatchString(stripped) {
			return false
		}
	}
	return true
}

// CalculateFilteringBreakdown 统计无实质内容消息的过滤原因
func CalculateFilteringBreakdown(messages []report.CategorizedMessage) report.FilteringBreakdown {
	var breakdown report.FilteringBreakdown
	for _, msg := range messages {
		if msg.IsSubstantive {
			continue
		}

		content := strings.TrimSpace(msg.Content)
		switch {
		case utf8.RuneCountInString(content) < report.MinMessageLength:
			breakdown.ShortMessages++
		case greetingPattern.MatchString(content) || msg.Category == report.CategoryGreeting:
			breakdown.Greetings++
		case chitchatPattern.MatchString(content):
			breakdown.Chitchat++
		default:
			breakdown.Other++
		}
	}
	return breakdown
}

// CosineSimilarity 余弦相似度，任一向量为零向量时返回 0
func CosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denominator := math.Sqrt(normA) * math.Sqrt(normB)
	if denominator == 0 {
		return 0
	}
	return dot / denominator
}
