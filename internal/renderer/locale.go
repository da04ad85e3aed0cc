package renderer

import (
	"strings"

	"github.com/fachebot/talk-insight/internal/report"
)

// 已知时区到报告语言的映射
var timezoneLanguages = map[string]report.Language{
	"Asia/Seoul":          report.LanguageKorean,
	"Asia/Pyongyang":      report.LanguageKorean,
	"ROK":                 report.LanguageKorean,
	"America/New_York":    report.LanguageEnglish,
	"America/Chicago":     report.LanguageEnglish,
	"America/Denver":      report.LanguageEnglish,
	"America/Los_Angeles": report.LanguageEnglish,
	"America/Toronto":     report.LanguageEnglish,
	"America/Vancouver":   report.LanguageEnglish,
	"Europe/London":       report.LanguageEnglish,
	"Europe/Dublin":       report.LanguageEnglish,
	"Australia/Sydney":    report.LanguageEnglish,
	"Australia/Melbourne": report.LanguageEnglish,
	"Pacific/Auckland":    report.LanguageEnglish,
	"UTC":                 report.LanguageEnglish,
	"Etc/UTC":             report.LanguageEnglish,
}

// ResolveLanguage 优先使用显式语言，其次按时区推断，最后使用默认语言
func ResolveLanguage(language report.Language, timezone string, fallback report.Language) report.Language {
	if language == report.LanguageKorean || language == report.LanguageEnglish {
		return language
	}
	if lang, ok := timezoneLanguages[strings.TrimSpace(timezone)]; ok {
		return lang
	}
	if fallback == report.LanguageKorean {
		return report.LanguageKorean
	}
	return report.LanguageEnglish
}

type locale struct {
	GeneratedAt       string
	ExecutiveSummary  string
	TotalMessages     string
	SampledFrom       string
	TotalThreads      string
	AveragePerThread  string
	AnalysisPeriod    string
	Note              string
	SampledNote       string
	ExcludedNote      string
	KeyFindings       string
	TopPriorities     string
	SentimentOverview string
	Sentiments        map[string]string
	CategoryTitle     string
	CategoryHeader    string
	Categories        map[string]string
	TopTopics         string
	TopicLine         string
	NoTopics          string
	TopicAnalysis     string
	MessageCount      string
	Sentiment         string
	KeyOpinions       string
	Mentions          string
	Consensus         string
	Conflicting       string
	NextSteps         string
	Priorities        map[report.Priority]string
	SampleMessages    string
	Appendix          string
	Methodology       string
	MethodologyIntro  string
	MethodologySteps  []string
	EmptyBody         string
}

var locales = map[report.Language]locale{
	report.LanguageEnglish: {
		GeneratedAt:       "Generated at",
		ExecutiveSummary:  "Executive Summary",
		TotalMessages:     "Total Messages Analyzed",
		SampledFrom:       "sampled from %d",
		TotalThreads:      "Total Threads",
		AveragePerThread:  "Average Messages per Thread",
		AnalysisPeriod:    "Analysis Period",
		Note:              "Note",
		SampledNote:       "Sampled from %d total messages",
		ExcludedNote:      "%d non-substantive messages (greetings/chitchat) excluded",
		KeyFindings:       "Key Findings",
		TopPriorities:     "Top Priorities",
		SentimentOverview: "Sentiment Overview",
		Sentiments: map[string]string{
			"positive": "Positive",
			"negative": "Negative",
			"neutral":  "Neutral",
			"mixed":    "Mixed",
		},
		CategoryTitle:  "Category Distribution",
		CategoryHeader: "| Category | Count | Percentage |",
		Categories:     map[string]string{},
		TopTopics:      "Top Topics",
		TopicLine:      "%d. **%s** - %d messages (%s%%)",
		NoTopics:       "_No topics identified_",
		TopicAnalysis:  "Topic Analysis",
		MessageCount:   "_%d messages_",
		Sentiment:      "Sentiment",
		KeyOpinions:    "Key Opinions & Insights",
		Mentions:       "%d mentions",
		Consensus:      "Consensus",
		Conflicting:    "Conflicting Views",
		NextSteps:      "Next Steps",
		Priorities: map[report.Priority]string{
			report.PriorityHigh:   "High",
			report.PriorityMedium: "Medium",
			report.PriorityLow:    "Low",
		},
		SampleMessages:   "Sample Messages",
		Appendix:         "Appendix",
		Methodology:      "Methodology",
		MethodologyIntro: "This report was generated using the following pipeline:",
		MethodologySteps: []string{
			"**Parsing**: User messages extracted from threads with PII anonymization",
			"**Embedding & Categorization**: Intent, sentiment and substance classification",
			"**Clustering**: Topic identification and message grouping",
			"**Analysis**: Opinion grounding, statistical aggregation and synthesis",
		},
		EmptyBody: "No messages found for the selected threads and date range.",
	},
	report.LanguageKorean: {
		GeneratedAt:       "생성 시각",
		ExecutiveSummary:  "요약",
		TotalMessages:     "분석된 메시지 수",
		SampledFrom:       "전체 %d개 중 샘플링",
		TotalThreads:      "대화 스레드 수",
		AveragePerThread:  "스레드당 평균 메시지 수",
		AnalysisPeriod:    "분석 기간",
		Note:              "참고",
		SampledNote:       "전체 %d개 메시지에서 샘플링됨",
		ExcludedNote:      "인사/잡담 등 의미 없는 메시지 %d개 제외",
		KeyFindings:       "주요 발견",
		TopPriorities:     "우선 과제",
		SentimentOverview: "감정 분석",
		Sentiments: map[string]string{
			"positive": "긍정",
			"negative": "부정",
			"neutral":  "중립",
			"mixed":    "혼합",
		},
		CategoryTitle:  "카테고리 분포",
		CategoryHeader: "| 카테고리 | 개수 | 비율 |",
		Categories: map[string]string{
			report.CategoryQuestion:    "질문",
			report.CategoryRequest:     "요청",
			report.CategoryFeedback:    "피드백",
			report.CategoryComplaint:   "불만",
			report.CategoryInformation: "정보",
			report.CategoryGreeting:    "인사",
			report.CategoryOther:       "기타",
		},
		TopTopics:     "주요 토픽",
		TopicLine:     "%d. **%s** - 메시지 %d개 (%s%%)",
		NoTopics:      "_식별된 토픽이 없습니다_",
		TopicAnalysis: "토픽 분석",
		MessageCount:  "_메시지 %d개_",
		Sentiment:     "감정",
		KeyOpinions:   "주요 의견",
		Mentions:      "%d회 언급",
		Consensus:     "공통 의견",
		Conflicting:   "상반된 의견",
		NextSteps:     "다음 단계",
		Priorities: map[report.Priority]string{
			report.PriorityHigh:   "높음",
			report.PriorityMedium: "보통",
			report.PriorityLow:    "낮음",
		},
		SampleMessages:   "메시지 예시",
		Appendix:         "부록",
		Methodology:      "분석 방법",
		MethodologyIntro: "이 리포트는 다음 과정을 거쳐 생성되었습니다:",
		MethodologySteps: []string{
			"**파싱**: 스레드에서 사용자 메시지를 추출하고 개인정보를 익명화",
			"**임베딩 및 분류**: 의도, 감정, 실질 여부 분류",
			"**클러스터링**: 토픽 식별 및 메시지 그룹화",
			"**분석**: 의견 근거 연결, 통계 집계 및 종합",
		},
		EmptyBody: "선택한 스레드와 기간에 해당하는 메시지가 없습니다.",
	},
}
