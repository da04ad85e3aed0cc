package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/llm/llmtest"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testClusters() []report.MessageCluster {
	return []report.MessageCluster{
		{
			ID:       "c0",
			Topic:    "Payment errors",
			Messages: make([]report.CategorizedMessage, 3),
			Summary:  report.ClusterSummary{Consensus: []string{"payments fail"}, Sentiment: report.SentimentNegative},
			NextSteps: []report.ActionItem{
				{Action: "Fix checkout", Priority: report.PriorityHigh, Rationale: "revenue"},
			},
		},
	}
}

func TestSynthesize(t *testing.T) {
	completer := new(llmtest.MockCompleter)
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.CompletionRequest) bool {
		return req.MaxTokens == 2000 && req.Temperature == 0.5 &&
			len(req.Messages) == 2 &&
			req.Messages[0] == llm.SystemMessage("IMPORTANT: Write ALL text content in Korean.") &&
			containsAll(req.Messages[1].Content,
				"- Total messages analyzed: 3",
				`"topic": "Payment errors"`,
				`"messageCount": 3`,
				`{"negative":3,"neutral":0,"positive":0}`,
			)
	})).Return(`{
		"overallSentiment": "negative",
		"keyFindings": ["결제 실패가 가장 큰 문제"],
		"topPriorities": [{"action": "결제 수정", "priority": "high", "rationale": "매출"}, {"action": "  "}, {"action": "안내"}],
		"executiveSummary": "결제 문제가 심각합니다."
	}`, nil)

	stats := report.ReportStatistics{
		TotalMessages:         3,
		TotalThreads:          1,
		SentimentDistribution: map[string]int{"positive": 0, "negative": 3, "neutral": 0},
	}
	result := NewSynthesizer(completer).Synthesize(context.Background(), testClusters(), stats, report.LanguageKorean)
	require.NotNil(t, result)
	completer.AssertExpectations(t)

	assert.Equal(t, report.SentimentNegative, result.OverallSentiment)
	assert.Equal(t, []string{"결제 실패가 가장 큰 문제"}, result.KeyFindings)
	assert.Equal(t, []report.ActionItem{
		{Action: "결제 수정", Priority: report.PriorityHigh, Rationale: "매출"},
		{Action: "안내", Priority: report.PriorityMedium},
	}, result.TopPriorities)
	assert.Equal(t, "결제 문제가 심각합니다.", result.ExecutiveSummary)
}

func TestSynthesize_Fallback(t *testing.T) {
	tests := []struct {
		name     string
		clusters []report.MessageCluster
		response string
		err      error
	}{
		{name: "no clusters"},
		{name: "llm error", clusters: testClusters(), err: errors.New("boom")},
		{name: "invalid json", clusters: testClusters(), response: "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
				return tt.response, tt.err
			}}
			result := NewSynthesizer(recorder).Synthesize(context.Background(), tt.clusters, report.ReportStatistics{}, report.LanguageEnglish)
			assert.Equal(t, DefaultSynthesis(), result)
			if tt.clusters == nil {
				assert.Zero(t, recorder.Calls())
			}
		})
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
