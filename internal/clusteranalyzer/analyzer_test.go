package clusteranalyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/llm/llmtest"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testCluster(id string, contents ...string) report.MessageCluster {
	cluster := report.MessageCluster{
		ID:      id,
		Topic:   "Cluster " + id,
		Summary: report.ClusterSummary{Sentiment: report.SentimentNegative},
	}
	for i, c := range contents {
		cluster.Messages = append(cluster.Messages, report.CategorizedMessage{
			ParsedMessage: report.ParsedMessage{ID: fmt.Sprintf("%s-m%d", id, i), Content: c},
			Sentiment:     report.SentimentNegative,
			IsSubstantive: true,
		})
	}
	return cluster
}

func TestAnalyze_Success(t *testing.T) {
	completer := new(llmtest.MockCompleter)
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.CompletionRequest) bool {
		prompt := llmtest.Prompt(req)
		return req.MaxTokens == 2000 &&
			strings.Contains(prompt, "IMPORTANT: Write ALL text content in Korean.") &&
			strings.Contains(prompt, "Sentiment distribution: 0 positive, 2 negative, 0 neutral") &&
			strings.Contains(prompt, `- "다크 모드 추가"`)
	})).Return(`{
		"topic": "결제 오류",
		"description": "결제 실패에 대한 불만",
		"opinions": ["카드 결제가 실패한다", {"text": "재시도 기능이 필요하다"}, ""],
		"summary": {"consensus": ["결제가 불안정하다"], "sentiment": "negative"},
		"nextSteps": [{"action": "결제 모듈 점검", "priority": "high", "rationale": "매출 영향"}, {"action": ""}, {"action": "안내 강화"}]
	}`, nil).Once()
	completer.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("rate limited"))

	clusters := []report.MessageCluster{
		testCluster("cluster-0", "결제가 실패했어요", "카드 결제 오류"),
		testCluster("cluster-1", "다크 모드 추가"),
	}

	result, err := NewAnalyzer(completer, 0).Analyze(context.Background(), clusters, report.LanguageKorean)
	require.NoError(t, err)
	require.Len(t, result, 2)

	first := result[0]
	assert.Equal(t, "결제 오류", first.Topic)
	assert.Equal(t, "결제 실패에 대한 불만", first.Description)
	require.Len(t, first.Opinions, 2)
	assert.Equal(t, "cluster-0-op-0", first.Opinions[0].ID)
	assert.Equal(t, "재시도 기능이 필요하다", first.Opinions[1].Text)
	assert.Equal(t, report.OpinionGeneral, first.Opinions[1].Type)
	assert.Equal(t, []string{"결제가 불안정하다"}, first.Summary.Consensus)
	assert.Empty(t, first.Summary.Conflicting)
	require.Len(t, first.NextSteps, 2)
	assert.Equal(t, report.PriorityHigh, first.NextSteps[0].Priority)
	assert.Equal(t, report.PriorityMedium, first.NextSteps[1].Priority)
	assert.Len(t, first.Messages, 2)

	// 第二个簇调用失败，使用兜底观点并保留原情感
	second := result[1]
	assert.Equal(t, "Cluster cluster-1", second.Topic)
	assert.Equal(t, []report.Opinion{FallbackOpinion("cluster-1", 1)}, second.Opinions)
	assert.Equal(t, "1 messages about this topic", second.Opinions[0].Text)
	assert.Equal(t, report.SentimentNegative, second.Summary.Sentiment)
	assert.Empty(t, second.NextSteps)
}

func TestAnalyze_NoOutsideExamples(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		return `{"topic": "Only"}`, nil
	}}
	result, err := NewAnalyzer(recorder, 1).Analyze(context.Background(), []report.MessageCluster{testCluster("c", "hello world there")}, report.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, recorder.Requests, 1)
	prompt := llmtest.Prompt(recorder.Requests[0])
	assert.Contains(t, prompt, "No outside examples available")
	assert.Contains(t, prompt, "Write all text content in English.")
	assert.Equal(t, "Only", result[0].Topic)
	assert.Equal(t, report.SentimentNeutral, result[0].Summary.Sentiment)
	assert.Empty(t, result[0].Opinions)
}

func TestAnalyze_Empty(t *testing.T) {
	result, err := NewAnalyzer(new(llmtest.MockCompleter), 0).Analyze(context.Background(), nil, report.LanguageEnglish)
	require.NoError(t, err)
	assert.Empty(t, result)
}
