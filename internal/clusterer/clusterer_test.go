package clusterer

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
	"github.com/stretchr/testify/require"
)

func categorized(id, content string, sentiment report.Sentiment, embedding []float64) report.CategorizedMessage {
	return report.CategorizedMessage{
		ParsedMessage: report.ParsedMessage{ID: id, Content: content},
		Embedding:     embedding,
		Category:      report.CategoryQuestion,
		Sentiment:     sentiment,
		IsSubstantive: true,
	}
}

func TestClusterSentiment(t *testing.T) {
	mk := func(sentiments ...report.Sentiment) []report.CategorizedMessage {
		var ms []report.CategorizedMessage
		for i, s := range sentiments {
			ms = append(ms, categorized(fmt.Sprint(i), "x", s, nil))
		}
		return ms
	}
	pos, neg, neu := report.SentimentPositive, report.SentimentNegative, report.SentimentNeutral

	assert.Equal(t, report.SentimentNeutral, ClusterSentiment(nil))
	assert.Equal(t, report.SentimentPositive, ClusterSentiment(mk(pos, pos, pos, pos, neu)))
	assert.Equal(t, report.SentimentNegative, ClusterSentiment(mk(neg, neg, neg, neg, pos)))
	assert.Equal(t, report.SentimentMixed, ClusterSentiment(mk(neg, pos, neu)))
	assert.Equal(t, report.SentimentNeutral, ClusterSentiment(mk(neu, neu, pos)))
}

func TestEmbeddingClusterer_SmallInputSingleCluster(t *testing.T) {
	var messages []report.CategorizedMessage
	for i := 0; i < 5; i++ {
		messages = append(messages, categorized(fmt.Sprintf("m%d", i), "결제 문의입니다", report.SentimentNeutral, []float64{float64(i), 1}))
	}

	result, err := NewEmbeddingClusterer(EmbeddingOptions{}).Cluster(context.Background(), messages, report.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, "cluster-0", result.Clusters[0].ID)
	assert.Equal(t, "All Messages", result.Clusters[0].Topic)
	assert.Len(t, result.Clusters[0].Messages, 5)

	require.Len(t, result.Projection.Points, 5)
	assert.Equal(t, 4.0, result.Projection.Points[4].X)
	assert.Equal(t, 0.0, result.Projection.Points[4].Y)
}

func TestEmbeddingClusterer_DropsNonSubstantive(t *testing.T) {
	messages := []report.CategorizedMessage{
		categorized("m1", "결제 오류가 나요", report.SentimentNegative, []float64{1, 0}),
		{ParsedMessage: report.ParsedMessage{ID: "m2", Content: "ok"}, IsSubstantive: false},
	}
	result, err := NewEmbeddingClusterer(EmbeddingOptions{}).Cluster(context.Background(), messages, report.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, result.Clusters, 1)
	require.Len(t, result.Clusters[0].Messages, 1)
	assert.Equal(t, "m1", result.Clusters[0].Messages[0].ID)
}

func TestEmbeddingClusterer_Empty(t *testing.T) {
	result, err := NewEmbeddingClusterer(EmbeddingOptions{}).Cluster(context.Background(), nil, report.LanguageEnglish)
	require.NoError(t, err)
	assert.Empty(t, result.Clusters)
}

func TestEmbeddingClusterer_SeparatedTopics(t *testing.T) {
	data := blobs(3, 10, 8)
	messages := make([]report.CategorizedMessage, len(data))
	for i, v := range data {
		messages[i] = categorized(fmt.Sprintf("g%d-m%d", i/10, i), "메시지 내용입니다", report.SentimentNeutral, v)
	}

	c := NewEmbeddingClusterer(EmbeddingOptions{NumClusters: 3, UMAP: UMAPOptions{Seed: 7}})
	result, err := c.Cluster(context.Background(), messages, report.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, result.Clusters, 3)

	total := 0
	for _, cluster := range result.Clusters {
		assert.True(t, strings.HasPrefix(cluster.ID, "cluster-"))
		assert.True(t, strings.HasPrefix(cluster.Topic, "Cluster "))
		group := strings.Split(cluster.Messages[0].ID, "-")[0]
		for _, m := range cluster.Messages {
			assert.True(t, strings.HasPrefix(m.ID, group+"-"), "簇 %s 混入了 %s", cluster.ID, m.ID)
		}
		total += len(cluster.Messages)
	}
	assert.Equal(t, 30, total)
	assert.Len(t, result.Projection.Points, 30)

	again, err := c.Cluster(context.Background(), messages, report.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, result.Projection, again.Projection)
}

func TestEmbeddingClusterer_MissingEmbedding(t *testing.T) {
	var messages []report.CategorizedMessage
	for i := 0; i < 12; i++ {
		messages = append(messages, categorized(fmt.Sprint(i), "내용이 있습니다", report.SentimentNeutral, nil))
	}
	_, err := NewEmbeddingClusterer(EmbeddingOptions{}).Cluster(context.Background(), messages, report.LanguageEnglish)
	assert.Error(t, err)
}

func llmMessages() []report.CategorizedMessage {
	return []report.CategorizedMessage{
		categorized("m0", "결제가 실패했어요", report.SentimentNegative, nil),
		categorized("m1", "로그인이 안 돼요", report.SentimentNegative, nil),
		categorized("m2", "카드 결제 오류", report.SentimentNegative, nil),
		categorized("m3", "다크 모드 추가해주세요", report.SentimentNeutral, nil),
	}
}

func TestLLMClusterer(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		prompt := llmtest.Prompt(req)
		switch {
		case strings.Contains(prompt, "identify the main topics"):
			return `{"topics": [{"name": "Login"}, {"name": "Payments"}, {"name": "Unused"}]}`, nil
		case strings.Contains(prompt, "Assign each message"):
			return "```json\n" + `{"assignments": [
				{"index": 0, "topic": 2}, {"index": 1, "topic": 1},
				{"index": 2, "topic": "Payments"}, {"index": 3, "topic": 9}
			]}` + "\n```", nil
		case strings.Contains(prompt, `about "Payments"`):
			return `{"opinions": ["Card payments fail", {"summary": "Users want retries"}]}`, nil
		default:
			return "", errors.New("unavailable")
		}
	}}

	result, err := NewLLMClusterer(recorder, 0).Cluster(context.Background(), llmMessages(), report.LanguageEnglish)
	require.NoError(t, err)
	require.Len(t, result.Clusters, 2)
	assert.Nil(t, result.Projection)

	// 话题编号越界的 m3 归入第一个话题
	login := result.Clusters[0]
	assert.Equal(t, "Login", login.Topic)
	require.Len(t, login.Messages, 2)
	assert.Equal(t, "m1", login.Messages[0].ID)
	assert.Equal(t, "m3", login.Messages[1].ID)
	require.Len(t, login.Opinions, 1)
	assert.Equal(t, "2 messages about this topic", login.Opinions[0].Text)

	payments := result.Clusters[1]
	assert.Equal(t, "Payments", payments.Topic)
	assert.Equal(t, `Messages related to "Payments"`, payments.Description)
	require.Len(t, payments.Messages, 2)
	assert.Equal(t, "m0", payments.Messages[0].ID)
	assert.Equal(t, "m2", payments.Messages[1].ID)
	require.Len(t, payments.Opinions, 2)
	assert.Equal(t, "Card payments fail", payments.Opinions[0].Text)
	assert.Equal(t, "Users want retries", payments.Opinions[1].Text)
	assert.Equal(t, payments.ID+"-op-0", payments.Opinions[0].ID)
	assert.Equal(t, report.SentimentNegative, payments.Summary.Sentiment)
	assert.NotEqual(t, payments.ID, login.ID)
}

func TestLLMClusterer_PartialAssignmentKeepsEveryMessage(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		prompt := llmtest.Prompt(req)
		switch {
		case strings.Contains(prompt, "identify the main topics"):
			return `{"topics": [{"name": "Payments"}, {"name": "Login"}]}`, nil
		case strings.Contains(prompt, "Assign each message"):
			return `{"assignments": [{"index": 1, "topic": 2}, {"index": 2, "topic": "Unknown"}]}`, nil
		default:
			return "", errors.New("unavailable")
		}
	}}

	messages := llmMessages()
	result, err := NewLLMClusterer(recorder, 0).Cluster(context.Background(), messages, report.LanguageEnglish)
	require.NoError(t, err)

	total := 0
	for _, c := range result.Clusters {
		total += len(c.Messages)
	}
	assert.Equal(t, len(messages), total)
	require.Len(t, result.Clusters, 2)
	assert.Equal(t, "Payments", result.Clusters[0].Topic)
	assert.Len(t, result.Clusters[0].Messages, 3)
}

func TestLLMClusterer_Fallbacks(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		return "not json", nil
	}}
	messages := llmMessages()
	messages[3].Category = report.CategoryRequest

	result, err := NewLLMClusterer(recorder, 2).Cluster(context.Background(), messages, report.LanguageKorean)
	require.NoError(t, err)

	// 话题退化为分类，分配失败时全部归入第一个话题
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, report.CategoryQuestion, result.Clusters[0].Topic)
	assert.Len(t, result.Clusters[0].Messages, 4)
	assert.Equal(t, "4 messages about this topic", result.Clusters[0].Opinions[0].Text)

	var sawKorean bool
	for _, req := range recorder.Requests {
		if strings.Contains(llmtest.Prompt(req), "in Korean") {
			sawKorean = true
		}
	}
	assert.True(t, sawKorean)
}

func TestResolveTopic(t *testing.T) {
	topics := []string{"A", "B"}
	assert.Equal(t, 1, resolveTopic([]byte(`2`), topics))
	assert.Equal(t, 0, resolveTopic([]byte(`"A"`), topics))
	assert.Equal(t, 1, resolveTopic([]byte(`"2"`), topics))
	assert.Equal(t, -1, resolveTopic([]byte(`3`), topics))
	assert.Equal(t, -1, resolveTopic([]byte(`"C"`), topics))
}
