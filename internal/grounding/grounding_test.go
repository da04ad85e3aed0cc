package grounding

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

func testCluster(id string, opinions []string, contents ...string) report.MessageCluster {
	cluster := report.MessageCluster{
		ID:       id,
		Topic:    "Topic " + id,
		Opinions: report.OpinionsFromStrings(id, opinions),
	}
	for i, c := range contents {
		cluster.Messages = append(cluster.Messages, report.CategorizedMessage{
			ParsedMessage: report.ParsedMessage{ID: fmt.Sprintf("%s-m%d", id, i), Content: c},
			IsSubstantive: true,
		})
	}
	return cluster
}

func TestGround(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		prompt := llmtest.Prompt(req)
		if strings.Contains(prompt, "Topic broken") {
			return "", errors.New("timeout")
		}
		return "```json\n" + `{"groundings": [
			{"opinionIndex": 0, "supportingMessageIndices": [9, 1, 0, 1, 2], "mentionCount": 7, "confidence": 0.9},
			{"opinionIndex": 1, "supportingMessageIndices": [2], "confidence": 0.6}
		]}` + "\n```", nil
	}}

	clusters := []report.MessageCluster{
		testCluster("ok", []string{"login fails", "slow pages", "unmatched"}, "cannot log in", "login broken again", "pages are slow"),
		testCluster("broken", []string{"something"}, "message"),
		testCluster("empty", nil, "no opinions here"),
	}

	result, err := NewGrounder(recorder, 2).Ground(context.Background(), clusters)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, 2, recorder.Calls())

	first := result[0].Opinions
	assert.Equal(t, []string{"ok-m1", "ok-m0", "ok-m2"}, first[0].SupportingMessages)
	assert.Equal(t, "login broken again", first[0].RepresentativeQuote)
	assert.Equal(t, 7, first[0].MentionCount)
	require.NotNil(t, first[0].Confidence)
	assert.InDelta(t, 0.9, *first[0].Confidence, 1e-9)

	assert.Equal(t, []string{"ok-m2"}, first[1].SupportingMessages)
	assert.Equal(t, 1, first[1].MentionCount)

	assert.Empty(t, first[2].SupportingMessages)
	assert.NotNil(t, first[2].SupportingMessages)
	assert.Nil(t, first[2].Confidence)

	broken := result[1].Opinions
	require.Len(t, broken, 1)
	assert.Equal(t, "something", broken[0].Text)
	assert.Empty(t, broken[0].SupportingMessages)
	assert.Zero(t, broken[0].MentionCount)

	assert.Empty(t, result[2].Opinions)
}

func TestGround_PromptTruncatesContent(t *testing.T) {
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		return `{"groundings": []}`, nil
	}}
	long := strings.Repeat("가", 400)
	_, err := NewGrounder(recorder, 0).Ground(context.Background(), []report.MessageCluster{
		testCluster("c", []string{"opinion"}, long),
	})
	require.NoError(t, err)
	require.Len(t, recorder.Requests, 1)

	req := recorder.Requests[0]
	assert.Equal(t, 2000, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	prompt := llmtest.Prompt(req)
	assert.Contains(t, prompt, strings.Repeat("가", 300))
	assert.NotContains(t, prompt, strings.Repeat("가", 301))
	assert.Contains(t, prompt, `Cluster Topic: "Topic c"`)
}

func TestGround_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder := &llmtest.Recorder{Respond: func(req llm.CompletionRequest) (string, error) {
		return "", context.Canceled
	}}
	_, err := NewGrounder(recorder, 0).Ground(ctx, []report.MessageCluster{testCluster("c", []string{"x"}, "y")})
	assert.ErrorIs(t, err, context.Canceled)
}
