package clusteranalyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxInsideExamples  = 10
	maxOutsideExamples = 5
	maxContentLength   = 150
	outsideContentLen  = 100
	maxTokens          = 2000
	temperature        = 0.3
)

const analyzePrompt = `You are analyzing a cluster of user feedback messages.

%s

## Context
Total messages in cluster: %d
Sentiment distribution: %d positive, %d negative, %d neutral

## Examples OUTSIDE this cluster (for contrast):
%s

## Examples INSIDE this cluster:
%s

## Tasks
Based on the contrast between messages inside and outside the cluster, provide:

1. **Topic Label**: A short, descriptive topic name (3-5 words)
2. **Description**: One sentence describing what this cluster is about
3. **Opinions**: 3-7 distinct opinions expressed by users in this cluster
4. **Summary**:
   - consensus: Common opinions shared by most users
   - conflicting: Conflicting opinions (if any)
   - sentiment: Overall sentiment ("positive", "negative", "mixed", "neutral")
5. **Next Steps**: 1-3 actionable recommendations based on the feedback

Respond in JSON format only:
{
  "topic": "토픽 라벨",
  "description": "이 클러스터에 대한 설명",
  "opinions": [
    "Opinion 1: ...",
    "Opinion 2: ..."
  ],
  "summary": {
    "consensus": ["Common opinion 1", "Common opinion 2"],
    "conflicting": ["Some users want X while others prefer Y"],
    "sentiment": "mixed"
  },
  "nextSteps": [
    {
      "action": "Specific action to take",
      "priority": "high",
      "rationale": "Why this is important"
    }
  ]
}`

// FallbackOpinion 分析失败时为话题生成的唯一观点
func FallbackOpinion(clusterID string, messageCount int) report.Opinion {
	return report.Opinion{
		ID:                 clusterID + "-op-0",
		Text:               fmt.Sprintf("%d messages about this topic", messageCount),
		Type:               report.OpinionGeneral,
		SupportingMessages: []string{},
	}
}

type analysis struct {
	Topic       string            `json:"topic"`
	Description string            `json:"description"`
	Opinions    []json.RawMessage `json:"opinions"`
	Summary     *struct {
		Consensus   []string         `json:"consensus"`
		Conflicting []string         `json:"conflicting"`
		Sentiment   report.Sentiment `json:"sentiment"`
	} `json:"summary"`
	NextSteps []struct {
		Action    string          `json:"action"`
		Priority  report.Priority `json:"priority"`
		Rationale string          `json:"rationale"`
	} `json:"nextSteps"`
}

// Analyzer 用簇内外消息对比的方式为每个簇生成话题、观点和建议
type Analyzer struct {
	completer      llm.Completer
	maxConcurrency int
}

func NewAnalyzer(completer llm.Completer, maxConcurrency int) *Analyzer {
	return &Analyzer{completer: completer, maxConcurrency: maxConcurrency}
}

// Analyze 并发分析全部簇，单个簇失败时使用 FallbackOpinion
func (a *Analyzer) Analyze(ctx context.Context, clusters []report.MessageCluster, language report.Language) ([]report.MessageCluster, error) {
	logger.Infof("[ClusterAnalyzer] 分析 %d 个簇", len(clusters))
	if len(clusters) == 0 {
		return []report.MessageCluster{}, nil
	}

	var all []report.CategorizedMessage
	for _, c := range clusters {
		all = append(all, c.Messages...)
	}

	analyzed := make([]report.MessageCluster, len(clusters))
	g, gCtx := errgroup.WithContext(ctx)
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}
	for i, cluster := range clusters {
		g.Go(func() error {
			analyzed[i] = a.analyzeCluster(gCtx, cluster, all, language)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Infof("[ClusterAnalyzer] 完成: %d 个簇", len(analyzed))
	return analyzed, nil
}

func (a *Analyzer) analyzeCluster(ctx context.Context, cluster report.MessageCluster, all []report.CategorizedMessage, language report.Language) report.MessageCluster {
	if cluster.ID == "" {
		cluster.ID = uuid.NewString()
	}

	resp, err := a.request(ctx, cluster, all, language)
	if err != nil {
		logger.Errorf("[ClusterAnalyzer] 分析簇 %s 失败: %v", cluster.ID, err)
		sentiment := cluster.Summary.Sentiment
		if sentiment == "" {
			sentiment = report.SentimentNeutral
		}
		cluster.Opinions = []report.Opinion{FallbackOpinion(cluster.ID, len(cluster.Messages))}
		cluster.Summary = report.ClusterSummary{Consensus: []string{}, Conflicting: []string{}, Sentiment: sentiment}
		cluster.NextSteps = []report.ActionItem{}
		return cluster
	}

	opinions := make([]report.Opinion, 0, len(resp.Opinions))
	for _, raw := range resp.Opinions {
		text := opinionText(raw)
		if text == "" {
			continue
		}
		opinions = append(opinions, report.Opinion{
			ID:                 fmt.Sprintf("%s-op-%d", cluster.ID, len(opinions)),
			Text:               text,
			Type:               report.OpinionGeneral,
			SupportingMessages: []string{},
		})
	}

	summary := report.ClusterSummary{Consensus: []string{}, Conflicting: []string{}, Sentiment: report.SentimentNeutral}
	if resp.Summary != nil {
		if resp.Summary.Consensus != nil {
			summary.Consensus = resp.Summary.Consensus
		}
		if resp.Summary.Conflicting != nil {
			summary.Conflicting = resp.Summary.Conflicting
		}
		if resp.Summary.Sentiment != "" {
			summary.Sentiment = resp.Summary.Sentiment
		}
	}

	nextSteps := make([]report.ActionItem, 0, len(resp.NextSteps))
	for _, step := range resp.NextSteps {
		if strings.TrimSpace(step.Action) == "" {
			continue
		}
		priority := step.Priority
		if priority == "" {
			priority = report.PriorityMedium
		}
		nextSteps = append(nextSteps, report.ActionItem{Action: step.Action, Priority: priority, Rationale: step.Rationale})
	}

	if resp.Topic != "" {
		cluster.Topic = resp.Topic
	}
	if resp.Description != "" {
		cluster.Description = resp.Description
	}
	cluster.Opinions = opinions
	cluster.Summary = summary
	cluster.NextSteps = nextSteps
	return cluster
}

func (a *Analyzer) request(ctx context.Context, cluster report.MessageCluster, all []report.CategorizedMessage, language report.Language) (*analysis, error) {
	inside := make([]string, 0, maxInsideExamples)
	for _, m := range cluster.Messages[:min(maxInsideExamples, len(cluster.Messages))] {
		inside = append(inside, fmt.Sprintf(`- "%s"`, report.Truncate(m.Content, maxContentLength)))
	}

	memberIDs := make(map[string]struct{}, len(cluster.Messages))
	for _, m := range cluster.Messages {
		memberIDs[m.ID] = struct{}{}
	}
	outside := make([]string, 0, maxOutsideExamples)
	for _, m := range all {
		if len(outside) == maxOutsideExamples {
			break
		}
		if _, ok := memberIDs[m.ID]; ok {
			continue
		}
		outside = append(outside, fmt.Sprintf(`- "%s"`, report.Truncate(m.Content, outsideContentLen)))
	}
	outsideText := strings.Join(outside, "\n")
	if outsideText == "" {
		outsideText = "No outside examples available"
	}

	var positive, negative, neutral int
	for _, m := range cluster.Messages {
		switch m.Sentiment {
		case report.SentimentPositive:
			positive++
		case report.SentimentNegative:
			negative++
		case report.SentimentNeutral:
			neutral++
		}
	}

	langInstruction := "Write all text content in English."
	if language == report.LanguageKorean {
		langInstruction = "IMPORTANT: Write ALL text content in Korean."
	}

	prompt := fmt.Sprintf(analyzePrompt, langInstruction, len(cluster.Messages), positive, negative, neutral,
		outsideText, strings.Join(inside, "\n"))
	raw, err := a.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp analysis
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func opinionText(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return strings.TrimSpace(text)
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		for _, key := range []string{"text", "opinion", "summary"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

