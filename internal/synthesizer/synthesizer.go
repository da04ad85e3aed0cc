package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

const (
	maxTokens   = 2000
	temperature = 0.5
)

const synthesisPrompt = `You are analyzing user feedback for a product/service. Synthesize the following topic analyses into an executive summary.

Overall Statistics:
- Total messages analyzed: %d
- Total threads: %d
- Sentiment distribution: %s

Topic Analyses:
%s

Instructions:
1. Determine the overall sentiment across all topics
2. Identify 3-5 key findings that decision makers should know
3. Prioritize the top 3-5 action items from all topics (combine similar ones, rank by impact)
4. Write a 2-3 sentence executive summary for busy stakeholders

Respond in JSON format only:
{
  "overallSentiment": "mixed",
  "keyFindings": [
    "Finding 1: ...",
    "Finding 2: ..."
  ],
  "topPriorities": [
    {
      "action": "Most important action",
      "priority": "high",
      "rationale": "Why this matters most"
    }
  ],
  "executiveSummary": "A concise 2-3 sentence summary of the overall user feedback and recommended direction."
}`

// DefaultSynthesis 没有话题或调用失败时使用的结论
func DefaultSynthesis() *report.ReportSynthesis {
	return &report.ReportSynthesis{
		OverallSentiment: report.SentimentNeutral,
		KeyFindings:      []string{},
		TopPriorities:    []report.ActionItem{},
	}
}

type clusterDigest struct {
	Topic        string              `json:"topic"`
	MessageCount int                 `json:"messageCount"`
	Sentiment    report.Sentiment    `json:"sentiment"`
	Consensus    []string            `json:"consensus"`
	Conflicting  []string            `json:"conflicting"`
	NextSteps    []report.ActionItem `json:"nextSteps"`
}

type synthesis struct {
	OverallSentiment report.Sentiment `json:"overallSentiment"`
	KeyFindings      []string         `json:"keyFindings"`
	TopPriorities    []struct {
		Action    string          `json:"action"`
		Priority  report.Priority `json:"priority"`
		Rationale string          `json:"rationale"`
	} `json:"topPriorities"`
	ExecutiveSummary string `json:"executiveSummary"`
}

// Synthesizer 汇总全部话题分析，生成总体结论
type Synthesizer struct {
	completer llm.Completer
}

func NewSynthesizer(completer llm.Completer) *Synthesizer {
	return &Synthesizer{completer: completer}
}

// Synthesize 不返回错误，失败时返回 DefaultSynthesis
func (s *Synthesizer) Synthesize(ctx context.Context, clusters []report.MessageCluster, stats report.ReportStatistics, language report.Language) *report.ReportSynthesis {
	logger.Infof("[Synthesizer] 开始汇总: %d 个簇, language=%s", len(clusters), language)
	if len(clusters) == 0 {
		logger.Warnf("[Synthesizer] 没有可汇总的簇")
		return DefaultSynthesis()
	}

	result, err := s.request(ctx, clusters, stats, language)
	if err != nil {
		logger.Errorf("[Synthesizer] 汇总报告失败: %v", err)
		return DefaultSynthesis()
	}

	logger.Infof("[Synthesizer] 汇总完成")
	return result
}

func (s *Synthesizer) request(ctx context.Context, clusters []report.MessageCluster, stats report.ReportStatistics, language report.Language) (*report.ReportSynthesis, error) {
	digests := make([]clusterDigest, len(clusters))
	for i, c := range clusters {
		digests[i] = clusterDigest{
			Topic:        c.Topic,
			MessageCount: len(c.Messages),
			Sentiment:    c.Summary.Sentiment,
			Consensus:    c.Summary.Consensus,
			Conflicting:  c.Summary.Conflicting,
			NextSteps:    c.NextSteps,
		}
	}

	digestsJSON, err := json.MarshalIndent(digests, "", "  ")
	if err != nil {
		return nil, err
	}
	sentimentJSON, err := json.Marshal(stats.SentimentDistribution)
	if err != nil {
		return nil, err
	}

	langInstruction := "Write all text content in English."
	if language == report.LanguageKorean {
		langInstruction = "IMPORTANT: Write ALL text content in Korean."
	}

	// 语言要求放在系统消息中，Gemini 会将其转为 SystemInstruction
	prompt := fmt.Sprintf(synthesisPrompt, stats.TotalMessages, stats.TotalThreads, sentimentJSON, digestsJSON)
	raw, err := s.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.SystemMessage(langInstruction), llm.UserMessage(prompt)},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp synthesis
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, err
	}

	result := DefaultSynthesis()
	if resp.OverallSentiment != "" {
		result.OverallSentiment = resp.OverallSentiment
	}
	if resp.KeyFindings != nil {
		result.KeyFindings = resp.KeyFindings
	}
	for _, item := range resp.TopPriorities {
		if strings.TrimSpace(item.Action) == "" {
			continue
		}
		priority := item.Priority
		if priority == "" {
			priority = report.PriorityMedium
		}
		result.TopPriorities = append(result.TopPriorities, report.ActionItem{
			Action:    item.Action,
			Priority:  priority,
			Rationale: item.Rationale,
		})
	}
	result.ExecutiveSummary = resp.ExecutiveSummary
	return result, nil
}
