package categorizer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"golang.org/x/sync/errgroup"
)

const (
	llmMaxTokens   = 2000
	llmTemperature = 0.3
)

const categorizePrompt = `Analyze the following user messages and categorize each one.

Messages:
%s

For each message, determine:
1. category: Main category (one of: "question", "request", "feedback", "complaint", "information", "greeting", "other")
2. subCategory: More specific sub-category (e.g., "technical_question", "feature_request", "bug_report", etc.)
3. intent: What the user is trying to accomplish
4. sentiment: Overall sentiment ("positive", "negative", or "neutral")
5. isSubstantive: Boolean - Does this message have analytical value?
   - true: Meaningful questions, requests, feedback, complaints, or information that provides insight
   - false: Greetings, small talk, simple acknowledgments ("ok", "thanks"), identity questions ("who are you?"), or chitchat with no actionable content

Respond in JSON format only:
{
  "results": [
    {
      "index": 0,
      "category": "question",
      "subCategory": "technical_question",
      "intent": "Understanding how to use a feature",
      "sentiment": "neutral",
      "isSubstantive": true
    }
  ]
}`

type promptMessage struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

type llmCategorization struct {
	Index         int              `json:"index"`
	Category      string           `json:"category"`
	SubCategory   string           `json:"subCategory"`
	Intent        string           `json:"intent"`
	Sentiment     report.Sentiment `json:"sentiment"`
	IsSubstantive *bool            `json:"isSubstantive"`
}

type llmResponse struct {
	Results []llmCategorization `json:"results"`
}

// LLMCategorizer 按批次请求 LLM 分类，批次失败时使用 FallbackCategorization
type LLMCategorizer struct {
	completer      llm.Completer
	batchSize      int
	maxConcurrency int
}

func NewLLMCategorizer(completer llm.Completer, maxConcurrency int) *LLMCategorizer {
	return &LLMCategorizer{
		completer:      completer,
		batchSize:      report.CategorizerBatchSize,
		maxConcurrency: maxConcurrency,
	}
}

func (c *LLMCategorizer) Categorize(ctx context.Context, messages []report.EmbeddedMessage) (*Result, error) {
	categorized := make([]report.CategorizedMessage, len(messages))

	g, gCtx := errgroup.WithContext(ctx)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for start := 0; start < len(messages); start += c.batchSize {
		end := min(start+c.batchSize, len(messages))
		g.Go(func() error {
			copy(categorized[start:end], c.categorizeBatch(gCtx, messages[start:end]))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Messages:           categorized,
		FilteringBreakdown: CalculateFilteringBreakdown(categorized),
	}
	logResult(result)
	return result, nil
}

func (c *LLMCategorizer) categorizeBatch(ctx context.Context, batch []report.EmbeddedMessage) []report.CategorizedMessage {
	results, err := c.requestBatch(ctx, batch)
	if err != nil {
		logger.Errorf("[Categorizer] 批次分类失败, 使用默认分类: %v", err)
	}

	categorized := make([]report.CategorizedMessage, len(batch))
	for idx, msg := range batch {
		item, ok := results[idx]
		if !ok {
			if err != nil {
				categorized[idx] = FallbackCategorization.Apply(msg)
				continue
			}
			item = llmCategorization{}
		}

		cat := Categorization{
			Category:      item.Category,
			SubCategory:   item.SubCategory,
			Intent:        item.Intent,
			Sentiment:     item.Sentiment,
			IsSubstantive: item.IsSubstantive == nil || *item.IsSubstantive,
		}
		if cat.Category == "" {
			cat.Category = report.CategoryOther
		}
		if cat.Sentiment == "" {
			cat.Sentiment = report.SentimentNeutral
		}
		categorized[idx] = cat.Apply(msg)
	}
	return categorized
}

func (c *LLMCategorizer) requestBatch(ctx context.Context, batch []report.EmbeddedMessage) (map[int]llmCategorization, error) {
	items := make([]promptMessage, len(batch))
	for idx, msg := range batch {
		items[idx] = promptMessage{Index: idx, Content: msg.Content}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, err
	}

	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(fmt.Sprintf(categorizePrompt, data))},
		MaxTokens:   llmMaxTokens,
		Temperature: llmTemperature,
	})
	if err != nil {
		return nil, err
	}

	var resp llmResponse
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, err
	}

	results := make(map[int]llmCategorization, len(resp.Results))
	for _, r := range resp.Results {
		if _, exists := results[r.Index]; !exists {
			results[r.Index] = r
		}
	}
	return results, nil
}
