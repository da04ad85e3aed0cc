package grounding

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"golang.org/x/sync/errgroup"
)

const (
	maxContentLength     = 300
	maxSupportingMessage = 3
	maxTokens            = 2000
	temperature          = 0.2
)

const groundingPrompt = `You are analyzing a cluster of user messages to link opinions to supporting quotes.

Cluster Topic: "%s"

Opinions to ground:
%s

Messages in this cluster:
%s

Instructions:
For each opinion, identify which messages support it:
1. Find messages that express or relate to the opinion (exact match not required - semantic similarity counts)
2. Select the 1-3 BEST representative messages (most clear and relevant)
3. Count the TOTAL number of messages that support this opinion (for mentionCount)
4. Rate your confidence (0-1) in how well the messages support the opinion

Important:
- supportingMessageIndices should use the message "index" values (0, 1, 2, etc.)
- mentionCount should reflect ALL supporting messages, not just the selected representatives
- confidence should be 0.9+ if messages clearly express the opinion, 0.5-0.9 if related, <0.5 if loosely connected
- If an opinion has no clear supporting messages, set supportingMessageIndices to empty array and confidence to 0

Respond in JSON format only:
{
  "groundings": [
    {
      "opinionIndex": 0,
      "supportingMessageIndices": [2, 5, 8],
      "mentionCount": 12,
      "confidence": 0.9
    },
    {
      "opinionIndex": 1,
      "supportingMessageIndices": [1, 3],
      "mentionCount": 5,
      "confidence": 0.75
    }
  ]
}`

type promptOpinion struct {
	Index int                `json:"index"`
	ID    string             `json:"id"`
	Text  string             `json:"text"`
	Type  report.OpinionType `json:"type"`
}

type promptMessage struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Entry 模型返回的单条观点溯源
type Entry struct {
	OpinionIndex             int      `json:"opinionIndex"`
	SupportingMessageIndices []int    `json:"supportingMessageIndices"`
	MentionCount             int      `json:"mentionCount"`
	Confidence               *float64 `json:"confidence"`
}

// Grounder 将观点关联到簇内的原始消息
type Grounder struct {
	completer      llm.Completer
	maxConcurrency int
}

func NewGrounder(completer llm.Completer, maxConcurrency int) *Grounder {
	return &Grounder{completer: completer, maxConcurrency: maxConcurrency}
}

// Ground 并发处理全部簇，单个簇失败时保留原观点
func (g *Grounder) Ground(ctx context.Context, clusters []report.MessageCluster) ([]report.MessageCluster, error) {
	start := time.Now()
	logger.Infof("[Grounding] 开始处理 %d 个簇", len(clusters))
	if len(clusters) == 0 {
		return []report.MessageCluster{}, nil
	}

	grounded := make([]report.MessageCluster, len(clusters))
	eg, egCtx := errgroup.WithContext(ctx)
	if g.maxConcurrency > 0 {
		eg.SetLimit(g.maxConcurrency)
	}
	for i, cluster := range clusters {
		eg.Go(func() error {
			grounded[i] = g.groundCluster(egCtx, cluster)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Infof("[Grounding] 完成, 耗时 %dms", time.Since(start).Milliseconds())
	return grounded, nil
}

func (g *Grounder) groundCluster(ctx context.Context, cluster report.MessageCluster) report.MessageCluster {
	if len(cluster.Opinions) == 0 || len(cluster.Messages) == 0 {
		logger.Debugf("[Grounding] 跳过簇 %q: 没有观点或消息", cluster.Topic)
		return cluster
	}

	entries, err := g.request(ctx, cluster)
	if err != nil {
		logger.Errorf("[Grounding] 处理簇 %q 失败: %v", cluster.Topic, err)
		cluster.Opinions = withDefaults(cluster.Opinions)
		for i := range cluster.Opinions {
			cluster.Opinions[i].SupportingMessages = []string{}
			cluster.Opinions[i].MentionCount = 0
		}
		return cluster
	}

	cluster.Opinions = Apply(cluster.Opinions, entries, cluster.Messages)

	groundedCount := 0
	for _, op := range cluster.Opinions {
		if len(op.SupportingMessages) > 0 {
			groundedCount++
		}
	}
	logger.Debugf("[Grounding] 簇 %q: %d/%d 个观点已关联消息", cluster.Topic, groundedCount, len(cluster.Opinions))
	return cluster
}

func (g *Grounder) request(ctx context.Context, cluster report.MessageCluster) ([]Entry, error) {
	opinions := make([]promptOpinion, len(cluster.Opinions))
	for i, op := range cluster.Opinions {
		opinions[i] = promptOpinion{Index: i, ID: op.ID, Text: op.Text, Type: op.Type}
	}
	messages := make([]promptMessage, len(cluster.Messages))
	for i, m := range cluster.Messages {
		content := []rune(m.Content)
		messages[i] = promptMessage{Index: i, ID: m.ID, Content: string(content[:min(len(content), maxContentLength)])}
	}

	opinionsJSON, err := json.MarshalIndent(opinions, "", "  ")
	if err != nil {
		return nil, err
	}
	messagesJSON, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return nil, err
	}

	raw, err := g.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(fmt.Sprintf(groundingPrompt, cluster.Topic, opinionsJSON, messagesJSON))},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Groundings []Entry `json:"groundings"`
	}
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, err
	}
	return resp.Groundings, nil
}

func withDefaults(opinions []report.Opinion) []report.Opinion {
	result := make([]report.Opinion, len(opinions))
	for i, op := range opinions {
		if op.SupportingMessages == nil {
			op.SupportingMessages = []string{}
		}
		result[i] = op
	}
	return result
}

// Apply 把模型返回的消息下标转换为消息 ID，并以第一条支持消息作为代表引用
func Apply(opinions []report.Opinion, entries []Entry, messages []report.CategorizedMessage) []report.Opinion {
	byIndex := make(map[int]Entry, len(entries))
	for _, e := range entries {
		byIndex[e.OpinionIndex] = e
	}

	result := withDefaults(opinions)
	for i := range result {
		entry, ok := byIndex[i]
		if !ok {
			continue
		}

		var (
			ids    []string
			quoted bool
		)
		for _, idx := range entry.SupportingMessageIndices {
			if idx < 0 || idx >= len(messages) || slices.Contains(ids, messages[idx].ID) {
				continue
			}
			if !quoted {
				result[i].RepresentativeQuote = messages[idx].Content
				quoted = true
			}
			ids = append(ids, messages[idx].ID)
			if len(ids) == maxSupportingMessage {
				break
			}
		}
		if ids == nil {
			ids = []string{}
		}

		result[i].SupportingMessages = ids
		result[i].MentionCount = entry.MentionCount
		if result[i].MentionCount <= 0 {
			result[i].MentionCount = len(ids)
		}
		result[i].Confidence = entry.Confidence
	}
	return result
}
