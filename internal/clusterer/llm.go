package clusterer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const identifyTopicsPrompt = `Analyze the following user messages and identify the main topics/themes being discussed.

%s

Messages:
%s

Instructions:
1. Identify 3-10 main topics that emerge from these messages
2. Topics should be specific enough to be meaningful but broad enough to group multiple messages
3. Focus on what users are asking about or discussing

Respond in JSON format only:
{
  "topics": [
    {
      "name": "Topic name",
      "description": "Brief description of what this topic covers"
    }
  ]
}`

const assignTopicsPrompt = `Assign each message to the most relevant topic.

Topics:
%s

Messages:
%s

Instructions:
- Assign each message to exactly one topic
- Answer with the topic number from the list above
- If a message doesn't fit any topic well, assign it to the closest match

Respond in JSON format only:
{
  "assignments": [
    { "index": 0, "topic": 1 }
  ]
}`

const summarizeOpinionsPrompt = `Summarize the different opinions and perspectives expressed about "%s" in these messages.

%s

Messages:
%s

Instructions:
1. Identify distinct opinions or viewpoints (not just restatements of the same opinion)
2. Summarize each unique opinion in 1-2 sentences
3. Include the general sentiment (positive/negative/neutral) for each opinion
4. Return 3-7 main opinions

Respond in JSON format only:
{
  "opinions": [
    "Opinion summary 1",
    "Opinion summary 2"
  ]
}`

const messageSeparator = "\n---\n"

type promptMessage struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// LLMClusterer 由 LLM 归纳话题并逐批分配消息
type LLMClusterer struct {
	completer      llm.Completer
	maxConcurrency int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewLLMClusterer(completer llm.Completer, maxConcurrency int) *LLMClusterer {
	return &LLMClusterer{
		completer:      completer,
		maxConcurrency: maxConcurrency,
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (c *LLMClusterer) Cluster(ctx context.Context, messages []report.CategorizedMessage, language report.Language) (*Result, error) {
	messages = substantiveOnly(messages)
	if len(messages) == 0 {
		return &Result{Clusters: []report.MessageCluster{}}, nil
	}

	topics := c.identifyTopics(ctx, messages, language)
	logger.Infof("[Clusterer] 识别出 %d 个话题", len(topics))
	if len(topics) == 0 {
		return &Result{Clusters: []report.MessageCluster{}}, nil
	}

	assigned, err := c.assignMessages(ctx, messages, topics)
	if err != nil {
		return nil, err
	}

	type pendingCluster struct {
		topic    string
		messages []report.CategorizedMessage
	}
	var pending []pendingCluster
	for i, topic := range topics {
		if len(assigned[i]) > 0 {
			pending = append(pending, pendingCluster{topic: topic, messages: assigned[i]})
		}
	}

	clusters := make([]report.MessageCluster, len(pending))
	g, gCtx := errgroup.WithContext(ctx)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for i, p := range pending {
		g.Go(func() error {
			id := uuid.NewString()
			clusters[i] = report.MessageCluster{
				ID:          id,
				Topic:       p.topic,
				Description: fmt.Sprintf("Messages related to \"%s\"", p.topic),
				Messages:    p.messages,
				Opinions:    report.OpinionsFromStrings(id, c.summarizeOpinions(gCtx, p.messages, p.topic, language)),
				Summary: report.ClusterSummary{
					Consensus:   []string{},
					Conflicting: []string{},
					Sentiment:   ClusterSentiment(p.messages),
				},
				NextSteps: []report.ActionItem{},
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(clusters, func(a, b report.MessageCluster) int {
		return len(b.Messages) - len(a.Messages)
	})
	return &Result{Clusters: nonEmpty(clusters)}, nil
}

// sample 随机抽取不超过 size 条消息，不修改原切片
func (c *LLMClusterer) sample(messages []report.CategorizedMessage, size int) []report.CategorizedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	shuffled := slices.Clone(messages)
	c.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:min(size, len(shuffled))]
}

func joinContents(messages []report.CategorizedMessage) string {
	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	return strings.Join(contents, messageSeparator)
}

func topicLanguageInstruction(language report.Language) string {
	if language == report.LanguageKorean {
		return "IMPORTANT: Write all topic names and descriptions in Korean."
	}
	return "Write all topic names and descriptions in English."
}

func opinionLanguageInstruction(language report.Language) string {
	if language == report.LanguageKorean {
		return "IMPORTANT: Write all opinion summaries in Korean."
	}
	return "Write all opinion summaries in English."
}

// identifyTopics 失败时以消息分类作为话题
func (c *LLMClusterer) identifyTopics(ctx context.Context, messages []report.CategorizedMessage, language report.Language) []string {
	sampled := c.sample(messages, report.SampleSizeForTopics)
	prompt := fmt.Sprintf(identifyTopicsPrompt, topicLanguageInstruction(language), joinContents(sampled))

	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	if err == nil {
		var resp struct {
			Topics []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"topics"`
		}
		if err = llm.ParseJSON(raw, &resp); err == nil {
			var topics []string
			for _, t := range resp.Topics {
				name := strings.TrimSpace(t.Name)
				if name != "" && !slices.Contains(topics, name) {
					topics = append(topics, name)
				}
			}
			return topics
		}
	}

	logger.Errorf("[Clusterer] 识别话题失败, 使用消息分类代替: %v", err)
	var categories []string
	for _, m := range messages {
		if !slices.Contains(categories, m.Category) {
			categories = append(categories, m.Category)
		}
	}
	return categories
}

// assignMessages 并发分批分配，返回按话题下标分组的消息，组内保持原顺序
func (c *LLMClusterer) assignMessages(ctx context.Context, messages []report.CategorizedMessage, topics []string) ([][]report.CategorizedMessage, error) {
	batchSize := report.ClustererBatchSize
	numBatches := (len(messages) + batchSize - 1) / batchSize
	batchResults := make([][]int, numBatches)

	g, gCtx := errgroup.WithContext(ctx)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for b := 0; b < numBatches; b++ {
		start := b * batchSize
		end := min(start+batchSize, len(messages))
		g.Go(func() error {
			batchResults[b] = c.assignBatch(gCtx, messages[start:end], topics)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assigned := make([][]report.CategorizedMessage, len(topics))
	for b, topicIndices := range batchResults {
		start := b * batchSize
		for j, t := range topicIndices {
			assigned[t] = append(assigned[t], messages[start+j])
		}
	}
	return assigned, nil
}

// assignBatch 返回批次内每条消息的话题下标，未分配或失败时归入第一个话题
func (c *LLMClusterer) assignBatch(ctx context.Context, batch []report.CategorizedMessage, topics []string) []int {
	result := make([]int, len(batch))
	for i := range result {
		result[i] = -1
	}

	numbered := make([]string, len(topics))
	for i, t := range topics {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, t)
	}
	items := make([]promptMessage, len(batch))
	for i, m := range batch {
		items[i] = promptMessage{Index: i, Content: m.Content}
	}
	data, _ := json.MarshalIndent(items, "", "  ")

	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(fmt.Sprintf(assignTopicsPrompt, strings.Join(numbered, "\n"), data))},
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	var resp struct {
		Assignments []struct {
			Index int             `json:"index"`
			Topic json.RawMessage `json:"topic"`
		} `json:"assignments"`
	}
	if err == nil {
		err = llm.ParseJSON(raw, &resp)
	}
	if err != nil {
		logger.Errorf("[Clusterer] 批次话题分配失败, 全部归入第一个话题: %v", err)
		for i := range result {
			result[i] = 0
		}
		return result
	}

	for _, a := range resp.Assignments {
		if a.Index < 0 || a.Index >= len(batch) || result[a.Index] >= 0 {
			continue
		}
		result[a.Index] = resolveTopic(a.Topic, topics)
	}

	// 遗漏或无法识别话题的消息归入第一个话题，保证每条消息都属于某个簇
	unassigned := 0
	for i := range result {
		if result[i] < 0 {
			result[i] = 0
			unassigned++
		}
	}
	if unassigned > 0 {
		logger.Warnf("[Clusterer] %d 条消息未被分配, 归入第一个话题", unassigned)
	}
	return result
}

// resolveTopic 支持话题编号（从 1 开始）或话题名称
func resolveTopic(raw json.RawMessage, topics []string) int {
	var number int
	if json.Unmarshal(raw, &number) == nil {
		if number >= 1 && number <= len(topics) {
			return number - 1
		}
		return -1
	}

	var name string
	if json.Unmarshal(raw, &name) != nil {
		return -1
	}
	name = strings.TrimSpace(name)
	if n, err := strconv.Atoi(name); err == nil && n >= 1 && n <= len(topics) {
		return n - 1
	}
	return slices.Index(topics, name)
}

// summarizeOpinions 失败时返回一条 "N messages about this topic"
func (c *LLMClusterer) summarizeOpinions(ctx context.Context, messages []report.CategorizedMessage, topic string, language report.Language) []string {
	sampled := c.sample(messages, report.MaxSampleMessagesPerCluster)
	prompt := fmt.Sprintf(summarizeOpinionsPrompt, topic, opinionLanguageInstruction(language), joinContents(sampled))

	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		MaxTokens:   1000,
		Temperature: 0.5,
	})
	var resp struct {
		Opinions []json.RawMessage `json:"opinions"`
	}
	if err == nil {
		err = llm.ParseJSON(raw, &resp)
	}
	if err != nil {
		logger.Errorf("[Clusterer] 总结话题 %q 观点失败: %v", topic, err)
		return []string{fmt.Sprintf("%d messages about this topic", len(messages))}
	}

	opinions := make([]string, 0, len(resp.Opinions))
	for _, op := range resp.Opinions {
		if text := opinionText(op); text != "" {
			opinions = append(opinions, text)
		}
	}
	return opinions
}

// opinionText 兼容模型返回对象而非字符串的情况
func opinionText(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return strings.TrimSpace(text)
	}

	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		for _, key := range []string{"summary", "opinion", "text", "content"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
