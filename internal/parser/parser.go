package parser

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/model"
	"github.com/fachebot/talk-insight/internal/report"
)

// DefaultRecentRatio 分层采样时直接保留的最新消息比例
const DefaultRecentRatio = 0.7

// ThreadStore 会话存储
type ThreadStore interface {
	GetAllThreads(ctx context.Context) ([]model.Thread, error)
	GetHistory(ctx context.Context, threadID string) ([]model.Message, error)
}

// Result 解析结果
type Result struct {
	Messages                    []report.ParsedMessage
	ThreadCount                 int
	TotalMessagesBeforeSampling int
	WasSampled                  bool
}

type Parser struct {
	store       ThreadStore
	recentRatio float64
	mu          sync.Mutex
	rng         *rand.Rand
	now         func() time.Time
}

func NewParser(store ThreadStore, recentRatio float64) *Parser {
	if recentRatio <= 0 || recentRatio > 1 {
		recentRatio = DefaultRecentRatio
	}
	return &Parser{
		store:       store,
		recentRatio: recentRatio,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:         time.Now,
	}
}

// Parse 提取符合条件的用户消息并脱敏，maxMessages 为 0 时不采样
func (p *Parser) Parse(ctx context.Context, params report.RequestParams, maxMessages int) (*Result, error) {
	threads, err := p.store.GetAllThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取会话列表失败: %w", err)
	}
	logger.Debugf("[Parser] 共 %d 个会话", len(threads))

	threads = filterThreads(threads, params)

	startDate, endDate, err := params.DateWindow(p.now())
	if err != nil {
		return nil, err
	}
	logger.Infof("[Parser] 时间范围: %s ~ %s, 最大消息数: %d",
		startDate.Format(time.RFC3339), endDate.Format(time.RFC3339), maxMessages)

	var messages []report.ParsedMessage
	threadsWithMessages := make(map[string]struct{})
	for _, thread := range threads {
		history, err := p.store.GetHistory(ctx, thread.ID)
		if err != nil {
			return nil, fmt.Errorf("读取会话 %s 消息失败: %w", thread.ID, err)
		}

		for _, msg := range history {
			if msg.Speaker != model.SpeakerUser {
				continue
			}
			if msg.Timestamp.Before(startDate) || msg.Timestamp.After(endDate) {
				continue
			}
			content := strings.TrimSpace(msg.Content)
			if utf8.RuneCountInString(content) < report.MinMessageLength {
				continue
			}

			messages = append(messages, report.ParsedMessage{
				ID:        msg.ID,
				Content:   Anonymize(content),
				Timestamp: msg.Timestamp,
			})
			threadsWithMessages[thread.ID] = struct{}{}
		}
	}

	// 最新的消息排在前面，采样时优先保留
	slices.SortStableFunc(messages, func(a, b report.ParsedMessage) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	result := &Result{
		Messages:                    messages,
		ThreadCount:                 len(threadsWithMessages),
		TotalMessagesBeforeSampling: len(messages),
	}
	if maxMessages > 0 && len(messages) > maxMessages {
		logger.Infof("[Parser] 从 %d 条消息中采样 %d 条", len(messages), maxMessages)
		result.Messages = p.sample(messages, maxMessages)
		result.WasSampled = true
	}

	slices.SortStableFunc(result.Messages, func(a, b report.ParsedMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	logger.Infof("[Parser] 结果: %d 条消息, %d 个会话 (排除 %d 个空会话, 采样: %v)",
		len(result.Messages), result.ThreadCount, len(threads)-result.ThreadCount, result.WasSampled)
	return result, nil
}

func filterThreads(threads []model.Thread, params report.RequestParams) []model.Thread {
	if len(params.ThreadIDs) > 0 {
		threads = slices.DeleteFunc(threads, func(t model.Thread) bool {
			return !slices.Contains(params.ThreadIDs, t.ID)
		})
		logger.Debugf("[Parser] 按 threadIds 过滤后剩余 %d 个会话", len(threads))
	}
	if len(params.AgentURLs) > 0 {
		threads = slices.DeleteFunc(threads, func(t model.Thread) bool {
			return !slices.ContainsFunc(t.Agents, func(a model.Agent) bool {
				return slices.Contains(params.AgentURLs, a.A2AURL)
			})
		})
		logger.Debugf("[Parser] 按 agentUrls 过滤后剩余 %d 个会话", len(threads))
	}
	if len(params.AgentNames) > 0 {
		threads = slices.DeleteFunc(threads, func(t model.Thread) bool {
			return !slices.ContainsFunc(t.Agents, func(a model.Agent) bool {
				return slices.Contains(params.AgentNames, a.Name)
			})
		})
		logger.Debugf("[Parser] 按 agentNames 过滤后剩余 %d 个会话", len(threads))
	}
	return threads
}

// sample 分层采样，messages 须按时间倒序排列
func (p *Parser) sample(messages []report.ParsedMessage, maxCount int) []report.ParsedMessage {
	if len(messages) <= maxCount {
		return messages
	}

	recentCount := int(math.Floor(float64(maxCount) * p.recentRatio))
	randomCount := maxCount - recentCount

	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]report.ParsedMessage, 0, maxCount)
	result = append(result, messages[:recentCount]...)

	// 对旧消息的下标做部分 Fisher-Yates 洗牌，只需交换 randomCount 次
	older := messages[recentCount:]
	indices := make([]int, len(older))
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < randomCount; i++ {
		j := i + p.rng.IntN(len(indices)-i)
		indices[i], indices[j] = indices[j], indices[i]
		result = append(result, older[indices[i]])
	}
	return result
}
