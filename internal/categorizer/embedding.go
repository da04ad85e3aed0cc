package categorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/talk-insight/internal/embedder"
	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

const (
	categoryCachePrefix = "emb:categories:v1:"
	categoryCacheTTL    = 7 * 24 * time.Hour
)

// CategoryDefinition 固定分类及其描述和关键词
type CategoryDefinition struct {
	Name        string
	Description string
	Keywords    []string
}

// FixedCategories 向量分类使用的固定分类表
var FixedCategories = []CategoryDefinition{
	{
		Name:        report.CategoryQuestion,
		Description: "질문, 문의, 궁금한 점, 도움 요청",
		Keywords:    []string{"어떻게", "왜", "뭐", "무엇", "언제", "어디", "?", "알려주세요", "궁금", "how", "why", "what", "when", "where"},
	},
	{
		Name:        report.CategoryRequest,
		Description: "기능 요청, 개선 제안, 추가 요청",
		Keywords:    []string{"기능", "추가", "있으면", "해주세요", "원해요", "제안", "바라", "feature", "add", "want", "please"},
	},
	{
		Name:        report.CategoryFeedback,
		Description: "일반적인 피드백, 의견, 긍정적 반응",
		Keywords:    []string{"좋아요", "감사", "최고", "만족", "괜찮", "생각", "의견", "good", "great", "thanks", "nice", "love"},
	},
	{
		Name:        report.CategoryComplaint,
		Description: "불만, 버그 신고, 문제 제기, 오류 보고",
		Keywords:    []string{"오류", "버그", "안됨", "안 됨", "문제", "에러", "불만", "왜 안", "error", "bug", "broken", "fix", "issue"},
	},
	{
		Name:        report.CategoryInformation,
		Description: "정보 공유, 알림, 참고 사항",
		Keywords:    []string{"알려드", "공유", "참고", "정보", "안내", "notice", "info", "fyi", "share"},
	},
	{
		Name:        report.CategoryGreeting,
		Description: "인사, 간단한 대화, 환영",
		Keywords:    []string{"안녕", "하이", "헬로", "반가", "hi", "hello", "hey", "good morning", "good afternoon"},
	},
	{
		Name:        report.CategoryOther,
		Description: "기타, 분류 불가",
		Keywords:    []string{},
	},
}

func categoryTexts() []string {
	texts := make([]string, len(FixedCategories))
	for i, c := range FixedCategories {
		texts[i] = fmt.Sprintf("%s: %s. Keywords: %s", c.Name, c.Description, strings.Join(c.Keywords, ", "))
	}
	return texts
}

// categoryCacheKey 由分类描述文本的摘要决定，分类表变化后自动失效
func categoryCacheKey(texts []string) string {
	return categoryCachePrefix + embedder.HashContent(strings.Join(texts, "\n"))
}

// EmbeddingCategorizer 通过与固定分类向量的余弦相似度分类，不调用 LLM
type EmbeddingCategorizer struct {
	store kvstore.Store
	embed llm.Embedder

	mu         sync.Mutex
	categories [][]float64
}

func NewEmbeddingCategorizer(store kvstore.Store, embed llm.Embedder) *EmbeddingCategorizer {
	return &EmbeddingCategorizer{store: store, embed: embed}
}

// loadCategoryEmbeddings 按 进程内 → 缓存 → 向量接口 的顺序获取分类向量
func (c *EmbeddingCategorizer) loadCategoryEmbeddings(ctx context.Context) ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.categories != nil {
		return c.categories, nil
	}

	texts := categoryTexts()
	key := categoryCacheKey(texts)

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var cached map[string][]float64
		if json.Unmarshal(data, &cached) == nil && len(cached) == len(FixedCategories) {
			vectors := make([][]float64, len(FixedCategories))
			for i, cat := range FixedCategories {
				vectors[i] = cached[cat.Name]
			}
			c.categories = vectors
			logger.Infof("[Categorizer] 从缓存加载分类向量")
			return vectors, nil
		}
	case !errors.Is(err, kvstore.ErrNotFound):
		logger.Warnf("[Categorizer] 读取分类向量缓存失败: %v", err)
	}

	logger.Infof("[Categorizer] 生成分类向量...")
	vectors, err := c.embed.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("生成分类向量失败: %w", err)
	}
	if len(vectors) != len(FixedCategories) {
		return nil, fmt.Errorf("分类向量数量不匹配: 期望 %d, 实际 %d", len(FixedCategories), len(vectors))
	}

	byName := make(map[string][]float64, len(vectors))
	for i, cat := range FixedCategories {
		byName[cat.Name] = vectors[i]
	}
	if data, err := json.Marshal(byName); err == nil {
		if err := c.store.Set(ctx, key, data, categoryCacheTTL); err != nil {
			logger.Warnf("[Categorizer] 写入分类向量缓存失败: %v", err)
		}
	}

	c.categories = vectors
	return vectors, nil
}

func (c *EmbeddingCategorizer) Categorize(ctx context.Context, messages []report.EmbeddedMessage) (*Result, error) {
	categories, err := c.loadCategoryEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	categorized := make([]report.CategorizedMessage, len(messages))
	for i, msg := range messages {
		best := report.CategoryOther
		bestScore := -1.0
		for j, vector := range categories {
			if score := CosineSimilarity(msg.Embedding, vector); score > bestScore {
				bestScore = score
				best = FixedCategories[j].Name
			}
		}

		categorized[i] = Categorization{
			Category:      best,
			Sentiment:     DetectSentiment(msg.Content),
			IsSubstantive: IsSubstantive(msg.Content, best),
		}.Apply(msg)
	}

	result := &Result{
		Messages:           categorized,
		FilteringBreakdown: CalculateFilteringBreakdown(categorized),
	}
	logResult(result)
	return result, nil
}
