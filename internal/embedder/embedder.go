package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"golang.org/x/sync/errgroup"
)

const (
	CachePrefix      = "emb:msg:"
	DefaultBatchSize = 100
	DefaultCacheTTL  = 30 * 24 * time.Hour
)

type Options struct {
	BatchSize      int
	CacheTTL       time.Duration
	MaxConcurrency int // 0 表示不限制
}

// Result 向量化结果与缓存命中统计
type Result struct {
	Messages      []report.EmbeddedMessage
	CacheHits     int
	NewEmbeddings int
}

type Embedder struct {
	store   kvstore.Store
	embed   llm.Embedder
	options Options
}

func New(store kvstore.Store, embed llm.Embedder, options Options) *Embedder {
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = DefaultCacheTTL
	}
	return &Embedder{store: store, embed: embed, options: options}
}

// HashContent 返回内容 SHA-256 摘要的前 16 位十六进制字符
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

type pending struct {
	index int
	hash  string
}

// EmbedMessages 为消息生成向量，相同内容在缓存有效期内只请求一次
func (e *Embedder) EmbedMessages(ctx context.Context, messages []report.ParsedMessage) (*Result, error) {
	if len(messages) == 0 {
		return &Result{Messages: []report.EmbeddedMessage{}}, nil
	}

	results := make([]report.EmbeddedMessage, len(messages))
	hashes := make([]string, len(messages))
	keys := make([]string, len(messages))
	for i, msg := range messages {
		hashes[i] = HashContent(msg.Content)
		keys[i] = CachePrefix + hashes[i]
	}

	cached, err := e.store.MGet(ctx, keys)
	if err != nil {
		logger.Warnf("[Embedder] 读取向量缓存失败, 全部重新生成: %v", err)
		cached = make([][]byte, len(messages))
	}

	var toEmbed []pending
	cacheHits := 0
	for i, msg := range messages {
		if i < len(cached) && cached[i] != nil {
			var vector []float64
			if err := json.Unmarshal(cached[i], &vector); err == nil && len(vector) > 0 {
				results[i] = report.EmbeddedMessage{ParsedMessage: msg, Embedding: vector}
				cacheHits++
				continue
			}
		}
		toEmbed = append(toEmbed, pending{index: i, hash: hashes[i]})
	}

	logger.Infof("[Embedder] 缓存: %d 命中, %d 未命中 (共 %d 条)", cacheHits, len(toEmbed), len(messages))

	batchSize := e.options.BatchSize
	totalBatches := (len(toEmbed) + batchSize - 1) / batchSize

	g, gCtx := errgroup.WithContext(ctx)
	if e.options.MaxConcurrency > 0 {
		g.SetLimit(e.options.MaxConcurrency)
	}
	for start := 0; start < len(toEmbed); start += batchSize {
		batch := toEmbed[start:min(start+batchSize, len(toEmbed))]
		batchNum := start/batchSize + 1
		g.Go(func() error {
			logger.Debugf("[Embedder] 生成向量: 批次 %d/%d", batchNum, totalBatches)
			return e.embedBatch(gCtx, messages, batch, results)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Infof("[Embedder] 完成: %d 条来自缓存, %d 条新生成", cacheHits, len(toEmbed))
	return &Result{
		Messages:      results,
		CacheHits:     cacheHits,
		NewEmbeddings: len(toEmbed),
	}, nil
}

// embedBatch 向量化一个批次并写回缓存，写缓存失败只记录日志
func (e *Embedder) embedBatch(ctx context.Context, messages []report.ParsedMessage, batch []pending, results []report.EmbeddedMessage) error {
	texts := make([]string, len(batch))
	for j, p := range batch {
		texts[j] = messages[p.index].Content
	}

	vectors, err := e.embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("生成向量失败: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("向量数量不匹配: 期望 %d, 实际 %d", len(batch), len(vectors))
	}

	entries := make([]kvstore.Entry, 0, len(batch))
	for j, p := range batch {
		results[p.index] = report.EmbeddedMessage{ParsedMessage: messages[p.index], Embedding: vectors[j]}

		data, err := json.Marshal(vectors[j])
		if err != nil {
			return err
		}
		entries = append(entries, kvstore.Entry{Key: CachePrefix + p.hash, Value: data})
	}
	if err := e.store.SetMany(ctx, entries, e.options.CacheTTL); err != nil {
		logger.Warnf("[Embedder] 写入向量缓存失败: %v", err)
	}
	return nil
}
