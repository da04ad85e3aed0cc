package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/talk-insight/internal/analyzer"
	"github.com/fachebot/talk-insight/internal/categorizer"
	"github.com/fachebot/talk-insight/internal/clusteranalyzer"
	"github.com/fachebot/talk-insight/internal/clusterer"
	"github.com/fachebot/talk-insight/internal/embedder"
	"github.com/fachebot/talk-insight/internal/grounding"
	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/parser"
	"github.com/fachebot/talk-insight/internal/renderer"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/synthesizer"
	"github.com/fachebot/talk-insight/internal/validator"
	"github.com/fachebot/talk-insight/internal/visualizer"
	"github.com/google/uuid"
)

// Mode 流水线策略
type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeLLM       Mode = "llm"
)

const DefaultTitle = "User Conversation Analysis Report"

var ErrMissingEmbeddingKey = errors.New("embedding API key is required for the embedding pipeline")

// Steps 固定的十个阶段名称
var Steps = []string{
	"Parsing messages",
	"Generating embeddings",
	"Categorizing",
	"Clustering",
	"Analyzing clusters",
	"Grounding opinions",
	"Calculating statistics",
	"Synthesizing insights",
	"Generating visualization",
	"Rendering report",
}

// Options 流水线配置
type Options struct {
	Mode            Mode
	MaxConcurrency  int
	RecentRatio     float64
	DefaultLanguage report.Language
	Embedding       embedder.Options
	Clustering      clusterer.EmbeddingOptions
	Visualization   visualizer.Options
}

// Pipeline 报告生成流水线，各阶段严格按顺序执行
type Pipeline struct {
	mode            Mode
	defaultLanguage report.Language

	parser          *parser.Parser
	embedder        *embedder.Embedder
	categorizer     categorizer.Categorizer
	clusterer       clusterer.Clusterer
	clusterAnalyzer *clusteranalyzer.Analyzer
	grounder        *grounding.Grounder
	synthesizer     *synthesizer.Synthesizer
	visualizer      *visualizer.Visualizer
	visualization   visualizer.Options

	now func() time.Time
}

// New 按模式选择分类与聚类策略，embed 为 nil 时向量模式在运行时返回 ErrMissingEmbeddingKey
func New(threads parser.ThreadStore, store kvstore.Store, completer llm.Completer, embed llm.Embedder, opts Options) *Pipeline {
	if opts.Mode == "" {
		opts.Mode = ModeEmbedding
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = report.LanguageKorean
	}
	if opts.Embedding.MaxConcurrency == 0 {
		opts.Embedding.MaxConcurrency = opts.MaxConcurrency
	}

	p := &Pipeline{
		mode:            opts.Mode,
		defaultLanguage: opts.DefaultLanguage,
		parser:          parser.NewParser(threads, opts.RecentRatio),
		grounder:        grounding.NewGrounder(completer, opts.MaxConcurrency),
		synthesizer:     synthesizer.NewSynthesizer(completer),
		visualizer:      visualizer.New(uint64(time.Now().UnixNano()), time.UTC),
		visualization:   opts.Visualization,
		now:             time.Now,
	}

	switch opts.Mode {
	case ModeLLM:
		p.categorizer = categorizer.NewLLMCategorizer(completer, opts.MaxConcurrency)
		p.clusterer = clusterer.NewLLMClusterer(completer, opts.MaxConcurrency)
	default:
		if embed != nil {
			p.embedder = embedder.New(store, embed, opts.Embedding)
			p.categorizer = categorizer.NewEmbeddingCategorizer(store, embed)
		}
		p.clusterer = clusterer.NewEmbeddingClusterer(opts.Clustering)
		p.clusterAnalyzer = clusteranalyzer.NewAnalyzer(completer, opts.MaxConcurrency)
	}
	return p
}

func (p *Pipeline) Mode() Mode {
	return p.mode
}

func progress(step int, onProgress report.ProgressFunc) {
	logger.Infof("[ReportPipeline] Step %d: %s", step, Steps[step-1])
	if onProgress == nil {
		return
	}
	onProgress(report.Progress{
		Step:        step,
		TotalSteps:  len(Steps),
		CurrentStep: Steps[step-1],
		Percentage:  int(float64(step)/float64(len(Steps))*100 + 0.5),
	})
}

// Generate 执行完整流水线
func (p *Pipeline) Generate(ctx context.Context, params report.RequestParams, onProgress report.ProgressFunc) (*report.Report, error) {
	if p.mode == ModeEmbedding && p.embedder == nil {
		return nil, ErrMissingEmbeddingKey
	}

	language := params.Language
	if language == "" {
		language = renderer.ResolveLanguage("", params.Timezone, p.defaultLanguage)
	}
	title := params.Title
	if title == "" {
		title = DefaultTitle
	}
	renderOpts := renderer.Options{
		Title:           title,
		Language:        language,
		Timezone:        params.Timezone,
		DefaultLanguage: p.defaultLanguage,
	}
	r := &report.Report{ID: uuid.NewString(), Title: title}

	// 1. 解析
	progress(1, onProgress)
	maxMessages := params.MaxMessages
	if p.mode == ModeLLM && maxMessages <= 0 {
		maxMessages = report.DefaultMaxMessages
	}
	parsed, err := p.parser.Parse(ctx, params, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	logger.Infof("[ReportPipeline] 解析得到 %d 条消息, 来自 %d 个会话", len(parsed.Messages), parsed.ThreadCount)
	if len(parsed.Messages) == 0 {
		return p.emptyReport(r, parsed.ThreadCount, renderOpts), nil
	}

	// 2. 向量化
	progress(2, onProgress)
	embedded, err := p.embed(ctx, parsed.Messages)
	if err != nil {
		return nil, err
	}

	// 3. 分类
	progress(3, onProgress)
	categorized, err := p.categorizer.Categorize(ctx, embedded)
	if err != nil {
		return nil, fmt.Errorf("categorize messages: %w", err)
	}
	substantive := make([]report.CategorizedMessage, 0, len(categorized.Messages))
	for _, m := range categorized.Messages {
		if m.IsSubstantive {
			substantive = append(substantive, m)
		}
	}
	nonSubstantive := len(categorized.Messages) - len(substantive)
	logger.Infof("[ReportPipeline] 分类完成: %d 条有效, %d 条被过滤", len(substantive), nonSubstantive)
	if len(substantive) == 0 {
		logger.Warnf("[ReportPipeline] 没有有效消息")
		return p.emptyReport(r, parsed.ThreadCount, renderOpts), nil
	}

	// 4. 聚类
	progress(4, onProgress)
	clustered, err := p.clusterer.Cluster(ctx, substantive, language)
	if err != nil {
		return nil, fmt.Errorf("cluster messages: %w", err)
	}
	logClusters(clustered.Clusters)

	// 5. 簇分析，仅向量模式
	progress(5, onProgress)
	clusters := clustered.Clusters
	if p.clusterAnalyzer != nil {
		if clusters, err = p.clusterAnalyzer.Analyze(ctx, clusters, language); err != nil {
			return nil, fmt.Errorf("analyze clusters: %w", err)
		}
	} else {
		logger.Debugf("[ReportPipeline] %s 模式跳过簇分析", p.mode)
	}

	// 6. 观点溯源
	progress(6, onProgress)
	if clusters, err = p.grounder.Ground(ctx, clusters); err != nil {
		return nil, fmt.Errorf("ground opinions: %w", err)
	}

	// 7. 统计
	progress(7, onProgress)
	breakdown := categorized.FilteringBreakdown
	r.Statistics = analyzer.Analyze(analyzer.Input{
		Messages:                    substantive,
		Clusters:                    clusters,
		ThreadCount:                 parsed.ThreadCount,
		TotalMessagesBeforeSampling: parsed.TotalMessagesBeforeSampling,
		WasSampled:                  parsed.WasSampled,
		NonSubstantiveCount:         nonSubstantive,
		FilteringBreakdown:          &breakdown,
	}, p.now())

	// 8. 总结
	progress(8, onProgress)
	r.Synthesis = p.synthesizer.Synthesize(ctx, clusters, r.Statistics, language)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 9. 可视化
	progress(9, onProgress)
	r.Visualization = p.visualizer.Generate(clusters, r.Statistics, clustered.Projection, p.visualization)

	// 10. 渲染
	progress(10, onProgress)
	r.Clusters = clusters
	r.CreatedAt = p.now()
	renderOpts.GeneratedAt = r.CreatedAt
	r.Markdown = renderer.Render(r.Statistics, clusters, r.Synthesis, renderOpts)

	if err := validator.Check(r); err != nil {
		return nil, err
	}

	logger.Infof("[ReportPipeline] 报告生成完成: %d 个簇, %d 条有效消息", len(r.Clusters), r.Statistics.TotalMessages)
	return r, nil
}

func (p *Pipeline) embed(ctx context.Context, messages []report.ParsedMessage) ([]report.EmbeddedMessage, error) {
	if p.embedder == nil {
		logger.Debugf("[ReportPipeline] %s 模式跳过向量化", p.mode)
		embedded := make([]report.EmbeddedMessage, len(messages))
		for i, m := range messages {
			embedded[i] = report.EmbeddedMessage{ParsedMessage: m}
		}
		return embedded, nil
	}

	result, err := p.embedder.EmbedMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("embed messages: %w", err)
	}
	logger.Infof("[ReportPipeline] 向量: %d 条命中缓存, %d 条新生成", result.CacheHits, result.NewEmbeddings)
	return result.Messages, nil
}

func (p *Pipeline) emptyReport(r *report.Report, threadCount int, opts renderer.Options) *report.Report {
	r.CreatedAt = p.now()
	r.Statistics = report.NewEmptyStatistics(threadCount, r.CreatedAt)
	r.Clusters = []report.MessageCluster{}
	opts.GeneratedAt = r.CreatedAt
	r.Markdown = renderer.RenderEmpty(opts)
	return r
}

func logClusters(clusters []report.MessageCluster) {
	parts := make([]string, 0, len(clusters))
	for _, c := range clusters {
		parts = append(parts, fmt.Sprintf("%s(%d)", c.Topic, len(c.Messages)))
	}
	logger.Infof("[ReportPipeline] 生成 %d 个簇: %s", len(clusters), strings.Join(parts, ", "))
}
