package svc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/fachebot/talk-insight/internal/clusterer"
	"github.com/fachebot/talk-insight/internal/config"
	"github.com/fachebot/talk-insight/internal/embedder"
	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/llm"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/model"
	"github.com/fachebot/talk-insight/internal/pipeline"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/reportjob"
	"github.com/fachebot/talk-insight/internal/visualizer"

	"golang.org/x/net/proxy"
)

const defaultStoreCapacity = 10000

type ServiceContext struct {
	Config         *config.Config
	DbDriver       *entsql.Driver
	TransportProxy *http.Transport
	Store          kvstore.Store // 向量缓存，容量满时淘汰
	JobStore       kvstore.Store // 报告任务与报告缓存，与向量缓存分开以免任务被淘汰
	ThreadModel    *model.ThreadModel
	LLMClient      llm.Completer
	Embedder       llm.Embedder // 未配置密钥时为 nil
	Pipeline       *pipeline.Pipeline
	ReportService  *reportjob.Service
}

func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	ctx := context.Background()

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("创建SOCKS5代理失败: %w", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	// 创建数据库连接
	drv, err := model.OpenSQLite(ctx, c.Database.Path)
	if err != nil {
		return nil, err
	}

	svcCtx := &ServiceContext{
		Config:         c,
		DbDriver:       drv,
		TransportProxy: transportProxy,
		ThreadModel:    model.NewThreadModel(drv),
	}

	// 创建键值存储
	svcCtx.Store, svcCtx.JobStore, err = newStores(ctx, &c.Redis)
	if err != nil {
		svcCtx.Close()
		return nil, fmt.Errorf("创建存储失败: %w", err)
	}

	// 创建LLM客户端
	httpClient := svcCtx.HTTPClient(time.Duration(c.LLM.Timeout) * time.Second)
	svcCtx.LLMClient, err = llm.NewCompleter(ctx, &c.LLM, httpClient)
	if err != nil {
		svcCtx.Close()
		return nil, fmt.Errorf("创建LLM客户端失败: %w", err)
	}
	if c.Embedding.APIKey != "" {
		svcCtx.Embedder, err = llm.NewEmbedder(ctx, &c.Embedding, httpClient)
		if err != nil {
			svcCtx.Close()
			return nil, fmt.Errorf("创建向量客户端失败: %w", err)
		}
	} else {
		logger.Warnf("[Svc] 未配置向量密钥，embedding 模式将无法生成报告")
	}

	svcCtx.Pipeline = pipeline.New(svcCtx.ThreadModel, svcCtx.Store, svcCtx.LLMClient, svcCtx.Embedder, pipelineOptions(c))
	svcCtx.ReportService = reportjob.NewService(svcCtx.JobStore, svcCtx.Pipeline, time.Duration(c.Report.CacheTTL)*time.Second)
	return svcCtx, nil
}

// newStores Redis 启用时两者共用同一连接，否则分别创建进程内存储
func newStores(ctx context.Context, cfg *config.Redis) (cache, jobs kvstore.Store, err error) {
	if cfg.Enable {
		store, err := kvstore.NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	cacheStore, err := kvstore.NewMemoryStore(capacity)
	if err != nil {
		return nil, nil, err
	}

	jobCapacity := cfg.JobCapacity
	if jobCapacity <= 0 {
		jobCapacity = defaultStoreCapacity
	}
	jobStore, err := kvstore.NewMemoryStore(jobCapacity)
	if err != nil {
		return nil, nil, err
	}
	return cacheStore, jobStore, nil
}

func pipelineOptions(c *config.Config) pipeline.Options {
	return pipeline.Options{
		Mode:            pipeline.Mode(c.Pipeline.Mode),
		MaxConcurrency:  c.Pipeline.MaxConcurrency,
		RecentRatio:     c.Pipeline.RecentRatio,
		DefaultLanguage: report.Language(c.Pipeline.DefaultLanguage),
		Embedding: embedder.Options{
			BatchSize: c.Embedding.BatchSize,
			CacheTTL:  time.Duration(c.Embedding.CacheTTLDays) * 24 * time.Hour,
		},
		Clustering: clusterer.EmbeddingOptions{
			NumClusters:    c.Pipeline.NumClusters,
			MinClusterSize: c.Pipeline.MinClusterSize,
		},
		Visualization: visualizer.Options{
			XAxis:           visualizer.AxisType(c.Pipeline.ScatterXAxis),
			YAxis:           visualizer.AxisType(c.Pipeline.ScatterYAxis),
			IncludeMessages: c.Pipeline.TreeMessages,
		},
	}
}

// HTTPClient 返回经过代理（如已启用）的 HTTP 客户端
func (svcCtx *ServiceContext) HTTPClient(timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if svcCtx.TransportProxy != nil {
		client.Transport = svcCtx.TransportProxy
	}
	return client
}

// StaleJobAge 启动时判定任务中断的时长
func (svcCtx *ServiceContext) StaleJobAge() time.Duration {
	minutes := svcCtx.Config.Report.StaleJobMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func (svcCtx *ServiceContext) Close() {
	if svcCtx.ReportService != nil {
		svcCtx.ReportService.Close()
	}
	if svcCtx.JobStore != nil && svcCtx.JobStore != svcCtx.Store {
		if err := svcCtx.JobStore.Close(); err != nil {
			logger.Errorf("关闭任务存储失败, %v", err)
		}
	}
	if svcCtx.Store != nil {
		if err := svcCtx.Store.Close(); err != nil {
			logger.Errorf("关闭存储失败, %v", err)
		}
	}
	if err := svcCtx.DbDriver.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
