package server

import (
	"context"
	"net/http"
	"time"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/model"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/reportjob"
	"github.com/gin-gonic/gin"
)

// ReportService 报告任务服务
type ReportService interface {
	CreateJob(ctx context.Context, params report.RequestParams) (*reportjob.Job, error)
	GetJob(ctx context.Context, id string) (*reportjob.Job, error)
	QueryJobs(ctx context.Context, q reportjob.Query) (*reportjob.QueryResult, error)
	UpdateJob(ctx context.Context, id string, update reportjob.Update) (*reportjob.Job, error)
	DeleteJob(ctx context.Context, id string) error
	InvalidateCache(ctx context.Context, params *report.RequestParams) error
}

// ThreadImporter 会话导入
type ThreadImporter interface {
	Import(ctx context.Context, imp model.ThreadImport) (string, int, error)
}

// NewRouter 注册全部路由
func NewRouter(reports ReportService, threads ThreadImporter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), gin.LoggerWithWriter(logger.Writer(), "/health"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		h := NewReportHandler(reports)
		rg := api.Group("/reports")
		rg.POST("", h.Create)
		rg.GET("", h.List)
		rg.DELETE("/cache", h.InvalidateCache)
		rg.GET("/:id", h.Get)
		rg.GET("/:id/markdown", h.Markdown)
		rg.GET("/:id/statistics", h.Statistics)
		rg.GET("/:id/visualization", h.Visualization)
		rg.PATCH("/:id", h.Update)
		rg.DELETE("/:id", h.Delete)

		th := NewThreadHandler(threads)
		api.POST("/threads", th.Import)
	}

	return router
}

// Server HTTP 服务
type Server struct {
	httpServer *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start 在后台监听，监听失败时记录错误
func (s *Server) Start() {
	go func() {
		logger.Infof("[Server] 监听 %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[Server] 服务异常退出: %v", err)
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
