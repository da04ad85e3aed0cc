package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fachebot/talk-insight/internal/config"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/model"
	"github.com/fachebot/talk-insight/internal/notify"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/reportjob"
	"github.com/fachebot/talk-insight/internal/scheduler"
	"github.com/fachebot/talk-insight/internal/server"
	"github.com/fachebot/talk-insight/internal/svc"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "talk-insight",
		Short: "Conversation analysis reports for agent threads",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "etc/config.yaml", "the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "console log level (debug, info, warn, error)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			logger.SetLevel(logLevel)
		}
	}

	rootCmd.AddCommand(serveCmd(), generateCmd(), ingestCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadServiceContext() *svc.ServiceContext {
	// 读取配置文件
	c, err := config.LoadFromFile(configFile)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}

	// 创建服务上下文
	svcCtx, err := svc.NewServiceContext(c)
	if err != nil {
		logger.Fatalf("创建服务上下文失败, %s", err)
	}
	return svcCtx
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the report scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			svcCtx := loadServiceContext()
			c := svcCtx.Config

			if c.Server.GinMode != "" {
				gin.SetMode(c.Server.GinMode)
			}

			// 创建通知器
			var notifier scheduler.Notifier
			if c.Notify.Enable {
				notifier = notify.NewNotifier(&c.Notify, svcCtx.HTTPClient(time.Duration(c.Notify.Timeout)*time.Second))
			}

			// 创建并启动调度器
			schedulerInstance := scheduler.NewScheduler(
				svcCtx.ReportService,
				notifier,
				svcCtx.ThreadModel,
				&c.Schedule,
				svcCtx.StaleJobAge(),
			)
			if err := schedulerInstance.Start(); err != nil {
				logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
			}

			// 启动HTTP服务
			httpServer := server.NewServer(c.Server.Addr, server.NewRouter(svcCtx.ReportService, svcCtx.ThreadModel))
			httpServer.Start()

			// 等待程序退出
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			<-ch

			// 优雅关闭
			logger.Infof("正在关闭服务...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Errorf("[Server] 关闭失败, %v", err)
			}
			schedulerInstance.Stop()
			svcCtx.Close()
			logger.Infof("服务已停止")
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		params report.RequestParams
		output string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a report once and print it as Markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx := loadServiceContext()
			defer svcCtx.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			job, err := svcCtx.ReportService.Run(ctx, params)
			if err != nil {
				return err
			}
			if job.Status != reportjob.StatusCompleted {
				return fmt.Errorf("报告生成失败: %s", job.Error)
			}

			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), job.Report.Markdown)
				return err
			}
			if err := os.WriteFile(output, []byte(job.Report.Markdown), 0644); err != nil {
				return err
			}
			logger.Infof("报告已写入 %s", output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&params.ThreadIDs, "thread", nil, "thread ids to include (repeatable)")
	flags.StringSliceVar(&params.AgentURLs, "agent-url", nil, "only threads joined by these agent URLs")
	flags.StringSliceVar(&params.AgentNames, "agent-name", nil, "only threads joined by these agent names")
	flags.StringVar(&params.StartDate, "start", "", "start date (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&params.EndDate, "end", "", "end date (RFC3339 or YYYY-MM-DD)")
	flags.IntVar(&params.MaxMessages, "max-messages", 0, "sample down to this many messages")
	flags.StringVar(&params.Timezone, "timezone", "", "IANA timezone used for dates and language")
	flags.StringVar((*string)(&params.Language), "lang", "", "report language (ko or en)")
	flags.StringVar(&params.Title, "title", "", "report title")
	flags.StringVarP(&output, "output", "o", "", "write Markdown to this file instead of stdout")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Load threads from a JSON file into the thread store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var imports []model.ThreadImport
			if err := json.Unmarshal(data, &imports); err != nil {
				return fmt.Errorf("解析导入文件失败: %w", err)
			}

			svcCtx := loadServiceContext()
			defer svcCtx.Close()

			total := 0
			for _, imp := range imports {
				threadID, inserted, err := svcCtx.ThreadModel.Import(cmd.Context(), imp)
				if err != nil {
					return fmt.Errorf("导入会话 %q 失败: %w", imp.ID, err)
				}
				logger.Infof("[Ingest] 会话 %s 写入 %d 条消息", threadID, inserted)
				total += inserted
			}
			logger.Infof("[Ingest] 共导入 %d 个会话, %d 条消息", len(imports), total)
			return nil
		},
	}
}
