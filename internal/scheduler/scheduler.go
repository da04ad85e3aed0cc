package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/talk-insight/internal/config"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/reportjob"
	"github.com/robfig/cron/v3"
)

const (
	defaultRangeDays     = 7
	defaultRetryTimes    = 3
	defaultRetryInterval = 60 * time.Second
	notifyRetryTimes     = 2
)

// TagScheduled 定时报告携带的标签
const TagScheduled = "scheduled"

// JobRunner 同步执行报告任务
type JobRunner interface {
	Run(ctx context.Context, params report.RequestParams) (*reportjob.Job, error)
	RecoverStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// Notifier 推送报告内容
type Notifier interface {
	Notify(ctx context.Context, title, content string) error
}

// MessageCleaner 清理过期消息
type MessageCleaner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Scheduler struct {
	cron       *cron.Cron
	jobs       JobRunner
	notifier   Notifier
	cleaner    MessageCleaner
	config     *config.Schedule
	staleAfter time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

// NewScheduler notifier 和 cleaner 可以为 nil
func NewScheduler(jobs JobRunner, notifier Notifier, cleaner MessageCleaner, cfg *config.Schedule, staleAfter time.Duration) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(locUTC)),
		jobs:       jobs,
		notifier:   notifier,
		cleaner:    cleaner,
		config:     cfg,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.mu.Unlock()

	if s.config.Enable {
		_, err := s.cron.AddFunc(s.config.Cron, s.runDigest)
		if err != nil {
			return fmt.Errorf("注册定时报告任务失败: %w", err)
		}
		s.cron.Start()
		logger.Infof("[Scheduler] 调度器已启动，定时报告任务: %s", s.config.Cron)
	}

	// 启动时恢复中断的任务
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recoverStaleJobs(ctx)
	}()

	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	logger.Infof("[Scheduler] 调度器已停止")
}

func (s *Scheduler) recoverStaleJobs(ctx context.Context) {
	if s.staleAfter <= 0 {
		return
	}
	n, err := s.jobs.RecoverStaleJobs(ctx, s.staleAfter)
	if err != nil {
		logger.Errorf("[Scheduler] 恢复中断任务失败: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("[Scheduler] 已将 %d 个中断任务标记为失败", n)
	}
}

// runDigest 执行定时报告任务（cron 触发）
func (s *Scheduler) runDigest() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		logger.Infof("[Scheduler] 任务已取消，退出")
		return
	default:
	}

	if _, err := s.RunDigest(ctx); err != nil {
		logger.Errorf("[Scheduler] 定时报告执行失败: %v", err)
	}
}

// DigestParams 返回以当天零点 (UTC) 为终点、覆盖 RangeDays 天的报告参数
func (s *Scheduler) DigestParams(now time.Time) report.RequestParams {
	rangeDays := s.config.RangeDays
	if rangeDays <= 0 {
		rangeDays = defaultRangeDays
	}
	now = now.In(locUTC)
	endTime := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, locUTC)
	startTime := endTime.AddDate(0, 0, -rangeDays)

	title := s.config.Title
	if title == "" {
		title = "Conversation Digest"
	}
	return report.RequestParams{
		StartDate: startTime.Format(time.RFC3339),
		EndDate:   endTime.Format(time.RFC3339),
		Timezone:  s.config.Timezone,
		Language:  report.Language(s.config.Language),
		Title:     fmt.Sprintf("%s (%s ~ %s)", title, startTime.Format("2006-01-02"), endTime.AddDate(0, 0, -1).Format("2006-01-02")),
		Tags:      []string{TagScheduled},
	}
}

// RunDigest 生成一次定时报告，失败时按配置重试，完成后推送并清理过期消息
func (s *Scheduler) RunDigest(ctx context.Context) (*reportjob.Job, error) {
	params := s.DigestParams(s.now())
	logger.Infof("[Scheduler] 开始生成定时报告: %s", params.Title)

	job, err := s.runWithRetry(ctx, params)
	if err != nil {
		return job, err
	}

	if s.notifier != nil && job.Report != nil && job.Report.Markdown != "" {
		s.sendNotification(ctx, job.Report.Title, job.Report.Markdown)
	}
	s.cleanupMessages(ctx)

	logger.Infof("[Scheduler] 定时报告完成: %s", job.ID)
	return job, nil
}

func (s *Scheduler) runWithRetry(ctx context.Context, params report.RequestParams) (*reportjob.Job, error) {
	retryTimes := s.config.RetryTimes
	if retryTimes <= 0 {
		retryTimes = defaultRetryTimes
	}
	retryInterval := time.Duration(s.config.RetryInterval) * time.Second
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	var job *reportjob.Job
	var err error
	for attempt := 1; attempt <= retryTimes; attempt++ {
		job, err = s.jobs.Run(ctx, params)
		if err == nil && job.Status == reportjob.StatusFailed {
			err = fmt.Errorf("任务 %s 失败: %s", job.ID, job.Error)
		} else if err == nil && job.Status != reportjob.StatusCompleted {
			err = fmt.Errorf("任务 %s 未完成, 状态 %s", job.ID, job.Status)
		}
		if ctx.Err() != nil {
			return job, fmt.Errorf("任务已取消: %w", ctx.Err())
		}
		if err == nil {
			return job, nil
		}

		logger.Warnf("[Scheduler] 报告生成失败 (第 %d/%d 次): %v", attempt, retryTimes, err)
		if attempt < retryTimes {
			select {
			case <-ctx.Done():
				return job, fmt.Errorf("任务已取消")
			case <-time.After(retryInterval):
			}
		}
	}
	return job, fmt.Errorf("报告生成失败，已重试 %d 次: %w", retryTimes, err)
}

// sendNotification 推送失败不影响报告状态
func (s *Scheduler) sendNotification(ctx context.Context, title, content string) {
	retryInterval := time.Duration(s.config.RetryInterval) * time.Second
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	for attempt := 1; attempt <= notifyRetryTimes; attempt++ {
		err := s.notifier.Notify(ctx, title, content)
		if err == nil {
			logger.Infof("[Scheduler] 报告推送成功")
			return
		}
		logger.Warnf("[Scheduler] 报告推送失败 (第 %d/%d 次): %v", attempt, notifyRetryTimes, err)
		if attempt < notifyRetryTimes {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryInterval / 2):
			}
		}
	}
	logger.Errorf("[Scheduler] 报告推送失败，已重试 %d 次", notifyRetryTimes)
}

// cleanupMessages 执行消息清理
func (s *Scheduler) cleanupMessages(ctx context.Context) {
	if s.cleaner == nil || s.config.RetentionDays <= 0 {
		return
	}

	cutoffDate := s.now().In(locUTC).AddDate(0, 0, -s.config.RetentionDays)
	cutoffDate = time.Date(cutoffDate.Year(), cutoffDate.Month(), cutoffDate.Day(), 0, 0, 0, 0, locUTC)

	logger.Infof("[Scheduler] 开始清理 %s 之前的消息", cutoffDate.Format("2006-01-02"))
	deleted, err := s.cleaner.DeleteBefore(ctx, cutoffDate)
	if err != nil {
		logger.Errorf("[Scheduler] 清理消息失败: %v", err)
	} else {
		logger.Infof("[Scheduler] 已清理 %d 条消息", deleted)
	}
}
