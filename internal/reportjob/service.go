package reportjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/google/uuid"
)

const (
	JobPrefix   = "report:job:"
	CachePrefix = "report:cache:"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidParams = errors.New("invalid report parameters")
)

// Generator 报告生成器
type Generator interface {
	Generate(ctx context.Context, params report.RequestParams, onProgress report.ProgressFunc) (*report.Report, error)
}

// Service 管理报告任务的生命周期与结果缓存
type Service struct {
	store     kvstore.Store
	generator Generator
	cacheTTL  time.Duration

	mu     sync.Mutex
	active map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewService(store kvstore.Store, generator Generator, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = report.ReportCacheTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		generator: generator,
		cacheTTL:  cacheTTL,
		active:    make(map[string]*Job),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Close 取消后台任务并等待退出
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateJob 命中缓存时直接返回已完成的任务，否则创建任务并在后台执行
func (s *Service) CreateJob(ctx context.Context, params report.RequestParams) (*Job, error) {
	job, cached, err := s.newJob(ctx, params)
	if err != nil || cached {
		return job, err
	}

	snapshot := s.snapshot(job)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(s.ctx, job)
	}()
	return snapshot, nil
}

// Run 同步执行任务，返回结束后的任务；任务被中断或在运行中被删除时返回错误
func (s *Service) Run(ctx context.Context, params report.RequestParams) (*Job, error) {
	job, cached, err := s.newJob(ctx, params)
	if err != nil || cached {
		return job, err
	}
	s.process(ctx, job)

	done := s.snapshot(job)
	if !done.Finished() {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		return done, fmt.Errorf("%w: %s", ErrJobNotFound, done.ID)
	}
	return done, nil
}

func (s *Service) newJob(ctx context.Context, params report.RequestParams) (*Job, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	cacheKey := CacheKey(params)
	if cached := s.getFromCache(ctx, cacheKey); cached != nil {
		logger.Infof("[ReportService] 命中缓存 %s", cacheKey)
		return cached, true, nil
	}

	now := s.now()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Params:      params,
		Title:       params.Title,
		Description: params.Description,
		Tags:        params.Tags,
	}

	s.mu.Lock()
	s.active[job.ID] = job
	err := s.saveLocked(ctx, job)
	s.mu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
		return nil, false, fmt.Errorf("save job: %w", err)
	}

	logger.Infof("[ReportService] 创建任务 %s", job.ID)
	return job, false, nil
}

func (s *Service) process(ctx context.Context, job *Job) {
	s.update(ctx, job, func(j *Job) {
		j.Status = StatusProcessing
	})

	rep, err := s.generator.Generate(ctx, job.Params, func(p report.Progress) {
		s.update(ctx, job, func(j *Job) {
			j.Progress = &p
		})
	})

	switch {
	case err != nil && ctx.Err() != nil:
		// 服务关闭导致的中断保持未完成状态，由启动时的恢复逻辑处理
		logger.Warnf("[ReportService] 任务 %s 被中断: %v", job.ID, err)
	case err != nil:
		logger.Errorf("[ReportService] 任务 %s 失败: %v", job.ID, err)
		s.update(ctx, job, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
	default:
		// 缓存与任务状态在同一把锁内写入，已删除的任务不会进入缓存
		s.update(ctx, job, func(j *Job) {
			cachedAt := s.now()
			j.Status = StatusCompleted
			j.Report = rep
			j.CachedAt = &cachedAt
			j.UpdatedAt = cachedAt
			s.saveToCacheLocked(ctx, CacheKey(j.Params), j)
		})
		logger.Infof("[ReportService] 任务 %s 完成", job.ID)
	}

	s.mu.Lock()
	delete(s.active, job.ID)
	s.mu.Unlock()
}

// update 修改并保存运行中的任务，任务已被删除时不再写入
func (s *Service) update(ctx context.Context, job *Job, mutate func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[job.ID] != job {
		return
	}
	mutate(job)
	job.UpdatedAt = s.now()
	if err := s.saveLocked(ctx, job); err != nil {
		logger.Errorf("[ReportService] 保存任务 %s 失败: %v", job.ID, err)
	}
}

func (s *Service) snapshot(job *Job) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	return &clone
}

func (s *Service) saveLocked(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, JobPrefix+job.ID, data, 0)
}

func (s *Service) getFromCache(ctx context.Context, cacheKey string) *Job {
	data, err := s.store.Get(ctx, CachePrefix+cacheKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logger.Errorf("[ReportService] 读取缓存失败: %v", err)
		}
		return nil
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Errorf("[ReportService] 解析缓存失败: %v", err)
		return nil
	}
	if job.CachedAt == nil || s.now().Sub(*job.CachedAt) >= s.cacheTTL {
		return nil
	}
	return &job
}

func (s *Service) saveToCacheLocked(ctx context.Context, cacheKey string, job *Job) {
	data, err := json.Marshal(job)
	if err == nil {
		err = s.store.Set(ctx, CachePrefix+cacheKey, data, s.cacheTTL)
	}
	if err != nil {
		logger.Errorf("[ReportService] 写入缓存失败: %v", err)
	}
}

// GetJob 返回任务，不存在时返回 ErrJobNotFound
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	if job, ok := s.active[id]; ok {
		clone := *job
		s.mu.Unlock()
		return &clone, nil
	}
	s.mu.Unlock()

	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*Job, error) {
	data, err := s.store.Get(ctx, JobPrefix+id)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob 修改任务的标题、描述和标签
func (s *Service) UpdateJob(ctx context.Context, id string, update Update) (*Job, error) {
	apply := func(j *Job) {
		if update.Title != nil {
			j.Title = *update.Title
		}
		if update.Description != nil {
			j.Description = *update.Description
		}
		if update.Tags != nil {
			j.Tags = *update.Tags
		}
		j.UpdatedAt = s.now()
	}

	s.mu.Lock()
	if job, ok := s.active[id]; ok {
		apply(job)
		err := s.saveLocked(ctx, job)
		clone := *job
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &clone, nil
	}
	s.mu.Unlock()

	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(ctx, job); err != nil {
		return nil, err
	}
	logger.Infof("[ReportService] 任务 %s 元数据已更新", id)
	return job, nil
}

// DeleteJob 删除任务及其对应的缓存
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	if err := s.store.Del(ctx, JobPrefix+id, CachePrefix+CacheKey(job.Params)); err != nil {
		return err
	}
	logger.Infof("[ReportService] 任务 %s 已删除", id)
	return nil
}

// InvalidateCache params 为 nil 时清空全部报告缓存
func (s *Service) InvalidateCache(ctx context.Context, params *report.RequestParams) error {
	if params != nil {
		return s.store.Del(ctx, CachePrefix+CacheKey(*params))
	}

	keys, err := s.store.Keys(ctx, CachePrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	logger.Infof("[ReportService] 清除 %d 条报告缓存", len(keys))
	return s.store.Del(ctx, keys...)
}

// allJobs 读取存储中的全部任务
func (s *Service) allJobs(ctx context.Context) ([]*Job, error) {
	keys, err := s.store.Keys(ctx, JobPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.store.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(values))
	for i, data := range values {
		if data == nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			logger.Warnf("[ReportService] 跳过无法解析的任务 %s: %v", keys[i], err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// RecoverStaleJobs 将超过 olderThan 未更新且未结束的任务标记为失败
func (s *Service) RecoverStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-olderThan)
	recovered := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		if job.Finished() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, running := s.active[job.ID]; running {
			continue
		}

		job.Status = StatusFailed
		job.Error = "job interrupted before completion"
		job.UpdatedAt = s.now()
		if err := s.saveLocked(ctx, job); err != nil {
			return recovered, err
		}
		recovered++
		logger.Warnf("[ReportService] 任务 %s 已中断, 标记为失败", job.ID)
	}
	return recovered, nil
}
