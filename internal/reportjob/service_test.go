package reportjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fachebot/talk-insight/internal/kvstore"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, params report.RequestParams, onProgress report.ProgressFunc) (*report.Report, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	onProgress(report.Progress{Step: 1, TotalSteps: 10, CurrentStep: "Parsing messages", Percentage: 10})
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &report.Report{
		ID:         "report-1",
		Title:      params.Title,
		Statistics: report.ReportStatistics{TotalMessages: 7},
		Clusters:   []report.MessageCluster{{ID: "c0"}, {ID: "c1"}},
		Markdown:   "# report",
	}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newMemoryStore(t *testing.T) kvstore.Store {
	store, err := kvstore.NewMemoryStore(100)
	require.NoError(t, err)
	return store
}

func newRedisStore(t *testing.T) kvstore.Store {
	mr := miniredis.RunT(t)
	return kvstore.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func waitFinished(t *testing.T, svc *Service, id string) *Job {
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = svc.GetJob(context.Background(), id)
		return err == nil && job.Finished()
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "all:all:all:0:0", CacheKey(report.RequestParams{}))
	assert.Equal(t, "a,b:u1:n1:2025-01-01:2025-02-01", CacheKey(report.RequestParams{
		ThreadIDs:  []string{"b", "a"},
		AgentURLs:  []string{"u1"},
		AgentNames: []string{"n1"},
		StartDate:  "2025-01-01",
		EndDate:    "2025-02-01",
	}))

	params := report.RequestParams{ThreadIDs: []string{"z", "y"}}
	CacheKey(params)
	assert.Equal(t, []string{"z", "y"}, params.ThreadIDs)
}

func TestCreateJob_CompletesAndCaches(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) kvstore.Store{
		"memory": newMemoryStore,
		"redis":  newRedisStore,
	} {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{}
			svc := NewService(newStore(t), gen, time.Hour)
			defer svc.Close()

			params := report.RequestParams{ThreadIDs: []string{"t1"}, Title: "Weekly", Tags: []string{"weekly"}}
			job, err := svc.CreateJob(context.Background(), params)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, job.Status)
			assert.Equal(t, "Weekly", job.Title)

			done := waitFinished(t, svc, job.ID)
			assert.Equal(t, StatusCompleted, done.Status)
			require.NotNil(t, done.Report)
			assert.Equal(t, "report-1", done.Report.ID)
			assert.NotEqual(t, done.ID, done.Report.ID)
			require.NotNil(t, done.Progress)
			assert.Equal(t, 1, done.Progress.Step)
			require.NotNil(t, done.CachedAt)

			cached, err := svc.CreateJob(context.Background(), params)
			require.NoError(t, err)
			assert.Equal(t, job.ID, cached.ID)
			assert.Equal(t, StatusCompleted, cached.Status)
			assert.Equal(t, 1, gen.Calls())

			require.NoError(t, svc.InvalidateCache(context.Background(), &params))
			again, err := svc.CreateJob(context.Background(), params)
			require.NoError(t, err)
			assert.NotEqual(t, job.ID, again.ID)
			waitFinished(t, svc, again.ID)
			assert.Equal(t, 2, gen.Calls())
		})
	}
}

func TestCreateJob_Failure(t *testing.T) {
	svc := NewService(newMemoryStore(t), &fakeGenerator{err: errors.New("validation failed")}, time.Hour)
	defer svc.Close()

	job, err := svc.CreateJob(context.Background(), report.RequestParams{})
	require.NoError(t, err)

	done := waitFinished(t, svc, job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "validation failed", done.Error)
	assert.Nil(t, done.Report)

	_, err = svc.store.Get(context.Background(), CachePrefix+CacheKey(report.RequestParams{}))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestCreateJob_InvalidParams(t *testing.T) {
	svc := NewService(newMemoryStore(t), &fakeGenerator{}, time.Hour)
	defer svc.Close()

	_, err := svc.CreateJob(context.Background(), report.RequestParams{Language: "fr"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRun(t *testing.T) {
	gen := &fakeGenerator{}
	svc := NewService(newMemoryStore(t), gen, time.Hour)
	defer svc.Close()

	job, err := svc.Run(context.Background(), report.RequestParams{Title: "sync"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "sync", job.Report.Title)
}

func TestRun_Cancelled(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	svc := NewService(newMemoryStore(t), gen, time.Hour)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for gen.Calls() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	job, err := svc.Run(ctx, report.RequestParams{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, job)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Nil(t, job.Report)
}

func TestUpdateAndDeleteJob(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	svc := NewService(newMemoryStore(t), gen, time.Hour)
	defer svc.Close()

	job, err := svc.CreateJob(context.Background(), report.RequestParams{Title: "old"})
	require.NoError(t, err)

	// 运行中的任务也可以修改元数据，完成后保留修改
	title := "new title"
	tags := []string{"a", "b"}
	updated, err := svc.UpdateJob(context.Background(), job.ID, Update{Title: &title, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)

	close(gen.release)
	done := waitFinished(t, svc, job.ID)
	assert.Equal(t, "new title", done.Title)

	description := "desc"
	updated, err = svc.UpdateJob(context.Background(), job.ID, Update{Description: &description})
	require.NoError(t, err)
	assert.Equal(t, "desc", updated.Description)
	assert.Equal(t, "new title", updated.Title)

	require.NoError(t, svc.DeleteJob(context.Background(), job.ID))
	_, err = svc.GetJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.store.Get(context.Background(), CachePrefix+CacheKey(job.Params))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteJob(context.Background(), "missing"), ErrJobNotFound)
	_, err = svc.UpdateJob(context.Background(), "missing", Update{})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func seedJobs(t *testing.T, svc *Service, jobs ...*Job) {
	for _, job := range jobs {
		require.NoError(t, svc.saveLocked(context.Background(), job))
	}
}

func TestQueryJobs(t *testing.T) {
	svc := NewService(newMemoryStore(t), &fakeGenerator{}, time.Hour)
	defer svc.Close()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var jobs []*Job
	for i := range 25 {
		job := &Job{
			ID:        fmt.Sprintf("job-%02d", i),
			Status:    StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base.Add(time.Duration(50-i) * time.Hour),
			Title:     fmt.Sprintf("Report %02d", i),
		}
		if i%5 == 0 {
			job.Tags = []string{"weekly"}
			job.Description = "Weekly DIGEST"
		}
		if i == 3 {
			job.Status = StatusFailed
		}
		if i == 4 {
			job.Report = &report.Report{Statistics: report.ReportStatistics{TotalMessages: 9}, Clusters: make([]report.MessageCluster, 2)}
		}
		jobs = append(jobs, job)
	}
	seedJobs(t, svc, jobs...)

	t.Run("default paging", func(t *testing.T) {
		result, err := svc.QueryJobs(context.Background(), Query{})
		require.NoError(t, err)
		assert.Equal(t, 25, result.Total)
		assert.Equal(t, 20, result.Limit)
		assert.True(t, result.HasMore)
		require.Len(t, result.Items, 20)
		assert.Equal(t, "job-24", result.Items[0].JobID)

		next, err := svc.QueryJobs(context.Background(), Query{Page: 2})
		require.NoError(t, err)
		assert.Len(t, next.Items, 5)
		assert.False(t, next.HasMore)
	})

	t.Run("filters", func(t *testing.T) {
		result, err := svc.QueryJobs(context.Background(), Query{Tags: []string{"weekly", "other"}, SortOrder: "asc"})
		require.NoError(t, err)
		require.Equal(t, 5, result.Total)
		assert.Equal(t, "job-00", result.Items[0].JobID)

		result, err = svc.QueryJobs(context.Background(), Query{Search: "digest", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, result.Total)
		assert.Len(t, result.Items, 2)

		result, err = svc.QueryJobs(context.Background(), Query{Status: StatusFailed})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "job-03", result.Items[0].JobID)

		result, err = svc.QueryJobs(context.Background(), Query{
			StartDate: base.Add(2 * time.Hour).Format(time.RFC3339),
			EndDate:   base.Add(4 * time.Hour).Format(time.RFC3339),
			SortBy:    "title",
			SortOrder: "asc",
		})
		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		assert.Equal(t, "Report 02", result.Items[0].Title)
		require.NotNil(t, result.Items[2].ReportSummary)
		assert.Equal(t, ReportSummary{TotalMessages: 9, TopicCount: 2}, *result.Items[2].ReportSummary)
	})

	t.Run("sort by updatedAt", func(t *testing.T) {
		result, err := svc.QueryJobs(context.Background(), Query{SortBy: "updatedAt", Limit: 500})
		require.NoError(t, err)
		assert.Equal(t, 100, result.Limit)
		assert.Equal(t, "job-00", result.Items[0].JobID)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := svc.QueryJobs(context.Background(), Query{SortBy: "size"})
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
}

func TestRecoverStaleJobs(t *testing.T) {
	svc := NewService(newMemoryStore(t), &fakeGenerator{}, time.Hour)
	defer svc.Close()

	now := time.Now()
	seedJobs(t, svc,
		&Job{ID: "stale", Status: StatusProcessing, UpdatedAt: now.Add(-2 * time.Hour)},
		&Job{ID: "pending", Status: StatusPending, UpdatedAt: now.Add(-3 * time.Hour)},
		&Job{ID: "fresh", Status: StatusProcessing, UpdatedAt: now},
		&Job{ID: "done", Status: StatusCompleted, UpdatedAt: now.Add(-5 * time.Hour)},
	)

	n, err := svc.RecoverStaleJobs(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stale, err := svc.GetJob(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stale.Status)
	assert.NotEmpty(t, stale.Error)

	fresh, err := svc.GetJob(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, fresh.Status)
}

func TestClose_InterruptsRunningJob(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	svc := NewService(newMemoryStore(t), gen, time.Hour)

	job, err := svc.CreateJob(context.Background(), report.RequestParams{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.Calls() == 1 }, time.Second, 5*time.Millisecond)

	svc.Close()

	stored, err := svc.load(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
}
