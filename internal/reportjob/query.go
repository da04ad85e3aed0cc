package reportjob

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fachebot/talk-insight/internal/report"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query 任务列表查询条件
type Query struct {
	Status    Status
	Tags      []string
	StartDate string // 按 createdAt 过滤
	EndDate   string
	Search    string // 标题和描述中不区分大小写搜索
	SortBy    string // createdAt / updatedAt / title
	SortOrder string // asc / desc
	Page      int
	Limit     int
}

// QueryResult 分页结果
type QueryResult struct {
	Items   []Summary `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	HasMore bool      `json:"hasMore"`
}

// Validate 检查查询参数
func (q Query) Validate() error {
	switch q.Status {
	case "", StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("无效的 status: %s", q.Status)
	}
	switch q.SortBy {
	case "", "createdAt", "updatedAt", "title":
	default:
		return fmt.Errorf("无效的 sortBy: %s", q.SortBy)
	}
	switch q.SortOrder {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("无效的 sortOrder: %s", q.SortOrder)
	}
	for _, d := range []string{q.StartDate, q.EndDate} {
		if d == "" {
			continue
		}
		if _, err := report.ParseDate(d); err != nil {
			return err
		}
	}
	return nil
}

// QueryJobs 过滤、排序并分页返回任务摘要
func (s *Service) QueryJobs(ctx context.Context, q Query) (*QueryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	page := max(1, q.Page)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	jobs, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var start, end time.Time
	if q.StartDate != "" {
		start, _ = report.ParseDate(q.StartDate)
	}
	if q.EndDate != "" {
		end, _ = report.ParseDate(q.EndDate)
	}
	search := strings.ToLower(q.Search)

	filtered := slices.DeleteFunc(jobs, func(j *Job) bool {
		if q.Status != "" && j.Status != q.Status {
			return true
		}
		if len(q.Tags) > 0 && !slices.ContainsFunc(q.Tags, func(tag string) bool {
			return slices.Contains(j.Tags, tag)
		}) {
			return true
		}
		if !start.IsZero() && j.CreatedAt.Before(start) {
			return true
		}
		if !end.IsZero() && j.CreatedAt.After(end) {
			return true
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(j.Title), search) &&
			!strings.Contains(strings.ToLower(j.Description), search) {
			return true
		}
		return false
	})

	slices.SortStableFunc(filtered, func(a, b *Job) int {
		var c int
		switch q.SortBy {
		case "title":
			c = strings.Compare(a.Title, b.Title)
		case "updatedAt":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if q.SortOrder != "asc" {
			c = -c
		}
		return c
	})

	total := len(filtered)
	from := min((page-1)*limit, total)
	to := min(from+limit, total)

	items := make([]Summary, 0, to-from)
	for _, j := range filtered[from:to] {
		items = append(items, j.summary())
	}
	return &QueryResult{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: from+limit < total,
	}, nil
}
