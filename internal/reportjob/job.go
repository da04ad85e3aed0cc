package reportjob

import (
	"slices"
	"strings"
	"time"

	"github.com/fachebot/talk-insight/internal/report"
)

// Status 任务状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job 报告生成任务
type Job struct {
	ID          string               `json:"id"`
	Status      Status               `json:"status"`
	Progress    *report.Progress     `json:"progress,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	CachedAt    *time.Time           `json:"cachedAt,omitempty"`
	Params      report.RequestParams `json:"params"`
	Report      *report.Report       `json:"report,omitempty"`
	Error       string               `json:"error,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
}

// Finished 任务是否已结束
func (j *Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ReportSummary 列表中展示的报告摘要
type ReportSummary struct {
	TotalMessages int              `json:"totalMessages"`
	TopicCount    int              `json:"topicCount"`
	DateRange     report.DateRange `json:"dateRange"`
}

// Summary 任务列表项
type Summary struct {
	JobID         string           `json:"jobId"`
	Status        Status           `json:"status"`
	Progress      *report.Progress `json:"progress,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	CachedAt      *time.Time       `json:"cachedAt,omitempty"`
	Error         string           `json:"error,omitempty"`
	Title         string           `json:"title,omitempty"`
	Description   string           `json:"description,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	ReportSummary *ReportSummary   `json:"reportSummary,omitempty"`
}

func (j *Job) summary() Summary {
	s := Summary{
		JobID:       j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CachedAt:    j.CachedAt,
		Error:       j.Error,
		Title:       j.Title,
		Description: j.Description,
		Tags:        j.Tags,
	}
	if j.Report != nil {
		s.ReportSummary = &ReportSummary{
			TotalMessages: j.Report.Statistics.TotalMessages,
			TopicCount:    len(j.Report.Clusters),
			DateRange:     j.Report.Statistics.DateRange,
		}
	}
	return s
}

// Update 可修改的任务元数据，nil 表示不修改
type Update struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

// CacheKey 由会话、智能体筛选条件和时间范围组成，顺序无关
func CacheKey(params report.RequestParams) string {
	join := func(values []string) string {
		if len(values) == 0 {
			return "all"
		}
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		return strings.Join(sorted, ",")
	}
	orZero := func(s string) string {
		if s == "" {
			return "0"
		}
		return s
	}
	return strings.Join([]string{
		join(params.ThreadIDs),
		join(params.AgentURLs),
		join(params.AgentNames),
		orZero(params.StartDate),
		orZero(params.EndDate),
	}, ":")
}
