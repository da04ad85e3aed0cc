package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
	"github.com/fachebot/talk-insight/internal/reportjob"
	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reports ReportService
}

func NewReportHandler(reports ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Create 创建报告任务，命中缓存时直接返回已完成的任务
func (h *ReportHandler) Create(c *gin.Context) {
	var params report.RequestParams
	if err := c.ShouldBindJSON(&params); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.reports.CreateJob(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusAccepted
	if job.Status == reportjob.StatusCompleted {
		status = http.StatusOK
	}
	c.JSON(status, job)
}

func (h *ReportHandler) List(c *gin.Context) {
	q := reportjob.Query{
		Status:    reportjob.Status(c.Query("status")),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if tags := c.Query("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				q.Tags = append(q.Tags, tag)
			}
		}
	}

	var err error
	if q.Page, err = queryInt(c, "page"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.reports.QueryJobs(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, errors.New(key + " must be a positive integer")
	}
	return n, nil
}

func (h *ReportHandler) Get(c *gin.Context) {
	job, err := h.reports.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// completedReport 返回已完成任务的报告，未完成时写入 409
func (h *ReportHandler) completedReport(c *gin.Context) (*report.Report, bool) {
	job, err := h.reports.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if job.Status != reportjob.StatusCompleted || job.Report == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "report is not ready",
			"status":   job.Status,
			"progress": job.Progress,
		})
		return nil, false
	}
	return job.Report, true
}

func (h *ReportHandler) Markdown(c *gin.Context) {
	rep, ok := h.completedReport(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(rep.Markdown))
}

func (h *ReportHandler) Statistics(c *gin.Context) {
	rep, ok := h.completedReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rep.Statistics)
}

func (h *ReportHandler) Visualization(c *gin.Context) {
	rep, ok := h.completedReport(c)
	if !ok {
		return
	}
	if rep.Visualization == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report has no visualization"})
		return
	}
	c.JSON(http.StatusOK, rep.Visualization)
}

func (h *ReportHandler) Update(c *gin.Context) {
	var update reportjob.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.reports.UpdateJob(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *ReportHandler) Delete(c *gin.Context) {
	if err := h.reports.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// InvalidateCache 请求体为空时清除全部缓存，否则只清除对应参数的缓存
func (h *ReportHandler) InvalidateCache(c *gin.Context) {
	var params *report.RequestParams
	var body report.RequestParams
	err := c.ShouldBindJSON(&body)
	switch {
	case err == nil:
		params = &body
	case !errors.Is(err, io.EOF):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reports.InvalidateCache(c.Request.Context(), params); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ReportHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reportjob.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reportjob.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("[Server] %s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
