package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ErlanBelekov/pg-executor/internal/repository"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// OpsHandler exposes read-only observability over the scheduler's persisted
// state. Reads take no lock; rows are advisory and may lag the leader.
type OpsHandler struct {
	cronRepo repository.PgCronRepository
	jobRepo  repository.ExecutorJobRepository
	logger   *slog.Logger
}

func NewOpsHandler(cronRepo repository.PgCronRepository, jobRepo repository.ExecutorJobRepository, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		cronRepo: cronRepo,
		jobRepo:  jobRepo,
		logger:   logger.With("component", "ops_handler"),
	}
}

func (h *OpsHandler) ListCronJobs(c *gin.Context) {
	offset, limit := pageParams(c)
	entries, err := h.cronRepo.FetchCronJobs(c.Request.Context(), offset, limit)
	if err != nil {
		h.fail(c, "list cron jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": entries, "offset": offset, "limit": limit})
}

func (h *OpsHandler) ListCronJobRuns(c *gin.Context) {
	offset, limit := pageParams(c)
	details, err := h.cronRepo.FetchCronJobRunDetails(c.Request.Context(), offset, limit)
	if err != nil {
		h.fail(c, "list cron job runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": details, "offset": offset, "limit": limit})
}

func (h *OpsHandler) ListExecutorJobs(c *gin.Context) {
	offset, limit := pageParams(c)
	ctx := c.Request.Context()

	entries, err := h.jobRepo.FetchExecutorJobEntries(ctx, offset, limit)
	if err != nil {
		h.fail(c, "list executor jobs", err)
		return
	}
	total, err := h.jobRepo.TotalExecutorJobEntries(ctx)
	if err != nil {
		h.fail(c, "count executor jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": entries, "total": total, "offset": offset, "limit": limit})
}

func (h *OpsHandler) fail(c *gin.Context, msg string, err error) {
	h.logger.ErrorContext(c.Request.Context(), msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
}

func pageParams(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}
