package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/repository"
	"wayback-fetcher/internal/service"
	"wayback-fetcher/internal/storage"
)

// Handler exposes the run ledger over a read-only JSON API.
type Handler struct {
	runs    service.RunService
	storage storage.Service
	bucket  string
	metrics http.Handler
}

func NewHandler(runs service.RunService, store storage.Service, bucket string, metrics http.Handler) *Handler {
	return &Handler{
		runs:    runs,
		storage: store,
		bucket:  bucket,
		metrics: metrics,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/runs", h.listRuns)
		api.GET("/runs/:id", h.getRun)
		api.GET("/runs/:id/records", h.listRecords)
		api.GET("/runs/:id/results", h.listResults)
		api.GET("/runs/:id/objects", h.listObjects)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.runs.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]RunResponse, len(runs))
	for i := range runs {
		resp[i] = runToResponse(runs[i])
	}
	c.JSON(http.StatusOK, resp)
}

// loadRun writes the error response itself and returns nil when the run is unusable.
func (h *Handler) loadRun(c *gin.Context) *domain.Run {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return run
}

func (h *Handler) getRun(c *gin.Context) {
	run := h.loadRun(c)
	if run == nil {
		return
	}
	c.JSON(http.StatusOK, runToResponse(*run))
}

func (h *Handler) listRecords(c *gin.Context) {
	targetsOnly, err := strconv.ParseBool(c.DefaultQuery("targets", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag targets"})
		return
	}
	run := h.loadRun(c)
	if run == nil {
		return
	}

	records, err := h.runs.ListRecords(c.Request.Context(), run.ID, targetsOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]RecordResponse, len(records))
	for i := range records {
		resp[i] = recordToResponse(records[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listResults(c *gin.Context) {
	var statuses []domain.ResultStatus
	if s := c.Query("status"); s != "" {
		status := domain.ResultStatus(s)
		if status != domain.ResultSuccess && status != domain.ResultFailed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		statuses = append(statuses, status)
	}
	run := h.loadRun(c)
	if run == nil {
		return
	}

	results, err := h.runs.ListResults(c.Request.Context(), run.ID, statuses...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ResultResponse, len(results))
	for i := range results {
		resp[i] = resultToResponse(results[i])
	}
	c.JSON(http.StatusOK, resp)
}

// listObjects shows what a run mirrored to object storage.
func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage service not configured"})
		return
	}
	run := h.loadRun(c)
	if run == nil {
		return
	}
	if run.S3Location == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "run was not mirrored"})
		return
	}

	prefix, err := extractS3Prefix(run.S3Location, h.bucket)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

type RunResponse struct {
	ID                string           `json:"id"`
	Domain            string           `json:"domain"`
	Status            domain.RunStatus `json:"status"`
	OutputDir         string           `json:"output_dir"`
	TotalRecords      int              `json:"total_records"`
	TargetRecords     int              `json:"target_records"`
	MultiVersionURLs  int              `json:"multi_version_urls"`
	Tasks             int              `json:"tasks"`
	Succeeded         int              `json:"succeeded"`
	Failed            int              `json:"failed"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	S3Location        string           `json:"s3_location"`
	ErrorMessage      string           `json:"error_message"`
	StartedAt         string           `json:"started_at"`
	UpdatedAt         string           `json:"updated_at"`
	FinishedAt        *string          `json:"finished_at,omitempty"`
}

type RecordResponse struct {
	URLKey      string `json:"urlkey"`
	Timestamp   string `json:"timestamp"`
	OriginalURL string `json:"original"`
	MIMEType    string `json:"mimetype"`
	StatusCode  int    `json:"statuscode"`
	Digest      string `json:"digest"`
	Length      int64  `json:"length"`
	Target      bool   `json:"target"`
}

type ResultResponse struct {
	TaskID       int64               `json:"task_id"`
	URLKey       string              `json:"urlkey"`
	Variant      domain.Variant      `json:"variant"`
	SourceURL    string              `json:"source_url"`
	Status       domain.ResultStatus `json:"status"`
	StoredPath   string              `json:"stored_path,omitempty"`
	ByteSize     int64               `json:"byte_size"`
	ContentHash  string              `json:"content_hash,omitempty"`
	ErrorKind    domain.ErrorKind    `json:"error_kind,omitempty"`
	Error        string              `json:"error,omitempty"`
	AttemptCount int                 `json:"attempts"`
	Removed      bool                `json:"removed"`
	DuplicateOf  string              `json:"duplicate_of,omitempty"`
	CompletedAt  string              `json:"completed_at"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

func runToResponse(run domain.Run) RunResponse {
	resp := RunResponse{
		ID:                run.ID,
		Domain:            run.Domain,
		Status:            run.Status,
		OutputDir:         run.OutputDir,
		TotalRecords:      run.TotalRecords,
		TargetRecords:     run.TargetRecords,
		MultiVersionURLs:  run.MultiVersionURLs,
		Tasks:             run.Tasks,
		Succeeded:         run.Succeeded,
		Failed:            run.Failed,
		DuplicatesRemoved: run.DuplicatesRemoved,
		S3Location:        run.S3Location,
		ErrorMessage:      run.ErrorMessage,
		StartedAt:         run.StartedAt.Format(time.RFC3339),
		UpdatedAt:         run.UpdatedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		v := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}

func recordToResponse(rec domain.IndexedRecord) RecordResponse {
	return RecordResponse{
		URLKey:      rec.URLKey,
		Timestamp:   rec.Timestamp,
		OriginalURL: rec.OriginalURL,
		MIMEType:    rec.MIMEType,
		StatusCode:  rec.StatusCode,
		Digest:      rec.Digest,
		Length:      rec.Length,
		Target:      rec.Target,
	}
}

func resultToResponse(res domain.DownloadResult) ResultResponse {
	return ResultResponse{
		TaskID:       res.Task.ID,
		URLKey:       res.Task.URLKey,
		Variant:      res.Task.Variant,
		SourceURL:    res.Task.SourceURL,
		Status:       res.Status,
		StoredPath:   res.StoredPath,
		ByteSize:     res.ByteSize,
		ContentHash:  res.ContentHash,
		ErrorKind:    res.ErrorKind,
		Error:        res.Error,
		AttemptCount: res.AttemptCount,
		Removed:      res.Removed,
		DuplicateOf:  res.DuplicateOf,
		CompletedAt:  res.CompletedAt.Format(time.RFC3339),
	}
}

func extractS3Prefix(location, bucket string) (string, error) {
	if !strings.HasPrefix(location, "s3://") {
		return "", fmt.Errorf("invalid s3 location")
	}
	rest := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("invalid s3 location")
	}
	if bucket != "" && parts[0] != bucket {
		return "", fmt.Errorf("s3 bucket mismatch")
	}
	if len(parts) == 1 {
		return "", nil
	}
	return strings.TrimPrefix(parts[1], "/"), nil
}
