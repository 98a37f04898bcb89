package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/job"
	"github.com/ledgerline/reconcile/internal/processor"
	"github.com/ledgerline/reconcile/internal/storage"
	"github.com/ledgerline/reconcile/internal/workflow"
)

const maxUploadSize = 32 << 20 // 32 MiB

// heartbeatInterval keeps idle SSE connections alive through proxies
const heartbeatInterval = 15 * time.Second

// handleUploadDocument accepts a multipart document and submits it into the
// ingestion workflow. The response carries the queued job; progress streams
// over /jobs/events.
func (s *Server) handleUploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		respondError(c, http.StatusBadRequest, "file is empty")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	doc := processor.Document{
		FileName: filepath.Base(header.Filename),
		MimeType: mimeType,
		Data:     data,
	}

	created, err := s.tracker.Submit(c.Request.Context(), orgID(c), doc, c.PostForm("workflow_id"))
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to submit document", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to submit document")
		return
	}

	c.JSON(http.StatusAccepted, Response{Success: true, Data: created})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.tracker.List(c.Request.Context(), orgID(c))
	if err != nil {
		s.logger.Error("Failed to list jobs", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondOK(c, jobs)
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, err := s.tracker.Get(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("Failed to get job", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get job")
		return
	}
	respondOK(c, j)
}

func (s *Server) handleRetryJob(c *gin.Context) {
	j, err := s.tracker.Retry(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			respondError(c, http.StatusNotFound, "job not found")
		case errors.Is(err, job.ErrNotRetryable):
			respondError(c, http.StatusConflict, err.Error())
		default:
			s.logger.Error("Failed to retry job", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to retry job")
		}
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: j})
}

// handleJobEvents streams job lifecycle events over Server-Sent Events
func (s *Server) handleJobEvents(c *gin.Context) {
	org := orgID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Streams outlive the server write timeout.
	rc := http.NewResponseController(c.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.bus.Subscribe(org)
	defer sub.Cancel()

	s.logger.Info("SSE client connected", zap.String("organization_id", org))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", zap.String("organization_id", org))
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case evt, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}

// handleFileDownload serves stored documents through presigned URLs
func (s *Server) handleFileDownload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	expires, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "exp query parameter is required")
		return
	}
	sig := c.Query("sig")
	if sig == "" {
		respondError(c, http.StatusBadRequest, "sig query parameter is required")
		return
	}

	if err := s.store.Verify(key, expires, sig); err != nil {
		respondError(c, http.StatusForbidden, "signature invalid or expired")
		return
	}

	data, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			respondError(c, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("Failed to read stored file", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}
