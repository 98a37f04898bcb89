package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// CreateReconciliationRequest is the payload for POST /reconciliations
type CreateReconciliationRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Notes     string `json:"notes"`
}

// AutoReconcileRequest tunes one auto-reconcile pass
type AutoReconcileRequest struct {
	MinConfidence float64 `json:"min_confidence"`
}

// ExceptionStatusRequest updates an exception's review status
type ExceptionStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleCreateReconciliation(c *gin.Context) {
	var req CreateReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.engine.CreateReconciliation(c.Request.Context(), orgID(c),
		req.InvoiceID, req.PaymentID, models.MatchedByManual, req.Notes)
	if err != nil {
		s.logger.Error("Failed to create reconciliation", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to create reconciliation")
		return
	}
	if rec == nil {
		respondError(c, http.StatusNotFound, "invoice or payment not found")
		return
	}
	respondCreated(c, rec)
}

func (s *Server) handleListReconciliations(c *gin.Context) {
	recs, err := s.reconciliations.List(c.Request.Context(), orgID(c))
	if err != nil {
		s.logger.Error("Failed to list reconciliations", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list reconciliations")
		return
	}
	respondOK(c, recs)
}

func (s *Server) handleGetReconciliation(c *gin.Context) {
	rec, err := s.reconciliations.GetByID(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get reconciliation", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get reconciliation")
		return
	}
	if rec == nil {
		respondError(c, http.StatusNotFound, "reconciliation not found")
		return
	}
	respondOK(c, rec)
}

func (s *Server) handleUpdateReconciliationStatus(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := models.ReconciliationStatus(req.Status)
	if !status.IsValid() {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", req.Status))
		return
	}

	ctx := c.Request.Context()
	org := orgID(c)
	id := c.Param("id")

	rec, err := s.reconciliations.GetByID(ctx, org, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to get reconciliation")
		return
	}
	if rec == nil {
		respondError(c, http.StatusNotFound, "reconciliation not found")
		return
	}
	if err := s.reconciliations.UpdateStatus(ctx, org, id, status); err != nil {
		s.logger.Error("Failed to update reconciliation status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update reconciliation status")
		return
	}
	rec.Status = status
	respondOK(c, rec)
}

func (s *Server) handleAutoReconcile(c *gin.Context) {
	var req AutoReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		respondError(c, http.StatusBadRequest, "min_confidence must be between 0 and 1")
		return
	}

	recs, err := s.engine.AutoReconcile(c.Request.Context(), orgID(c), req.MinConfidence)
	if err != nil {
		s.logger.Error("Auto-reconcile failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "auto-reconcile failed")
		return
	}
	respondOK(c, gin.H{
		"created":         len(recs),
		"reconciliations": recs,
	})
}

func (s *Server) handleSuggestions(c *gin.Context) {
	suggestions, err := s.engine.GenerateSuggestions(c.Request.Context(), orgID(c))
	if err != nil {
		s.logger.Error("Failed to generate suggestions", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to generate suggestions")
		return
	}
	respondOK(c, suggestions)
}

func (s *Server) handleListExceptions(c *gin.Context) {
	ctx := c.Request.Context()
	org := orgID(c)

	if status := c.Query("status"); status != "" {
		st := models.ExceptionStatus(status)
		if !st.IsValid() {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", status))
			return
		}
		excs, err := s.exceptions.ListByStatus(ctx, org, st)
		if err != nil {
			s.logger.Error("Failed to list exceptions", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to list exceptions")
			return
		}
		respondOK(c, excs)
		return
	}

	excs, err := s.exceptions.List(ctx, org)
	if err != nil {
		s.logger.Error("Failed to list exceptions", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list exceptions")
		return
	}
	respondOK(c, excs)
}

func (s *Server) handleGetException(c *gin.Context) {
	exc, err := s.exceptions.GetByID(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get exception", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get exception")
		return
	}
	if exc == nil {
		respondError(c, http.StatusNotFound, "exception not found")
		return
	}
	respondOK(c, exc)
}

func (s *Server) handleUpdateExceptionStatus(c *gin.Context) {
	var req ExceptionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := models.ExceptionStatus(req.Status)
	if !status.IsValid() {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", req.Status))
		return
	}

	ctx := c.Request.Context()
	org := orgID(c)
	id := c.Param("id")

	exc, err := s.exceptions.GetByID(ctx, org, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to get exception")
		return
	}
	if exc == nil {
		respondError(c, http.StatusNotFound, "exception not found")
		return
	}
	if err := s.exceptions.UpdateStatus(ctx, org, id, status, req.ResolvedBy); err != nil {
		s.logger.Error("Failed to update exception status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update exception status")
		return
	}

	exc, err = s.exceptions.GetByID(ctx, org, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to get exception")
		return
	}
	respondOK(c, exc)
}

func (s *Server) handleIdentifyExceptions(c *gin.Context) {
	excs, err := s.engine.IdentifyExceptions(c.Request.Context(), orgID(c))
	if err != nil {
		s.logger.Error("Failed to identify exceptions", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to identify exceptions")
		return
	}
	respondOK(c, gin.H{
		"created":    len(excs),
		"exceptions": excs,
	})
}

func (s *Server) handleDashboardStats(c *gin.Context) {
	stats, err := s.engine.GetDashboardStats(c.Request.Context(), orgID(c))
	if err != nil {
		s.logger.Error("Failed to compute dashboard stats", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to compute dashboard stats")
		return
	}
	respondOK(c, stats)
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	respondOK(c, s.flows.Definitions())
}
