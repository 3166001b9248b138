package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/phenoscope-backend/internal/jobs"
	"github.com/yungbote/phenoscope-backend/internal/services"
)

type AssocHandler struct {
	svc services.AssocService
}

func NewAssocHandler(svc services.AssocService) *AssocHandler {
	return &AssocHandler{svc: svc}
}

type AssociateRequest struct {
	CohortID   string `json:"cohort_id" binding:"required"`
	Definition string `json:"definition" binding:"required"`
}

// POST /api/phenotype/associate
func (h *AssocHandler) Associate(c *gin.Context) {
	var req AssociateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.svc.Submit(c.Request.Context(), req.CohortID, req.Definition)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *AssocHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/cancel
func (h *AssocHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.svc.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
