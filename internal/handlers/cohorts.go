package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/phenoscope-backend/internal/services"
)

type CohortsHandler struct {
	svc services.AssocService
}

func NewCohortsHandler(svc services.AssocService) *CohortsHandler {
	return &CohortsHandler{svc: svc}
}

// GET /api/cohorts
func (h *CohortsHandler) ListCohorts(c *gin.Context) {
	cohorts, err := h.svc.ListCohorts(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"cohorts": cohorts})
}

// GET /api/cohorts/:id/fields
func (h *CohortsHandler) GetCohortFields(c *gin.Context) {
	fields, err := h.svc.CohortFields(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"fields": fields})
}
