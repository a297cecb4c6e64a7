package handlers

import (
	"context"
	"net/http"

	"task-tracker/internal/models"
	"task-tracker/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type ReportSettingsService interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (*models.Report, error)
	UpdateSettings(ctx context.Context, userID uuid.UUID, settings services.ReportSettings) (*models.Report, error)
}

type ReportHandler struct {
	reports ReportSettingsService
}

func NewReportHandler(reports ReportSettingsService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) GetReport(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	report, err := h.reports.GetSettings(c.Request.Context(), userID)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ReportHandler) UpdateReport(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var settings services.ReportSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.reports.UpdateSettings(c.Request.Context(), userID, settings)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
