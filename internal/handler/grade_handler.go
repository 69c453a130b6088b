package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gradetrack/gradesync-api/internal/middleware"
	"github.com/gradetrack/gradesync-api/internal/service"
	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
	"github.com/gradetrack/gradesync-api/pkg/export"
	"github.com/gradetrack/gradesync-api/pkg/response"
)

// GradeHandler exposes the grade record endpoints.
type GradeHandler struct {
	sync  *service.SyncService
	stats *service.StatsService

	csv            *export.CSVExporter
	pdf            *export.PDFExporter
	exportsEnabled bool
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(sync *service.SyncService, stats *service.StatsService, exportsEnabled bool) *GradeHandler {
	return &GradeHandler{
		sync:           sync,
		stats:          stats,
		csv:            export.NewCSVExporter(),
		pdf:            export.NewPDFExporter(),
		exportsEnabled: exportsEnabled,
	}
}

// List godoc
// @Summary List reconciled grade records
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	result, err := h.sync.List(c.Request.Context(), middleware.Token(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result.Records, gin.H{"source": string(result.Source), "count": len(result.Records)})
}

// Submit godoc
// @Summary Submit a daily grade record
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SubmitRequest true "Daily record"
// @Success 201 {object} response.Envelope "Synced to the remote service"
// @Success 202 {object} response.Envelope "Saved locally, pending sync"
// @Router /grades [post]
func (h *GradeHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.sync.Submit(c.Request.Context(), middleware.Token(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.stats != nil {
		h.stats.InvalidateOwner(c.Request.Context(), result.Owner)
	}

	status := http.StatusCreated
	if result.Outcome == service.OutcomeSavedLocally {
		status = http.StatusAccepted
	}
	response.JSON(c, status, result.Record, gin.H{"outcome": string(result.Outcome)})
}

// Stats godoc
// @Summary Derived grade metrics
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param range query string false "Time range" Enums(all, week, month, quarter, year)
// @Success 200 {object} response.Envelope
// @Router /grades/stats [get]
func (h *GradeHandler) Stats(c *gin.Context) {
	rng := service.Range(c.DefaultQuery("range", string(service.RangeAll)))
	if !rng.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown range %q", rng)))
		return
	}

	stats, source, cached, err := h.stats.Stats(c.Request.Context(), middleware.Token(c), rng)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, gin.H{"source": string(source), "cached": cached})
}

// Export godoc
// @Summary Export grade history
// @Tags Grades
// @Produce text/csv,application/pdf
// @Security BearerAuth
// @Param format query string false "Export format" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /grades/export [get]
func (h *GradeHandler) Export(c *gin.Context) {
	if !h.exportsEnabled {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}

	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "pdf" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown export format %q", format)))
		return
	}

	result, err := h.sync.List(c.Request.Context(), middleware.Token(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	dataset := gradeHistoryDataset(result)

	var payload []byte
	contentType := "text/csv"
	filename := "grade-history.csv"
	if format == "pdf" {
		payload, err = h.pdf.Render(dataset, "Grade History")
		contentType = "application/pdf"
		filename = "grade-history.pdf"
	} else {
		payload, err = h.csv.Render(dataset)
	}
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "render export"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}

// gradeHistoryDataset flattens reconciled records into one row per
// subject entry, newest record first.
func gradeHistoryDataset(result *service.ListResult) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Date", "Subject", "Grade", "Scale", "Attended", "Missing Assignments", "Synced"},
	}
	for _, record := range result.Records {
		for _, entry := range record.Entries {
			dataset.Rows = append(dataset.Rows, []string{
				record.Date,
				entry.Subject,
				strconv.FormatFloat(entry.Grade, 'f', -1, 64),
				string(entry.GradingScale),
				strconv.FormatBool(entry.Attended),
				strconv.Itoa(entry.MissingAssignments),
				strconv.FormatBool(record.Synced()),
			})
		}
	}
	return dataset
}
