package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/db"
	"github.com/gis-utility-platform/api/internal/dispatch"
	"github.com/gis-utility-platform/api/internal/geocode"
	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/priority"
	"github.com/gis-utility-platform/api/internal/registry"
	"github.com/gis-utility-platform/api/internal/sla"
)

const (
	ServiceName    = "api"
	ServiceVersion = "0.1.0"
)

type Handler struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Monitor    *sla.Monitor
	Policy     sla.Policy
	Scorer     priority.Scorer
	Geocoder   geocode.Geocoder
	Store      *db.Store
	Validator  *validator.Validate
	Logger     zerolog.Logger
	Country    string
}

// HealthResponse field order is part of the contract.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: ServiceName, Version: ServiceVersion})
}

// Healthz reports readiness. Without a database the service is ready as soon
// as it serves requests.
func (h *Handler) Healthz(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

// bind decodes and validates a JSON body. An empty body is accepted when
// optional is set.
func (h *Handler) bind(c *gin.Context, req any, optional bool) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return false
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto the error envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), gin.H{"field": verr.Field})
	case errors.Is(err, models.ErrComplaintNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Complaint not found", nil)
	case errors.Is(err, models.ErrTechnicianNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Technician not found", nil)
	case errors.Is(err, models.ErrTechnicianExists):
		writeError(c, http.StatusConflict, "CONFLICT", "Technician already registered", nil)
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", "Status change not allowed", err.Error())
	case errors.Is(err, dispatch.ErrAlreadyAssigned):
		writeError(c, http.StatusConflict, "ALREADY_ASSIGNED", "Complaint already assigned to a technician", nil)
	case errors.Is(err, dispatch.ErrTechnicianUnavailable):
		writeError(c, http.StatusConflict, "TECHNICIAN_UNAVAILABLE", "Technician is not idle", nil)
	case errors.Is(err, dispatch.ErrNoActiveAssignment):
		writeError(c, http.StatusConflict, "NO_ACTIVE_ASSIGNMENT", "Complaint has no active assignment", nil)
	case errors.Is(err, dispatch.ErrNoEligibleTechnician):
		writeError(c, http.StatusConflict, "NO_ELIGIBLE_TECHNICIAN", "No eligible technician", err.Error())
	case errors.Is(err, dispatch.ErrStaleLocation):
		writeError(c, http.StatusUnprocessableEntity, "STALE_LOCATION", "Location report is too old", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil)
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
