package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gis-utility-platform/api/internal/dispatch"
	"github.com/gis-utility-platform/api/internal/models"
)

type RegisterTechnicianRequest struct {
	ID         string     `json:"id" validate:"omitempty,max=64"`
	Name       string     `json:"name" validate:"required,max=200"`
	Skills     []string   `json:"skills" validate:"required,min=1"`
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	ReportedAt *time.Time `json:"reported_at"`
}

// @Summary Register a technician
// @Tags technicians
// @Accept json
// @Produce json
// @Param body body RegisterTechnicianRequest true "technician"
// @Success 201 {object} models.Technician
// @Failure 409 {object} map[string]any
// @Router /api/technicians [post]
func (h *Handler) RegisterTechnician(c *gin.Context) {
	var req RegisterTechnicianRequest
	if !h.bind(c, &req, false) {
		return
	}
	skills, err := models.ParseSkills(req.Skills)
	if err != nil {
		h.fail(c, models.NewValidationError("skills", "%s", err.Error()))
		return
	}
	tr := dispatch.TechnicianRequest{
		ID:       req.ID,
		Name:     req.Name,
		Skills:   skills,
		Location: models.Coordinate{Lat: *req.Latitude, Lon: *req.Longitude},
	}
	if req.ReportedAt != nil {
		tr.ReportedAt = *req.ReportedAt
	}
	t, err := h.Dispatcher.RegisterTechnician(c.Request.Context(), tr)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// @Summary List technicians
// @Tags technicians
// @Produce json
// @Param availability query string false "idle, en_route or busy"
// @Success 200 {object} map[string]any
// @Router /api/technicians [get]
func (h *Handler) ListTechnicians(c *gin.Context) {
	var availability models.Availability
	if raw := c.Query("availability"); raw != "" {
		a, err := models.ParseAvailability(raw)
		if err != nil {
			h.fail(c, models.NewValidationError("availability", "%s", err.Error()))
			return
		}
		availability = a
	}
	items := h.Dispatcher.Technicians(availability)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// @Summary Technician details
// @Tags technicians
// @Produce json
// @Param id path string true "technician id"
// @Success 200 {object} models.Technician
// @Failure 404 {object} map[string]any
// @Router /api/technicians/{id} [get]
func (h *Handler) TechnicianDetails(c *gin.Context) {
	t, err := h.Dispatcher.Technician(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type LocationRequest struct {
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	ReportedAt *time.Time `json:"reported_at"`
}

// @Summary Report a technician location
// @Description Reports older than the stored one are ignored. Reports older than LOCATION_MAX_AGE are rejected.
// @Tags technicians
// @Accept json
// @Produce json
// @Param id path string true "technician id"
// @Param body body LocationRequest true "location"
// @Success 200 {object} models.Technician
// @Failure 422 {object} map[string]any
// @Router /api/technicians/{id}/location [post]
func (h *Handler) TechnicianLocation(c *gin.Context) {
	var req LocationRequest
	if !h.bind(c, &req, false) {
		return
	}
	var reportedAt time.Time
	if req.ReportedAt != nil {
		reportedAt = *req.ReportedAt
	}
	t, err := h.Dispatcher.UpdateLocation(c.Request.Context(), c.Param("id"),
		models.Coordinate{Lat: *req.Latitude, Lon: *req.Longitude}, reportedAt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
