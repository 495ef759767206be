package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gis-utility-platform/api/internal/geocode"
	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/priority"
	"github.com/gis-utility-platform/api/internal/registry"
)

type CreateComplaintRequest struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description" validate:"max=5000"`
	Category      string   `json:"category" validate:"required"`
	Urgency       string   `json:"urgency"`
	Latitude      *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Address       string   `json:"address" validate:"max=500"`
	PriorityScore *float64 `json:"priority_score" validate:"omitempty,gte=0,lte=100"`
}

// @Summary Submit a complaint
// @Description Validates, geocodes when only an address is given, scores and dispatches or queues the complaint
// @Tags complaints
// @Accept json
// @Produce json
// @Param body body CreateComplaintRequest true "complaint"
// @Success 201 {object} dispatch.Outcome
// @Failure 400 {object} map[string]any
// @Router /api/complaints [post]
func (h *Handler) CreateComplaint(c *gin.Context) {
	var req CreateComplaintRequest
	if !h.bind(c, &req, false) {
		return
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		h.fail(c, models.NewValidationError("category", "%s", err.Error()))
		return
	}
	urgency, err := models.ParseUrgency(req.Urgency)
	if err != nil {
		h.fail(c, models.NewValidationError("urgency", "%s", err.Error()))
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		h.fail(c, models.NewValidationError("location", "latitude and longitude must be given together"))
		return
	}

	ctx := c.Request.Context()
	var loc *models.Coordinate
	if req.Latitude != nil {
		loc = &models.Coordinate{Lat: *req.Latitude, Lon: *req.Longitude}
	}
	address := strings.TrimSpace(req.Address)
	if geocode.NeedsGeocode(loc, address) {
		if h.Geocoder == nil {
			h.fail(c, models.NewValidationError("location", "coordinates are required when geocoding is disabled"))
			return
		}
		res, err := h.Geocoder.Geocode(ctx, geocode.BuildGeocodeQuery(address, h.Country))
		if err != nil {
			if errors.Is(err, geocode.ErrNotFound) {
				writeError(c, http.StatusUnprocessableEntity, "GEOCODE_NOT_FOUND", "Address could not be located", address)
				return
			}
			h.Logger.Warn().Err(err).Str("address", address).Msg("geocoding failed")
			writeError(c, http.StatusBadGateway, "GEOCODE_FAILED", "Geocoding service unavailable", nil)
			return
		}
		loc = &res.Location
	}
	if loc == nil {
		h.fail(c, models.NewValidationError("location", "latitude/longitude or address is required"))
		return
	}

	var score float64
	if req.PriorityScore != nil {
		score = *req.PriorityScore
	} else {
		res, err := h.Scorer.Score(ctx, priority.Input{
			Title:       req.Title,
			Description: req.Description,
			Category:    category,
			Urgency:     urgency,
			Address:     address,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		score = res.Score
	}

	out, err := h.Dispatcher.Submit(ctx, registry.SubmitRequest{
		Title:         req.Title,
		Description:   req.Description,
		Category:      category,
		Urgency:       urgency,
		Location:      *loc,
		Address:       address,
		PriorityScore: score,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// @Summary List complaints
// @Tags complaints
// @Produce json
// @Param status query string false "status"
// @Param category query string false "category"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/complaints [get]
func (h *Handler) ListComplaints(c *gin.Context) {
	var f registry.ListFilter
	if raw := c.Query("status"); raw != "" {
		s, err := models.ParseStatus(raw)
		if err != nil {
			h.fail(c, models.NewValidationError("status", "%s", err.Error()))
			return
		}
		f.Status = s
	}
	if raw := c.Query("category"); raw != "" {
		cat, err := models.ParseCategory(raw)
		if err != nil {
			h.fail(c, models.NewValidationError("category", "%s", err.Error()))
			return
		}
		f.Category = cat
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total := h.Registry.List(f)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": f.Limit, "offset": f.Offset})
}

// @Summary Open complaints near a point
// @Tags complaints
// @Produce json
// @Param lat query number true "latitude"
// @Param lon query number true "longitude"
// @Param radius_km query number false "radius in km, default 5"
// @Success 200 {object} map[string]any
// @Router /api/complaints/nearby [get]
func (h *Handler) NearbyComplaints(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lon are required numbers", nil)
		return
	}
	center := models.Coordinate{Lat: lat, Lon: lon}
	if err := models.ValidateCoordinate(center); err != nil {
		h.fail(c, err)
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if err != nil || radius <= 0 || radius > 100 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "radius_km must be within (0, 100]", nil)
		return
	}
	items := h.Registry.Nearby(center, radius)
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "radius_km": radius})
}

// @Summary Complaint details
// @Tags complaints
// @Produce json
// @Param id path string true "complaint id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/complaints/{id} [get]
func (h *Handler) ComplaintDetails(c *gin.Context) {
	id := c.Param("id")
	complaint, err := h.Registry.Get(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{
		"complaint":  complaint,
		"updates":    h.Registry.Updates(id),
		"assignment": nil,
	}
	if a, ok := h.Dispatcher.ActiveForComplaint(id); ok {
		resp["assignment"] = a
	}
	if h.Store != nil {
		history, err := h.Store.AssignmentHistory(c.Request.Context(), id)
		if err != nil {
			h.Logger.Warn().Err(err).Str("complaint_id", id).Msg("failed to load assignment history")
		} else {
			resp["history"] = history
		}
	}
	c.JSON(http.StatusOK, resp)
}

type NoteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// @Summary Withdraw a complaint
// @Description Only complaints that are not yet assigned can be withdrawn
// @Tags complaints
// @Accept json
// @Produce json
// @Param id path string true "complaint id"
// @Success 200 {object} models.Complaint
// @Failure 409 {object} map[string]any
// @Router /api/complaints/{id}/withdraw [post]
func (h *Handler) WithdrawComplaint(c *gin.Context) {
	var req NoteRequest
	if !h.bind(c, &req, true) {
		return
	}
	complaint, err := h.Dispatcher.Withdraw(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, complaint)
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=in_progress resolved closed"`
	Note   string `json:"note" validate:"max=1000"`
}

// @Summary Advance a complaint
// @Tags complaints
// @Accept json
// @Produce json
// @Param id path string true "complaint id"
// @Param body body StatusRequest true "new status"
// @Success 200 {object} models.Complaint
// @Failure 409 {object} map[string]any
// @Router /api/complaints/{id}/status [post]
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if !h.bind(c, &req, false) {
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	var (
		complaint models.Complaint
		err       error
	)
	switch models.Status(req.Status) {
	case models.StatusInProgress:
		complaint, err = h.Dispatcher.Start(ctx, id, req.Note)
	case models.StatusResolved:
		complaint, err = h.Dispatcher.Resolve(ctx, id, req.Note)
	default:
		complaint, err = h.Dispatcher.Close(ctx, id, req.Note)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, complaint)
}

type ReassignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
}

// @Summary Reassign a complaint
// @Description Admin only. A technician without the matching skill is accepted as an override.
// @Tags dispatch
// @Accept json
// @Produce json
// @Param id path string true "complaint id"
// @Param body body ReassignRequest true "target technician"
// @Success 200 {object} map[string]any
// @Router /api/complaints/{id}/reassign [post]
func (h *Handler) Reassign(c *gin.Context) {
	var req ReassignRequest
	if !h.bind(c, &req, false) {
		return
	}
	a, err := h.Dispatcher.Reassign(c.Request.Context(), c.Param("id"), req.TechnicianID, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Logger.Info().
		Str("complaint_id", a.ComplaintID).
		Str("technician_id", a.TechnicianID).
		Bool("override", a.Override).
		Msg("manual reassignment")
	c.JSON(http.StatusOK, gin.H{"assignment": a, "override": a.Override})
}
