package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gis-utility-platform/api/internal/models"
)

// @Summary Next job for a technician
// @Description Returns the technician's active assignment with its complaint, or null when idle
// @Tags dispatch
// @Produce json
// @Param technician_id query string true "technician id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/dispatch/next [get]
func (h *Handler) DispatchNext(c *gin.Context) {
	techID := strings.TrimSpace(c.Query("technician_id"))
	if techID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "technician_id is required", nil)
		return
	}
	a, ok, err := h.Dispatcher.ActiveFor(techID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"assignment": nil, "complaint": nil})
		return
	}
	complaint, err := h.Registry.Get(a.ComplaintID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a, "complaint": complaint})
}

// @Summary Pending dispatch queue
// @Tags dispatch
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/dispatch/queue [get]
func (h *Handler) DispatchQueue(c *gin.Context) {
	items := h.Dispatcher.Queue()
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// @Summary Retry the dispatch queue now
// @Tags dispatch
// @Produce json
// @Success 200 {object} dispatch.RunSummary
// @Router /api/dispatch/run [post]
func (h *Handler) DispatchRun(c *gin.Context) {
	summary := h.Dispatcher.RunPending(c.Request.Context(), true)
	h.Logger.Info().
		Int("attempted", summary.Attempted).
		Int("assigned", summary.Assigned).
		Int("still_queued", summary.StillQueued).
		Msg("manual dispatch run")
	c.JSON(http.StatusOK, summary)
}

// @Summary Complaints that breached their SLA
// @Tags sla
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sla/breaches [get]
func (h *Handler) SLABreaches(c *gin.Context) {
	items := h.Registry.Breached()
	if items == nil {
		items = []models.Complaint{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// @Summary Run the SLA check now
// @Tags sla
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sla/check [post]
func (h *Handler) SLACheck(c *gin.Context) {
	breached := h.Monitor.Check(c.Request.Context())
	if breached == nil {
		breached = []models.Complaint{}
	}
	c.JSON(http.StatusOK, gin.H{"breached": breached, "count": len(breached)})
}

// @Summary SLA targets per category
// @Tags sla
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sla/policy [get]
func (h *Handler) SLAPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Policy.Entries(), "fallback_hours": h.Policy.Fallback.Hours()})
}

// @Summary Dashboard counters
// @Tags dashboard
// @Produce json
// @Success 200 {object} registry.Stats
// @Router /api/dashboard/stats [get]
func (h *Handler) DashboardStats(c *gin.Context) {
	stats := h.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"complaints":  stats,
		"technicians": h.technicianCounts(),
		"queued":      len(h.Dispatcher.Queue()),
	})
}

// @Summary Complaints per category
// @Tags dashboard
// @Produce json
// @Success 200 {array} registry.CategoryCount
// @Router /api/dashboard/category-distribution [get]
func (h *Handler) CategoryDistribution(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.CategoryDistribution())
}

// @Summary Complaints per day
// @Description Days without complaints are left out
// @Tags dashboard
// @Produce json
// @Param days query int false "window in days, default 30, max 365"
// @Success 200 {array} registry.TrendPoint
// @Router /api/dashboard/complaint-trends [get]
func (h *Handler) ComplaintTrends(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 || days > 365 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "days must be within [1, 365]", nil)
		return
	}
	c.JSON(http.StatusOK, h.Registry.Trends(days))
}

func (h *Handler) technicianCounts() map[models.Availability]int {
	counts := map[models.Availability]int{
		models.AvailabilityIdle:    0,
		models.AvailabilityEnRoute: 0,
		models.AvailabilityBusy:    0,
	}
	for _, t := range h.Dispatcher.Technicians("") {
		counts[t.Availability]++
	}
	return counts
}
