package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/gis-utility-platform/api/internal/models"
)

type Activity struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Status    models.Status `json:"status"`
}

type Stats struct {
	Total              int                     `json:"total_complaints"`
	Open               int                     `json:"open_complaints"`
	Resolved           int                     `json:"resolved_complaints"`
	Critical           int                     `json:"critical_complaints"`
	Breached           int                     `json:"sla_breached"`
	ByStatus           map[models.Status]int   `json:"by_status"`
	ByCategory         map[models.Category]int `json:"by_category"`
	RecentActivity     []Activity              `json:"recent_activity"`
	OldestOpenAgeHours float64                 `json:"oldest_open_age_hours"`
}

const recentWindow = 7 * 24 * time.Hour

// Stats aggregates dashboard counters. Recent activity covers the last seven
// days, five entries at most.
func (r *Registry) Stats() Stats {
	now := r.Now()
	s := Stats{
		ByStatus:       map[models.Status]int{},
		ByCategory:     map[models.Category]int{},
		RecentActivity: []Activity{},
	}

	var recent []models.Complaint
	var oldestOpen time.Time

	r.mu.RLock()
	for _, c := range r.complaints {
		s.Total++
		s.ByStatus[c.Status]++
		s.ByCategory[c.Category]++
		if c.Open() {
			s.Open++
			if oldestOpen.IsZero() || c.CreatedAt.Before(oldestOpen) {
				oldestOpen = c.CreatedAt
			}
		}
		if c.Status == models.StatusResolved {
			s.Resolved++
		}
		if c.Urgency == models.UrgencyCritical {
			s.Critical++
		}
		if c.SLABreachedAt != nil {
			s.Breached++
		}
		if now.Sub(c.CreatedAt) <= recentWindow {
			recent = append(recent, *c)
		}
	}
	r.mu.RUnlock()

	if !oldestOpen.IsZero() {
		s.OldestOpenAgeHours = now.Sub(oldestOpen).Hours()
	}
	sortNewestFirst(recent)
	if len(recent) > 5 {
		recent = recent[:5]
	}
	for _, c := range recent {
		s.RecentActivity = append(s.RecentActivity, Activity{
			Type:      "complaint",
			Message:   fmt.Sprintf("New %s complaint: %s", c.Category, c.Title),
			Timestamp: c.CreatedAt,
			Status:    c.Status,
		})
	}
	return s
}

type CategoryCount struct {
	Category models.Category `json:"category"`
	Count    int             `json:"count"`
}

// CategoryDistribution lists every category, including those with no complaints.
func (r *Registry) CategoryDistribution() []CategoryCount {
	counts := r.Stats().ByCategory
	out := make([]CategoryCount, 0, len(models.Categories))
	for _, c := range models.Categories {
		out = append(out, CategoryCount{Category: c, Count: counts[c]})
	}
	return out
}

type TrendPoint struct {
	Date       string `json:"date"`
	Complaints int    `json:"complaints"`
}

// Trends counts complaints created per UTC day over the last days days
// (30 when days <= 0). Days without complaints are omitted; the result is
// ordered by date.
func (r *Registry) Trends(days int) []TrendPoint {
	if days <= 0 {
		days = 30
	}
	since := r.Now().Add(-time.Duration(days) * 24 * time.Hour)

	perDay := map[string]int{}
	r.mu.RLock()
	for _, c := range r.complaints {
		if c.CreatedAt.Before(since) {
			continue
		}
		perDay[c.CreatedAt.UTC().Format(time.DateOnly)]++
	}
	r.mu.RUnlock()

	out := make([]TrendPoint, 0, len(perDay))
	for day, n := range perDay {
		out = append(out, TrendPoint{Date: day, Complaints: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
