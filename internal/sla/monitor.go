package sla

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/notify"
	"github.com/gis-utility-platform/api/internal/registry"
)

// Monitor scans open complaints for missed deadlines. A complaint is reported
// once: the registry only lets the first MarkBreached call through, so
// overlapping checks cannot notify twice.
type Monitor struct {
	Now    func() time.Time
	Logger zerolog.Logger

	registry *registry.Registry
	notifier notify.Notifier
	interval time.Duration
}

func NewMonitor(reg *registry.Registry, notifier notify.Notifier, interval time.Duration, logger zerolog.Logger) *Monitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   logger,
		registry: reg,
		notifier: notifier,
		interval: interval,
	}
}

// Check marks and reports every open complaint past its deadline. It returns
// the complaints breached by this call.
func (m *Monitor) Check(ctx context.Context) []models.Complaint {
	now := m.Now()
	// A breach marked in memory is always reported.
	notifyCtx := context.WithoutCancel(ctx)
	var breached []models.Complaint
	for _, c := range m.registry.Open() {
		if c.SLABreachedAt != nil || !now.After(c.SLADeadline) {
			continue
		}
		marked, first := m.registry.MarkBreached(notifyCtx, c.ID, now)
		if !first {
			continue
		}
		breached = append(breached, marked)

		overdue := now.Sub(marked.SLADeadline)
		e := notify.Event{
			Type:        notify.EventSLABreached,
			ComplaintID: marked.ID,
			At:          now,
			Data: map[string]any{
				"category":        marked.Category,
				"status":          marked.Status,
				"deadline":        marked.SLADeadline,
				"overdue_minutes": int(overdue.Minutes()),
			},
		}
		if marked.TechnicianID != nil {
			e.TechnicianID = *marked.TechnicianID
		}
		if err := m.notifier.Notify(notifyCtx, e); err != nil {
			m.Logger.Warn().Err(err).Str("complaint_id", marked.ID).Msg("failed to deliver sla breach")
		}
	}
	if len(breached) > 0 {
		m.Logger.Warn().Int("count", len(breached)).Msg("sla deadlines breached")
	}
	return breached
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Logger.Info().Dur("interval", m.interval).Msg("sla monitor started")
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.Logger.Info().Msg("sla monitor stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
