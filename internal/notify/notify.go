package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventAssignmentCreated  EventType = "assignment.created"
	EventAssignmentEnded    EventType = "assignment.ended"
	EventDispatchQueued     EventType = "dispatch.queued"
	EventComplaintWithdrawn EventType = "complaint.withdrawn"
	EventSLABreached        EventType = "sla.breached"
)

type Event struct {
	Type         EventType      `json:"type"`
	ComplaintID  string         `json:"complaint_id,omitempty"`
	TechnicianID string         `json:"technician_id,omitempty"`
	At           time.Time      `json:"at"`
	Data         map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(_ context.Context, e Event) error {
	level := zerolog.InfoLevel
	if e.Type == EventSLABreached {
		level = zerolog.WarnLevel
	}
	l.Logger.WithLevel(level).
		Str("event", string(e.Type)).
		Str("complaint_id", e.ComplaintID).
		Str("technician_id", e.TechnicianID).
		Interface("data", e.Data).
		Msg("dispatch event")
	return nil
}

// Multi delivers to every notifier even when some of them fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
