package models

import (
	"encoding/json"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

type Complaint struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      Category   `json:"category"`
	Urgency       Urgency    `json:"urgency"`
	Location      Coordinate `json:"location"`
	Address       string     `json:"address,omitempty"`
	Status        Status     `json:"status"`
	PriorityScore float64    `json:"priority_score"`
	TechnicianID  *string    `json:"technician_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SLADeadline   time.Time  `json:"sla_deadline"`
	SLABreachedAt *time.Time `json:"sla_breached_at"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	Version       int64      `json:"version"`
}

// Open reports whether the complaint still counts against its SLA.
func (c Complaint) Open() bool {
	return c.Status == StatusSubmitted || c.Status == StatusAssigned || c.Status == StatusInProgress
}

type ComplaintUpdate struct {
	ComplaintID  string    `json:"complaint_id"`
	Status       Status    `json:"status"`
	Note         string    `json:"note"`
	TechnicianID *string   `json:"technician_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Technician struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Skills         []Category   `json:"skills"`
	Availability   Availability `json:"availability"`
	AvailableSince time.Time    `json:"available_since"`
	Location       Coordinate   `json:"location"`
	LocationAt     time.Time    `json:"location_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (t Technician) HasSkill(c Category) bool {
	for _, s := range t.Skills {
		if s == c {
			return true
		}
	}
	return false
}

type Assignment struct {
	ID           string          `json:"id"`
	ComplaintID  string          `json:"complaint_id"`
	TechnicianID string          `json:"technician_id"`
	DistanceKm   float64         `json:"distance_km"`
	ReasonCode   string          `json:"reason_code"`
	ReasonText   string          `json:"reason_text"`
	Override     bool            `json:"override"`
	Reasoning    json.RawMessage `json:"reasoning,omitempty"`
	Active       bool            `json:"active"`
	AssignedAt   time.Time       `json:"assigned_at"`
	EndedAt      *time.Time      `json:"ended_at"`
}
