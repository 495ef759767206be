package models

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryPlumbing     Category = "plumbing"
	CategoryElectricity  Category = "electricity"
	CategorySewage       Category = "sewage"
	CategoryElevator     Category = "elevator"
	CategorySecurity     Category = "security"
	CategoryHousekeeping Category = "housekeeping"
	CategoryOther        Category = "other"
)

var Categories = []Category{
	CategoryPlumbing,
	CategoryElectricity,
	CategorySewage,
	CategoryElevator,
	CategorySecurity,
	CategoryHousekeeping,
	CategoryOther,
}

func ParseCategory(value string) (Category, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "electrical", "power":
		v = string(CategoryElectricity)
	case "lift":
		v = string(CategoryElevator)
	case "cleaning":
		v = string(CategoryHousekeeping)
	}
	for _, c := range Categories {
		if string(c) == v {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", value)
}

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// ParseUrgency defaults an empty value to medium.
func ParseUrgency(value string) (Urgency, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch Urgency(v) {
	case "":
		return UrgencyMedium, nil
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return Urgency(v), nil
	}
	return "", fmt.Errorf("unknown urgency %q", value)
}

type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var transitions = map[Status][]Status{
	StatusSubmitted:  {StatusAssigned, StatusClosed},
	StatusAssigned:   {StatusInProgress, StatusResolved, StatusClosed},
	StatusInProgress: {StatusResolved, StatusClosed},
	StatusResolved:   {StatusClosed},
}

func ParseStatus(value string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(value)))
	switch v {
	case StatusSubmitted, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed:
		return v, nil
	case "open":
		return StatusSubmitted, nil
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// CanTransition only allows forward moves through the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Availability string

const (
	AvailabilityIdle    Availability = "idle"
	AvailabilityEnRoute Availability = "en_route"
	AvailabilityBusy    Availability = "busy"
)

func ParseAvailability(value string) (Availability, error) {
	v := Availability(strings.ToLower(strings.TrimSpace(value)))
	switch v {
	case AvailabilityIdle, AvailabilityEnRoute, AvailabilityBusy:
		return v, nil
	}
	return "", fmt.Errorf("unknown availability %q", value)
}

// ParseSkills normalizes a skill list and drops duplicates.
func ParseSkills(values []string) ([]Category, error) {
	seen := map[Category]struct{}{}
	out := make([]Category, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		c, err := ParseCategory(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
