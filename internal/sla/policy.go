package sla

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gis-utility-platform/api/internal/models"
)

// Policy maps a complaint category to its resolution target.
type Policy struct {
	Targets  map[models.Category]time.Duration
	Fallback time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Targets: map[models.Category]time.Duration{
			models.CategorySecurity:     2 * time.Hour,
			models.CategoryElectricity:  4 * time.Hour,
			models.CategoryElevator:     4 * time.Hour,
			models.CategorySewage:       6 * time.Hour,
			models.CategoryPlumbing:     8 * time.Hour,
			models.CategoryHousekeeping: 24 * time.Hour,
			models.CategoryOther:        48 * time.Hour,
		},
		Fallback: 48 * time.Hour,
	}
}

// WithOverrides returns a copy of p with the given targets replaced.
func (p Policy) WithOverrides(overrides map[models.Category]time.Duration) Policy {
	out := Policy{Targets: make(map[models.Category]time.Duration, len(p.Targets)), Fallback: p.Fallback}
	for c, d := range p.Targets {
		out.Targets[c] = d
	}
	for c, d := range overrides {
		out.Targets[c] = d
	}
	return out
}

func (p Policy) Target(c models.Category) time.Duration {
	if d, ok := p.Targets[c]; ok {
		return d
	}
	return p.Fallback
}

// Deadline has the shape the registry expects for computing SLA deadlines.
func (p Policy) Deadline(c models.Category, createdAt time.Time) time.Time {
	return createdAt.Add(p.Target(c))
}

// Entries lists the policy in category order, for display.
func (p Policy) Entries() []Entry {
	out := make([]Entry, 0, len(p.Targets))
	for c, d := range p.Targets {
		out = append(out, Entry{Category: c, Target: d.String(), Hours: d.Hours()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

type Entry struct {
	Category models.Category `json:"category"`
	Target   string          `json:"target"`
	Hours    float64         `json:"hours"`
}

// ParseOverrides reads "plumbing=6h,elevator=2h". Category aliases are
// accepted; empty input yields no overrides.
func ParseOverrides(raw string) (map[models.Category]time.Duration, error) {
	out := map[models.Category]time.Duration{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("sla override %q: expected category=duration", part)
		}
		c, err := models.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("sla override %q: %w", part, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("sla override %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("sla override %q: duration must be positive", part)
		}
		out[c] = d
	}
	return out, nil
}
