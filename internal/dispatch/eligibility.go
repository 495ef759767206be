package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/gis-utility-platform/api/internal/models"
)

const (
	ReasonNoTechniciansInRadius = "NO_TECHNICIANS_IN_RADIUS"
	ReasonStaleLocation         = "STALE_LOCATION"
	ReasonSkillMismatch         = "SKILL_MISMATCH"
	ReasonNoIdleTechnician      = "NO_IDLE_TECHNICIAN"

	ReasonAutoNearest    = "AUTO_NEAREST"
	ReasonManualReassign = "MANUAL_REASSIGN"
	ReasonManualOverride = "MANUAL_OVERRIDE"
)

// Candidate is a technician seen by a dispatch attempt, with the location
// and distance observed at that moment.
type Candidate struct {
	Technician models.Technician `json:"technician"`
	DistanceKm float64           `json:"distance_km"`
}

type EligibilityResult struct {
	Eligible   []Candidate
	ReasonCode string
	ReasonText string
	Stages     []EligibilityStage
}

type EligibilityStage struct {
	Name       string
	Candidates []Candidate
}

// StageCounts summarises how many candidates survived each stage.
func (r EligibilityResult) StageCounts() map[string]int {
	out := make(map[string]int, len(r.Stages))
	for _, s := range r.Stages {
		out[s.Name] = len(s.Candidates)
	}
	return out
}

// FilterEligible narrows candidates already inside the dispatch radius down to
// the ones that may take the complaint. Stages run in a fixed order and the
// first stage that empties the list determines the reason code.
func FilterEligible(candidates []Candidate, complaint models.Complaint, now time.Time, maxAge time.Duration) EligibilityResult {
	var result EligibilityResult

	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "within_radius",
		Candidates: candidates,
	})
	if len(candidates) == 0 {
		result.ReasonCode = ReasonNoTechniciansInRadius
		result.ReasonText = "No technicians within dispatch radius"
		return result
	}

	fresh := candidates
	if maxAge > 0 {
		fresh = filterCandidates(candidates, func(c Candidate) bool {
			return now.Sub(c.Technician.LocationAt) <= maxAge
		})
	}
	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "fresh_location",
		Candidates: fresh,
	})
	if len(fresh) == 0 {
		result.ReasonCode = ReasonStaleLocation
		result.ReasonText = fmt.Sprintf("All nearby technician locations are older than %s", maxAge)
		return result
	}

	skilled := filterCandidates(fresh, func(c Candidate) bool {
		return c.Technician.HasSkill(complaint.Category)
	})
	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "skill_match",
		Candidates: skilled,
	})
	if len(skilled) == 0 {
		result.ReasonCode = ReasonSkillMismatch
		result.ReasonText = fmt.Sprintf("No nearby technician has the %s skill", complaint.Category)
		return result
	}

	idle := filterCandidates(skilled, func(c Candidate) bool {
		return c.Technician.Availability == models.AvailabilityIdle
	})
	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "idle",
		Candidates: idle,
	})
	if len(idle) == 0 {
		result.ReasonCode = ReasonNoIdleTechnician
		result.ReasonText = "All matching technicians are busy"
		return result
	}

	result.Eligible = idle
	return result
}

// PickTechnician returns the nearest eligible technician. Ties go to the one
// idle the longest, then to the lowest id.
func PickTechnician(eligible []Candidate) Candidate {
	sorted := make([]Candidate, len(eligible))
	copy(sorted, eligible)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if !a.Technician.AvailableSince.Equal(b.Technician.AvailableSince) {
			return a.Technician.AvailableSince.Before(b.Technician.AvailableSince)
		}
		return a.Technician.ID < b.Technician.ID
	})
	return sorted[0]
}

func filterCandidates(candidates []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
