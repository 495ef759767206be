// Package priority scores complaints from 0 to 100 so the dispatch queue can
// serve the most urgent ones first.
package priority

import (
	"context"
	"math"

	"github.com/gis-utility-platform/api/internal/models"
)

type Input struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    models.Category `json:"category"`
	Urgency     models.Urgency  `json:"urgency"`
	Address     string          `json:"address,omitempty"`
}

type Result struct {
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

var urgencyBase = map[models.Urgency]float64{
	models.UrgencyCritical: 90,
	models.UrgencyHigh:     70,
	models.UrgencyMedium:   50,
	models.UrgencyLow:      30,
}

var categoryWeight = map[models.Category]float64{
	models.CategorySewage:       1.3,
	models.CategorySecurity:     1.3,
	models.CategoryElectricity:  1.2,
	models.CategoryElevator:     1.2,
	models.CategoryPlumbing:     1.1,
	models.CategoryOther:        0.9,
	models.CategoryHousekeeping: 0.8,
}

// RuleScorer multiplies an urgency base by a category weight.
type RuleScorer struct{}

func (RuleScorer) Score(_ context.Context, in Input) (Result, error) {
	return Result{Score: RuleScore(in.Category, in.Urgency), Source: "rules"}, nil
}

func RuleScore(c models.Category, u models.Urgency) float64 {
	base, ok := urgencyBase[u]
	if !ok {
		base = urgencyBase[models.UrgencyMedium]
	}
	weight, ok := categoryWeight[c]
	if !ok {
		weight = 1
	}
	return clamp(math.Round(base*weight*10) / 10)
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
