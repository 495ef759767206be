package priority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/models"
)

func TestRuleScore(t *testing.T) {
	cases := []struct {
		category models.Category
		urgency  models.Urgency
		want     float64
	}{
		{models.CategoryElectricity, models.UrgencyCritical, 100},
		{models.CategoryPlumbing, models.UrgencyHigh, 77},
		{models.CategorySewage, models.UrgencyMedium, 65},
		{models.CategoryOther, models.UrgencyLow, 27},
		{models.CategoryPlumbing, "", 55},
	}
	for _, tc := range cases {
		if got := RuleScore(tc.category, tc.urgency); got != tc.want {
			t.Fatalf("%s/%s: expected %v, got %v", tc.category, tc.urgency, tc.want, got)
		}
	}
}

func TestHTTPScorerUsesRemoteScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if in.Category != models.CategoryElevator {
			t.Errorf("expected elevator, got %s", in.Category)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 88.5, "model_version": "v2"})
	}))
	defer srv.Close()

	s := HTTPScorer{BaseURL: srv.URL + "/", Logger: zerolog.Nop()}
	res, err := s.Score(context.Background(), Input{Category: models.CategoryElevator, Urgency: models.UrgencyHigh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 88.5 || res.Source != "model:v2" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHTTPScorerFallsBack(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"bad json":     func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{")) },
		"out of range": func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"score":140}`)) },
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			s := HTTPScorer{BaseURL: srv.URL, Logger: zerolog.Nop()}
			res, err := s.Score(context.Background(), Input{Category: models.CategoryPlumbing, Urgency: models.UrgencyHigh})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Source != "rules" || res.Score != 77 {
				t.Fatalf("expected rule fallback, got %+v", res)
			}
		})
	}

	res, _ := HTTPScorer{Logger: zerolog.Nop()}.Score(context.Background(), Input{Category: models.CategoryOther, Urgency: models.UrgencyLow})
	if res.Source != "rules" {
		t.Fatalf("expected fallback without url, got %+v", res)
	}
}
