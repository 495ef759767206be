package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/gis-utility-platform/api/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

type Result struct {
	Location    models.Coordinate `json:"location"`
	DisplayName string            `json:"display_name"`
	Confidence  float64           `json:"confidence"`
}

type Geocoder interface {
	Geocode(ctx context.Context, query string) (Result, error)
}

// BuildGeocodeQuery joins the non-empty parts, most specific last.
func BuildGeocodeQuery(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// NeedsGeocode reports whether a complaint must be located from its address.
func NeedsGeocode(loc *models.Coordinate, address string) bool {
	return loc == nil && strings.TrimSpace(address) != ""
}
