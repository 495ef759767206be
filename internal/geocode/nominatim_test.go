package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseNominatimItems(t *testing.T) {
	items := []nominatimItem{
		{
			Lat:         "26.4499",
			Lon:         "80.3319",
			DisplayName: "Kanpur, Uttar Pradesh, India",
			Importance:  0.72,
		},
	}
	res, err := parseNominatimItems(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Location.Lat != 26.4499 || res.Location.Lon != 80.3319 {
		t.Fatalf("unexpected coordinates: %+v", res)
	}
	if res.DisplayName != "Kanpur, Uttar Pradesh, India" {
		t.Fatalf("unexpected display name: %s", res.DisplayName)
	}
	if res.Confidence != 0.72 {
		t.Fatalf("unexpected confidence: %f", res.Confidence)
	}
}

func TestParseNominatimItemsRejectsEmptyAndInvalid(t *testing.T) {
	if _, err := parseNominatimItems(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := parseNominatimItems([]nominatimItem{{Lat: "0", Lon: "0"}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for null island, got %v", err)
	}
	if _, err := parseNominatimItems([]nominatimItem{{Lat: "123", Lon: "0", DisplayName: "x"}}); err == nil {
		t.Fatalf("expected out-of-range latitude to fail")
	}
}

func TestNominatimGeocoderCachesAnswers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("countrycodes"); got != "in" {
			t.Errorf("expected countrycodes=in, got %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected a user agent")
		}
		_, _ = w.Write([]byte(`[{"lat":"26.45","lon":"80.33","display_name":"Kanpur","importance":0.6}]`))
	}))
	defer srv.Close()

	g := &NominatimGeocoder{BaseURL: srv.URL, CountryCode: "IN", MinInterval: time.Millisecond}
	for i := 0; i < 3; i++ {
		res, err := g.Geocode(context.Background(), "Mall Road, Kanpur")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Location.Lat != 26.45 {
			t.Fatalf("unexpected result: %+v", res)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected one upstream request, got %d", n)
	}
}

func TestNominatimGeocoderHonoursContext(t *testing.T) {
	g := &NominatimGeocoder{BaseURL: "http://127.0.0.1:1", MinInterval: time.Hour}
	g.lastReqAt = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Geocode(ctx, "anywhere"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting for a slot, got %v", err)
	}
}
