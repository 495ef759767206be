package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gis-utility-platform/api/internal/models"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimGeocoder resolves addresses through an OSM Nominatim instance. It
// caches answers and keeps at least MinInterval between upstream requests,
// which the public instance requires.
type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	CountryCode string
	MinInterval time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
	cache     map[string]Result
}

type nominatimItem struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrNotFound
	}
	if cached, ok := g.cached(query); ok {
		return cached, nil
	}
	if err := g.wait(ctx); err != nil {
		return Result{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	if g.CountryCode != "" {
		params.Set("countrycodes", strings.ToLower(g.CountryCode))
	}
	endpoint := fmt.Sprintf("%s/search?%s", strings.TrimRight(g.baseURL(), "/"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	ua := g.UserAgent
	if ua == "" {
		ua = "gis-utility-platform"
	}
	req.Header.Set("User-Agent", ua)

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	var items []nominatimItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return Result{}, err
	}
	result, err := parseNominatimItems(items)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	if g.cache == nil {
		g.cache = map[string]Result{}
	}
	g.cache[query] = result
	g.mu.Unlock()
	return result, nil
}

func (g *NominatimGeocoder) baseURL() string {
	if g.BaseURL == "" {
		return DefaultNominatimURL
	}
	return g.BaseURL
}

func (g *NominatimGeocoder) cached(query string) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.cache[query]
	return r, ok
}

// wait reserves the next request slot and sleeps until it arrives.
func (g *NominatimGeocoder) wait(ctx context.Context) error {
	interval := g.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	g.mu.Lock()
	slot := g.lastReqAt.Add(interval)
	now := time.Now()
	if slot.Before(now) {
		slot = now
	}
	g.lastReqAt = slot
	g.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseNominatimItems(items []nominatimItem) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(items[0].Lat, 64)
	if err != nil {
		return Result{}, err
	}
	lon, err := strconv.ParseFloat(items[0].Lon, 64)
	if err != nil {
		return Result{}, err
	}
	loc := models.Coordinate{Lat: lat, Lon: lon}
	if err := models.ValidateCoordinate(loc); err != nil {
		return Result{}, fmt.Errorf("nominatim returned %w", err)
	}
	if lat == 0 && lon == 0 && items[0].DisplayName == "" {
		return Result{}, ErrNotFound
	}
	return Result{
		Location:    loc,
		DisplayName: items[0].DisplayName,
		Confidence:  items[0].Importance,
	}, nil
}
