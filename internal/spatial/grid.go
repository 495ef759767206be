// Package spatial keeps moving points in a uniform lat/lon grid and answers
// radius and nearest-neighbour queries over them.
package spatial

import (
	"math"
	"sort"
	"sync"
	"time"
)

const DefaultCellDeg = 0.05

type Entry struct {
	ID        string    `json:"id"`
	Point     Point     `json:"point"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Match struct {
	Entry
	DistanceKm float64 `json:"distance_km"`
}

// Filter decides whether an entry may be returned. It runs under the grid's
// read lock and must not call back into the grid.
type Filter func(Entry) bool

type cellKey struct {
	lat int
	lon int
}

// Grid buckets points into fixed-size cells. Updates touch at most two cells;
// queries only visit the cells overlapping the search cap.
type Grid struct {
	mu       sync.RWMutex
	cellDeg  float64
	latCells int
	lonCells int
	entries  map[string]Entry
	cells    map[cellKey]map[string]struct{}
}

func NewGrid(cellDeg float64) *Grid {
	if cellDeg <= 0 || cellDeg > 90 {
		cellDeg = DefaultCellDeg
	}
	return &Grid{
		cellDeg:  cellDeg,
		latCells: int(math.Ceil(180 / cellDeg)),
		lonCells: int(math.Ceil(360 / cellDeg)),
		entries:  map[string]Entry{},
		cells:    map[cellKey]map[string]struct{}{},
	}
}

func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

func (g *Grid) Get(id string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[id]
	return e, ok
}

// Upsert inserts or moves the point stored under id.
func (g *Grid) Upsert(id string, p Point, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.put(Entry{ID: id, Point: p, UpdatedAt: at})
}

// UpdateIfNewer moves an existing point unless the report is older than the
// stored one. found is false when id is not in the grid.
func (g *Grid) UpdateIfNewer(id string, p Point, at time.Time) (updated bool, found bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old, ok := g.entries[id]
	if !ok {
		return false, false
	}
	if at.Before(old.UpdatedAt) {
		return false, true
	}
	g.put(Entry{ID: id, Point: p, UpdatedAt: at})
	return true, true
}

func (g *Grid) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	old, ok := g.entries[id]
	if !ok {
		return false
	}
	g.unlink(id, g.keyFor(old.Point))
	delete(g.entries, id)
	return true
}

// Within returns every entry at most radiusKm from center, nearest first.
// An empty grid yields no matches.
func (g *Grid) Within(center Point, radiusKm float64, keep Filter) []Match {
	if radiusKm < 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.within(center, radiusKm, keep)
}

// Nearest returns up to k entries closest to center. The search radius doubles
// until k matches are found or the whole globe is covered.
func (g *Grid) Nearest(center Point, k int, keep Filter) []Match {
	if k <= 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.entries) == 0 {
		return nil
	}

	radius := math.Max(g.cellDeg*kmPerDegree, 1)
	for {
		if radius > maxDistanceKm {
			radius = maxDistanceKm
		}
		matches := g.within(center, radius, keep)
		if len(matches) >= k || radius >= maxDistanceKm {
			if len(matches) > k {
				matches = matches[:k]
			}
			return matches
		}
		radius *= 2
	}
}

func (g *Grid) within(center Point, radiusKm float64, keep Filter) []Match {
	if len(g.entries) == 0 {
		return nil
	}
	var out []Match
	visit := func(e Entry) {
		d := Distance(center, e.Point)
		if d > radiusKm {
			return
		}
		if keep != nil && !keep(e) {
			return
		}
		out = append(out, Match{Entry: e, DistanceKm: d})
	}

	latLo, latHi, lonLo, lonHi, full := g.bounds(center, radiusKm)
	cellCount := (latHi - latLo + 1) * (lonHi - lonLo + 1)
	if full || cellCount > len(g.cells) {
		for _, e := range g.entries {
			visit(e)
		}
	} else {
		for la := latLo; la <= latHi; la++ {
			for lo := lonLo; lo <= lonHi; lo++ {
				ids := g.cells[cellKey{lat: la, lon: mod(lo, g.lonCells)}]
				for id := range ids {
					visit(g.entries[id])
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].ID < out[j].ID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}

// bounds returns the cell range covering the spherical cap around center.
// Longitude indices are unwrapped and must be reduced with mod. full is set
// when the cap spans every longitude (poles, very large radii).
func (g *Grid) bounds(center Point, radiusKm float64) (latLo, latHi, lonLo, lonHi int, full bool) {
	delta := radiusKm / earthRadiusKm
	deltaDeg := radiansToDegrees(delta)

	south := center.Lat - deltaDeg
	north := center.Lat + deltaDeg
	latLo = g.latIndex(math.Max(south, -90))
	latHi = g.latIndex(math.Min(north, 90))
	if south <= -90 || north >= 90 || delta >= math.Pi {
		return latLo, latHi, 0, g.lonCells - 1, true
	}

	maxAbsLat := math.Max(math.Abs(south), math.Abs(north))
	s := math.Sin(delta/2) / math.Cos(degreesToRadians(maxAbsLat))
	if s >= 1 {
		return latLo, latHi, 0, g.lonCells - 1, true
	}
	lonDeg := radiansToDegrees(2 * math.Asin(s))
	lonLo = int(math.Floor((center.Lon + 180 - lonDeg) / g.cellDeg))
	lonHi = int(math.Floor((center.Lon + 180 + lonDeg) / g.cellDeg))
	if lonHi-lonLo+1 >= g.lonCells {
		return latLo, latHi, 0, g.lonCells - 1, true
	}
	return latLo, latHi, lonLo, lonHi, false
}

func (g *Grid) put(e Entry) {
	key := g.keyFor(e.Point)
	if old, ok := g.entries[e.ID]; ok {
		if oldKey := g.keyFor(old.Point); oldKey != key {
			g.unlink(e.ID, oldKey)
		}
	}
	g.entries[e.ID] = e
	bucket, ok := g.cells[key]
	if !ok {
		bucket = map[string]struct{}{}
		g.cells[key] = bucket
	}
	bucket[e.ID] = struct{}{}
}

func (g *Grid) unlink(id string, key cellKey) {
	bucket := g.cells[key]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(g.cells, key)
	}
}

func (g *Grid) keyFor(p Point) cellKey {
	return cellKey{
		lat: g.latIndex(p.Lat),
		lon: mod(int(math.Floor((p.Lon+180)/g.cellDeg)), g.lonCells),
	}
}

func (g *Grid) latIndex(lat float64) int {
	idx := int(math.Floor((lat + 90) / g.cellDeg))
	if idx < 0 {
		return 0
	}
	if idx >= g.latCells {
		return g.latCells - 1
	}
	return idx
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
