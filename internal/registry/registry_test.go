package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/models"
)

type memStore struct {
	mu         sync.Mutex
	complaints map[string]models.Complaint
	updates    []models.ComplaintUpdate
}

func (m *memStore) SaveComplaint(_ context.Context, c models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complaints == nil {
		m.complaints = map[string]models.Complaint{}
	}
	if old, ok := m.complaints[c.ID]; ok && old.Version >= c.Version {
		return nil
	}
	m.complaints[c.ID] = c
	return nil
}

func (m *memStore) AppendUpdate(_ context.Context, u models.ComplaintUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return nil
}

func newTestRegistry(store Store) (*Registry, *time.Time) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := New(store, func(_ models.Category, at time.Time) time.Time { return at.Add(4 * time.Hour) }, 0.01, zerolog.Nop())
	r.Now = func() time.Time { return now }
	return r, &now
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Title:    "Burst pipe",
		Category: models.CategoryPlumbing,
		Urgency:  models.UrgencyHigh,
		Location: models.Coordinate{Lat: 26.449, Lon: 80.331},
	}
}

func TestSubmitSetsDeadlineAndPersists(t *testing.T) {
	store := &memStore{}
	r, now := newTestRegistry(store)

	c, err := r.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.Status != models.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", c.Status)
	}
	if !c.SLADeadline.Equal(now.Add(4 * time.Hour)) {
		t.Fatalf("unexpected deadline %s", c.SLADeadline)
	}
	if _, ok := store.complaints[c.ID]; !ok {
		t.Fatalf("expected complaint persisted")
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected one update persisted, got %d", len(store.updates))
	}
}

func TestSubmitValidation(t *testing.T) {
	r, _ := newTestRegistry(nil)
	cases := map[string]func(*SubmitRequest){
		"empty title":  func(req *SubmitRequest) { req.Title = "  " },
		"bad category": func(req *SubmitRequest) { req.Category = "gardening" },
		"bad latitude": func(req *SubmitRequest) { req.Location.Lat = 91 },
		"bad lon":      func(req *SubmitRequest) { req.Location.Lon = -181 },
		"bad urgency":  func(req *SubmitRequest) { req.Urgency = "whenever" },
	}
	for name, mutate := range cases {
		req := validRequest()
		mutate(&req)
		if _, err := r.Submit(context.Background(), req); !isValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ctx := context.Background()
	c, _ := r.Submit(ctx, validRequest())

	if _, err := transition(ctx, r, c.ID, models.StatusInProgress, "", nil); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from submitted to in_progress, got %v", err)
	}
	tech := "tech-1"
	if _, err := transition(ctx, r, c.ID, models.StatusAssigned, "assigned", &tech); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := transition(ctx, r, c.ID, models.StatusResolved, "fixed", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := transition(ctx, r, c.ID, models.StatusAssigned, "again", &tech); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected resolved -> assigned to be rejected, got %v", err)
	}
	got, _ := r.Get(c.ID)
	if got.ResolvedAt == nil {
		t.Fatalf("expected resolved_at set")
	}
	if got.Version != 3 {
		t.Fatalf("expected version 3, got %d", got.Version)
	}
	if len(r.Updates(c.ID)) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(r.Updates(c.ID)))
	}
}

func TestMarkBreachedOnlyOnce(t *testing.T) {
	r, now := newTestRegistry(nil)
	ctx := context.Background()
	c, _ := r.Submit(ctx, validRequest())

	if _, first := r.MarkBreached(ctx, c.ID, now.Add(5*time.Hour)); !first {
		t.Fatalf("expected first breach to be reported")
	}
	if _, again := r.MarkBreached(ctx, c.ID, now.Add(6*time.Hour)); again {
		t.Fatalf("expected second breach to be ignored")
	}
	if len(r.Breached()) != 1 {
		t.Fatalf("expected one breached complaint")
	}
}

func TestMarkBreachedSkipsClosed(t *testing.T) {
	r, now := newTestRegistry(nil)
	ctx := context.Background()
	c, _ := r.Submit(ctx, validRequest())
	if _, err := transition(ctx, r, c.ID, models.StatusClosed, "withdrawn", nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := r.MarkBreached(ctx, c.ID, now.Add(time.Hour)); ok {
		t.Fatalf("closed complaint must not breach")
	}
}

func TestNearbyOnlyOpenComplaints(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ctx := context.Background()
	a, _ := r.Submit(ctx, validRequest())
	req := validRequest()
	req.Location = models.Coordinate{Lat: 26.452, Lon: 80.331}
	b, _ := r.Submit(ctx, req)

	if _, err := transition(ctx, r, b.ID, models.StatusClosed, "", nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	near := r.Nearby(models.Coordinate{Lat: 26.449, Lon: 80.331}, 2)
	if len(near) != 1 || near[0].ID != a.ID {
		t.Fatalf("expected only %s nearby, got %+v", a.ID, near)
	}
}

func TestListFiltersAndPaging(t *testing.T) {
	r, now := newTestRegistry(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		req := validRequest()
		if i%2 == 0 {
			req.Category = models.CategoryElectricity
		}
		if _, err := r.Submit(ctx, req); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	items, total := r.List(ListFilter{Category: models.CategoryElectricity, Limit: 2})
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3 electricity complaints, got %d of %d", len(items), total)
	}
	if !items[0].CreatedAt.After(items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
	items, _ = r.List(ListFilter{Offset: 10})
	if len(items) != 0 {
		t.Fatalf("expected empty page")
	}
}

func TestStats(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ctx := context.Background()
	req := validRequest()
	req.Urgency = models.UrgencyCritical
	c, _ := r.Submit(ctx, req)
	_, _ = r.Submit(ctx, validRequest())
	tech := "t1"
	_, _ = transition(ctx, r, c.ID, models.StatusAssigned, "", &tech)
	_, _ = transition(ctx, r, c.ID, models.StatusResolved, "", nil)

	s := r.Stats()
	if s.Total != 2 || s.Open != 1 || s.Resolved != 1 || s.Critical != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if len(s.RecentActivity) != 2 {
		t.Fatalf("expected 2 recent activities, got %d", len(s.RecentActivity))
	}
	dist := r.CategoryDistribution()
	if len(dist) != len(models.Categories) {
		t.Fatalf("expected every category listed")
	}
}

func TestTrendsCountsPerDayInsideWindow(t *testing.T) {
	r, now := newTestRegistry(nil)
	ctx := context.Background()
	at := func(ts time.Time) {
		*now = ts
		if _, err := r.Submit(ctx, validRequest()); err != nil {
			t.Fatal(err)
		}
	}
	at(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	at(time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC))
	at(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	at(time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC))
	*now = time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)

	got := r.Trends(0)
	want := []TrendPoint{{Date: "2024-05-01", Complaints: 2}, {Date: "2024-05-03", Complaints: 1}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if got := r.Trends(1); len(got) != 1 || got[0].Date != "2024-05-03" {
		t.Fatalf("one day window: %v", got)
	}
	if got := r.Trends(90); len(got) != 3 || got[0].Date != "2024-03-01" {
		t.Fatalf("ninety day window: %v", got)
	}
}

func transition(ctx context.Context, r *Registry, id string, to models.Status, note string, technicianID *string) (models.Complaint, error) {
	c, persist, err := r.TransitionDeferred(id, to, note, technicianID)
	if err != nil {
		return models.Complaint{}, err
	}
	persist(ctx)
	return c, nil
}

func isValidationError(err error) bool {
	var verr *models.ValidationError
	return errors.As(err, &verr)
}
