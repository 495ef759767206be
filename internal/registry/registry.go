package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/spatial"
)

// Store persists complaint snapshots. Implementations must ignore snapshots
// whose Version is not newer than the stored one.
type Store interface {
	SaveComplaint(ctx context.Context, c models.Complaint) error
	AppendUpdate(ctx context.Context, u models.ComplaintUpdate) error
}

type DeadlineFunc func(category models.Category, createdAt time.Time) time.Time

type SubmitRequest struct {
	Title         string
	Description   string
	Category      models.Category
	Urgency       models.Urgency
	Location      models.Coordinate
	Address       string
	PriorityScore float64
}

type ListFilter struct {
	Status   models.Status
	Category models.Category
	Limit    int
	Offset   int
}

type NearbyComplaint struct {
	models.Complaint
	DistanceKm float64 `json:"distance_km"`
}

type Registry struct {
	Now    func() time.Time
	Logger zerolog.Logger

	store    Store
	deadline DeadlineFunc

	mu         sync.RWMutex
	complaints map[string]*models.Complaint
	updates    map[string][]models.ComplaintUpdate
	open       *spatial.Grid
}

func New(store Store, deadline DeadlineFunc, cellDeg float64, logger zerolog.Logger) *Registry {
	if deadline == nil {
		deadline = func(_ models.Category, createdAt time.Time) time.Time { return createdAt.Add(24 * time.Hour) }
	}
	return &Registry{
		Now:        func() time.Time { return time.Now().UTC() },
		Logger:     logger,
		store:      store,
		deadline:   deadline,
		complaints: map[string]*models.Complaint{},
		updates:    map[string][]models.ComplaintUpdate{},
		open:       spatial.NewGrid(cellDeg),
	}
}

func (r *Registry) Submit(ctx context.Context, req SubmitRequest) (models.Complaint, error) {
	if err := validateSubmit(req); err != nil {
		return models.Complaint{}, err
	}
	now := r.Now()
	c := models.Complaint{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		Category:      req.Category,
		Urgency:       req.Urgency,
		Location:      req.Location,
		Address:       strings.TrimSpace(req.Address),
		Status:        models.StatusSubmitted,
		PriorityScore: req.PriorityScore,
		CreatedAt:     now,
		UpdatedAt:     now,
		SLADeadline:   r.deadline(req.Category, now),
		Version:       1,
	}
	if c.Urgency == "" {
		c.Urgency = models.UrgencyMedium
	}
	u := models.ComplaintUpdate{ComplaintID: c.ID, Status: c.Status, Note: "complaint submitted", CreatedAt: now}

	r.mu.Lock()
	stored := c
	r.complaints[c.ID] = &stored
	r.updates[c.ID] = append(r.updates[c.ID], u)
	r.open.Upsert(c.ID, toPoint(c.Location), now)
	r.mu.Unlock()

	r.persist(ctx, c, &u)
	return c, nil
}

func (r *Registry) Get(id string) (models.Complaint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.complaints[id]
	if !ok {
		return models.Complaint{}, models.ErrComplaintNotFound
	}
	return *c, nil
}

func (r *Registry) Updates(id string) []models.ComplaintUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.updates[id]
	out := make([]models.ComplaintUpdate, len(src))
	copy(out, src)
	return out
}

// List returns complaints newest first along with the unpaged total.
func (r *Registry) List(f ListFilter) ([]models.Complaint, int) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	r.mu.RLock()
	var matched []models.Complaint
	for _, c := range r.complaints {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		matched = append(matched, *c)
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	if f.Offset >= total {
		return []models.Complaint{}, total
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total
}

// Open returns the complaints still running against their SLA, oldest first.
func (r *Registry) Open() []models.Complaint {
	r.mu.RLock()
	var out []models.Complaint
	for _, c := range r.complaints {
		if c.Open() {
			out = append(out, *c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Nearby lists open complaints within radiusKm of center, nearest first.
func (r *Registry) Nearby(center models.Coordinate, radiusKm float64) []NearbyComplaint {
	matches := r.open.Within(toPoint(center), radiusKm, nil)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NearbyComplaint, 0, len(matches))
	for _, m := range matches {
		c, ok := r.complaints[m.ID]
		if !ok || !c.Open() {
			continue
		}
		out = append(out, NearbyComplaint{Complaint: *c, DistanceKm: m.DistanceKm})
	}
	return out
}

// Persist writes a prepared change to the store. Callers holding their own
// locks run it after releasing them.
type Persist func(ctx context.Context)

// TransitionDeferred moves a complaint forward in its lifecycle in memory and
// returns the persistence step separately. technicianID is recorded when
// moving to assigned.
func (r *Registry) TransitionDeferred(id string, to models.Status, note string, technicianID *string) (models.Complaint, Persist, error) {
	now := r.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.complaints[id]
	if !ok {
		return models.Complaint{}, nil, models.ErrComplaintNotFound
	}
	if !models.CanTransition(c.Status, to) {
		return models.Complaint{}, nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, c.Status, to)
	}
	if to == models.StatusAssigned {
		if technicianID == nil {
			return models.Complaint{}, nil, models.NewValidationError("technician_id", "required when assigning")
		}
		tid := *technicianID
		c.TechnicianID = &tid
	}
	c.Status = to
	c.UpdatedAt = now
	c.Version++
	if to == models.StatusResolved {
		resolved := now
		c.ResolvedAt = &resolved
	}
	if !c.Open() {
		r.open.Remove(c.ID)
	}
	u := models.ComplaintUpdate{ComplaintID: id, Status: to, Note: note, TechnicianID: c.TechnicianID, CreatedAt: now}
	r.updates[id] = append(r.updates[id], u)
	snapshot := *c
	return snapshot, r.persister(snapshot, &u), nil
}

// ReassignDeferred swaps the technician on an assigned complaint without
// changing its status.
func (r *Registry) ReassignDeferred(id string, technicianID string, note string) (models.Complaint, Persist, error) {
	now := r.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.complaints[id]
	if !ok {
		return models.Complaint{}, nil, models.ErrComplaintNotFound
	}
	if c.Status != models.StatusAssigned {
		return models.Complaint{}, nil, fmt.Errorf("%w: cannot reassign a %s complaint", models.ErrInvalidTransition, c.Status)
	}
	tid := technicianID
	c.TechnicianID = &tid
	c.UpdatedAt = now
	c.Version++
	u := models.ComplaintUpdate{ComplaintID: id, Status: c.Status, Note: note, TechnicianID: c.TechnicianID, CreatedAt: now}
	r.updates[id] = append(r.updates[id], u)
	snapshot := *c
	return snapshot, r.persister(snapshot, &u), nil
}

// MarkBreached records an SLA breach. It reports true only for the first
// call on an open complaint, so callers can notify exactly once.
func (r *Registry) MarkBreached(ctx context.Context, id string, at time.Time) (models.Complaint, bool) {
	r.mu.Lock()
	c, ok := r.complaints[id]
	if !ok || !c.Open() || c.SLABreachedAt != nil {
		r.mu.Unlock()
		return models.Complaint{}, false
	}
	breached := at
	c.SLABreachedAt = &breached
	c.UpdatedAt = at
	c.Version++
	u := models.ComplaintUpdate{ComplaintID: id, Status: c.Status, Note: "SLA deadline breached", TechnicianID: c.TechnicianID, CreatedAt: at}
	r.updates[id] = append(r.updates[id], u)
	snapshot := *c
	r.mu.Unlock()

	r.persist(ctx, snapshot, &u)
	return snapshot, true
}

// Breached lists complaints that crossed their SLA deadline, newest breach first.
func (r *Registry) Breached() []models.Complaint {
	r.mu.RLock()
	var out []models.Complaint
	for _, c := range r.complaints {
		if c.SLABreachedAt != nil {
			out = append(out, *c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SLABreachedAt.After(*out[j].SLABreachedAt)
	})
	return out
}

// Restore loads previously persisted state. It does not write back to the store.
func (r *Registry) Restore(complaints []models.Complaint, updates []models.ComplaintUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range complaints {
		stored := c
		r.complaints[c.ID] = &stored
		if c.Open() {
			r.open.Upsert(c.ID, toPoint(c.Location), c.CreatedAt)
		}
	}
	for _, u := range updates {
		r.updates[u.ComplaintID] = append(r.updates[u.ComplaintID], u)
	}
}

func (r *Registry) persister(c models.Complaint, u *models.ComplaintUpdate) Persist {
	return func(ctx context.Context) { r.persist(ctx, c, u) }
}

func (r *Registry) persist(ctx context.Context, c models.Complaint, u *models.ComplaintUpdate) {
	if r.store == nil {
		return
	}
	// The change is already visible in memory; a cancelled request must not
	// keep it out of the store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.store.SaveComplaint(ctx, c); err != nil {
		r.Logger.Error().Err(err).Str("complaint_id", c.ID).Msg("failed to persist complaint")
		return
	}
	if u == nil {
		return
	}
	if err := r.store.AppendUpdate(ctx, *u); err != nil {
		r.Logger.Error().Err(err).Str("complaint_id", c.ID).Msg("failed to persist complaint update")
	}
}

func validateSubmit(req SubmitRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return models.NewValidationError("title", "is required")
	}
	if len(title) > 200 {
		return models.NewValidationError("title", "must be at most 200 characters")
	}
	if parsed, err := models.ParseCategory(string(req.Category)); err != nil || parsed != req.Category {
		return models.NewValidationError("category", "unknown category %q", req.Category)
	}
	if req.Urgency != "" {
		if parsed, err := models.ParseUrgency(string(req.Urgency)); err != nil || parsed != req.Urgency {
			return models.NewValidationError("urgency", "unknown urgency %q", req.Urgency)
		}
	}
	if req.PriorityScore < 0 || req.PriorityScore > 100 {
		return models.NewValidationError("priority_score", "must be within [0, 100]")
	}
	return models.ValidateCoordinate(req.Location)
}

func sortNewestFirst(cs []models.Complaint) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID > cs[j].ID
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func toPoint(c models.Coordinate) spatial.Point {
	return spatial.Point{Lat: c.Lat, Lon: c.Lon}
}
