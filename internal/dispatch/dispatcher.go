package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/notify"
	"github.com/gis-utility-platform/api/internal/registry"
	"github.com/gis-utility-platform/api/internal/spatial"
)

var (
	ErrNoEligibleTechnician  = errors.New("no eligible technician")
	ErrStaleLocation         = errors.New("stale technician location")
	ErrAlreadyAssigned       = errors.New("complaint already has an active assignment")
	ErrNoActiveAssignment    = errors.New("complaint has no active assignment")
	ErrTechnicianUnavailable = errors.New("technician is not idle")
)

// NoEligibleError carries the eligibility trace of a failed dispatch.
type NoEligibleError struct {
	Result EligibilityResult
}

func (e *NoEligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoEligibleTechnician, e.Result.ReasonText)
}

func (e *NoEligibleError) Unwrap() []error {
	if e.Result.ReasonCode == ReasonStaleLocation {
		return []error{ErrNoEligibleTechnician, ErrStaleLocation}
	}
	return []error{ErrNoEligibleTechnician}
}

// Store persists technicians and assignments. Technician snapshots older than
// the stored UpdatedAt and updates to ended assignments must be ignored.
type Store interface {
	SaveTechnician(ctx context.Context, t models.Technician) error
	SaveAssignment(ctx context.Context, a models.Assignment) error
}

type Config struct {
	RadiusKm       float64
	MaxLocationAge time.Duration
	RetryInterval  time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
	CellDeg        float64
}

func (c Config) withDefaults() Config {
	if c.RadiusKm <= 0 {
		c.RadiusKm = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 15 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Minute
	}
	return c
}

type TechnicianRequest struct {
	ID         string
	Name       string
	Skills     []models.Category
	Location   models.Coordinate
	ReportedAt time.Time
}

// Outcome reports what happened to a newly submitted complaint.
type Outcome struct {
	Complaint  models.Complaint   `json:"complaint"`
	Assignment *models.Assignment `json:"assignment"`
	Queued     bool               `json:"queued"`
	ReasonCode string             `json:"reason_code,omitempty"`
	ReasonText string             `json:"reason_text,omitempty"`
}

type RunSummary struct {
	Attempted   int            `json:"attempted"`
	Assigned    int            `json:"assigned"`
	StillQueued int            `json:"still_queued"`
	Dropped     int            `json:"dropped"`
	Reasons     map[string]int `json:"reasons"`
}

// Dispatcher owns technicians and active assignments. Every change to an
// assignment happens under mu, so the check for an idle technician and the
// assignment that consumes it are one step. Location pings write to the
// spatial index without taking mu.
type Dispatcher struct {
	Now    func() time.Time
	Logger zerolog.Logger

	cfg      Config
	registry *registry.Registry
	index    *spatial.Grid
	store    Store
	notifier notify.Notifier
	kick     chan struct{}

	mu           sync.Mutex
	technicians  map[string]*models.Technician
	byComplaint  map[string]*models.Assignment
	byTechnician map[string]*models.Assignment
	pending      map[string]*QueueEntry
}

func New(reg *registry.Registry, store Store, notifier notify.Notifier, cfg Config, logger zerolog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		Now:          func() time.Time { return time.Now().UTC() },
		Logger:       logger,
		cfg:          cfg,
		registry:     reg,
		index:        spatial.NewGrid(cfg.CellDeg),
		store:        store,
		notifier:     notifier,
		kick:         make(chan struct{}, 1),
		technicians:  map[string]*models.Technician{},
		byComplaint:  map[string]*models.Assignment{},
		byTechnician: map[string]*models.Assignment{},
		pending:      map[string]*QueueEntry{},
	}
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

const flushTimeout = 10 * time.Second

// effects collects side effects produced under mu; flush runs them after the
// lock is released. By then the change is committed in memory, so they run
// even when the caller's context has been cancelled.
type effects struct {
	persists    []registry.Persist
	technicians []models.Technician
	assignments []models.Assignment
	events      []notify.Event
	kick        bool
}

func (d *Dispatcher) flush(ctx context.Context, eff *effects) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	for _, p := range eff.persists {
		p(ctx)
	}
	if d.store != nil {
		for _, t := range eff.technicians {
			if err := d.store.SaveTechnician(ctx, t); err != nil {
				d.Logger.Error().Err(err).Str("technician_id", t.ID).Msg("failed to persist technician")
			}
		}
		for _, a := range eff.assignments {
			if err := d.store.SaveAssignment(ctx, a); err != nil {
				d.Logger.Error().Err(err).Str("assignment_id", a.ID).Msg("failed to persist assignment")
			}
		}
	}
	for _, e := range eff.events {
		if err := d.notifier.Notify(ctx, e); err != nil {
			d.Logger.Warn().Err(err).Str("event", string(e.Type)).Msg("failed to deliver event")
		}
	}
	if eff.kick {
		d.Kick()
	}
}

// Kick asks the background loop to retry queued complaints now.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) RegisterTechnician(ctx context.Context, req TechnicianRequest) (models.Technician, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Technician{}, models.NewValidationError("name", "is required")
	}
	if len(req.Skills) == 0 {
		return models.Technician{}, models.NewValidationError("skills", "at least one skill is required")
	}
	if err := models.ValidateCoordinate(req.Location); err != nil {
		return models.Technician{}, err
	}
	now := d.Now()
	reportedAt := req.ReportedAt
	if reportedAt.IsZero() || reportedAt.After(now) {
		reportedAt = now
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	t := models.Technician{
		ID:             id,
		Name:           name,
		Skills:         append([]models.Category(nil), req.Skills...),
		Availability:   models.AvailabilityIdle,
		AvailableSince: now,
		Location:       req.Location,
		LocationAt:     reportedAt,
		UpdatedAt:      now,
	}

	d.mu.Lock()
	if _, exists := d.technicians[id]; exists {
		d.mu.Unlock()
		return models.Technician{}, models.ErrTechnicianExists
	}
	stored := t
	d.technicians[id] = &stored
	d.index.Upsert(id, toPoint(t.Location), reportedAt)
	d.mu.Unlock()

	d.Logger.Info().Str("technician_id", id).Interface("skills", t.Skills).Msg("technician registered")
	d.flush(ctx, &effects{technicians: []models.Technician{t}, kick: true})
	return t, nil
}

// UpdateLocation records a location ping. Pings older than the newest known
// location are ignored; pings older than the freshness window are rejected.
func (d *Dispatcher) UpdateLocation(ctx context.Context, id string, loc models.Coordinate, reportedAt time.Time) (models.Technician, error) {
	if err := models.ValidateCoordinate(loc); err != nil {
		return models.Technician{}, err
	}
	now := d.Now()
	if reportedAt.IsZero() {
		reportedAt = now
	}
	if reportedAt.After(now.Add(time.Minute)) {
		return models.Technician{}, models.NewValidationError("reported_at", "is in the future")
	}
	if reportedAt.After(now) {
		reportedAt = now
	}
	if d.cfg.MaxLocationAge > 0 && now.Sub(reportedAt) > d.cfg.MaxLocationAge {
		return models.Technician{}, fmt.Errorf("%w: reported %s ago", ErrStaleLocation, now.Sub(reportedAt).Round(time.Second))
	}

	prev, known := d.index.Get(id)
	if !known {
		return models.Technician{}, models.ErrTechnicianNotFound
	}
	updated, found := d.index.UpdateIfNewer(id, toPoint(loc), reportedAt)
	if !found {
		return models.Technician{}, models.ErrTechnicianNotFound
	}
	t, err := d.Technician(id)
	if err != nil {
		return models.Technician{}, err
	}
	if !updated {
		return t, nil
	}

	wasStale := d.cfg.MaxLocationAge > 0 && now.Sub(prev.UpdatedAt) > d.cfg.MaxLocationAge
	d.flush(ctx, &effects{technicians: []models.Technician{t}, kick: wasStale && t.Availability == models.AvailabilityIdle})
	return t, nil
}

func (d *Dispatcher) Technician(id string) (models.Technician, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.technicians[id]
	if !ok {
		return models.Technician{}, models.ErrTechnicianNotFound
	}
	return d.viewLocked(t), nil
}

// Technicians lists technicians ordered by id, optionally by availability.
func (d *Dispatcher) Technicians(availability models.Availability) []models.Technician {
	d.mu.Lock()
	out := make([]models.Technician, 0, len(d.technicians))
	for _, t := range d.technicians {
		if availability != "" && t.Availability != availability {
			continue
		}
		out = append(out, d.viewLocked(t))
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// viewLocked copies a technician and fills in the latest indexed location.
func (d *Dispatcher) viewLocked(t *models.Technician) models.Technician {
	v := *t
	v.Skills = append([]models.Category(nil), t.Skills...)
	if e, ok := d.index.Get(t.ID); ok {
		v.Location = toCoordinate(e.Point)
		v.LocationAt = e.UpdatedAt
	}
	return v
}

// Submit registers a complaint and tries to dispatch it at once. When nobody
// is eligible the complaint is queued for retry and Outcome.Queued is set.
func (d *Dispatcher) Submit(ctx context.Context, req registry.SubmitRequest) (Outcome, error) {
	c, err := d.registry.Submit(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	eff := &effects{}
	d.mu.Lock()
	a, res, err := d.assignLocked(c.ID, eff)
	var noEligible *NoEligibleError
	if errors.As(err, &noEligible) {
		d.enqueueLocked(c, res, eff)
	}
	d.mu.Unlock()
	d.flush(ctx, eff)

	switch {
	case err == nil:
		latest, _ := d.registry.Get(c.ID)
		return Outcome{Complaint: latest, Assignment: &a, ReasonCode: a.ReasonCode, ReasonText: a.ReasonText}, nil
	case noEligible != nil:
		return Outcome{Complaint: c, Queued: true, ReasonCode: res.ReasonCode, ReasonText: res.ReasonText}, nil
	default:
		return Outcome{}, err
	}
}

// Dispatch assigns a submitted complaint to the nearest eligible technician.
// It does not queue on failure; the returned *NoEligibleError explains why.
func (d *Dispatcher) Dispatch(ctx context.Context, complaintID string) (models.Assignment, error) {
	eff := &effects{}
	d.mu.Lock()
	a, _, err := d.assignLocked(complaintID, eff)
	d.mu.Unlock()
	d.flush(ctx, eff)
	return a, err
}

func (d *Dispatcher) assignLocked(complaintID string, eff *effects) (models.Assignment, EligibilityResult, error) {
	c, err := d.registry.Get(complaintID)
	if err != nil {
		return models.Assignment{}, EligibilityResult{}, err
	}
	if _, ok := d.byComplaint[complaintID]; ok {
		return models.Assignment{}, EligibilityResult{}, ErrAlreadyAssigned
	}
	if c.Status != models.StatusSubmitted {
		return models.Assignment{}, EligibilityResult{}, fmt.Errorf("%w: cannot dispatch a %s complaint", models.ErrInvalidTransition, c.Status)
	}

	now := d.Now()
	matches := d.index.Within(toPoint(c.Location), d.cfg.RadiusKm, nil)
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		t, ok := d.technicians[m.ID]
		if !ok {
			continue
		}
		v := *t
		v.Location = toCoordinate(m.Point)
		v.LocationAt = m.UpdatedAt
		candidates = append(candidates, Candidate{Technician: v, DistanceKm: m.DistanceKm})
	}

	res := FilterEligible(candidates, c, now, d.cfg.MaxLocationAge)
	if len(res.Eligible) == 0 {
		return models.Assignment{}, res, &NoEligibleError{Result: res}
	}
	picked := PickTechnician(res.Eligible)
	reasoning := d.reasoning(c, res, picked, "")
	text := fmt.Sprintf("Nearest idle %s technician, %.2f km away", c.Category, picked.DistanceKm)
	a, err := d.commitLocked(c, picked, ReasonAutoNearest, text, false, reasoning, eff)
	return a, res, err
}

// commitLocked creates the assignment for c and marks the technician en route.
func (d *Dispatcher) commitLocked(c models.Complaint, picked Candidate, code, text string, override bool, reasoning []byte, eff *effects) (models.Assignment, error) {
	tech, ok := d.technicians[picked.Technician.ID]
	if !ok {
		return models.Assignment{}, models.ErrTechnicianNotFound
	}
	if _, busy := d.byTechnician[tech.ID]; busy || tech.Availability != models.AvailabilityIdle {
		return models.Assignment{}, ErrTechnicianUnavailable
	}

	now := d.Now()
	tid := tech.ID
	var (
		persist registry.Persist
		err     error
	)
	if c.Status == models.StatusAssigned {
		_, persist, err = d.registry.ReassignDeferred(c.ID, tid, text)
	} else {
		_, persist, err = d.registry.TransitionDeferred(c.ID, models.StatusAssigned, text, &tid)
	}
	if err != nil {
		return models.Assignment{}, err
	}

	a := models.Assignment{
		ID:           uuid.NewString(),
		ComplaintID:  c.ID,
		TechnicianID: tid,
		DistanceKm:   picked.DistanceKm,
		ReasonCode:   code,
		ReasonText:   text,
		Override:     override,
		Reasoning:    reasoning,
		Active:       true,
		AssignedAt:   now,
	}
	stored := a
	d.byComplaint[c.ID] = &stored
	d.byTechnician[tid] = &stored
	delete(d.pending, c.ID)

	tech.Availability = models.AvailabilityEnRoute
	tech.UpdatedAt = now

	eff.persists = append(eff.persists, persist)
	eff.technicians = append(eff.technicians, d.viewLocked(tech))
	eff.assignments = append(eff.assignments, a)
	eff.events = append(eff.events, notify.Event{
		Type:         notify.EventAssignmentCreated,
		ComplaintID:  c.ID,
		TechnicianID: tid,
		At:           now,
		Data: map[string]any{
			"assignment_id": a.ID,
			"distance_km":   a.DistanceKm,
			"reason_code":   code,
			"override":      override,
			"priority":      c.PriorityScore,
			"category":      c.Category,
		},
	})
	d.Logger.Info().
		Str("complaint_id", c.ID).
		Str("technician_id", tid).
		Float64("distance_km", a.DistanceKm).
		Str("reason_code", code).
		Msg("complaint assigned")
	return a, nil
}

// endLocked finishes the active assignment of a complaint, if any.
func (d *Dispatcher) endLocked(complaintID, reason string, eff *effects) {
	if a, ok := d.byComplaint[complaintID]; ok {
		d.endAssignmentLocked(a, reason, eff)
	}
}

// endAssignmentLocked deactivates a and frees its technician.
func (d *Dispatcher) endAssignmentLocked(a *models.Assignment, reason string, eff *effects) {
	now := d.Now()
	ended := now
	a.Active = false
	a.EndedAt = &ended
	if d.byComplaint[a.ComplaintID] == a {
		delete(d.byComplaint, a.ComplaintID)
	}
	if d.byTechnician[a.TechnicianID] == a {
		delete(d.byTechnician, a.TechnicianID)
	}

	if tech, ok := d.technicians[a.TechnicianID]; ok {
		tech.Availability = models.AvailabilityIdle
		tech.AvailableSince = now
		tech.UpdatedAt = now
		eff.technicians = append(eff.technicians, d.viewLocked(tech))
	}
	eff.assignments = append(eff.assignments, *a)
	eff.events = append(eff.events, notify.Event{
		Type:         notify.EventAssignmentEnded,
		ComplaintID:  a.ComplaintID,
		TechnicianID: a.TechnicianID,
		At:           now,
		Data:         map[string]any{"assignment_id": a.ID, "reason": reason},
	})
	eff.kick = true
}

func (d *Dispatcher) enqueueLocked(c models.Complaint, res EligibilityResult, eff *effects) {
	now := d.Now()
	entry, ok := d.pending[c.ID]
	if !ok {
		entry = &QueueEntry{ComplaintID: c.ID, PriorityScore: c.PriorityScore, CreatedAt: c.CreatedAt}
		d.pending[c.ID] = entry
	}
	entry.Attempts++
	entry.LastReason = res.ReasonCode
	entry.LastAttemptAt = now
	entry.NextAttemptAt = now.Add(backoff(d.cfg.RetryBase, d.cfg.RetryMax, entry.Attempts))

	if !ok {
		eff.events = append(eff.events, notify.Event{
			Type:        notify.EventDispatchQueued,
			ComplaintID: c.ID,
			At:          now,
			Data: map[string]any{
				"reason_code": res.ReasonCode,
				"reason_text": res.ReasonText,
				"stages":      res.StageCounts(),
			},
		})
		d.Logger.Info().
			Str("complaint_id", c.ID).
			Str("reason_code", res.ReasonCode).
			Msg("complaint queued for dispatch")
	}
}

// Withdraw closes a complaint that has not been picked up yet.
func (d *Dispatcher) Withdraw(ctx context.Context, complaintID, note string) (models.Complaint, error) {
	if strings.TrimSpace(note) == "" {
		note = "withdrawn by reporter"
	}
	eff := &effects{}
	d.mu.Lock()
	if _, ok := d.byComplaint[complaintID]; ok {
		d.mu.Unlock()
		return models.Complaint{}, ErrAlreadyAssigned
	}
	c, persist, err := d.registry.TransitionDeferred(complaintID, models.StatusClosed, note, nil)
	if err != nil {
		d.mu.Unlock()
		return models.Complaint{}, err
	}
	delete(d.pending, complaintID)
	eff.persists = append(eff.persists, persist)
	eff.events = append(eff.events, notify.Event{Type: notify.EventComplaintWithdrawn, ComplaintID: complaintID, At: c.UpdatedAt})
	d.mu.Unlock()

	d.flush(ctx, eff)
	return c, nil
}

// Start marks the technician as working on site.
func (d *Dispatcher) Start(ctx context.Context, complaintID, note string) (models.Complaint, error) {
	eff := &effects{}
	d.mu.Lock()
	a, ok := d.byComplaint[complaintID]
	if !ok {
		d.mu.Unlock()
		if _, err := d.registry.Get(complaintID); err != nil {
			return models.Complaint{}, err
		}
		return models.Complaint{}, ErrNoActiveAssignment
	}
	c, persist, err := d.registry.TransitionDeferred(complaintID, models.StatusInProgress, note, nil)
	if err != nil {
		d.mu.Unlock()
		return models.Complaint{}, err
	}
	if tech, ok := d.technicians[a.TechnicianID]; ok {
		tech.Availability = models.AvailabilityBusy
		tech.UpdatedAt = c.UpdatedAt
		eff.technicians = append(eff.technicians, d.viewLocked(tech))
	}
	eff.persists = append(eff.persists, persist)
	d.mu.Unlock()

	d.flush(ctx, eff)
	return c, nil
}

// Resolve finishes the work and frees the technician.
func (d *Dispatcher) Resolve(ctx context.Context, complaintID, note string) (models.Complaint, error) {
	return d.finish(ctx, complaintID, models.StatusResolved, note)
}

// Close closes a complaint from any open or resolved state. Closing a
// submitted complaint behaves like Withdraw.
func (d *Dispatcher) Close(ctx context.Context, complaintID, note string) (models.Complaint, error) {
	return d.finish(ctx, complaintID, models.StatusClosed, note)
}

func (d *Dispatcher) finish(ctx context.Context, complaintID string, to models.Status, note string) (models.Complaint, error) {
	eff := &effects{}
	d.mu.Lock()
	c, persist, err := d.registry.TransitionDeferred(complaintID, to, note, nil)
	if err != nil {
		d.mu.Unlock()
		return models.Complaint{}, err
	}
	eff.persists = append(eff.persists, persist)
	delete(d.pending, complaintID)
	d.endLocked(complaintID, string(to), eff)
	d.mu.Unlock()

	d.flush(ctx, eff)
	return c, nil
}

// Reassign hands a complaint to a specific technician. It works for queued
// complaints and for assigned ones that have not been started. The target
// must be idle; a missing skill is allowed but flagged as an override.
func (d *Dispatcher) Reassign(ctx context.Context, complaintID, technicianID, reason string) (models.Assignment, error) {
	eff := &effects{}
	d.mu.Lock()
	a, err := d.reassignLocked(complaintID, technicianID, reason, eff)
	d.mu.Unlock()
	d.flush(ctx, eff)
	return a, err
}

func (d *Dispatcher) reassignLocked(complaintID, technicianID, reason string, eff *effects) (models.Assignment, error) {
	c, err := d.registry.Get(complaintID)
	if err != nil {
		return models.Assignment{}, err
	}
	if c.Status != models.StatusSubmitted && c.Status != models.StatusAssigned {
		return models.Assignment{}, fmt.Errorf("%w: cannot reassign a %s complaint", models.ErrInvalidTransition, c.Status)
	}
	tech, ok := d.technicians[technicianID]
	if !ok {
		return models.Assignment{}, models.ErrTechnicianNotFound
	}
	current, hasCurrent := d.byComplaint[complaintID]
	if hasCurrent && current.TechnicianID == technicianID {
		return models.Assignment{}, models.NewValidationError("technician_id", "technician already holds this complaint")
	}
	// Checked before the current assignment is ended so a refusal leaves it intact.
	if _, busy := d.byTechnician[technicianID]; busy || tech.Availability != models.AvailabilityIdle {
		return models.Assignment{}, ErrTechnicianUnavailable
	}

	view := d.viewLocked(tech)
	picked := Candidate{
		Technician: view,
		DistanceKm: spatial.Distance(toPoint(c.Location), toPoint(view.Location)),
	}
	override := !tech.HasSkill(c.Category)
	code := ReasonManualReassign
	if override {
		code = ReasonManualOverride
	}
	text := strings.TrimSpace(reason)
	if text == "" {
		text = "Manually assigned by dispatcher"
	}

	if hasCurrent {
		d.endAssignmentLocked(current, "reassigned", eff)
	}
	return d.commitLocked(c, picked, code, text, override, d.reasoning(c, EligibilityResult{}, picked, reason), eff)
}

// ActiveFor returns the active assignment held by a technician.
func (d *Dispatcher) ActiveFor(technicianID string) (models.Assignment, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.technicians[technicianID]; !ok {
		return models.Assignment{}, false, models.ErrTechnicianNotFound
	}
	a, ok := d.byTechnician[technicianID]
	if !ok {
		return models.Assignment{}, false, nil
	}
	return *a, true, nil
}

// ActiveForComplaint returns the active assignment of a complaint, if any.
func (d *Dispatcher) ActiveForComplaint(complaintID string) (models.Assignment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byComplaint[complaintID]
	if !ok {
		return models.Assignment{}, false
	}
	return *a, true
}

// Queue lists complaints waiting for a technician in retry order.
func (d *Dispatcher) Queue() []QueueEntry {
	d.mu.Lock()
	out := make([]QueueEntry, 0, len(d.pending))
	for _, e := range d.pending {
		out = append(out, *e)
	}
	d.mu.Unlock()
	sortQueue(out)
	return out
}

// RunPending retries queued complaints whose backoff has elapsed, or all of
// them when force is set.
func (d *Dispatcher) RunPending(ctx context.Context, force bool) RunSummary {
	summary := RunSummary{Reasons: map[string]int{}}
	eff := &effects{}

	d.mu.Lock()
	now := d.Now()
	entries := make([]QueueEntry, 0, len(d.pending))
	for _, e := range d.pending {
		entries = append(entries, *e)
	}
	sortQueue(entries)
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if !force && now.Before(e.NextAttemptAt) {
			summary.StillQueued++
			continue
		}
		summary.Attempted++
		_, res, err := d.assignLocked(e.ComplaintID, eff)
		var noEligible *NoEligibleError
		switch {
		case err == nil:
			summary.Assigned++
		case errors.As(err, &noEligible):
			c, _ := d.registry.Get(e.ComplaintID)
			d.enqueueLocked(c, res, eff)
			summary.StillQueued++
			summary.Reasons[res.ReasonCode]++
		default:
			delete(d.pending, e.ComplaintID)
			summary.Dropped++
			d.Logger.Debug().Err(err).Str("complaint_id", e.ComplaintID).Msg("dropping complaint from dispatch queue")
		}
	}
	d.mu.Unlock()

	d.flush(ctx, eff)
	return summary
}

// Run retries the queue every RetryInterval and whenever Kick is called,
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	d.Logger.Info().Dur("interval", d.cfg.RetryInterval).Msg("dispatch loop started")
	for {
		force := false
		select {
		case <-ctx.Done():
			d.Logger.Info().Msg("dispatch loop stopped")
			return nil
		case <-ticker.C:
		case <-d.kick:
			force = true
		}
		s := d.RunPending(ctx, force)
		if s.Attempted > 0 {
			d.Logger.Info().
				Int("attempted", s.Attempted).
				Int("assigned", s.Assigned).
				Int("still_queued", s.StillQueued).
				Interface("reasons", s.Reasons).
				Msg("dispatch retry pass")
		}
	}
}

// Restore loads persisted technicians and active assignments and queues every
// submitted complaint. Registry state must be restored first.
func (d *Dispatcher) Restore(technicians []models.Technician, assignments []models.Assignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range technicians {
		stored := t
		d.technicians[t.ID] = &stored
		d.index.Upsert(t.ID, toPoint(t.Location), t.LocationAt)
	}
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		stored := a
		d.byComplaint[a.ComplaintID] = &stored
		d.byTechnician[a.TechnicianID] = &stored
	}
	for _, c := range d.registry.Open() {
		if c.Status != models.StatusSubmitted {
			continue
		}
		if _, ok := d.byComplaint[c.ID]; ok {
			continue
		}
		d.pending[c.ID] = &QueueEntry{ComplaintID: c.ID, PriorityScore: c.PriorityScore, CreatedAt: c.CreatedAt}
	}
}

func (d *Dispatcher) reasoning(c models.Complaint, res EligibilityResult, picked Candidate, note string) []byte {
	payload := map[string]any{
		"complaint": map[string]any{
			"id":       c.ID,
			"category": c.Category,
			"priority": c.PriorityScore,
		},
		"radius_km": d.cfg.RadiusKm,
		"picked": map[string]any{
			"technician_id":   picked.Technician.ID,
			"distance_km":     picked.DistanceKm,
			"available_since": picked.Technician.AvailableSince,
		},
	}
	if len(res.Stages) > 0 {
		payload["stages"] = res.StageCounts()
		payload["eligible"] = len(res.Eligible)
	}
	if note != "" {
		payload["note"] = note
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}

func toPoint(c models.Coordinate) spatial.Point {
	return spatial.Point{Lat: c.Lat, Lon: c.Lon}
}

func toCoordinate(p spatial.Point) models.Coordinate {
	return models.Coordinate{Lat: p.Lat, Lon: p.Lon}
}
