package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gis-utility-platform/api/internal/models"
)

// Store keeps a durable copy of the in-memory state. Writes are idempotent
// and ordered by version or timestamp so that late writes cannot roll a row
// back.
type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveComplaint upserts c unless the stored row already has the same or a
// newer version.
func (s *Store) SaveComplaint(ctx context.Context, c models.Complaint) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO complaints (id, title, description, category, urgency, latitude, longitude, address, status,
			priority_score, technician_id, created_at, updated_at, sla_deadline, sla_breached_at, resolved_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority_score = EXCLUDED.priority_score,
			technician_id = EXCLUDED.technician_id,
			updated_at = EXCLUDED.updated_at,
			sla_breached_at = EXCLUDED.sla_breached_at,
			resolved_at = EXCLUDED.resolved_at,
			version = EXCLUDED.version
		WHERE complaints.version < EXCLUDED.version
	`, c.ID, c.Title, c.Description, string(c.Category), string(c.Urgency), c.Location.Lat, c.Location.Lon, c.Address,
		string(c.Status), c.PriorityScore, c.TechnicianID, c.CreatedAt, c.UpdatedAt, c.SLADeadline, c.SLABreachedAt,
		c.ResolvedAt, c.Version)
	if err != nil {
		return fmt.Errorf("save complaint %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) AppendUpdate(ctx context.Context, u models.ComplaintUpdate) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO complaint_updates (complaint_id, status, note, technician_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.ComplaintID, string(u.Status), u.Note, u.TechnicianID, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("append update for %s: %w", u.ComplaintID, err)
	}
	return nil
}

// SaveTechnician upserts a technician. Location and availability are guarded
// separately: pings move location_at, dispatch moves updated_at.
func (s *Store) SaveTechnician(ctx context.Context, t models.Technician) error {
	skills := make([]string, len(t.Skills))
	for i, sk := range t.Skills {
		skills[i] = string(sk)
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO technicians (id, name, skills, availability, available_since, latitude, longitude, location_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			skills = EXCLUDED.skills,
			availability = CASE WHEN EXCLUDED.updated_at >= technicians.updated_at
				THEN EXCLUDED.availability ELSE technicians.availability END,
			available_since = CASE WHEN EXCLUDED.updated_at >= technicians.updated_at
				THEN EXCLUDED.available_since ELSE technicians.available_since END,
			updated_at = GREATEST(EXCLUDED.updated_at, technicians.updated_at),
			latitude = CASE WHEN EXCLUDED.location_at >= technicians.location_at
				THEN EXCLUDED.latitude ELSE technicians.latitude END,
			longitude = CASE WHEN EXCLUDED.location_at >= technicians.location_at
				THEN EXCLUDED.longitude ELSE technicians.longitude END,
			location_at = GREATEST(EXCLUDED.location_at, technicians.location_at)
	`, t.ID, t.Name, skills, string(t.Availability), t.AvailableSince, t.Location.Lat, t.Location.Lon, t.LocationAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save technician %s: %w", t.ID, err)
	}
	return nil
}

// SaveAssignment inserts an assignment or ends it. An ended assignment is
// never reactivated.
func (s *Store) SaveAssignment(ctx context.Context, a models.Assignment) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO assignments (id, complaint_id, technician_id, distance_km, reason_code, reason_text, override,
			reasoning, active, assigned_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			ended_at = EXCLUDED.ended_at
		WHERE assignments.active
	`, a.ID, a.ComplaintID, a.TechnicianID, a.DistanceKm, a.ReasonCode, a.ReasonText, a.Override,
		a.Reasoning, a.Active, a.AssignedAt, a.EndedAt)
	if err != nil {
		return fmt.Errorf("save assignment %s: %w", a.ID, err)
	}
	return nil
}

// Snapshot is everything needed to rebuild in-memory state on boot.
type Snapshot struct {
	Complaints  []models.Complaint
	Updates     []models.ComplaintUpdate
	Technicians []models.Technician
	Assignments []models.Assignment
}

// Load reads all complaints and technicians and the active assignments.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if snap.Complaints, err = loadComplaints(ctx, tx); err != nil {
			return err
		}
		if snap.Updates, err = loadUpdates(ctx, tx); err != nil {
			return err
		}
		if snap.Technicians, err = loadTechnicians(ctx, tx); err != nil {
			return err
		}
		snap.Assignments, err = loadActiveAssignments(ctx, tx)
		return err
	})
	return snap, err
}

func loadComplaints(ctx context.Context, tx pgx.Tx) ([]models.Complaint, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, title, description, category, urgency, latitude, longitude, address, status, priority_score,
			technician_id, created_at, updated_at, sla_deadline, sla_breached_at, resolved_at, version
		FROM complaints
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load complaints: %w", err)
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		var (
			c                         models.Complaint
			category, urgency, status string
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &category, &urgency, &c.Location.Lat, &c.Location.Lon,
			&c.Address, &status, &c.PriorityScore, &c.TechnicianID, &c.CreatedAt, &c.UpdatedAt, &c.SLADeadline,
			&c.SLABreachedAt, &c.ResolvedAt, &c.Version); err != nil {
			return nil, err
		}
		c.Category = models.Category(category)
		c.Urgency = models.Urgency(urgency)
		c.Status = models.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func loadUpdates(ctx context.Context, tx pgx.Tx) ([]models.ComplaintUpdate, error) {
	rows, err := tx.Query(ctx, `
		SELECT complaint_id, status, note, technician_id, created_at
		FROM complaint_updates
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load complaint updates: %w", err)
	}
	defer rows.Close()

	var out []models.ComplaintUpdate
	for rows.Next() {
		var (
			u      models.ComplaintUpdate
			status string
		)
		if err := rows.Scan(&u.ComplaintID, &status, &u.Note, &u.TechnicianID, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Status = models.Status(status)
		out = append(out, u)
	}
	return out, rows.Err()
}

func loadTechnicians(ctx context.Context, tx pgx.Tx) ([]models.Technician, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, skills, availability, available_since, latitude, longitude, location_at, updated_at
		FROM technicians
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load technicians: %w", err)
	}
	defer rows.Close()

	var out []models.Technician
	for rows.Next() {
		var (
			t            models.Technician
			skills       []string
			availability string
		)
		if err := rows.Scan(&t.ID, &t.Name, &skills, &availability, &t.AvailableSince, &t.Location.Lat,
			&t.Location.Lon, &t.LocationAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		for _, s := range skills {
			t.Skills = append(t.Skills, models.Category(s))
		}
		t.Availability = models.Availability(availability)
		out = append(out, t)
	}
	return out, rows.Err()
}

func loadActiveAssignments(ctx context.Context, tx pgx.Tx) ([]models.Assignment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, complaint_id, technician_id, distance_km, reason_code, reason_text, override, reasoning,
			active, assigned_at, ended_at
		FROM assignments
		WHERE active
		ORDER BY assigned_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.ID, &a.ComplaintID, &a.TechnicianID, &a.DistanceKm, &a.ReasonCode, &a.ReasonText,
			&a.Override, &a.Reasoning, &a.Active, &a.AssignedAt, &a.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssignmentHistory lists every assignment of a complaint, newest first.
func (s *Store) AssignmentHistory(ctx context.Context, complaintID string) ([]models.Assignment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, complaint_id, technician_id, distance_km, reason_code, reason_text, override, reasoning,
			active, assigned_at, ended_at
		FROM assignments
		WHERE complaint_id = $1
		ORDER BY assigned_at DESC
	`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.ID, &a.ComplaintID, &a.TechnicianID, &a.DistanceKm, &a.ReasonCode, &a.ReasonText,
			&a.Override, &a.Reasoning, &a.Active, &a.AssignedAt, &a.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
