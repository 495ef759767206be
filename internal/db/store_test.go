package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gis-utility-platform/api/internal/models"
)

// newTestStore connects to TEST_DATABASE_URL and skips when it is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, Migrate(ctx, s.Pool, zerolog.Nop()))
	require.NoError(t, Migrate(ctx, s.Pool, zerolog.Nop()), "migrations must be idempotent")
	return s
}

func TestSaveComplaintIgnoresStaleVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := models.Complaint{
		ID: uuid.NewString(), Title: "Leak", Category: models.CategoryPlumbing, Urgency: models.UrgencyHigh,
		Location: models.Coordinate{Lat: 26.45, Lon: 80.33}, Status: models.StatusSubmitted,
		CreatedAt: now, UpdatedAt: now, SLADeadline: now.Add(8 * time.Hour), Version: 1,
	}
	require.NoError(t, s.SaveComplaint(ctx, c))

	tech := "t-" + uuid.NewString()
	assigned := c
	assigned.Status = models.StatusAssigned
	assigned.TechnicianID = &tech
	assigned.Version = 2
	require.NoError(t, s.SaveComplaint(ctx, assigned))
	require.NoError(t, s.SaveComplaint(ctx, c), "stale write must be a no-op, not an error")
	require.NoError(t, s.AppendUpdate(ctx, models.ComplaintUpdate{ComplaintID: c.ID, Status: models.StatusAssigned, Note: "auto", CreatedAt: now}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	var got *models.Complaint
	for i := range snap.Complaints {
		if snap.Complaints[i].ID == c.ID {
			got = &snap.Complaints[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, models.StatusAssigned, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.TechnicianID)
	assert.Equal(t, tech, *got.TechnicianID)
}

func TestTechniciansAndAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	tech := models.Technician{
		ID: "t-" + uuid.NewString(), Name: "Ravi", Skills: []models.Category{models.CategoryElectricity},
		Availability: models.AvailabilityIdle, AvailableSince: now, Location: models.Coordinate{Lat: 26.4, Lon: 80.3},
		LocationAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveTechnician(ctx, tech))

	moved := tech
	moved.Location = models.Coordinate{Lat: 26.5, Lon: 80.4}
	moved.LocationAt = now.Add(time.Minute)
	require.NoError(t, s.SaveTechnician(ctx, moved))

	staleAvailability := tech
	staleAvailability.Availability = models.AvailabilityBusy
	staleAvailability.UpdatedAt = now.Add(-time.Minute)
	require.NoError(t, s.SaveTechnician(ctx, staleAvailability))

	a := models.Assignment{
		ID: uuid.NewString(), ComplaintID: uuid.NewString(), TechnicianID: tech.ID, DistanceKm: 1.2,
		ReasonCode: "AUTO_NEAREST", Reasoning: []byte(`{"eligible":1}`), Active: true, AssignedAt: now,
	}
	require.NoError(t, s.SaveAssignment(ctx, a))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	var gotTech *models.Technician
	for i := range snap.Technicians {
		if snap.Technicians[i].ID == tech.ID {
			gotTech = &snap.Technicians[i]
		}
	}
	require.NotNil(t, gotTech)
	assert.Equal(t, moved.Location, gotTech.Location)
	assert.Equal(t, models.AvailabilityIdle, gotTech.Availability)
	assert.Equal(t, []models.Category{models.CategoryElectricity}, gotTech.Skills)

	found := false
	for _, x := range snap.Assignments {
		if x.ID == a.ID {
			found = true
			assert.JSONEq(t, `{"eligible":1}`, string(x.Reasoning))
		}
	}
	assert.True(t, found)

	ended := a
	ended.Active = false
	endedAt := now.Add(time.Hour)
	ended.EndedAt = &endedAt
	require.NoError(t, s.SaveAssignment(ctx, ended))
	require.NoError(t, s.SaveAssignment(ctx, a), "ended assignments stay ended")

	history, err := s.AssignmentHistory(ctx, a.ComplaintID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)
	require.NotNil(t, history[0].EndedAt)
}
