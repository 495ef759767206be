package sla

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gis-utility-platform/api/internal/models"
	"github.com/gis-utility-platform/api/internal/notify"
	"github.com/gis-utility-platform/api/internal/registry"
)

type counter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *counter) Notify(_ context.Context, e notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *counter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides(" plumbing=6h, lift=90m ,")
	require.NoError(t, err)
	assert.Equal(t, map[models.Category]time.Duration{
		models.CategoryPlumbing: 6 * time.Hour,
		models.CategoryElevator: 90 * time.Minute,
	}, got)

	empty, err := ParseOverrides("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"plumbing", "roofing=2h", "plumbing=soon", "plumbing=-1h"} {
		_, err := ParseOverrides(bad)
		assert.Errorf(t, err, "expected %q to be rejected", bad)
	}
}

func TestPolicyDeadline(t *testing.T) {
	p := DefaultPolicy().WithOverrides(map[models.Category]time.Duration{models.CategoryPlumbing: 6 * time.Hour})
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, created.Add(6*time.Hour), p.Deadline(models.CategoryPlumbing, created))
	assert.Equal(t, created.Add(2*time.Hour), p.Deadline(models.CategorySecurity, created))
	assert.Equal(t, 48*time.Hour, p.Target("unknown"))
	assert.Equal(t, 8*time.Hour, DefaultPolicy().Target(models.CategoryPlumbing), "overrides must not leak into the default")
	assert.Len(t, p.Entries(), len(models.Categories))
}

func setup(t *testing.T) (*registry.Registry, *Monitor, *counter, *time.Time) {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reg := registry.New(nil, DefaultPolicy().Deadline, 0.05, zerolog.Nop())
	reg.Now = func() time.Time { return now }
	sink := &counter{}
	m := NewMonitor(reg, sink, time.Minute, zerolog.Nop())
	m.Now = func() time.Time { return now }
	return reg, m, sink, &now
}

func TestCheckNotifiesExactlyOnce(t *testing.T) {
	reg, m, sink, now := setup(t)
	ctx := context.Background()
	security, err := reg.Submit(ctx, registry.SubmitRequest{Title: "Gate open", Category: models.CategorySecurity, Location: models.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)
	_, err = reg.Submit(ctx, registry.SubmitRequest{Title: "Litter", Category: models.CategoryHousekeeping, Location: models.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	assert.Empty(t, m.Check(ctx), "deadline itself is not a breach")

	*now = now.Add(time.Minute)
	breached := m.Check(ctx)
	require.Len(t, breached, 1)
	assert.Equal(t, security.ID, breached[0].ID)
	require.NotNil(t, breached[0].SLABreachedAt)

	*now = now.Add(time.Hour)
	assert.Empty(t, m.Check(ctx))
	assert.Equal(t, 1, sink.len())

	e := sink.events[0]
	assert.Equal(t, notify.EventSLABreached, e.Type)
	assert.Equal(t, 1, e.Data["overdue_minutes"])
}

func TestConcurrentChecksNotifyOnce(t *testing.T) {
	reg, m, sink, now := setup(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := reg.Submit(ctx, registry.SubmitRequest{Title: "Sparks", Category: models.CategoryElectricity, Location: models.Coordinate{Lat: 1, Lon: 1}})
		require.NoError(t, err)
	}
	*now = now.Add(5 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Check(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, sink.len())
	assert.Len(t, reg.Breached(), 20)
}

func TestResolvedComplaintsDoNotBreach(t *testing.T) {
	reg, m, sink, now := setup(t)
	ctx := context.Background()
	c, err := reg.Submit(ctx, registry.SubmitRequest{Title: "Gate", Category: models.CategorySecurity, Location: models.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)
	tech := "t1"
	err = transition(ctx, reg, c.ID, models.StatusAssigned, &tech)
	require.NoError(t, err)
	err = transition(ctx, reg, c.ID, models.StatusResolved, nil)
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	assert.Empty(t, m.Check(ctx))
	assert.Equal(t, 0, sink.len())
}

func TestBreachCarriesTechnician(t *testing.T) {
	reg, m, sink, now := setup(t)
	ctx := context.Background()
	c, err := reg.Submit(ctx, registry.SubmitRequest{Title: "Lift stuck", Category: models.CategoryElevator, Location: models.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)
	tech := "t9"
	err = transition(ctx, reg, c.ID, models.StatusAssigned, &tech)
	require.NoError(t, err)

	*now = now.Add(5 * time.Hour)
	require.Len(t, m.Check(ctx), 1)
	assert.Equal(t, "t9", sink.events[0].TechnicianID)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, m, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

// strictSink refuses events once the caller's context is done.
type strictSink struct{ counter }

func (s *strictSink) Notify(ctx context.Context, e notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.counter.Notify(ctx, e)
}

func TestBreachReportedWhenCheckContextCancelled(t *testing.T) {
	reg, m, _, now := setup(t)
	sink := &strictSink{}
	m.notifier = sink
	_, err := reg.Submit(context.Background(), registry.SubmitRequest{Title: "Gate open", Category: models.CategorySecurity, Location: models.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)

	*now = now.Add(3 * time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Len(t, m.Check(ctx), 1)
	assert.Equal(t, 1, sink.len())
}

func transition(ctx context.Context, reg *registry.Registry, id string, to models.Status, technicianID *string) error {
	_, persist, err := reg.TransitionDeferred(id, to, "", technicianID)
	if err != nil {
		return err
	}
	persist(ctx)
	return nil
}
