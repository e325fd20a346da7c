package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
)

const testRestaurant = "4b1c2a9e-7f7e-4d8e-9a55-0d2d4b8f1c11"

type sessionFixture struct {
	svc    *SessionService
	store  *memoryStore
	events *recordingPublisher
	clock  *time.Time
}

func newSessionFixture(cfg SessionConfig) *sessionFixture {
	store := &memoryStore{restaurants: []models.Restaurant{
		{ID: testRestaurant, Username: "warungbiru", Name: "Warung Biru"},
	}}
	events := &recordingPublisher{}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewSessionService(store, events, cfg)
	f := &sessionFixture{svc: svc, store: store, events: events, clock: &clock}
	svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *sessionFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestGenerateCreatesPermanentSessionByDefault(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())

	got, err := f.svc.Generate(context.Background(), testRestaurant, 7, 2, models.CreatedByWaiter)
	require.NoError(t, err)

	assert.NotEmpty(t, got.Token)
	assert.False(t, got.Reused)
	assert.Equal(t, 7, got.TableNumber)
	assert.Equal(t, f.clock.Add(10*365*24*time.Hour), got.ExpiresAt)
	assert.Equal(t, []string{kds.EventTableOccupied}, f.events.types())
	assert.Equal(t, testRestaurant, f.events.last().restaurantID)
}

func TestGenerateHonorsDurationWhenConfigured(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.CreateHonorsDuration = true
	f := newSessionFixture(cfg)

	got, err := f.svc.Generate(context.Background(), testRestaurant, 7, 3, "")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(3*time.Hour), got.ExpiresAt)

	got, err = f.svc.Generate(context.Background(), testRestaurant, 8, 0, "")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(24*time.Hour), got.ExpiresAt, "zero hours falls back to the default duration")
}

func TestGenerateReusesActiveSession(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, testRestaurant, 3, 2, models.CreatedByWaiter)
	require.NoError(t, err)

	f.advance(30 * time.Minute)
	second, err := f.svc.Generate(ctx, testRestaurant, 3, 2, models.CreatedByWaiter)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, f.clock.Add(2*time.Hour), second.ExpiresAt)
	assert.Equal(t, 1, f.store.activeCount(testRestaurant, 3))
	assert.Equal(t, 1, f.store.creates)
	assert.Equal(t, []string{kds.EventTableOccupied}, f.events.types(), "reuse is not a new occupation")
}

func TestGenerateReplacesExpiredSession(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.CreateHonorsDuration = true
	f := newSessionFixture(cfg)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, testRestaurant, 3, 1, "")
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	second, err := f.svc.Generate(ctx, testRestaurant, 3, 1, "")
	require.NoError(t, err)

	assert.False(t, second.Reused)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 1, f.store.activeCount(testRestaurant, 3), "the stale session is deactivated")
}

func TestGenerateValidation(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	tests := []struct {
		name       string
		restaurant string
		table      int
		hours      int
	}{
		{"missing restaurant", " ", 1, 1},
		{"zero table", testRestaurant, 0, 1},
		{"negative hours", testRestaurant, 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Generate(ctx, tt.restaurant, tt.table, tt.hours, "")
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.store.creates)
}

func TestGenerateRequiresKnownRestaurant(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	for _, restaurant := range []string{"9d0c3f55-1111-4b7a-8c1e-3f7d2a6b9e00", "not-a-restaurant"} {
		_, err := f.svc.Generate(ctx, restaurant, 4, 2, models.CreatedByWaiter)
		assert.ErrorIs(t, err, utils.ErrNotFound, restaurant)
	}
	assert.Equal(t, 0, f.store.creates)
	assert.Empty(t, f.events.types())

	got, err := f.svc.Generate(ctx, "warungbiru", 4, 2, models.CreatedByWaiter)
	require.NoError(t, err, "the public username works too")
	assert.Equal(t, testRestaurant, got.RestaurantID)

	view, err := f.svc.Verify(ctx, got.Token)
	require.NoError(t, err)
	assert.Equal(t, testRestaurant, view.RestaurantID)
}

func TestGenerateDoesNotHoldTableLockWhilePublishing(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	events := newGatedPublisher(t)
	f.svc.events = events
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(ctx, testRestaurant, 5, 2, models.CreatedByWaiter)
		first <- err
	}()
	require.Equal(t, kds.EventTableOccupied, events.waitEntered(t))

	// The first call is stuck delivering table_occupied; the table itself must stay usable.
	type result struct {
		got *GeneratedSession
		err error
	}
	second := make(chan result, 1)
	go func() {
		got, err := f.svc.Generate(ctx, testRestaurant, 5, 2, models.CreatedByWaiter)
		second <- result{got, err}
	}()
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.True(t, r.got.Reused)
	case <-time.After(2 * time.Second):
		t.Fatal("second Generate waited for the first one's fan-out")
	}

	events.open()
	require.NoError(t, <-first)
}

func TestGenerateRetriesTokenCollision(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, testRestaurant, 1, 0, "")
	require.NoError(t, err)

	tokens := []string{first.Token, "fresh-token"}
	f.svc.newToken = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}
	second, err := f.svc.Generate(ctx, testRestaurant, 2, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", second.Token)
}

func TestGenerateConcurrentCallsShareOneSession(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	const callers = 16
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.svc.Generate(ctx, testRestaurant, 5, 2, models.CreatedByWaiter)
			if assert.NoError(t, err) {
				tokens[i] = got.Token
			}
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.Equal(t, 1, f.store.activeCount(testRestaurant, 5))
	assert.Equal(t, 1, f.store.creates)
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestVerify(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	got, err := f.svc.Generate(ctx, testRestaurant, 4, 0, "")
	require.NoError(t, err)
	f.store.rows[0].Restaurant = &models.Restaurant{ID: testRestaurant, Name: "Warung Biru", Username: "warungbiru"}

	view, err := f.svc.Verify(ctx, got.Token)
	require.NoError(t, err)
	assert.Equal(t, testRestaurant, view.RestaurantID)
	assert.Equal(t, "Warung Biru", view.RestaurantName)
	assert.Equal(t, "warungbiru", view.RestaurantUsername)
	assert.Equal(t, 4, view.TableNumber)
	assert.True(t, view.IsActive)
	assert.False(t, view.Expired)
	assert.Equal(t, int64(10*365*24*3600), view.RemainingSeconds)

	require.NotNil(t, f.store.rows[0].UsedAt)
	assert.Equal(t, *f.clock, *f.store.rows[0].UsedAt)
}

func TestVerifyUnknownAndEmptyToken(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())

	_, err := f.svc.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = f.svc.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestVerifyExpiredSession(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.CreateHonorsDuration = true
	f := newSessionFixture(cfg)
	ctx := context.Background()

	got, err := f.svc.Generate(ctx, testRestaurant, 4, 1, "")
	require.NoError(t, err)
	f.advance(90 * time.Minute)

	view, err := f.svc.Verify(ctx, got.Token)
	require.NoError(t, err, "expiry is informational unless enforced")
	assert.True(t, view.Expired)
	assert.Zero(t, view.RemainingSeconds)

	f.svc.cfg.VerifyEnforcesExpiry = true
	_, err = f.svc.Verify(ctx, got.Token)
	assert.ErrorIs(t, err, utils.ErrDeactivated)
}

func TestDeactivationIsTerminalForVerify(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	got, err := f.svc.Generate(ctx, testRestaurant, 9, 0, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeactivateByToken(ctx, got.Token))

	_, err = f.svc.Verify(ctx, got.Token)
	assert.ErrorIs(t, err, utils.ErrDeactivated)
	assert.False(t, errors.Is(err, utils.ErrNotFound))

	// Deactivating twice is a no-op and announces nothing new.
	require.NoError(t, f.svc.DeactivateByToken(ctx, got.Token))
	assert.Equal(t, []string{kds.EventTableOccupied, kds.EventTableCleared}, f.events.types())
}

func TestRefreshReactivates(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	got, err := f.svc.Generate(ctx, testRestaurant, 2, 0, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeactivateByToken(ctx, got.Token))

	f.advance(time.Hour)
	expiresAt, err := f.svc.Refresh(ctx, got.Token, 4)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(4*time.Hour), expiresAt)

	view, err := f.svc.Verify(ctx, got.Token)
	require.NoError(t, err)
	assert.True(t, view.IsActive)
	assert.Equal(t, kds.EventSessionRefreshed, f.events.last().eventType)
}

func TestRefreshErrors(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "missing", 1)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = f.svc.Refresh(ctx, "missing", -2)
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestDeactivateByTable(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	ctx := context.Background()

	got, err := f.svc.Generate(ctx, testRestaurant, 6, 0, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeactivateByTable(ctx, testRestaurant, 6))
	assert.Equal(t, 0, f.store.activeCount(testRestaurant, 6))

	ev := f.events.last()
	assert.Equal(t, kds.EventTableCleared, ev.eventType)
	assert.Equal(t, map[string]interface{}{"table_number": 6}, ev.data)

	err = f.svc.DeactivateByTable(ctx, testRestaurant, 6)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = f.svc.Verify(ctx, got.Token)
	assert.ErrorIs(t, err, utils.ErrDeactivated)

	err = f.svc.DeactivateByTable(ctx, "", 6)
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestSweepExpired(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.CreateHonorsDuration = true
	f := newSessionFixture(cfg)
	ctx := context.Background()

	for table := 1; table <= 3; table++ {
		_, err := f.svc.Generate(ctx, testRestaurant, table, table, "")
		require.NoError(t, err)
	}
	f.advance(150 * time.Minute)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, f.store.activeCount(testRestaurant, 3))
}

func TestStoreFailuresPropagate(t *testing.T) {
	f := newSessionFixture(DefaultSessionConfig())
	f.store.failWith = fmt.Errorf("%w: connection refused", utils.ErrUpstreamUnavailable)

	_, err := f.svc.Generate(context.Background(), testRestaurant, 1, 0, "")
	assert.ErrorIs(t, err, utils.ErrUpstreamUnavailable)

	_, err = f.svc.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, utils.ErrUpstreamUnavailable)
	assert.Empty(t, f.events.types())
}

func TestTokensAreURLSafeAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := generateToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.NotContains(t, tok, "+")
		assert.NotContains(t, tok, "/")
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}
