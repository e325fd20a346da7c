package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/qrtable/database"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryStore is an in-memory SessionStore that copies rows in and out like a database would.
type memoryStore struct {
	mu          sync.Mutex
	restaurants []models.Restaurant
	rows        []*models.TableSession
	creates     int
	failWith    error
}

func (m *memoryStore) FindRestaurant(_ context.Context, identifier string) (*models.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, r := range m.restaurants {
		if r.ID == identifier || r.Username == identifier {
			found := r
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: restaurant %q", utils.ErrNotFound, identifier)
}

func (m *memoryStore) find(match func(*models.TableSession) bool) (*models.TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for i := len(m.rows) - 1; i >= 0; i-- {
		if match(m.rows[i]) {
			row := *m.rows[i]
			return &row, nil
		}
	}
	return nil, fmt.Errorf("%w: session", utils.ErrNotFound)
}

func (m *memoryStore) FindByToken(_ context.Context, token string) (*models.TableSession, error) {
	return m.find(func(s *models.TableSession) bool { return s.Token == token })
}

func (m *memoryStore) FindActiveForTable(_ context.Context, restaurantID string, tableNumber int, now time.Time) (*models.TableSession, error) {
	return m.find(func(s *models.TableSession) bool {
		return s.RestaurantID == restaurantID && s.TableNumber == tableNumber && s.IsActive && s.ExpiresAt.After(now)
	})
}

func (m *memoryStore) FindLatestActiveForTable(_ context.Context, restaurantID string, tableNumber int) (*models.TableSession, error) {
	return m.find(func(s *models.TableSession) bool {
		return s.RestaurantID == restaurantID && s.TableNumber == tableNumber && s.IsActive
	})
}

func (m *memoryStore) Create(_ context.Context, session *models.TableSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for _, row := range m.rows {
		if row.Token == session.Token {
			return fmt.Errorf("%w: duplicate token", utils.ErrConflict)
		}
	}
	m.creates++
	session.ID = fmt.Sprintf("session-%d", m.creates)
	row := *session
	m.rows = append(m.rows, &row)
	return nil
}

func (m *memoryStore) Save(_ context.Context, session *models.TableSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for i, row := range m.rows {
		if row.ID == session.ID {
			saved := *session
			m.rows[i] = &saved
			return nil
		}
	}
	return fmt.Errorf("%w: session %s", utils.ErrNotFound, session.ID)
}

func (m *memoryStore) TouchUsedAt(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			used := at
			row.UsedAt = &used
			return nil
		}
	}
	return fmt.Errorf("%w: session %s", utils.ErrNotFound, id)
}

func (m *memoryStore) DeactivateActiveForTable(_ context.Context, restaurantID string, tableNumber int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.RestaurantID == restaurantID && row.TableNumber == tableNumber && row.IsActive {
			row.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.IsActive && row.ExpiresAt.Before(now) {
			row.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) activeCount(restaurantID string, tableNumber int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if row.RestaurantID == restaurantID && row.TableNumber == tableNumber && row.IsActive {
			n++
		}
	}
	return n
}

type publishedEvent struct {
	restaurantID string
	eventType    string
	data         interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingPublisher) PublishToRestaurant(restaurantID, eventType string, data interface{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{restaurantID, eventType, data})
	return 1
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

func (r *recordingPublisher) last() publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// gatedPublisher parks every publish until released, standing in for a dashboard that stopped
// reading.
type gatedPublisher struct {
	entered chan string
	release chan struct{}
	once    sync.Once
}

func newGatedPublisher(t *testing.T) *gatedPublisher {
	g := &gatedPublisher{entered: make(chan string, 8), release: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *gatedPublisher) PublishToRestaurant(_, eventType string, _ interface{}) int {
	g.entered <- eventType
	<-g.release
	return 1
}

func (g *gatedPublisher) open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gatedPublisher) waitEntered(t *testing.T) string {
	t.Helper()
	select {
	case eventType := <-g.entered:
		return eventType
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was published")
		return ""
	}
}

// setupTestDB opens a private in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}
