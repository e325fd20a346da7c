package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/qrtable/database"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

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

func seedRestaurant(t *testing.T, db *gorm.DB, username string) models.Restaurant {
	t.Helper()
	r := models.Restaurant{Username: username, Name: "Warung " + username}
	require.NoError(t, db.Create(&r).Error)
	return r
}

// testApp bundles real services over an in-memory database with a hub whose sinks the tests
// can read.
type testApp struct {
	db       *gorm.DB
	hub      *kds.Hub
	sessions *services.SessionService
	orders   *services.OrderService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db := setupTestDB(t)
	hub := kds.NewHub(kds.NewRegistry(), kds.ScopeAll)
	return &testApp{
		db:       db,
		hub:      hub,
		sessions: services.NewSessionService(database.NewSessionStore(db), hub, services.DefaultSessionConfig()),
		orders:   services.NewOrderService(db, hub, services.OrderConfig{}),
	}
}

// listen registers a stream sink on the hub, standing in for a dashboard.
func (a *testApp) listen(t *testing.T) *kds.StreamSink {
	t.Helper()
	sink := kds.NewStreamSink(32)
	a.hub.Registry().Subscribe(uuid.NewString(), sink)
	return sink
}

func nextEvent(t *testing.T, sink *kds.StreamSink) kds.Event {
	t.Helper()
	select {
	case payload := <-sink.Messages():
		var evt kds.Event
		require.NoError(t, json.Unmarshal(payload, &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return kds.Event{}
	}
}

// asStaff replaces the JWT middleware with fixed claims.
func asStaff(role, restaurantID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middlewares.ContextUserID, "staff-1")
		c.Set(middlewares.ContextRole, role)
		c.Set(middlewares.ContextRestaurantID, restaurantID)
		c.Next()
	}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}
