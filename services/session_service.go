package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
)

// SessionStore persists table sessions. Lookups that find nothing return an error wrapping
// utils.ErrNotFound.
type SessionStore interface {
	FindRestaurant(ctx context.Context, identifier string) (*models.Restaurant, error)
	FindByToken(ctx context.Context, token string) (*models.TableSession, error)
	FindActiveForTable(ctx context.Context, restaurantID string, tableNumber int, now time.Time) (*models.TableSession, error)
	FindLatestActiveForTable(ctx context.Context, restaurantID string, tableNumber int) (*models.TableSession, error)
	Create(ctx context.Context, session *models.TableSession) error
	Save(ctx context.Context, session *models.TableSession) error
	TouchUsedAt(ctx context.Context, id string, at time.Time) error
	DeactivateActiveForTable(ctx context.Context, restaurantID string, tableNumber int) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionConfig struct {
	// DefaultDuration applies when a caller passes zero hours.
	DefaultDuration time.Duration
	// InitialHorizon is the lifetime of a freshly minted session ("permanent" QR codes).
	InitialHorizon time.Duration
	// CreateHonorsDuration makes new sessions use the requested duration instead of InitialHorizon.
	CreateHonorsDuration bool
	// VerifyEnforcesExpiry rejects expired sessions on Verify. Off by default: expiry is informational.
	VerifyEnforcesExpiry bool
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DefaultDuration: 24 * time.Hour,
		InitialHorizon:  10 * 365 * 24 * time.Hour,
	}
}

const tokenBytes = 32

// GeneratedSession is what the waiter app gets back when opening a table.
type GeneratedSession struct {
	Token        string    `json:"token"`
	RestaurantID string    `json:"restaurant_id"`
	TableNumber  int       `json:"table_number"`
	ExpiresAt    time.Time `json:"expires_at"`
	Reused       bool      `json:"reused"`
}

// SessionView is what the customer app needs to load the menu for a table.
type SessionView struct {
	RestaurantID       string    `json:"restaurant_id"`
	RestaurantName     string    `json:"restaurant_name,omitempty"`
	RestaurantUsername string    `json:"restaurant_username,omitempty"`
	TableNumber        int       `json:"table_number"`
	ExpiresAt          time.Time `json:"expires_at"`
	RemainingSeconds   int64     `json:"remaining_seconds"`
	IsActive           bool      `json:"is_active"`
	Expired            bool      `json:"expired"`
}

// SessionService owns the table-session lifecycle: generate, verify, refresh, deactivate, sweep.
// Generate, Refresh and DeactivateByTable are serialised per table within this process.
type SessionService struct {
	store    SessionStore
	events   EventPublisher
	cfg      SessionConfig
	locks    *keyedMutex
	now      func() time.Time
	newToken func() (string, error)
}

func NewSessionService(store SessionStore, events EventPublisher, cfg SessionConfig) *SessionService {
	if events == nil {
		events = noopPublisher{}
	}
	defaults := DefaultSessionConfig()
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaults.DefaultDuration
	}
	if cfg.InitialHorizon <= 0 {
		cfg.InitialHorizon = defaults.InitialHorizon
	}
	return &SessionService{
		store:    store,
		events:   events,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: generateToken,
	}
}

// Generate opens a session for the table, or extends and returns the one that is still valid.
// restaurant may be the restaurant id or its public username.
func (s *SessionService) Generate(ctx context.Context, restaurant string, tableNumber, durationHours int, createdBy string) (*GeneratedSession, error) {
	restaurant = strings.TrimSpace(restaurant)
	if restaurant == "" {
		return nil, fmt.Errorf("%w: restaurant_id is required", utils.ErrValidation)
	}
	if tableNumber <= 0 {
		return nil, fmt.Errorf("%w: table_number must be positive", utils.ErrValidation)
	}
	duration, err := s.duration(durationHours)
	if err != nil {
		return nil, err
	}
	if createdBy == "" {
		createdBy = models.CreatedBySystem
	}

	owner, err := s.store.FindRestaurant(ctx, restaurant)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tableKey(owner.ID, tableNumber))
	generated, err := s.open(ctx, owner.ID, tableNumber, duration, createdBy)
	unlock()
	if err != nil {
		return nil, err
	}

	if !generated.Reused {
		s.events.PublishToRestaurant(owner.ID, kds.EventTableOccupied, map[string]interface{}{
			"table_number": tableNumber,
			"created_by":   createdBy,
			"expires_at":   generated.ExpiresAt,
		})
	}
	return generated, nil
}

// open does the lookup-then-create part of Generate. Callers hold the table lock.
func (s *SessionService) open(ctx context.Context, restaurantID string, tableNumber int, duration time.Duration, createdBy string) (*GeneratedSession, error) {
	now := s.now()
	existing, err := s.store.FindActiveForTable(ctx, restaurantID, tableNumber, now)
	switch {
	case err == nil:
		existing.ExpiresAt = now.Add(duration)
		if err := s.store.Save(ctx, existing); err != nil {
			return nil, err
		}
		s.logger(restaurantID, tableNumber).Info("reusing active table session")
		return &GeneratedSession{
			Token:        existing.Token,
			RestaurantID: restaurantID,
			TableNumber:  tableNumber,
			ExpiresAt:    existing.ExpiresAt,
			Reused:       true,
		}, nil
	case !errors.Is(err, utils.ErrNotFound):
		return nil, err
	}

	stale, err := s.store.DeactivateActiveForTable(ctx, restaurantID, tableNumber)
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		s.logger(restaurantID, tableNumber).WithField("count", stale).Warn("deactivated stale table sessions")
	}

	expiresAt := now.Add(s.cfg.InitialHorizon)
	if s.cfg.CreateHonorsDuration {
		expiresAt = now.Add(duration)
	}
	session := &models.TableSession{
		RestaurantID: restaurantID,
		TableNumber:  tableNumber,
		IsActive:     true,
		ExpiresAt:    expiresAt,
		CreatedBy:    createdBy,
	}
	if err := s.create(ctx, session); err != nil {
		return nil, err
	}
	s.logger(restaurantID, tableNumber).WithField("created_by", createdBy).Info("table session opened")

	return &GeneratedSession{
		Token:        session.Token,
		RestaurantID: restaurantID,
		TableNumber:  tableNumber,
		ExpiresAt:    expiresAt,
	}, nil
}

// create retries once on a token collision before giving up with a conflict.
func (s *SessionService) create(ctx context.Context, session *models.TableSession) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		session.ID = ""
		session.Token, err = s.newToken()
		if err != nil {
			return err
		}
		err = s.store.Create(ctx, session)
		if err == nil || !errors.Is(err, utils.ErrConflict) {
			return err
		}
		utils.InfoLogger.Warn("table session token collision, retrying")
	}
	return err
}

// Verify checks a customer's token and records the visit.
func (s *SessionService) Verify(ctx context.Context, token string) (*SessionView, error) {
	session, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, fmt.Errorf("%w: table code is no longer valid", utils.ErrDeactivated)
	}

	now := s.now()
	expired := session.Expired(now)
	if expired && s.cfg.VerifyEnforcesExpiry {
		return nil, fmt.Errorf("%w: table code expired", utils.ErrDeactivated)
	}
	if err := s.store.TouchUsedAt(ctx, session.ID, now); err != nil {
		return nil, err
	}

	view := &SessionView{
		RestaurantID: session.RestaurantID,
		TableNumber:  session.TableNumber,
		ExpiresAt:    session.ExpiresAt,
		IsActive:     true,
		Expired:      expired,
	}
	if !expired {
		view.RemainingSeconds = int64(session.ExpiresAt.Sub(now) / time.Second)
	}
	if session.Restaurant != nil {
		view.RestaurantName = session.Restaurant.Name
		view.RestaurantUsername = session.Restaurant.Username
	}
	return view, nil
}

// Refresh extends a session from now and always reactivates it.
func (s *SessionService) Refresh(ctx context.Context, token string, durationHours int) (time.Time, error) {
	duration, err := s.duration(durationHours)
	if err != nil {
		return time.Time{}, err
	}
	session, err := s.byToken(ctx, token)
	if err != nil {
		return time.Time{}, err
	}

	unlock := s.locks.Lock(tableKey(session.RestaurantID, session.TableNumber))
	session.ExpiresAt = s.now().Add(duration)
	session.IsActive = true
	err = s.store.Save(ctx, session)
	unlock()
	if err != nil {
		return time.Time{}, err
	}

	s.events.PublishToRestaurant(session.RestaurantID, kds.EventSessionRefreshed, map[string]interface{}{
		"table_number": session.TableNumber,
		"expires_at":   session.ExpiresAt,
	})
	return session.ExpiresAt, nil
}

func (s *SessionService) DeactivateByToken(ctx context.Context, token string) error {
	session, err := s.byToken(ctx, token)
	if err != nil {
		return err
	}
	return s.deactivate(ctx, session)
}

// DeactivateByTable clears the most recently created active session of a table.
func (s *SessionService) DeactivateByTable(ctx context.Context, restaurantID string, tableNumber int) error {
	if restaurantID == "" || tableNumber <= 0 {
		return fmt.Errorf("%w: restaurant_id and table_number are required", utils.ErrValidation)
	}

	unlock := s.locks.Lock(tableKey(restaurantID, tableNumber))
	session, err := s.store.FindLatestActiveForTable(ctx, restaurantID, tableNumber)
	if err != nil {
		unlock()
		if errors.Is(err, utils.ErrNotFound) {
			return fmt.Errorf("%w: no active session for table %d", utils.ErrNotFound, tableNumber)
		}
		return err
	}
	err = s.close(ctx, session)
	unlock()
	if err != nil {
		return err
	}
	s.announceCleared(session)
	return nil
}

func (s *SessionService) deactivate(ctx context.Context, session *models.TableSession) error {
	if !session.IsActive {
		return nil
	}
	if err := s.close(ctx, session); err != nil {
		return err
	}
	s.announceCleared(session)
	return nil
}

func (s *SessionService) close(ctx context.Context, session *models.TableSession) error {
	session.IsActive = false
	return s.store.Save(ctx, session)
}

func (s *SessionService) announceCleared(session *models.TableSession) {
	s.logger(session.RestaurantID, session.TableNumber).Info("table session closed")
	s.events.PublishToRestaurant(session.RestaurantID, kds.EventTableCleared, map[string]interface{}{
		"table_number": session.TableNumber,
	})
}

// SweepExpired deactivates every active session whose expiry has passed.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.store.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		utils.InfoLogger.WithField("count", count).Info("expired table sessions deactivated")
	}
	return count, nil
}

func (s *SessionService) byToken(ctx context.Context, token string) (*models.TableSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", utils.ErrValidation)
	}
	session, err := s.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, fmt.Errorf("%w: table code does not exist", utils.ErrNotFound)
		}
		return nil, err
	}
	return session, nil
}

func (s *SessionService) duration(hours int) (time.Duration, error) {
	switch {
	case hours < 0:
		return 0, fmt.Errorf("%w: duration_hours cannot be negative", utils.ErrValidation)
	case hours == 0:
		return s.cfg.DefaultDuration, nil
	default:
		return time.Duration(hours) * time.Hour, nil
	}
}

func (s *SessionService) logger(restaurantID string, tableNumber int) *logrus.Entry {
	return utils.InfoLogger.WithFields(logrus.Fields{
		"restaurant": restaurantID,
		"table":      tableNumber,
	})
}

func tableKey(restaurantID string, tableNumber int) string {
	return fmt.Sprintf("%s/%d", restaurantID, tableNumber)
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
