package kds

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/qrtable/utils"
)

// Event types
const (
	EventConnected        = "connected"
	EventNewOrder         = "new_order"
	EventOrderUpdate      = "order_update"
	EventWaiterCall       = "waiter_call"
	EventServiceRequest   = "service_request"
	EventTableOccupied    = "table_occupied"
	EventTableCleared     = "table_cleared"
	EventSessionRefreshed = "table_session_refreshed"
	EventOrdersReset      = "orders_reset"
)

// Scope decides who receives PublishToRestaurant events.
type Scope string

const (
	// ScopeAll sends every event to every dashboard (shared operations console).
	ScopeAll Scope = "all"
	// ScopeRestaurant skips dashboards tagged with a different restaurant.
	ScopeRestaurant Scope = "restaurant"
)

func ParseScope(s string) Scope {
	if Scope(s) == ScopeRestaurant {
		return ScopeRestaurant
	}
	return ScopeAll
}

type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans events out to every sink in its registry. Delivery is best effort to whoever is
// connected at the moment of publishing; nothing is buffered for later subscribers.
type Hub struct {
	registry *Registry
	scope    Scope
	now      func() time.Time
}

func NewHub(registry *Registry, scope Scope) *Hub {
	return &Hub{
		registry: registry,
		scope:    scope,
		now:      time.Now,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Publish broadcasts to every registered sink and returns how many accepted the event.
func (h *Hub) Publish(eventType string, data interface{}) int {
	return h.deliver("", eventType, data)
}

// PublishToRestaurant adds restaurant_id to the payload before broadcasting.
func (h *Hub) PublishToRestaurant(restaurantID, eventType string, data interface{}) int {
	return h.deliver(restaurantID, eventType, withRestaurant(restaurantID, data))
}

// Greet sends the connected event to a single, freshly registered subscriber.
func (h *Hub) Greet(connectionID string) bool {
	s, ok := h.registry.lookup(connectionID)
	if !ok {
		return false
	}
	payload, err := h.encode(EventConnected, map[string]interface{}{
		"connection_id": connectionID,
		"subscribers":   h.registry.Count(),
	})
	if err != nil {
		return false
	}
	return h.push(s, EventConnected, payload)
}

func (h *Hub) deliver(restaurantID, eventType string, data interface{}) int {
	payload, err := h.encode(eventType, data)
	if err != nil {
		utils.ErrorLogger.WithField("event", eventType).Errorf("Error marshaling event: %v", err)
		return 0
	}

	subscribers := h.registry.snapshot()
	delivered := 0
	for _, s := range subscribers {
		if !h.accepts(s, restaurantID) {
			continue
		}
		if h.push(s, eventType, payload) {
			delivered++
		}
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"event":      eventType,
		"restaurant": restaurantID,
		"delivered":  delivered,
		"registered": len(subscribers),
	}).Debug("event broadcast")
	return delivered
}

func (h *Hub) encode(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) push(s subscriber, eventType string, payload []byte) bool {
	if err := s.sink.Push(payload); err != nil {
		if h.registry.prune(s) {
			utils.InfoLogger.WithFields(logrus.Fields{
				"connection": s.connectionID,
				"event":      eventType,
			}).Warnf("dropping dashboard after failed push: %v", err)
		}
		return false
	}
	return true
}

func (h *Hub) accepts(s subscriber, restaurantID string) bool {
	if h.scope != ScopeRestaurant || restaurantID == "" || s.restaurantID == "" {
		return true
	}
	return s.restaurantID == restaurantID
}

func withRestaurant(restaurantID string, data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		merged := make(map[string]interface{}, len(v)+1)
		for k, val := range v {
			merged[k] = val
		}
		merged["restaurant_id"] = restaurantID
		return merged
	case nil:
		return map[string]interface{}{"restaurant_id": restaurantID}
	default:
		return map[string]interface{}{
			"restaurant_id": restaurantID,
			"payload":       v,
		}
	}
}
