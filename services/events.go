package services

// EventPublisher is the part of the dashboard hub the services need.
type EventPublisher interface {
	PublishToRestaurant(restaurantID, eventType string, data interface{}) int
}

type noopPublisher struct{}

func (noopPublisher) PublishToRestaurant(string, string, interface{}) int { return 0 }
