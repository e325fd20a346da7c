package services

import "github.com/yeremiapane/qrtable/models"

var orderTransitions = map[string][]string{
	models.OrderStatusPending:   {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:     {models.OrderStatusCompleted, models.OrderStatusCancelled},
}

// ValidOrderTransition reports whether an order may move from one status to another. Repeating
// the current status is allowed.
func ValidOrderTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, status := range orderTransitions[from] {
		if status == to {
			return true
		}
	}
	return false
}
