package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/utils"
)

// NotificationController turns customer calls and staff announcements into dashboard events.
type NotificationController struct {
	Hub *kds.Hub
}

func NewNotificationController(hub *kds.Hub) *NotificationController {
	return &NotificationController{Hub: hub}
}

type tableCall struct {
	RestaurantID string `json:"restaurant_id" binding:"required"`
	TableNumber  int    `json:"table_number" binding:"required,gt=0"`
	RequestType  string `json:"request_type"`
	Message      string `json:"message"`
}

// CallWaiter -> customer presses "call waiter"
func (nc *NotificationController) CallWaiter(c *gin.Context) {
	var req tableCall
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	delivered := nc.Hub.PublishToRestaurant(req.RestaurantID, kds.EventWaiterCall, map[string]interface{}{
		"table_number": req.TableNumber,
		"message":      req.Message,
		"timestamp":    time.Now().UTC(),
	})
	nc.logCall(kds.EventWaiterCall, req, delivered)
	utils.RespondJSON(c, http.StatusAccepted, "Waiter has been called", gin.H{"delivered": delivered})
}

// RequestService -> customer asks for the bill, water, cutlery...
func (nc *NotificationController) RequestService(c *gin.Context) {
	var req tableCall
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.RequestType) == "" {
		utils.RespondAppError(c, fmt.Errorf("%w: request_type is required", utils.ErrValidation))
		return
	}

	delivered := nc.Hub.PublishToRestaurant(req.RestaurantID, kds.EventServiceRequest, map[string]interface{}{
		"table_number": req.TableNumber,
		"request_type": req.RequestType,
		"message":      req.Message,
		"timestamp":    time.Now().UTC(),
	})
	nc.logCall(kds.EventServiceRequest, req, delivered)
	utils.RespondJSON(c, http.StatusAccepted, "Service request sent", gin.H{"delivered": delivered})
}

// PublishEvent lets other staff tools push an arbitrary event to the dashboards.
func (nc *NotificationController) PublishEvent(c *gin.Context) {
	var req struct {
		Type         string      `json:"type" binding:"required"`
		RestaurantID string      `json:"restaurant_id"`
		Data         interface{} `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if req.RestaurantID == "" {
		// Restaurant-bound staff always publish for their own restaurant.
		req.RestaurantID = c.GetString(middlewares.ContextRestaurantID)
	}
	if err := authorizeRestaurant(c, req.RestaurantID); err != nil {
		utils.RespondAppError(c, err)
		return
	}

	var delivered int
	if req.RestaurantID == "" {
		delivered = nc.Hub.Publish(req.Type, req.Data)
	} else {
		delivered = nc.Hub.PublishToRestaurant(req.RestaurantID, req.Type, req.Data)
	}
	utils.RespondJSON(c, http.StatusAccepted, "Event published", gin.H{"delivered": delivered})
}

func (nc *NotificationController) SubscriberCount(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Connected dashboards", gin.H{"count": nc.Hub.Registry().Count()})
}

func (nc *NotificationController) logCall(event string, req tableCall, delivered int) {
	utils.InfoLogger.WithFields(logrus.Fields{
		"event":      event,
		"restaurant": req.RestaurantID,
		"table":      req.TableNumber,
		"delivered":  delivered,
	}).Info("table call")
}
