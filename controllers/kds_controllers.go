package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/utils"
)

// KDSController serves the staff dashboards' live event streams.
type KDSController struct {
	Hub *kds.Hub
	// Keepalive is the interval between SSE comment frames.
	Keepalive time.Duration
	// Buffer is how many events an SSE client may fall behind before it is dropped.
	Buffer   int
	upgrader websocket.Upgrader
}

// NewKDSController accepts websocket upgrades from allowedOrigin, or from anywhere when it is
// empty or "*".
func NewKDSController(hub *kds.Hub, allowedOrigin string) *KDSController {
	return &KDSController{
		Hub:       hub,
		Keepalive: 30 * time.Second,
		Buffer:    64,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// DashboardSocket -> endpoint WebSocket
func (kc *KDSController) DashboardSocket(c *gin.Context) {
	ws, err := kc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.InfoLogger.WithField("ip", c.ClientIP()).Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	sink := kds.NewWSSink(ws)
	connectionID := kc.subscribe(c, "websocket", sink)
	defer kc.unsubscribe(connectionID)

	// Pump returns on the first read error, which is how a disconnect shows up.
	sink.Pump()
}

// DashboardStream -> endpoint Server-Sent Events
func (kc *KDSController) DashboardStream(c *gin.Context) {
	sink := kds.NewStreamSink(kc.Buffer)
	defer sink.Close()

	c.Writer.Header().Set("Content-Type", sse.ContentType)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	connectionID := kc.subscribe(c, "sse", sink)
	defer kc.unsubscribe(connectionID)

	keepalive := time.NewTicker(kc.Keepalive)
	defer keepalive.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case payload, ok := <-sink.Messages():
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Event: eventName(payload), Data: string(payload)}); err != nil {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
		}
		c.Writer.Flush()
	}
}

func (kc *KDSController) subscribe(c *gin.Context, transport string, sink kds.Sink) string {
	connectionID := uuid.NewString()
	restaurantID := c.GetString(middlewares.ContextRestaurantID)

	kc.Hub.Registry().SubscribeScoped(connectionID, restaurantID, sink)
	kc.Hub.Greet(connectionID)

	utils.InfoLogger.WithFields(logrus.Fields{
		"connection": connectionID,
		"transport":  transport,
		"role":       c.GetString(middlewares.ContextRole),
		"restaurant": restaurantID,
	}).Info("dashboard connected")
	return connectionID
}

func (kc *KDSController) unsubscribe(connectionID string) {
	kc.Hub.Registry().Unsubscribe(connectionID)
	utils.InfoLogger.WithField("connection", connectionID).Info("dashboard disconnected")
}

// eventName names the SSE frame after the envelope type so browsers can addEventListener on it.
func eventName(payload []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Type == "" {
		return "message"
	}
	return envelope.Type
}
