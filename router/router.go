package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/qrtable/controllers"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/services"
	"gorm.io/gorm"
)

// Dependencies is everything the HTTP layer needs. DB may be nil when the process started
// without a database; the services then answer 503 on their own.
type Dependencies struct {
	DB         *gorm.DB
	Hub        *kds.Hub
	Sessions   *services.SessionService
	Orders     *services.OrderService
	CORSOrigin string
	// VerifyEvery and VerifyBurst bound how fast one IP may try table codes.
	VerifyEvery time.Duration
	VerifyBurst int
	// SSEKeepalive overrides the 30s default, mostly for tests.
	SSEKeepalive time.Duration
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(deps.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware())

	healthCtrl := controllers.NewHealthController(deps.DB, deps.Hub)
	tableCtrl := controllers.NewTableController(deps.Sessions)
	orderCtrl := controllers.NewOrderController(deps.Orders)
	notificationCtrl := controllers.NewNotificationController(deps.Hub)
	kdsCtrl := controllers.NewKDSController(deps.Hub, deps.CORSOrigin)
	if deps.SSEKeepalive > 0 {
		kdsCtrl.Keepalive = deps.SSEKeepalive
	}

	verifyEvery, verifyBurst := deps.VerifyEvery, deps.VerifyBurst
	if verifyEvery <= 0 {
		verifyEvery = 2 * time.Second
	}
	if verifyBurst <= 0 {
		verifyBurst = 10
	}
	verifyLimiter := middlewares.NewStrictRateLimiter(verifyEvery, verifyBurst)
	writeLimiter := middlewares.NewRateLimiter(30, 60)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", healthCtrl.Ping)
	r.GET("/healthz", healthCtrl.Health)

	r.GET("/sessions/:token", verifyLimiter.Handler(), tableCtrl.VerifySession)

	public := r.Group("/")
	public.Use(writeLimiter.RateLimit())
	{
		public.POST("/orders", orderCtrl.CreateOrder)
		public.POST("/tables/calls", notificationCtrl.CallWaiter)
		public.POST("/tables/service-requests", notificationCtrl.RequestService)
	}

	// ----------------------------------------------------------------
	//                      STAFF ROUTES
	// ----------------------------------------------------------------
	auth := r.Group("/admin")
	auth.Use(middlewares.AuthMiddleware(), middlewares.StaffOnly())

	// TABLE SESSIONS
	auth.POST("/sessions", tableCtrl.GenerateSession)
	auth.POST("/sessions/:token/refresh", tableCtrl.RefreshSession)
	auth.DELETE("/sessions/:token", tableCtrl.DeactivateSession)
	auth.DELETE("/restaurants/:restaurant_id/tables/:table_number/session", tableCtrl.ClearTable)
	auth.POST("/sessions/sweep", middlewares.RequireRoles(middlewares.RoleAdmin), tableCtrl.SweepSessions)

	// ORDERS
	auth.GET("/orders/:order_id", orderCtrl.GetOrderByID)
	auth.PATCH("/orders/:order_id/status", orderCtrl.UpdateOrderStatus)
	auth.DELETE("/restaurants/:restaurant_id/orders", middlewares.RequireRoles(middlewares.RoleAdmin), orderCtrl.DeleteRestaurantOrders)

	// EVENTS
	auth.POST("/events", notificationCtrl.PublishEvent)
	auth.GET("/events/subscribers", notificationCtrl.SubscriberCount)

	// ----------------------------------------------------------------
	//                      DASHBOARD STREAMS
	// ----------------------------------------------------------------
	streams := r.Group("/")
	streams.Use(middlewares.StreamAuthMiddleware(), middlewares.StaffOnly())
	{
		streams.GET("/ws/dashboard", kdsCtrl.DashboardSocket)
		streams.GET("/sse/dashboard", kdsCtrl.DashboardStream)
	}

	return r
}
