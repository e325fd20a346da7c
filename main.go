package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/yeremiapane/qrtable/config"
	"github.com/yeremiapane/qrtable/database"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/router"
	"github.com/yeremiapane/qrtable/services"
	"github.com/yeremiapane/qrtable/telemetry"
	"github.com/yeremiapane/qrtable/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

const serviceName = "qrtable"

func main() {
	flags := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	sweepOnce := flags.Bool("sweep-once", false, "deactivate expired table sessions and exit")
	migrateOnly := flags.Bool("migrate-only", false, "migrate the database schema and exit")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*envFile)
	if err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}
	utils.InitLogger(cfg.LogLevel)
	release := cfg.GinMode == gin.ReleaseMode
	if err := utils.SetJWTSecret(cfg.JWTSecret, release); err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}
	if release {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTLPInsecure)

	db := openDatabase(cfg, *migrateOnly || *sweepOnce)
	if *migrateOnly {
		return
	}

	registry := kds.NewRegistry()
	hub := kds.NewHub(registry, kds.ParseScope(cfg.BroadcastScope))

	sessions := services.NewSessionService(database.NewSessionStore(db), hub, services.SessionConfig{
		DefaultDuration:      cfg.SessionDefaultDuration(),
		InitialHorizon:       cfg.SessionInitialHorizon(),
		CreateHonorsDuration: cfg.SessionCreateHonorsDuration,
		VerifyEnforcesExpiry: cfg.SessionVerifyEnforcesExpiry,
	})
	orders := services.NewOrderService(db, hub, services.OrderConfig{
		EnforceTransitions: cfg.OrderEnforceTransitions,
	})

	sweeper := services.NewSessionSweeper(sessions, cfg.SessionSweepInterval)
	if *sweepOnce {
		utils.InfoLogger.WithField("count", sweeper.Sweep()).Info("Sweep finished")
		return
	}
	if db != nil {
		sweeper.Start()
		defer sweeper.Stop()
	}

	r := router.SetupRouter(router.Dependencies{
		DB:         db,
		Hub:        hub,
		Sessions:   sessions,
		Orders:     orders,
		CORSOrigin: cfg.CORSOrigin,
	})

	// Cancelling the base context on shutdown ends open SSE streams, which would otherwise keep
	// Shutdown waiting until its deadline.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("HTTP shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("Tracing shutdown: %v", err)
	}
}

// openDatabase connects and migrates. When the database is down the server still starts so the
// dashboards and health checks keep working; one-shot commands need it and exit instead.
func openDatabase(cfg *config.Config, required bool) *gorm.DB {
	db, err := config.InitDB(cfg)
	if err != nil {
		if required {
			utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
		}
		utils.ErrorLogger.Errorf("Database unavailable, starting degraded: %v", err)
		return nil
	}

	if err := database.Migrate(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	return db
}
