package main

//	@title						FleetWarden API
//	@version					0.1.0
//	@description				IoT device fleet management API: firmware rollouts, device shadows, and fleet health.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/HerbHall/fleetwarden/api/swagger"
	"github.com/HerbHall/fleetwarden/internal/auth"
	"github.com/HerbHall/fleetwarden/internal/config"
	"github.com/HerbHall/fleetwarden/internal/event"
	"github.com/HerbHall/fleetwarden/internal/fleet"
	"github.com/HerbHall/fleetwarden/internal/health"
	"github.com/HerbHall/fleetwarden/internal/mqtt"
	"github.com/HerbHall/fleetwarden/internal/registry"
	"github.com/HerbHall/fleetwarden/internal/rollout"
	"github.com/HerbHall/fleetwarden/internal/seed"
	"github.com/HerbHall/fleetwarden/internal/server"
	"github.com/HerbHall/fleetwarden/internal/shadow"
	"github.com/HerbHall/fleetwarden/internal/store"
	"github.com/HerbHall/fleetwarden/internal/version"
	"github.com/HerbHall/fleetwarden/internal/webhook"
	"github.com/HerbHall/fleetwarden/internal/ws"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	seedDemo := flag.Bool("seed-demo", false, "populate the database with a demo fleet on startup")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	// Initialize logger from configuration.
	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("FleetWarden server starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Open database
	dbPath := viperCfg.GetString("database.dsn")
	if dbPath == "" {
		dbPath = "fleetwarden.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.CheckVersion(ctx, version.Version); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	// Create shared services
	bus := event.NewBus(logger.Named("event"))
	logger.Info("event bus created", zap.String("component", "event"))

	// Create plugin registry
	reg := registry.New(logger.Named("registry"))
	logger.Info("plugin registry created", zap.String("component", "registry"))

	// Register all plugins (compile-time composition)
	fleetMod := fleet.New()
	rolloutMod := rollout.New()
	shadowMod := shadow.New()
	healthMod := health.New()

	modules := []plugin.Plugin{fleetMod, rolloutMod, shadowMod, healthMod, webhook.New(), mqtt.New()}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	// Validate dependency graph and API versions
	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	// Initialize all plugins with dependencies
	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		pluginCfg := cfg.Sub("plugins." + name)
		return plugin.Dependencies{
			Config:  pluginCfg,
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	// Cross-module wiring. Lives in the composition root so the modules
	// stay decoupled behind small consumer-side interfaces.
	fleetMod.SetDesiredStateReader(shadowMod.Store())
	fleetMod.SetUpdateDecider(rolloutMod.Engine())
	healthMod.Aggregator().SetDeviceNotes(fleetMod.Store())
	logger.Info("module wiring complete",
		zap.String("component", "registry"),
	)

	if *seedDemo {
		if err := seed.SeedDemoFleet(ctx, fleetMod.Store(), rolloutMod.Catalog(), shadowMod.Store()); err != nil {
			logger.Fatal("failed to seed demo fleet", zap.Error(err))
		}
		logger.Info("demo fleet seeded", zap.String("component", "seed"))
	}

	// Start plugins
	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// Create auth service
	enrollments, err := auth.NewEnrollmentStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize enrollment store", zap.Error(err))
	}
	logger.Info("enrollment store initialized", zap.String("component", "auth"))

	jwtSecret := viperCfg.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		// Generate an ephemeral secret -- tokens won't survive restarts.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			logger.Fatal("failed to generate JWT secret", zap.Error(err))
		}
		jwtSecret = hex.EncodeToString(b)
		logger.Info("using auto-generated JWT secret (set auth.jwt_secret in config so device tokens survive restarts)",
			zap.String("component", "auth"),
		)
	} else {
		logger.Info("JWT secret loaded from configuration", zap.String("component", "auth"))
	}

	tokenTTL := viperCfg.GetDuration("auth.token_ttl")
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}

	tokens := auth.NewTokenService([]byte(jwtSecret), tokenTTL)
	resolver := auth.NewResolver(tokens, fleetMod.Store())
	authHandler := auth.NewHandler(enrollments, tokens, resolver, logger.Named("auth"))
	logger.Info("auth service initialized",
		zap.String("component", "auth"),
		zap.Duration("token_ttl", tokenTTL),
	)

	// Create WebSocket handler for real-time fleet events
	wsHandler := ws.NewHandler(tokens, bus, logger.Named("ws"))
	logger.Info("websocket handler initialized", zap.String("component", "ws"))

	// Create and start HTTP server
	addr := viperCfg.GetString("server.host") + ":" + viperCfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	logger.Info("HTTP server configured",
		zap.String("component", "server"),
		zap.String("addr", addr),
	)
	devMode := viperCfg.GetBool("server.dev_mode")
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	srv := server.New(addr, reg, logger, readyCheck, authHandler, devMode, wsHandler)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("FleetWarden server ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("FleetWarden server stopped")
}
