// Infinity Portal Fleet Hub
//
// The hub is the server-side half of the fleet bus. It tracks every device
// that registers over MQTT, persists the fleet to SQLite, sweeps silent
// devices offline, and exposes a REST facade plus a WebSocket event feed
// for operator UIs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/infinity-portal/fleet-core/migrations"

	"github.com/infinity-portal/fleet-core/internal/api"
	"github.com/infinity-portal/fleet-core/internal/fleet"
	"github.com/infinity-portal/fleet-core/internal/gateway"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/database"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/logging"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/fleethub.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fleet hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateForHub(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "fleethub", version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Fleet registry backed by SQLite
	store := fleet.NewSQLiteStore(db)
	registry := fleet.NewRegistry(store)
	registry.SetLogger(log)
	defer registry.Close()

	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading fleet registry: %w", err)
	}
	log.Info("fleet registry loaded", "devices", registry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Gateway routes broker traffic into the registry
	gw := gateway.New(gateway.Config{
		Client:      mqttClient,
		Registry:    registry,
		TopicPrefix: cfg.Fleet.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Logger:      log,
	})
	if err := gw.Start(); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	log.Info("gateway subscribed", "prefix", cfg.Fleet.TopicPrefix)

	dispatcher := gateway.NewDispatcher(gw, registry, log)

	// Liveness sweep marks silent devices offline
	liveness := fleet.NewLiveness(fleet.LivenessConfig{
		Registry: registry,
		Interval: cfg.GetLivenessInterval(),
		Timeout:  cfg.GetOfflineTimeout(),
		Logger:   log,
	})
	liveness.Start(ctx)
	defer liveness.Stop()

	// REST facade and WebSocket event feed
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Bus:        gw,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("fleet hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
