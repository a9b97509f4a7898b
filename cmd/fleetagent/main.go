// Infinity Portal Fleet Agent
//
// The agent is the device-side half of the fleet bus. It registers with the
// hub over MQTT, publishes telemetry on a fixed cadence, applies theme
// pushes and commands, and serves a loopback debug console for operators
// with shell access to the device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infinity-portal/fleet-core/internal/agent"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/logging"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/fleetagent.yaml"

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
	log.Info("starting fleet agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "fleetagent", version)

	// A configured device ID doubles as the broker client ID so sessions
	// from the same device collide instead of accumulating.
	if cfg.Agent.DeviceID != "" {
		cfg.MQTT.Broker.ClientID = "fleet-agent-" + cfg.Agent.DeviceID
	}

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	a, err := agent.New(agent.Options{
		Client:     mqttClient,
		Config:     cfg,
		ConfigPath: configPath,
		Rebooter:   processRebooter{log: log},
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	a.Start(ctx)
	defer a.Stop()
	log.Info("agent running", "device_id", a.DeviceID())

	// Loopback debug console exposing the RPC table
	console := agent.NewConsole(agent.NewRPC(a), cfg.Agent.Console, log)
	if err := console.Start(ctx); err != nil {
		return fmt.Errorf("starting debug console: %w", err)
	}
	defer func() {
		if closeErr := console.Close(); closeErr != nil {
			log.Error("error closing debug console", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("fleet agent stopped")
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

// processRebooter restarts the agent by exiting the process after a delay.
// The supervisor (systemd or similar) brings the process back up.
type processRebooter struct {
	log *logging.Logger
}

func (r processRebooter) Reboot(delay time.Duration) {
	go func() {
		time.Sleep(delay)
		r.log.Info("restarting process")
		os.Exit(0)
	}()
}
