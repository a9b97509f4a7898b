package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/mqtt"
	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// restartDelay is how long a restart command waits before rebooting, giving
// the broker time to flush any in-flight acknowledgments.
const restartDelay = 1 * time.Second

// ErrInvalidTheme is returned when a theme outside the fixed enumeration is
// applied through SetTheme.
var ErrInvalidTheme = errors.New("agent: invalid theme")

// State is the agent's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MQTTClient is the broker surface the agent needs. *mqtt.Client satisfies
// it; tests substitute a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
}

// Rebooter restarts the host. The production implementation shells out to
// the init system; tests record the call.
type Rebooter interface {
	Reboot(delay time.Duration)
}

// Logger is the minimal logging interface the agent needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Agent is the device-side fleet participant. It registers with the hub on
// first connect, publishes telemetry on a fixed cadence, and applies theme
// pushes and commands addressed to its topics.
type Agent struct {
	client   MQTTClient
	topics   protocol.Topics
	qos      byte
	deviceID string
	rebooter Rebooter
	logger   Logger
	tel      *telemetry
	now      func() time.Time

	// mu guards the mutable file config, which holds the current theme.
	// Config writes go through Save so theme changes survive a restart.
	mu      sync.Mutex
	cfg     *config.Config
	cfgPath string

	state      atomic.Int32
	registered sync.Once

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Options configures a new Agent.
type Options struct {
	Client     MQTTClient
	Config     *config.Config
	ConfigPath string
	Rebooter   Rebooter
	Logger     Logger

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// New creates an Agent. The device ID comes from the config when set,
// otherwise from the first hardware MAC address.
func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("agent: mqtt client is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("agent: config is required")
	}

	deviceID, err := resolveDeviceID(opts.Config.Agent.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("agent: resolving device id: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	theme := opts.Config.Agent.Theme
	if theme == "" || !protocol.ValidTheme(theme) {
		theme = string(protocol.DefaultTheme)
		opts.Config.Agent.Theme = theme
	}

	a := &Agent{
		client:   opts.Client,
		topics:   protocol.NewTopics(opts.Config.Fleet.TopicPrefix),
		qos:      byte(opts.Config.MQTT.QoS),
		deviceID: deviceID,
		rebooter: opts.Rebooter,
		logger:   logger,
		tel:      newTelemetry(now()),
		now:      now,
		cfg:      opts.Config,
		cfgPath:  opts.ConfigPath,
		done:     make(chan struct{}),
	}
	a.state.Store(int32(StateDisconnected))
	return a, nil
}

// Start wires the broker callbacks and launches the sync and heartbeat
// loops. If the client is already connected the connect path runs
// immediately; otherwise it runs when the broker session comes up.
func (a *Agent) Start(ctx context.Context) {
	a.client.SetOnConnect(a.handleConnect)
	a.client.SetOnDisconnect(a.handleDisconnect)

	a.state.Store(int32(StateConnecting))
	if a.client.IsConnected() {
		a.handleConnect()
	}

	a.wg.Add(2)
	go a.syncLoop(ctx)
	go a.heartbeatLoop(ctx)

	a.logger.Info("agent started",
		"device_id", a.deviceID,
		"theme", a.Theme(),
		"sync_interval", a.cfg.GetSyncInterval().String())
}

// Stop halts the background loops. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

// handleConnect runs on every broker session establishment, including
// auto-reconnects. Subscriptions are re-issued each time because the wrapped
// client restores its own tracked set only for its own topics.
func (a *Agent) handleConnect() {
	a.state.Store(int32(StateConnected))
	a.logger.Info("broker session up", "device_id", a.deviceID)

	subs := map[string]mqtt.MessageHandler{
		a.topics.Theme(a.deviceID):   a.handleTheme,
		a.topics.Command(a.deviceID): a.handleCommand,
		a.topics.Ack(a.deviceID):     a.handleAck,
	}
	for topic, handler := range subs {
		if err := a.client.Subscribe(topic, a.qos, handler); err != nil {
			a.logger.Error("subscribe failed", "topic", topic, "error", err)
		}
	}

	a.registered.Do(a.register)
	a.publishStatus()
}

func (a *Agent) handleDisconnect(err error) {
	a.state.Store(int32(StateDisconnected))
	a.logger.Warn("broker session lost", "error", err)
}

// register announces this device to the hub. The hub's answer arrives on the
// ack topic and is logged; broker reconnect is the only retry.
func (a *Agent) register() {
	meta := map[string]any{
		"app_name":         a.cfg.Agent.AppName,
		"firmware_version": a.cfg.Agent.FirmwareVersion,
		"architecture":     runtime.GOARCH,
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		a.logger.Error("encoding registration", "error", err)
		return
	}

	topic := a.topics.Register(a.deviceID)
	if err := a.client.Publish(topic, payload, a.qos, false); err != nil {
		a.logger.Error("registration publish failed", "topic", topic, "error", err)
		return
	}
	a.logger.Info("registration sent", "device_id", a.deviceID)
}

// publishStatus sends one telemetry snapshot. While the broker is away the
// tick is skipped and the counter does not advance.
func (a *Agent) publishStatus() {
	if !a.client.IsConnected() {
		a.logger.Debug("status skipped, broker disconnected")
		return
	}

	snap := a.tel.snapshot(a.Theme(), a.now())
	payload, err := json.Marshal(snap)
	if err != nil {
		a.logger.Error("encoding status", "error", err)
		return
	}

	topic := a.topics.Status(a.deviceID)
	if err := a.client.Publish(topic, payload, a.qos, false); err != nil {
		a.logger.Error("status publish failed", "topic", topic, "error", err)
		return
	}
	a.logger.Debug("status published", "sync_count", snap.SyncCount)
}

func (a *Agent) syncLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.GetSyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.publishStatus()
		case <-a.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.logger.Info("heartbeat",
				"uptime", a.tel.uptime(a.now()),
				"theme", a.Theme(),
				"syncs", a.tel.syncs(),
				"state", a.State().String())
		case <-a.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleTheme applies a theme push. The payload is the bare theme name;
// unknown themes are dropped without a reply.
func (a *Agent) handleTheme(topic string, payload []byte) error {
	theme := string(payload)
	if err := a.SetTheme(theme); err != nil {
		a.logger.Warn("ignoring theme push", "theme", theme)
		return nil
	}
	a.logger.Info("theme applied", "theme", theme)
	return nil
}

// handleCommand dispatches a command addressed to this device. Unknown
// actions are logged and dropped.
func (a *Agent) handleCommand(topic string, payload []byte) error {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		return fmt.Errorf("command from %s: %w", topic, err)
	}

	switch cmd.Action {
	case "sync":
		a.publishStatus()
	case "restart":
		a.logger.Info("restart commanded", "delay", restartDelay.String())
		if a.rebooter != nil {
			a.rebooter.Reboot(restartDelay)
		}
	default:
		a.logger.Warn("unrecognized command", "action", cmd.Action)
	}
	return nil
}

// handleAck logs the hub's answer to our registration.
func (a *Agent) handleAck(topic string, payload []byte) error {
	ack, err := protocol.DecodeAck(payload)
	if err != nil {
		return fmt.Errorf("ack from %s: %w", topic, err)
	}

	if ack.Success {
		a.logger.Info("registration confirmed", "message", ack.Message)
	} else {
		a.logger.Error("registration rejected", "error", ack.Error)
	}
	return nil
}

// SetTheme validates and applies a theme, persisting it to the config file
// so it survives a restart. Both the broker theme path and the local RPC
// path funnel through here.
func (a *Agent) SetTheme(theme string) error {
	if !protocol.ValidTheme(theme) {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}

	a.mu.Lock()
	a.cfg.Agent.Theme = theme
	err := a.saveConfigLocked()
	a.mu.Unlock()

	if err != nil {
		// The in-memory theme is already applied; persistence failure only
		// costs durability across a restart.
		a.logger.Error("persisting theme", "theme", theme, "error", err)
	}
	return nil
}

// saveConfigLocked writes the config file. Callers hold a.mu. A zero path
// means the agent runs without a backing file and persistence is skipped.
func (a *Agent) saveConfigLocked() error {
	if a.cfgPath == "" {
		return nil
	}
	return config.Save(a.cfgPath, a.cfg)
}

// Theme returns the currently applied theme.
func (a *Agent) Theme() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Agent.Theme
}

// State returns the current connection state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// DeviceID returns the resolved device identifier.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// SyncCount returns how many status payloads have been published.
func (a *Agent) SyncCount() uint64 {
	return a.tel.syncs()
}

// Sync publishes one status immediately, outside the normal cadence.
func (a *Agent) Sync() {
	a.publishStatus()
}
