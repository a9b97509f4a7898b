package agent

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/mqtt"
)

// mockMQTT records publishes and subscriptions without a broker.
type mockMQTT struct {
	mu           sync.Mutex
	connected    bool
	published    []publishedMsg
	subscribed   []string
	handlers     map[string]mqtt.MessageHandler
	onConnect    func()
	onDisconnect func(err error)
}

type publishedMsg struct {
	topic   string
	payload []byte
	qos     byte
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: map[string]mqtt.MessageHandler{}}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{topic: topic, payload: payload, qos: qos})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) SetOnConnect(callback func())           { m.onConnect = callback }
func (m *mockMQTT) SetOnDisconnect(callback func(e error)) { m.onDisconnect = callback }

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *mockMQTT) publishesTo(topic string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockMQTT) hasSubscription(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscribed {
		if s == topic {
			return true
		}
	}
	return false
}

// mockRebooter records restart requests.
type mockRebooter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *mockRebooter) Reboot(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
}

func (r *mockRebooter) calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testConfig() *config.Config {
	return &config.Config{
		Fleet: config.FleetConfig{TopicPrefix: "infinity-portal/devices"},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883},
			QoS:    1,
		},
		Agent: config.AgentConfig{
			DeviceID:          "esp32-01",
			Theme:             "mario",
			SyncInterval:      60,
			HeartbeatInterval: 10,
			AppName:           "infinity-gateway",
			FirmwareVersion:   "1.0.0",
		},
	}
}

func newTestAgent(t *testing.T, client *mockMQTT) (*Agent, *mockRebooter) {
	t.Helper()
	rebooter := &mockRebooter{}
	a, err := New(Options{
		Client:   client,
		Config:   testConfig(),
		Rebooter: rebooter,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, rebooter
}

func TestNew_RequiresClientAndConfig(t *testing.T) {
	if _, err := New(Options{Config: testConfig()}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := New(Options{Client: newMockMQTT()}); err == nil {
		t.Error("expected error without config")
	}
}

func TestNew_DefaultsInvalidThemeToMario(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.Theme = "disco"
	a, err := New(Options{Client: newMockMQTT(), Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Theme() != "mario" {
		t.Errorf("Theme() = %q, want mario", a.Theme())
	}
}

func TestHandleConnect_SubscribesAndRegisters(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	a.handleConnect()

	for _, topic := range []string{
		"infinity-portal/devices/esp32-01/theme",
		"infinity-portal/devices/esp32-01/cmd",
		"infinity-portal/devices/esp32-01/ack",
	} {
		if !client.hasSubscription(topic) {
			t.Errorf("missing subscription to %s", topic)
		}
	}

	regs := client.publishesTo("infinity-portal/devices/esp32-01/register")
	if len(regs) != 1 {
		t.Fatalf("register publishes = %d, want 1", len(regs))
	}
	var meta map[string]any
	if err := json.Unmarshal(regs[0].payload, &meta); err != nil {
		t.Fatalf("register payload: %v", err)
	}
	if meta["app_name"] != "infinity-gateway" {
		t.Errorf("app_name = %v", meta["app_name"])
	}
	if meta["firmware_version"] != "1.0.0" {
		t.Errorf("firmware_version = %v", meta["firmware_version"])
	}

	statuses := client.publishesTo("infinity-portal/devices/esp32-01/status")
	if len(statuses) != 1 {
		t.Fatalf("status publishes = %d, want 1", len(statuses))
	}
	if a.State() != StateConnected {
		t.Errorf("State() = %v, want connected", a.State())
	}
}

func TestHandleConnect_RegistersOnlyOnce(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	a.handleConnect()
	a.handleDisconnect(nil)
	a.handleConnect()

	regs := client.publishesTo("infinity-portal/devices/esp32-01/register")
	if len(regs) != 1 {
		t.Errorf("register publishes = %d, want 1 across reconnects", len(regs))
	}
}

func TestPublishStatus_SkipsWhileDisconnected(t *testing.T) {
	client := newMockMQTT()
	client.setConnected(false)
	a, _ := newTestAgent(t, client)

	a.publishStatus()

	if got := len(client.publishesTo("infinity-portal/devices/esp32-01/status")); got != 0 {
		t.Errorf("status publishes = %d, want 0 while disconnected", got)
	}
	if a.SyncCount() != 0 {
		t.Errorf("SyncCount() = %d, want 0", a.SyncCount())
	}
}

func TestPublishStatus_PayloadAndMonotonicCount(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	a.publishStatus()
	a.publishStatus()

	statuses := client.publishesTo("infinity-portal/devices/esp32-01/status")
	if len(statuses) != 2 {
		t.Fatalf("status publishes = %d, want 2", len(statuses))
	}

	var first, second struct {
		Theme     string  `json:"theme"`
		SyncCount uint64  `json:"sync_count"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(statuses[0].payload, &first); err != nil {
		t.Fatalf("first payload: %v", err)
	}
	if err := json.Unmarshal(statuses[1].payload, &second); err != nil {
		t.Fatalf("second payload: %v", err)
	}

	if first.Theme != "mario" {
		t.Errorf("theme = %q", first.Theme)
	}
	if first.SyncCount != 1 || second.SyncCount != 2 {
		t.Errorf("sync_count = %d, %d; want 1, 2", first.SyncCount, second.SyncCount)
	}
	if second.Timestamp < first.Timestamp {
		t.Error("timestamp went backwards")
	}
}

func TestThemeMessage_ValidAppliesAndPersists(t *testing.T) {
	client := newMockMQTT()
	cfgPath := t.TempDir() + "/agent.yaml"
	rebooter := &mockRebooter{}
	a, err := New(Options{
		Client:     client,
		Config:     testConfig(),
		ConfigPath: cfgPath,
		Rebooter:   rebooter,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.handleTheme("infinity-portal/devices/esp32-01/theme", []byte("space")); err != nil {
		t.Fatalf("handleTheme: %v", err)
	}

	if a.Theme() != "space" {
		t.Errorf("Theme() = %q, want space", a.Theme())
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("reading persisted config: %v", err)
	}
	if !strings.Contains(string(data), "theme: space") {
		t.Error("persisted config does not contain the new theme")
	}
}

func TestThemeMessage_InvalidIgnored(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	if err := a.handleTheme("infinity-portal/devices/esp32-01/theme", []byte("disco")); err != nil {
		t.Fatalf("handleTheme: %v", err)
	}
	if a.Theme() != "mario" {
		t.Errorf("Theme() = %q, want mario unchanged", a.Theme())
	}
}

func TestCommand_SyncPublishesStatus(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	if err := a.handleCommand("infinity-portal/devices/esp32-01/cmd", []byte(`{"action":"sync"}`)); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}
	if got := len(client.publishesTo("infinity-portal/devices/esp32-01/status")); got != 1 {
		t.Errorf("status publishes = %d, want 1", got)
	}
}

func TestCommand_RestartInvokesRebooter(t *testing.T) {
	client := newMockMQTT()
	a, rebooter := newTestAgent(t, client)

	if err := a.handleCommand("infinity-portal/devices/esp32-01/cmd", []byte(`{"action":"restart"}`)); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}

	calls := rebooter.calls()
	if len(calls) != 1 {
		t.Fatalf("rebooter calls = %d, want 1", len(calls))
	}
	if calls[0] != restartDelay {
		t.Errorf("reboot delay = %v, want %v", calls[0], restartDelay)
	}
}

func TestCommand_UnknownActionIgnored(t *testing.T) {
	client := newMockMQTT()
	a, rebooter := newTestAgent(t, client)

	if err := a.handleCommand("infinity-portal/devices/esp32-01/cmd", []byte(`{"action":"self_destruct"}`)); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}
	if len(rebooter.calls()) != 0 {
		t.Error("unknown action triggered the rebooter")
	}
	if got := len(client.publishesTo("infinity-portal/devices/esp32-01/status")); got != 0 {
		t.Errorf("status publishes = %d, want 0", got)
	}
}

func TestCommand_MalformedPayload(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	if err := a.handleCommand("infinity-portal/devices/esp32-01/cmd", []byte("not json")); err == nil {
		t.Error("expected error for malformed command")
	}
}

func TestHandleAck(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	if err := a.handleAck("infinity-portal/devices/esp32-01/ack", []byte(`{"success":true,"message":"Registration confirmed"}`)); err != nil {
		t.Errorf("handleAck success: %v", err)
	}
	if err := a.handleAck("infinity-portal/devices/esp32-01/ack", []byte(`{"success":false,"error":"Invalid registration data"}`)); err != nil {
		t.Errorf("handleAck failure: %v", err)
	}
	if err := a.handleAck("infinity-portal/devices/esp32-01/ack", []byte("not json")); err == nil {
		t.Error("expected error for malformed ack")
	}
}

func TestStartStop(t *testing.T) {
	client := newMockMQTT()
	a, _ := newTestAgent(t, client)

	a.Start(t.Context())

	// Start on an already-connected client runs the connect path inline.
	if a.State() != StateConnected {
		t.Errorf("State() = %v, want connected", a.State())
	}
	if client.onConnect == nil || client.onDisconnect == nil {
		t.Error("broker callbacks not wired")
	}

	a.Stop()
	a.Stop() // idempotent
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
