package gateway

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/infinity-portal/fleet-core/internal/fleet"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/mqtt"
	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// Ack messages sent in response to registration attempts. The error string
// for malformed payloads is part of the wire contract and matched by device
// firmware.
const (
	ackRegistrationConfirmed = "Registration confirmed"
	ackInvalidRegistration   = "Invalid registration data"
)

// MQTTClient is the broker surface the gateway needs.
// This interface is satisfied by *mqtt.Client and mocked in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger defines the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway routes broker traffic into the registry.
//
// It subscribes to the fleet's register and status wildcards and applies
// each message to the registry. Handler errors are returned to the MQTT
// client wrapper, which logs them; a bad message never stops the flow.
type Gateway struct {
	client   MQTTClient
	registry *fleet.Registry
	topics   protocol.Topics
	qos      byte
	logger   Logger

	// messageCount counts every message the gateway received, valid or not.
	messageCount atomic.Uint64
}

// Config holds gateway construction parameters.
type Config struct {
	// Client is the broker connection. Required.
	Client MQTTClient

	// Registry is the device registry. Required.
	Registry *fleet.Registry

	// TopicPrefix overrides the default fleet topic prefix.
	TopicPrefix string

	// QoS for subscriptions and outbound publishes. Default 1.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// New creates a gateway. Call Start to subscribe.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Gateway{
		client:   cfg.Client,
		registry: cfg.Registry,
		topics:   protocol.NewTopics(cfg.TopicPrefix),
		qos:      cfg.QoS,
		logger:   logger,
	}
}

// Start subscribes to the fleet wildcards. The subscriptions survive broker
// reconnects via the MQTT client's tracked-subscription restore.
func (g *Gateway) Start() error {
	if err := g.client.Subscribe(g.topics.AllStatus(), g.qos, g.handleMessage); err != nil {
		return fmt.Errorf("subscribing to status topic: %w", err)
	}
	if err := g.client.Subscribe(g.topics.AllRegister(), g.qos, g.handleMessage); err != nil {
		return fmt.Errorf("subscribing to register topic: %w", err)
	}

	g.logger.Info("gateway subscribed",
		"status", g.topics.AllStatus(),
		"register", g.topics.AllRegister(),
	)
	return nil
}

// handleMessage is the single entry point for inbound fleet traffic.
func (g *Gateway) handleMessage(topic string, payload []byte) error {
	g.messageCount.Add(1)

	deviceID, msgType, err := protocol.ParseTopic(topic)
	if err != nil {
		return fmt.Errorf("dropping message: %w", err)
	}

	switch msgType {
	case protocol.MessageStatus:
		return g.handleStatus(deviceID, payload)
	case protocol.MessageRegister:
		return g.handleRegister(deviceID, payload)
	default:
		// The subscriptions only cover status and register; anything else
		// means the broker or a topic change misrouted traffic.
		g.logger.Warn("unexpected message type",
			"topic", topic,
			"type", string(msgType),
		)
		return nil
	}
}

// handleStatus applies a status report to the registry.
func (g *Gateway) handleStatus(deviceID string, payload []byte) error {
	status, err := protocol.DecodeStatus(payload)
	if err != nil {
		return fmt.Errorf("dropping status from %s: %w", deviceID, err)
	}

	if _, err := g.registry.RecordStatus(deviceID, status); err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			// Unregistered devices are dropped silently; they must
			// register before their telemetry counts.
			g.logger.Debug("status from unregistered device", "device_id", deviceID)
			return nil
		}
		return fmt.Errorf("recording status from %s: %w", deviceID, err)
	}
	return nil
}

// handleRegister processes a registration attempt and always answers on the
// device's ack topic.
func (g *Gateway) handleRegister(deviceID string, payload []byte) error {
	metadata, err := protocol.DecodeRegister(payload)
	if err != nil {
		g.publishAck(deviceID, protocol.AckPayload{
			Success: false,
			Error:   ackInvalidRegistration,
		})
		return fmt.Errorf("rejecting registration from %s: %w", deviceID, err)
	}

	g.registry.Register(deviceID, metadata)
	g.publishAck(deviceID, protocol.AckPayload{
		Success: true,
		Message: ackRegistrationConfirmed,
	})
	return nil
}

// publishAck sends a registration ack. Best-effort: a lost ack just means
// the device retries registration.
func (g *Gateway) publishAck(deviceID string, ack protocol.AckPayload) {
	payload := protocol.EncodeAck(ack)
	if err := g.client.Publish(g.topics.Ack(deviceID), payload, g.qos, false); err != nil {
		g.logger.Warn("ack publish failed", "device_id", deviceID, "error", err)
	}
}

// Publish sends an outbound fleet message. Fire-and-forget: broker errors
// are logged here and never surfaced to callers.
func (g *Gateway) Publish(topic string, payload []byte) {
	if err := g.client.Publish(topic, payload, g.qos, false); err != nil {
		g.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// Topics exposes the gateway's topic builder for the dispatcher.
func (g *Gateway) Topics() protocol.Topics {
	return g.topics
}

// MessageCount returns the number of messages received since start.
func (g *Gateway) MessageCount() uint64 {
	return g.messageCount.Load()
}

// Connected reports the broker connection state.
func (g *Gateway) Connected() bool {
	return g.client.IsConnected()
}
