package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "infinity-portal/devices"

// minTopicSegments is the minimum number of '/'-separated segments in a
// well-formed fleet topic: prefix, device ID, message type.
const minTopicSegments = 3

// ErrMalformedTopic is returned when a topic does not carry at least a device
// ID and a message type as its trailing segments.
var ErrMalformedTopic = errors.New("protocol: malformed topic")

// MessageType identifies the kind of envelope carried on a topic.
// It is a closed set; anything else decodes to MessageUnrecognized and is
// handled by a single fallback branch at the routing boundary.
type MessageType string

// Message type constants.
const (
	MessageRegister     MessageType = "register"
	MessageStatus       MessageType = "status"
	MessageTheme        MessageType = "theme"
	MessageCommand      MessageType = "cmd"
	MessageAck          MessageType = "ack"
	MessageUnrecognized MessageType = "unrecognized"
)

// parseMessageType maps a raw topic segment to a MessageType.
func parseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageRegister, MessageStatus, MessageTheme, MessageCommand, MessageAck:
		return MessageType(s)
	default:
		return MessageUnrecognized
	}
}

// ParseTopic extracts the device ID and message type from a fleet topic.
//
// The device ID is the second-to-last segment and the message type the last,
// regardless of how many segments the prefix itself contains. Topics with
// fewer than three segments return ErrMalformedTopic.
func ParseTopic(topic string) (deviceID string, msgType MessageType, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicSegments {
		return "", MessageUnrecognized, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	deviceID = parts[len(parts)-2]
	msgType = parseMessageType(parts[len(parts)-1])

	if deviceID == "" {
		return "", MessageUnrecognized, fmt.Errorf("%w: empty device id in %q", ErrMalformedTopic, topic)
	}

	return deviceID, msgType, nil
}

// Topics builds fleet topic strings for a given prefix.
// Using these helpers keeps topic naming consistent across hub and agent.
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics builder, falling back to DefaultPrefix when
// prefix is empty.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

// Register returns the registration topic for a device.
//
// Example: infinity-portal/devices/esp32-7/register
func (t Topics) Register(deviceID string) string {
	return fmt.Sprintf("%s/%s/register", t.Prefix, deviceID)
}

// Status returns the telemetry topic for a device.
//
// Example: infinity-portal/devices/esp32-7/status
func (t Topics) Status(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", t.Prefix, deviceID)
}

// Theme returns the theme push topic for a device.
//
// Example: infinity-portal/devices/esp32-7/theme
func (t Topics) Theme(deviceID string) string {
	return fmt.Sprintf("%s/%s/theme", t.Prefix, deviceID)
}

// Command returns the command topic for a device.
//
// Example: infinity-portal/devices/esp32-7/cmd
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/cmd", t.Prefix, deviceID)
}

// Ack returns the registration acknowledgment topic for a device.
//
// Example: infinity-portal/devices/esp32-7/ack
func (t Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", t.Prefix, deviceID)
}

// AllStatus returns a wildcard pattern matching status messages from every
// device. The + matches exactly one segment, the device ID.
//
// Pattern: infinity-portal/devices/+/status
func (t Topics) AllStatus() string {
	return fmt.Sprintf("%s/+/status", t.Prefix)
}

// AllRegister returns a wildcard pattern matching registrations from every
// device.
//
// Pattern: infinity-portal/devices/+/register
func (t Topics) AllRegister() string {
	return fmt.Sprintf("%s/+/register", t.Prefix)
}
