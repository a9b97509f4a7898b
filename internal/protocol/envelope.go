package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is returned when a payload cannot be parsed into its expected
// shape. Callers branch on it with errors.Is; routers drop and log.
var ErrDecode = errors.New("protocol: payload decode failed")

// Envelope is a decoded wire message: where it came from, what kind it is,
// and its raw payload. Envelopes are immutable once constructed and are not
// retained beyond processing.
type Envelope struct {
	Topic    string
	DeviceID string
	Type     MessageType
	Payload  []byte
}

// ParseEnvelope splits a topic and wraps the payload into an Envelope.
// Returns ErrMalformedTopic for topics with too few segments.
func ParseEnvelope(topic string, payload []byte) (Envelope, error) {
	deviceID, msgType, err := ParseTopic(topic)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Topic:    topic,
		DeviceID: deviceID,
		Type:     msgType,
		Payload:  payload,
	}, nil
}

// RegisterPayload is the open metadata mapping a device sends on
// registration: firmware version, architecture, app name, and whatever else
// the device chooses to report.
type RegisterPayload map[string]any

// DecodeRegister parses a registration payload.
// The payload must be a JSON object; anything else is ErrDecode.
func DecodeRegister(data []byte) (RegisterPayload, error) {
	var p RegisterPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: register: %w", ErrDecode, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: register: payload is null", ErrDecode)
	}
	return p, nil
}

// StatusPayload is the periodic telemetry a device publishes.
type StatusPayload struct {
	Theme     string  `json:"theme"`
	Uptime    float64 `json:"uptime"`
	FreeRAM   uint64  `json:"free_ram"`
	TotalRAM  uint64  `json:"total_ram"`
	SyncCount uint64  `json:"sync_count"`
	Timestamp float64 `json:"timestamp"`
}

// DecodeStatus parses a status payload.
func DecodeStatus(data []byte) (StatusPayload, error) {
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return StatusPayload{}, fmt.Errorf("%w: status: %w", ErrDecode, err)
	}
	return p, nil
}

// AckPayload acknowledges a registration. Exactly one of Message or Error is
// set, matching Success.
type AckPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecodeAck parses an acknowledgment payload.
func DecodeAck(data []byte) (AckPayload, error) {
	var p AckPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return AckPayload{}, fmt.Errorf("%w: ack: %w", ErrDecode, err)
	}
	return p, nil
}

// EncodeAck serialises an acknowledgment payload.
func EncodeAck(p AckPayload) []byte {
	data, err := json.Marshal(p)
	if err != nil {
		// AckPayload contains only marshal-safe fields; this cannot fail.
		return []byte(`{"success":false,"error":"internal"}`)
	}
	return data
}

// CommandPayload is an instruction pushed to one device. Params carries
// action-specific extras flattened into the same JSON object on the wire.
type CommandPayload struct {
	Action string
	Params map[string]any
}

// commandActionKey is the reserved JSON key naming the action.
const commandActionKey = "action"

// DecodeCommand parses a command payload. The wire form is a flat JSON
// object {"action": ..., extra keys}; everything besides "action" becomes a
// parameter.
func DecodeCommand(data []byte) (CommandPayload, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return CommandPayload{}, fmt.Errorf("%w: cmd: %w", ErrDecode, err)
	}

	action, ok := raw[commandActionKey].(string)
	if !ok || action == "" {
		return CommandPayload{}, fmt.Errorf("%w: cmd: missing action", ErrDecode)
	}
	delete(raw, commandActionKey)

	return CommandPayload{Action: action, Params: raw}, nil
}

// EncodeCommand serialises a command into its flat wire form.
func EncodeCommand(p CommandPayload) ([]byte, error) {
	raw := make(map[string]any, len(p.Params)+1)
	for k, v := range p.Params {
		raw[k] = v
	}
	raw[commandActionKey] = p.Action

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: cmd: %w", ErrDecode, err)
	}
	return data, nil
}
