// Package protocol defines the wire contract shared by the fleet hub and the
// device agent.
//
// It contains no behaviour beyond encoding and decoding:
//   - Topic naming scheme and parsing ({prefix}/{deviceId}/{messageType})
//   - Message payload types for register, status, theme, cmd, and ack
//   - The fixed theme enumeration both sides validate against
//
// # Topic Structure
//
// Every fleet topic carries the device ID as its second-to-last segment and
// the message type as its last segment:
//
//	infinity-portal/devices/esp32-7/register   device → hub
//	infinity-portal/devices/esp32-7/ack        hub → device
//	infinity-portal/devices/esp32-7/status     device → hub
//	infinity-portal/devices/esp32-7/theme      hub → device
//	infinity-portal/devices/esp32-7/cmd        hub → device
//
// The prefix is configurable; everything after it is fixed. A topic with
// fewer than three segments is malformed and must be dropped by routers,
// never crash them.
//
// # Decoding
//
// All decode functions return (value, error) so call sites are forced to
// branch on failure. Malformed payloads from devices are untrusted input and
// degrade to drop-and-log at the caller.
package protocol
