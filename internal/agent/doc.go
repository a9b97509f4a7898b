// Package agent implements the device-side participant of the fleet bus.
//
// An Agent registers itself with the hub over MQTT, publishes periodic
// telemetry, and reacts to theme pushes and commands addressed to its device
// topics. The same operations are exposed locally through a small RPC table
// served by a loopback debug console, so an operator on the device can
// inspect and drive the agent without going through the broker.
package agent
