// Package gateway connects the device registry to the MQTT broker.
//
// The Gateway owns the hub's wildcard subscriptions: it receives register
// and status traffic from every device, decodes it, and applies it to the
// registry. Registration is the only acknowledged operation; everything
// else on the bus is fire-and-forget.
//
// The Dispatcher is the outbound half: theme pushes, theme broadcasts, and
// device commands. It publishes through the Gateway and never waits for a
// device to respond.
package gateway
