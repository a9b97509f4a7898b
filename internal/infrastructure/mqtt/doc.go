// Package mqtt provides MQTT client connectivity for the fleet hub and agent.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the message bus connecting the fleet hub to the device agents.
// The broker (Mosquitto) decouples the hub from individual devices: the hub
// subscribes to wildcard patterns and devices publish to their own topics.
//
//	Fleet Hub ↔ MQTT Broker ↔ Device Agents
//
// Fleet topic construction lives in internal/protocol; this package only
// knows the presence topic it announces itself on.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device status updates
//	err = client.Subscribe("infinity-portal/devices/+/status", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Push a theme to one device
//	client.Publish("infinity-portal/devices/esp32-abc/theme", []byte(`{"theme":"space"}`), 1, false)
package mqtt
