package mqtt

import "fmt"

// TopicPrefixSystem is the base for hub/agent presence topics. These sit
// outside the per-device fleet hierarchy so presence messages are never
// confused with device traffic.
const TopicPrefixSystem = "infinity-portal/system"

// SystemStatus returns the presence topic a client announces itself on.
// Both the hub and agents publish retained online/offline payloads here,
// and the broker publishes the LWT here on unexpected disconnect.
//
// Example: infinity-portal/system/status
func SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
