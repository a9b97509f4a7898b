package agent

import (
	"fmt"
	"net"
	"strings"
)

// resolveDeviceID returns the configured ID when set, otherwise derives one
// from the first hardware network interface. Devices without a configured ID
// stay stable across restarts as long as their NIC does.
func resolveDeviceID(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return formatMAC(iface.HardwareAddr), nil
	}

	return "", fmt.Errorf("no network interface with a hardware address")
}

// formatMAC renders a hardware address as lowercase hex without separators,
// e.g. "a4cf12b3c401".
func formatMAC(addr net.HardwareAddr) string {
	var b strings.Builder
	for _, octet := range addr {
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String()
}
