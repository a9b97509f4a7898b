package gateway

import (
	"github.com/google/uuid"

	"github.com/infinity-portal/fleet-core/internal/fleet"
	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// Publisher is the outbound surface the dispatcher needs.
// Satisfied by *Gateway and mocked in tests.
type Publisher interface {
	Publish(topic string, payload []byte)
	Topics() protocol.Topics
}

// Dispatcher pushes themes and commands to devices.
//
// Every operation is fire-and-forget: the boolean results report whether
// the target device exists in the registry, never whether the device
// received or applied anything.
type Dispatcher struct {
	publisher Publisher
	registry  *fleet.Registry
	logger    Logger
}

// NewDispatcher creates a dispatcher publishing through the given publisher.
func NewDispatcher(publisher Publisher, registry *fleet.Registry, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		publisher: publisher,
		registry:  registry,
		logger:    logger,
	}
}

// PushTheme sends a theme to one device. Returns false if the device is
// unknown. The registry record is updated immediately; the device's next
// status report confirms or corrects it.
//
// The wire payload is the raw theme string, not JSON.
func (d *Dispatcher) PushTheme(deviceID, theme string) bool {
	if _, ok := d.registry.Get(deviceID); !ok {
		return false
	}

	d.publisher.Publish(d.publisher.Topics().Theme(deviceID), []byte(theme))
	d.registry.SetTheme(deviceID, theme)

	d.logger.Info("theme pushed", "device_id", deviceID, "theme", theme)
	return true
}

// BroadcastTheme sends a theme to every online device and returns the
// number of devices targeted. The online snapshot is taken once; a device
// demoted between snapshot and publish still counts, which is accepted as
// eventual consistency.
func (d *Dispatcher) BroadcastTheme(theme string) int {
	count := 0
	for _, device := range d.registry.List() {
		if !device.Online {
			continue
		}
		d.publisher.Publish(d.publisher.Topics().Theme(device.ID), []byte(theme))
		d.registry.SetTheme(device.ID, theme)
		count++
	}

	d.logger.Info("theme broadcast", "theme", theme, "targets", count)
	return count
}

// SendCommand publishes a command envelope to one device. Returns false if
// the device is unknown. There is no application-level ack; the command ID
// exists only for log correlation.
func (d *Dispatcher) SendCommand(deviceID, action string, params map[string]any) bool {
	if _, ok := d.registry.Get(deviceID); !ok {
		return false
	}

	payload, err := protocol.EncodeCommand(protocol.CommandPayload{
		Action: action,
		Params: params,
	})
	if err != nil {
		d.logger.Error("command encode failed",
			"device_id", deviceID,
			"action", action,
			"error", err,
		)
		return false
	}

	cmdID := uuid.NewString()
	d.publisher.Publish(d.publisher.Topics().Command(deviceID), payload)

	d.logger.Info("command sent",
		"cmd_id", cmdID,
		"device_id", deviceID,
		"action", action,
	)
	return true
}

// RequestSync asks a device to publish a status report immediately.
func (d *Dispatcher) RequestSync(deviceID string) bool {
	return d.SendCommand(deviceID, "sync", nil)
}

// RequestRestart asks a device to reboot.
func (d *Dispatcher) RequestRestart(deviceID string) bool {
	return d.SendCommand(deviceID, "restart", nil)
}
