package agent

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// agentVersion is reported in status and device_info results.
const agentVersion = "1.0.0"

// ErrUnknownMethod is returned by Call for methods outside the table.
var ErrUnknownMethod = errors.New("agent: unknown rpc method")

// Handler is one RPC method. Params come from the caller's JSON body;
// numbers arrive as float64 per encoding/json.
type Handler func(params map[string]any) (any, error)

// RPC is the agent's method table. The broker command path and the loopback
// debug console both drive the agent through the same handlers.
type RPC struct {
	agent    *Agent
	handlers map[string]Handler
}

// NewRPC builds the method table for an agent.
func NewRPC(a *Agent) *RPC {
	r := &RPC{agent: a}
	r.handlers = map[string]Handler{
		"status":      r.status,
		"get_theme":   r.getTheme,
		"set_theme":   r.setTheme,
		"get_config":  r.getConfig,
		"set_config":  r.setConfig,
		"sync":        r.sync,
		"themes":      r.themes,
		"device_info": r.deviceInfo,
	}
	return r
}

// Call invokes a method by name.
func (r *RPC) Call(method string, params map[string]any) (any, error) {
	handler, ok := r.handlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return handler(params)
}

// Methods returns the registered method names.
func (r *RPC) Methods() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *RPC) status(map[string]any) (any, error) {
	a := r.agent
	return map[string]any{
		"device_id":        a.DeviceID(),
		"theme":            a.Theme(),
		"state":            a.State().String(),
		"uptime":           a.tel.uptime(a.now()),
		"sync_count":       a.SyncCount(),
		"app_name":         a.cfg.Agent.AppName,
		"firmware_version": a.cfg.Agent.FirmwareVersion,
		"agent_version":    agentVersion,
	}, nil
}

func (r *RPC) getTheme(map[string]any) (any, error) {
	return map[string]any{"theme": r.agent.Theme()}, nil
}

// setTheme applies a theme. An unknown theme is not an RPC failure; the
// result carries the error and the valid set so callers can correct
// themselves.
func (r *RPC) setTheme(params map[string]any) (any, error) {
	theme, _ := params["theme"].(string)
	if err := r.agent.SetTheme(theme); err != nil {
		return map[string]any{
			"error":        "invalid theme",
			"valid_themes": themeIDs(),
		}, nil
	}
	return map[string]any{
		"success": true,
		"theme":   theme,
		"message": "Theme updated successfully",
	}, nil
}

func (r *RPC) getConfig(map[string]any) (any, error) {
	a := r.agent
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"device_id":     a.deviceID,
		"theme":         a.cfg.Agent.Theme,
		"sync_interval": a.cfg.Agent.SyncInterval,
		"mqtt_topic":    a.cfg.Fleet.TopicPrefix,
		"mqtt_broker":   fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
	}, nil
}

// setConfig merges the provided keys into the running config and persists
// the file. Interval changes apply on the next restart; the sync ticker is
// not rebuilt mid-flight.
func (r *RPC) setConfig(params map[string]any) (any, error) {
	a := r.agent
	updated := map[string]any{}

	if theme, ok := params["theme"].(string); ok {
		if err := a.SetTheme(theme); err != nil {
			return map[string]any{
				"error":        "invalid theme",
				"valid_themes": themeIDs(),
			}, nil
		}
		updated["theme"] = theme
	}

	if raw, ok := params["sync_interval"]; ok {
		interval, ok := raw.(float64)
		if !ok || interval <= 0 {
			return map[string]any{"error": "sync_interval must be a positive number"}, nil
		}
		a.mu.Lock()
		a.cfg.Agent.SyncInterval = int(interval)
		if err := a.saveConfigLocked(); err != nil {
			a.logger.Error("persisting config", "error", err)
		}
		a.mu.Unlock()
		updated["sync_interval"] = int(interval)
	}

	return map[string]any{
		"success": true,
		"updated": updated,
		"message": "Configuration updated",
	}, nil
}

func (r *RPC) sync(map[string]any) (any, error) {
	a := r.agent
	a.Sync()
	return map[string]any{
		"success":   true,
		"message":   "Sync triggered",
		"timestamp": float64(a.now().UnixNano()) / 1e9,
	}, nil
}

func (r *RPC) themes(map[string]any) (any, error) {
	return map[string]any{"themes": themeCatalog()}, nil
}

func (r *RPC) deviceInfo(map[string]any) (any, error) {
	a := r.agent
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]any{
		"device_id":        a.DeviceID(),
		"architecture":     runtime.GOARCH,
		"go_version":       runtime.Version(),
		"app_name":         a.cfg.Agent.AppName,
		"firmware_version": a.cfg.Agent.FirmwareVersion,
		"agent_version":    agentVersion,
		"uptime":           a.tel.uptime(a.now()),
		"ram": map[string]any{
			"free":  ms.Sys - ms.HeapAlloc,
			"total": ms.Sys,
		},
	}, nil
}

// themeEntry is one catalog row returned by the themes method.
type themeEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// themeCatalog returns the display catalog in enumeration order.
func themeCatalog() []themeEntry {
	names := map[protocol.Theme]string{
		protocol.ThemeMario:       "Mario World",
		protocol.ThemeRock:        "Rock Arena",
		protocol.ThemeElectronics: "Electronics Lab",
		protocol.ThemeChemistry:   "Chemistry Lab",
		protocol.ThemeRobotics:    "Robotics Factory",
		protocol.ThemeMath:        "Mathematics Realm",
		protocol.ThemePhysics:     "Physics Field",
		protocol.ThemeBiology:     "Biology Center",
		protocol.ThemeArt:         "Art Studio",
		protocol.ThemeMusic:       "Music Studio",
		protocol.ThemeSpace:       "Space Station",
	}

	catalog := make([]themeEntry, 0, len(names))
	for _, theme := range protocol.AllThemes() {
		catalog = append(catalog, themeEntry{ID: string(theme), Name: names[theme]})
	}
	return catalog
}

func themeIDs() []string {
	themes := protocol.AllThemes()
	ids := make([]string, len(themes))
	for i, theme := range themes {
		ids[i] = string(theme)
	}
	return ids
}
