// Package config provides YAML-based configuration for the fleet hub and
// device agent.
//
// Configuration is loaded from a single YAML file with environment variable
// overrides (FLEET_* pattern). Defaults are applied first, then file values,
// then environment values.
//
// The agent additionally writes its theme back into the file via Save when a
// theme push is applied, so the setting survives restarts.
package config
