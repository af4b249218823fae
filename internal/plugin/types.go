// Package plugin runs external hook programs for speed camera events. Each plugin is
// a directory holding a plugin.json manifest and an executable that reads one JSON
// Request on stdin and writes one JSON Response on stdout.
package plugin

import (
	"encoding/json"
	"slices"
)

// Events a plugin can subscribe to.
const (
	// EventSpeed fires for every recorded measurement.
	EventSpeed = "speed"
	// EventCalibration fires for measurements taken in calibration mode.
	EventCalibration = "calibration"
)

// Manifest describes a plugin's metadata and subscriptions.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Events       []string        `json:"events"`
	Config       json.RawMessage `json:"config,omitempty"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Event    string          `json:"event"`
	RecordID string          `json:"record_id,omitempty"`
	Record   json.RawMessage `json:"record,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution. A non-empty Status is
// written back to the record's status column.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the plugin subscribes to event. A manifest without events
// subscribes to EventSpeed.
func (p *Plugin) Handles(event string) bool {
	if len(p.Manifest.Events) == 0 {
		return event == EventSpeed
	}
	return slices.Contains(p.Manifest.Events, event)
}
