package client

import "time"

// Heartbeat is the latest worker heartbeat as reported by the daemon.
type Heartbeat struct {
	At       time.Time `json:"at"`
	IsSynced *bool     `json:"is_synced"`
	Error    string    `json:"error,omitempty"`
}

// Status is the response of GET /status.
type Status struct {
	Worker    string     `json:"worker"`
	Sync      string     `json:"sync"`
	Stale     bool       `json:"stale"`
	Heartbeat *Heartbeat `json:"heartbeat"`
}

// Configuration is the stored target process and CPU selection.
type Configuration struct {
	ProcessName string `json:"process_name"`
	CPUs        []int  `json:"cpus"`
	CPUCount    int    `json:"cpu_count"`
	Title       string `json:"title"`
	Mask        string `json:"mask"`
}

// SetConfigRequest replaces the whole configuration.
type SetConfigRequest struct {
	ProcessName string `json:"process_name"`
	CPUs        []int  `json:"cpus"`
}

// ToggleRequest selects or deselects a single CPU.
type ToggleRequest struct {
	CPU int  `json:"cpu"`
	On  bool `json:"on"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
