// Package models defines the JSON bodies of the diagnostics REST API.
package models

import (
	"time"

	"github.com/saelay/trdpstack/internal/trdp"
)

// StatusResponse is the health check body.
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse carries an error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MemoryStats reports host memory usage.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats reports host CPU usage.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// StatsResponse is the full statistics body.
type StatsResponse struct {
	Uptime        string                  `json:"uptime"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StartTime     time.Time               `json:"start_time"`
	CPU           CPUStats                `json:"cpu"`
	Memory        MemoryStats             `json:"memory"`
	Session       *SessionResponse        `json:"session,omitempty"`
	Counters      trdp.StatisticsSnapshot `json:"counters"`
}

// SessionResponse describes the running TRDP session.
type SessionResponse struct {
	OwnIP     string `json:"own_ip"`
	ETBTopo   uint32 `json:"etb_topo"`
	OpTrnTopo uint32 `json:"op_trn_topo"`
}

// DatasetElement is one element of a dataset schema.
type DatasetElement struct {
	Type  uint32 `json:"type"`
	Count uint32 `json:"count"`
}

// Dataset is a dataset schema.
type Dataset struct {
	ID       uint32           `json:"id"`
	Elements []DatasetElement `json:"elements"`
}

// ComIDBinding maps a comId to a dataset.
type ComIDBinding struct {
	ComID     uint32 `json:"comid"`
	DatasetID uint32 `json:"dataset_id"`
}
