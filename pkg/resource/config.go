// Package resource enforces global and per-peer caps on concurrent
// connections, concurrent payload transfers, and queued outbound
// packets, to prevent a misbehaving or malicious peer from exhausting
// the daemon.
package resource

// Config holds every configurable cap. DefaultConfig returns the
// spec's default values.
type Config struct {
	MaxConnectionsPerDevice int `yaml:"max_connections_per_device"`
	MaxTotalConnections     int `yaml:"max_total_connections"`

	MaxConcurrentTransfers int   `yaml:"max_concurrent_transfers"`
	MaxTransfersPerDevice  int   `yaml:"max_transfers_per_device"`
	MaxTransferSize        int64 `yaml:"max_transfer_size"`
	MaxTotalTransferSize   int64 `yaml:"max_total_transfer_size"`

	MaxQueuedPacketsPerDevice int `yaml:"max_queued_packets_per_device"`

	MemoryPressureThreshold int64 `yaml:"memory_pressure_threshold"`
}

// DefaultConfig returns the cap table from the resource manager
// specification.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerDevice:   3,
		MaxTotalConnections:       50,
		MaxConcurrentTransfers:    10,
		MaxTransfersPerDevice:     3,
		MaxTransferSize:           100 * 1024 * 1024,
		MaxTotalTransferSize:      1024 * 1024 * 1024,
		MaxQueuedPacketsPerDevice: 100,
		MemoryPressureThreshold:   500 * 1024 * 1024,
	}
}
