// Package log provides structured protocol logging for the daemon.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, plugin, payload).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by passing a Logger implementation to
// daemon.New:
//
//	// For development: log to console via slog
//	var protoLog log.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	fileLogger, err := log.NewFileLogger("/var/log/kdeconnect/daemon.klog")
//
//	// Both: use MultiLogger
//	protoLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame bytes (FrameEvent)
//   - Wire: Decoded packets (PacketEvent)
//   - Plugin/Payload: Connection state and transfer progress (StateChangeEvent, TransferEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with a .klog extension.
package log
