// Command kdeconnect-daemon runs the pairing and connection substrate
// as a standalone background service: it listens for peers, handles
// pairing requests automatically logged (not auto-accepted) via the
// event bus, and dispatches paired traffic to whatever plugins are
// registered.
//
// Usage:
//
//	kdeconnect-daemon [flags]
//
// Flags:
//
//	-config string       Path to a YAML configuration file
//	-device-id string    This device's id (default: a new id generated at each start, not persisted)
//	-device-name string  Human-readable name advertised to peers
//	-listen string        Override the configured listen address
//	-protocol-log string File path for protocol event logging (CBOR format)
//	-log-level string    Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/kdeconnect-go/kdeconnect/internal/daemon"
	"github.com/kdeconnect-go/kdeconnect/pkg/config"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	kdlog "github.com/kdeconnect-go/kdeconnect/pkg/log"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML configuration file")
	deviceID    = flag.String("device-id", "", "This device's id (a new one is generated at each start if empty; not persisted)")
	deviceName  = flag.String("device-name", "", "Human-readable name advertised to peers")
	listenAddr  = flag.String("listen", "", "Override the configured listen address")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	id, name, err := resolveDeviceIdentity(cfg, *deviceID, *deviceName)
	if err != nil {
		logger.Error("failed to resolve device identity", "err", err)
		os.Exit(1)
	}

	var protoLog kdlog.Logger
	if *protocolLog != "" {
		fileLogger, err := kdlog.NewFileLogger(*protocolLog)
		if err != nil {
			logger.Error("failed to open protocol log", "path", *protocolLog, "err", err)
			os.Exit(1)
		}
		defer fileLogger.Close()
		protoLog = kdlog.NewMultiLogger(fileLogger, kdlog.NewSlogAdapter(logger))
	}

	d, err := daemon.New(cfg, id, name, identity.Desktop, logger, protoLog)
	if err != nil {
		logger.Error("failed to construct daemon", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := d.Events.Subscribe()
	defer unsub()
	go logEvents(logger, ch)

	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start daemon", "err", err)
		os.Exit(1)
	}
	logger.Info("daemon listening", "device_id", id, "device_name", name, "listen_addr", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	d.Stop()
}

func logEvents(logger *slog.Logger, ch <-chan eventbus.Event) {
	for ev := range ch {
		switch ev.Type {
		case eventbus.RequestReceived:
			logger.Info("pairing request received, awaiting accept_pairing/reject_pairing",
				"device_id", ev.DeviceID, "device_name", ev.DeviceName, "fingerprint", ev.TheirFingerprint)
		case eventbus.PairingAccepted:
			logger.Info("pairing accepted", "device_id", ev.DeviceID, "fingerprint", ev.CertificateFingerprint)
		case eventbus.PairingRejected:
			logger.Info("pairing rejected", "device_id", ev.DeviceID, "reason", ev.Reason)
		case eventbus.PairingTimeout:
			logger.Info("pairing request timed out", "device_id", ev.DeviceID)
		case eventbus.DeviceUnpaired:
			logger.Info("device unpaired", "device_id", ev.DeviceID)
		case eventbus.Connected:
			logger.Info("peer connected", "device_id", ev.DeviceID, "remote_addr", ev.RemoteAddr)
		case eventbus.Disconnected:
			logger.Info("peer disconnected", "device_id", ev.DeviceID, "reason", ev.Reason)
		case eventbus.Error:
			logger.Warn("protocol error", "device_id", ev.DeviceID, "message", ev.Message)
		}
	}
}

// resolveDeviceIdentity picks the device id/name to advertise: flags
// win, then the loaded config, then a freshly generated id persisted
// nowhere beyond this process's certificate store (the certificate
// itself, keyed by this id, is what actually persists across runs).
func resolveDeviceIdentity(cfg config.Config, idFlag, nameFlag string) (string, string, error) {
	id := idFlag
	if id == "" {
		id = cfg.DeviceID
	}
	if id == "" {
		id = uuid.NewString()
	}

	name := nameFlag
	if name == "" {
		name = cfg.DeviceName
	}
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", "", fmt.Errorf("resolve device name: %w", err)
		}
		name = hostname
	}
	return id, name, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
