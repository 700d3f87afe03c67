// Command kdeconnect-cli drives a locally embedded daemon through
// one-shot commands (connect, pair, send, ...) or an interactive
// session, without ever going through DBus or any other out-of-process
// RPC mechanism: each invocation constructs, starts and tears down its
// own internal/daemon.Daemon directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kdeconnect-go/kdeconnect/cmd/kdeconnect-cli/interactive"
	"github.com/kdeconnect-go/kdeconnect/internal/daemon"
	"github.com/kdeconnect-go/kdeconnect/pkg/config"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// wirePacket builds a control packet whose id is the current Unix time
// in milliseconds.
func wirePacket(typ string, body map[string]any) *wire.Packet {
	return wire.New(time.Now().UnixMilli(), typ, body)
}

var (
	configPath = ""
	deviceID   = ""
	deviceName = ""
)

func main() {
	root := &cobra.Command{
		Use:   "kdeconnect-cli",
		Short: "Drive a locally embedded kdeconnect daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&deviceID, "device-id", "", "This device's stable id (generated if empty)")
	root.PersistentFlags().StringVar(&deviceName, "device-name", "", "Human-readable name advertised to peers")

	root.AddCommand(
		connectCmd(),
		disconnectCmd(),
		pairCmd(),
		acceptCmd(),
		rejectCmd(),
		unpairCmd(),
		sendCmd(),
		statusCmd(),
		interactiveCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withDaemon builds and starts a daemon using the shared persistent
// flags, runs fn against it, then stops it. Used by every one-shot
// subcommand so the embedded daemon's lifetime matches the command's.
func withDaemon(fn func(ctx context.Context, d *daemon.Daemon) error) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id := deviceID
	if id == "" {
		id = cfg.DeviceID
	}
	if id == "" {
		id = uuid.NewString()
	}
	name := deviceName
	if name == "" {
		name = cfg.DeviceName
	}
	if name == "" {
		name, _ = os.Hostname()
	}

	d, err := daemon.New(cfg, id, name, identity.Desktop, logger, nil)
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Stop()

	return fn(ctx, d)
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <device-id> <address>",
		Short: "Connect to a peer at the given address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				if err := d.Connect(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("connected to %s\n", args[0])
				return nil
			})
		},
	}
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <device-id>",
		Short: "Disconnect from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				d.Disconnect(args[0])
				fmt.Printf("disconnected from %s\n", args[0])
				return nil
			})
		},
	}
}

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <device-id> <address>",
		Short: "Request pairing with a peer at the given address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				peer := &identity.Identity{DeviceID: args[0]}
				if err := d.RequestPairing(ctx, peer, args[1]); err != nil {
					return err
				}
				fmt.Printf("pairing request sent to %s, waiting for response\n", args[0])
				return waitForPairingOutcome(d, args[0], ctx)
			})
		},
	}
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <device-id>",
		Short: "Accept a pending pairing request from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				if err := d.AcceptPairing(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("accepted pairing with %s\n", args[0])
				return nil
			})
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <device-id>",
		Short: "Reject a pending pairing request from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				if err := d.RejectPairing(args[0]); err != nil {
					return err
				}
				fmt.Printf("rejected pairing with %s\n", args[0])
				return nil
			})
		},
	}
}

func unpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <device-id>",
		Short: "Forget a paired peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				if err := d.Unpair(args[0]); err != nil {
					return err
				}
				fmt.Printf("unpaired %s\n", args[0])
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <device-id> <packet-type> [json-body]",
		Short: "Send a control packet to a paired peer",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &body); err != nil {
					return fmt.Errorf("parse json body: %w", err)
				}
			}
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				pkt := wirePacket(args[1], body)
				if err := d.Send(args[0], pkt); err != nil {
					return err
				}
				fmt.Printf("sent %s to %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <device-id>",
		Short: "Print the pairing status of a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				fmt.Printf("%s: %s\n", args[0], d.PairingStatus(args[0]))
				return nil
			})
		},
	}
}

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Start an interactive session against a freshly started daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			id := deviceID
			if id == "" {
				id = cfg.DeviceID
			}
			if id == "" {
				id = uuid.NewString()
			}
			name := deviceName
			if name == "" {
				name = cfg.DeviceName
			}
			if name == "" {
				name, _ = os.Hostname()
			}

			d, err := daemon.New(cfg, id, name, identity.Desktop, logger, nil)
			if err != nil {
				return fmt.Errorf("construct daemon: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}
			defer d.Stop()

			return interactive.New(d).Run(ctx, cancel)
		},
	}
}

// waitForPairingOutcome blocks until the peer accepts or rejects the
// pairing request just sent, or the command's context times out.
func waitForPairingOutcome(d *daemon.Daemon, deviceID string, ctx context.Context) error {
	ch, unsub := d.Events.Subscribe()
	defer unsub()
	for {
		select {
		case ev := <-ch:
			if ev.DeviceID != deviceID {
				continue
			}
			switch ev.Type {
			case eventbus.PairingAccepted:
				fmt.Printf("%s accepted pairing\n", deviceID)
				return nil
			case eventbus.PairingRejected:
				return fmt.Errorf("%s rejected pairing: %s", deviceID, ev.Reason)
			case eventbus.PairingTimeout:
				return fmt.Errorf("pairing request to %s timed out", deviceID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
