// Package interactive provides the interactive command-line session
// for kdeconnect-cli, backed by a single daemon instance kept running
// for the lifetime of the session.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/kdeconnect-go/kdeconnect/internal/daemon"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// Session handles interactive mode for kdeconnect-cli.
type Session struct {
	d *daemon.Daemon
}

// New creates an interactive session around an already-started daemon.
func New(d *daemon.Daemon) *Session {
	return &Session{d: d}
}

// Run starts the read-eval-print loop. It returns once the user
// quits, the context is cancelled, or the prompt's input stream
// closes.
func (s *Session) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.New("kdeconnect> ")
	if err != nil {
		return fmt.Errorf("interactive: %w", err)
	}
	defer rl.Close()

	s.printHelp()
	go s.logEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "connect":
			s.cmdConnect(ctx, args)
		case "disconnect":
			s.cmdDisconnect(args)
		case "pair":
			s.cmdPair(ctx, args)
		case "accept":
			s.cmdAccept(ctx, args)
		case "reject":
			s.cmdReject(args)
		case "unpair":
			s.cmdUnpair(args)
		case "send":
			s.cmdSend(args)
		case "status":
			s.cmdStatus(args)
		case "quit", "exit", "q":
			fmt.Println("Exiting...")
			cancel()
			return nil
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Session) printHelp() {
	fmt.Println(`
kdeconnect-cli interactive commands:
  connect <device-id> <addr>          - Open a connection to a peer
  disconnect <device-id>              - Close a connection
  pair <device-id> <addr>             - Request pairing with a peer
  accept <device-id>                  - Accept a pending pairing request
  reject <device-id>                  - Reject a pending pairing request
  unpair <device-id>                  - Forget a paired peer
  send <device-id> <type> [json-body] - Send a control packet
  status <device-id>                  - Print a peer's pairing status
  help                                - Show this help
  quit                                - Exit`)
}

func (s *Session) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: connect <device-id> <addr>")
		return
	}
	if err := s.d.Connect(ctx, args[0], args[1]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("connected to %s\n", args[0])
}

func (s *Session) cmdDisconnect(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: disconnect <device-id>")
		return
	}
	s.d.Disconnect(args[0])
	fmt.Printf("disconnected from %s\n", args[0])
}

func (s *Session) cmdPair(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: pair <device-id> <addr>")
		return
	}
	peer := &identity.Identity{DeviceID: args[0]}
	if err := s.d.RequestPairing(ctx, peer, args[1]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("pairing request sent to %s\n", args[0])
}

func (s *Session) cmdAccept(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: accept <device-id>")
		return
	}
	if err := s.d.AcceptPairing(ctx, args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("accepted pairing with %s\n", args[0])
}

func (s *Session) cmdReject(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: reject <device-id>")
		return
	}
	if err := s.d.RejectPairing(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("rejected pairing with %s\n", args[0])
}

func (s *Session) cmdUnpair(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: unpair <device-id>")
		return
	}
	if err := s.d.Unpair(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("unpaired %s\n", args[0])
}

func (s *Session) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: send <device-id> <type> [json-body]")
		return
	}
	body := map[string]any{}
	if len(args) >= 3 {
		raw := strings.Join(args[2:], " ")
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			fmt.Printf("Invalid json body: %v\n", err)
			return
		}
	}
	pkt := wire.New(time.Now().UnixMilli(), args[1], body)
	if err := s.d.Send(args[0], pkt); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("sent %s to %s\n", args[1], args[0])
}

func (s *Session) cmdStatus(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: status <device-id>")
		return
	}
	fmt.Printf("%s: %s\n", args[0], s.d.PairingStatus(args[0]))
}

// logEvents prints connection and pairing lifecycle events as they
// happen, so a session watching a peer pair or disconnect sees it
// without having to poll status.
func (s *Session) logEvents() {
	ch, unsub := s.d.Events.Subscribe()
	defer unsub()
	for ev := range ch {
		switch {
		case ev.Message != "":
			fmt.Printf("\n[event] %s: %s\n%s", ev.Type, ev.Message, "kdeconnect> ")
		case ev.DeviceID != "":
			fmt.Printf("\n[event] %s: %s\n%s", ev.Type, ev.DeviceID, "kdeconnect> ")
		}
	}
}
