package discovery

import (
	"context"
	"fmt"

	"github.com/enbility/zeroconf/v3"
)

// ServiceType is the mDNS service type the daemon advertises itself
// under and browses for peers.
const ServiceType = "_kdeconnect._tcp"

// Domain is the mDNS domain.
const Domain = "local"

// Advertise registers the local device under ServiceType so peers
// running a browser can find it. The returned zeroconf.Server must be
// shut down by the caller (server.Shutdown()).
func Advertise(deviceID, deviceName string, port uint16) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(
		deviceID,
		ServiceType,
		Domain,
		int(port),
		[]string{"name=" + deviceName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}
	return server, nil
}

// Browse watches for peers advertising ServiceType and emits an
// Announcement for each. The channel closes when ctx is cancelled.
func Browse(ctx context.Context) (<-chan Announcement, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan Announcement)

	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ann := entryToAnnouncement(entry)
				if ann == nil {
					continue
				}
				select {
				case out <- *ann:
				case <-ctx.Done():
					return
				}
			case <-removed:
				// Peer no longer advertising; EnsureConnection callers
				// discover this naturally on their next send failure.
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return out, nil
}

func entryToAnnouncement(entry *zeroconf.ServiceEntry) *Announcement {
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}
	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else {
		host = entry.AddrIPv6[0].String()
	}
	name := entry.Instance
	for _, txt := range entry.Text {
		if len(txt) > 5 && txt[:5] == "name=" {
			name = txt[5:]
		}
	}
	return &Announcement{
		DeviceID:   entry.Instance,
		DeviceName: name,
		Host:       host,
		Port:       uint16(entry.Port),
	}
}
