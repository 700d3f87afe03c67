// Package discovery defines the minimal shape an upstream discovery
// mechanism hands to the connection manager.
//
// How peers are found (UDP identity broadcast, mDNS, a paired-device
// list, a QR code) is out of scope here; this package only fixes the
// shape of an already-resolved announcement and, optionally, adapts
// one concrete mechanism (zeroconf/mDNS) into that shape. Nothing in
// pkg/connection or pkg/pairing imports this adapter — they only
// consume Announcement values, however they were produced.
package discovery
