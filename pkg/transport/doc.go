// Package transport implements the authenticated, encrypted,
// packet-framed channel between two peers.
//
// Framing: every packet is UTF-8 JSON terminated by a single LF byte.
// Reads consume bytes until LF; a frame exceeding wire.MaxPacketSize is
// rejected. There is no length prefix, and JSON strings must escape
// any embedded LF.
//
// Handshake: the side that accepted the TCP connection starts TLS as
// the client; the side that initiated the TCP connect starts TLS as
// the server. This role inversion matches the historical protocol's
// client library behaviour and cannot be auto-inferred. Certificate
// verification during the handshake itself is TOFU: both sides accept
// any well-formed certificate, and identity binding happens afterward
// by comparing fingerprints at the application layer (see pkg/cert).
//
// Idle timeout defaults to 300 seconds. This is deliberately long: the
// transport never emits keepalive traffic of its own, since a naive
// ping schedule triggers user-visible notifications on some peer
// implementations.
package transport
