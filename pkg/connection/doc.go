// Package connection implements the connection manager: it owns the
// listen socket, one task per live peer, duplicate-connection
// replacement, and send/receive routing.
//
// Exactly one task per live peer owns that peer's transport at a time;
// sending to a peer is done by placing a SendPacket command on that
// task's channel rather than touching the transport directly.
//
// When a peer that is already connected opens a second connection, the
// old one is replaced, never rejected: the manager closes the old
// task, emits Disconnected for it, then installs the new connection
// and emits Connected. A rapid reconnect (under one second since the
// last connect for that peer) is logged as a warning but never
// rejected, since some peer clients treat a rejection as fatal and
// cascade into further reconnect attempts.
package connection
