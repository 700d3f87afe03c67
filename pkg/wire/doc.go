// Package wire defines the Packet value exchanged over a transport
// connection and its JSON framing rules.
//
// Every packet is the UTF-8 encoding of its canonical JSON
// serialization terminated by a single LF byte. There is no length
// prefix; a frame exceeding MaxPacketSize is rejected.
package wire
