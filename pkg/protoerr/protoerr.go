// Package protoerr implements the error taxonomy used across the
// daemon: a small set of sentinel kinds wrapped with a canonical,
// user-displayable message.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling and display.
type Kind string

const (
	KindIO                      Kind = "io"
	KindTLS                     Kind = "tls"
	KindCertificate              Kind = "certificate"
	KindCertificateValidation   Kind = "certificate_validation"
	KindInvalidPacket           Kind = "invalid_packet"
	KindDeviceNotFound          Kind = "device_not_found"
	KindNotPaired               Kind = "not_paired"
	KindPlugin                  Kind = "plugin"
	KindResourceExhausted       Kind = "resource_exhausted"
	KindTimeout                 Kind = "timeout"
	KindCancelled               Kind = "cancelled"
	KindPermissionDenied        Kind = "permission_denied"
	KindProtocolVersionMismatch Kind = "protocol_version_mismatch"
	KindConfiguration           Kind = "configuration"
)

// canonicalMessages gives each kind a human-readable phrasing suitable
// for direct display, per the kind's default meaning. Callers may
// still wrap with additional context.
var canonicalMessages = map[Kind]string{
	KindIO:                      "I/O error",
	KindTLS:                     "TLS handshake or cipher error",
	KindCertificate:              "certificate generation failed",
	KindCertificateValidation:   "certificate is malformed or invalid",
	KindInvalidPacket:           "received an invalid or oversized packet",
	KindDeviceNotFound:          "device not found",
	KindNotPaired:               "Device not paired. Please pair the device first.",
	KindPlugin:                  "plugin error",
	KindResourceExhausted:       "resource limit exceeded",
	KindTimeout:                 "operation timed out",
	KindCancelled:               "operation cancelled",
	KindPermissionDenied:        "permission denied",
	KindProtocolVersionMismatch: "protocol version mismatch",
	KindConfiguration:           "configuration error",
}

// recoverableKinds are classified as safe to auto-retry per spec §7.
var recoverableKinds = map[Kind]bool{
	KindIO:      true,
	KindTimeout: true,
}

// Error is a protocol-level error carrying a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether this error kind is eligible for
// automatic retry, as opposed to requiring user action.
func (e *Error) Recoverable() bool {
	return recoverableKinds[e.Kind]
}

// New builds an Error of the given kind with its canonical message.
func New(kind Kind) *Error {
	return &Error{Kind: kind, Message: canonicalMessages[kind]}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: canonicalMessages[kind], Err: err}
}

// Wrapf builds an Error of the given kind with a custom message
// wrapping an underlying cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
