package log

import (
	"testing"
	"time"
)

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	logger := NoopLogger{}

	// Should not panic with any event type
	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "test-conn",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryPacket,
	}

	// Test with nil payloads
	logger.Log(event)

	// Test with frame payload
	event.Frame = &FrameEvent{Size: 100, Data: []byte{1, 2, 3}}
	logger.Log(event)

	// Test with packet payload
	event.Frame = nil
	event.Packet = &PacketEvent{ID: 1, Type: "kdeconnect.ping"}
	logger.Log(event)

	// Test with state change payload
	event.Packet = nil
	event.StateChange = &StateChangeEvent{Entity: StateEntityConnection, NewState: "connected"}
	logger.Log(event)

	// Test with transfer payload
	event.StateChange = nil
	event.Transfer = &TransferEvent{TransferID: "t1", Transferred: 10, Total: 100}
	logger.Log(event)

	// Test with error payload
	event.Transfer = nil
	event.Error = &ErrorEventData{Message: "test error"}
	logger.Log(event)
}

func TestLoggerInterfaceSatisfaction(t *testing.T) {
	// Compile-time check that NoopLogger satisfies Logger interface
	var _ Logger = NoopLogger{}
	var _ Logger = &NoopLogger{}
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	// NoopLogger should be usable as zero value
	var logger NoopLogger
	logger.Log(Event{})
}
