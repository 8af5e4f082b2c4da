package engine

import "fmt"

// Represents the type of sync frame (first byte on the wire)
type MessageType byte

const (
	// Document sync protocol messages
	MessageSync MessageType = 0

	// Awareness protocol messages (cursors, selections)
	MessageAwareness MessageType = 1

	// Authentication messages
	MessageAuth MessageType = 2
)

// SyncStep represents the step in the sync protocol (second byte)
type SyncStep byte

const (
	// Client sends state vector
	SyncStep1 SyncStep = 0

	// Server responds with missing updates
	SyncStep2 SyncStep = 1

	// Regular update broadcast
	SyncUpdate SyncStep = 2
)

// ValidateFrame checks the framing of an inbound sync message. The payload
// beyond the two header bytes stays opaque.
func ValidateFrame(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty message")
	}

	switch MessageType(data[0]) {
	case MessageSync:
		if len(data) < 2 {
			return fmt.Errorf("sync message too short")
		}
		if SyncStep(data[1]) > SyncUpdate {
			return fmt.Errorf("invalid sync step: %d", data[1])
		}
		return nil
	case MessageAwareness:
		if len(data) < 2 {
			return fmt.Errorf("awareness message too short")
		}
		return nil
	default:
		return fmt.Errorf("unknown message type: %d", data[0])
	}
}

// IsDocUpdate reports whether a frame carries a document update worth
// persisting for late joiners.
func IsDocUpdate(data []byte) bool {
	return len(data) >= 2 &&
		MessageType(data[0]) == MessageSync &&
		SyncStep(data[1]) == SyncUpdate
}
