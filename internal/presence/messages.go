package presence

import "encoding/json"

// Server -> client frame listing everyone currently in a room
type ActiveUsersMessage struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

const MessageActiveUsers = "active-users"

// User is one row of the active-users view.
type User struct {
	ClientID string `json:"clientID"`
	UserName string `json:"userName"`
	Color    string `json:"color"`
	RoomCode string `json:"roomCode"`
}

// Kind classifies an inbound presence frame. The set is closed: clients
// only ever send a liveness acknowledgment; everything else, malformed
// JSON included, is noise and gets ignored.
type Kind int

const (
	KindUnknown Kind = iota
	KindLivenessAck
)

const livenessAckType = "pong"

func ParseMessage(data []byte) Kind {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return KindUnknown
	}
	if m.Type == livenessAckType {
		return KindLivenessAck
	}
	return KindUnknown
}
