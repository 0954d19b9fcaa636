package messages

import "encoding/json"

const (
	// MessageBufferSize is the largest decompressed peer state accepted
	MessageBufferSize = 1 << 20
)

// PeerState is the state a LAN peer broadcasts for one of its players.
// State is the raw game state document and is validated before use.
type PeerState struct {
	PlayerID string          `json:"player_id"`
	State    json.RawMessage `json:"state"`
	SentAt   int64           `json:"sent_at"`
}
