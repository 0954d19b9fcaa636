package models

// BanRecord is the ban of one player. Its existence is the ban flag.
type BanRecord struct {
	PlayerID string `json:"player_id"`
	BannedAt int64  `json:"banned_at"`
	Reason   string `json:"reason"`
}
