package sessions

import "time"

// Status is the durable connection state of one (address, room) membership.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusConnected    Status = "connected"
	StatusInterrupted  Status = "connection_interrupted"
	StatusDisconnected Status = "disconnected"
)

// PrivateSession is one membership row of a 1:1 call room.
//
// A private room is meaningful only with exactly two distinct addresses;
// rows are inserted pairwise when the room is provisioned.
type PrivateSession struct {
	Address         string    `json:"address" db:"address"`
	RoomName        string    `json:"room_name" db:"room_name"`
	Status          Status    `json:"status" db:"status"`
	JoinedAt        time.Time `json:"joined_at" db:"joined_at"`
	StatusUpdatedAt time.Time `json:"status_updated_at" db:"status_updated_at"`
}

// CommunitySession is one membership row of a moderated community room.
// Upsert semantics on repeated join: status and moderator flag are
// refreshed, never duplicated.
type CommunitySession struct {
	Address         string    `json:"address" db:"address"`
	RoomName        string    `json:"room_name" db:"room_name"`
	Status          Status    `json:"status" db:"status"`
	IsModerator     bool      `json:"is_moderator" db:"is_moderator"`
	JoinedAt        time.Time `json:"joined_at" db:"joined_at"`
	StatusUpdatedAt time.Time `json:"status_updated_at" db:"status_updated_at"`
}

// ModeratorActivity aggregates moderator presence for one community room.
// LastActivityAt is zero when the room never had a moderator row.
type ModeratorActivity struct {
	RoomName             string
	ModeratorCount       int
	ActiveModeratorCount int
	LastActivityAt       time.Time
}
