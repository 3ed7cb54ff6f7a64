package rtc

import (
	"context"
	"time"
)

// RoomService is the provider-agnostic contract used by business logic.
//
// Rules:
// - No provider SDK calls outside rtc adapters.
// - DestroyRoom is idempotent: destroying a nonexistent room is not an
//   error. The coordinator and sweeper rely on that.
// - The provider is a command sink plus a webhook fact source; it is
//   never the system of record for durable session bookkeeping.
type RoomService interface {
	Name() string
	HealthCheck(ctx context.Context) error

	CreateOrGetRoom(ctx context.Context, roomName string) (Room, error)
	DestroyRoom(ctx context.Context, roomName string) error

	GenerateJoinCredential(ctx context.Context, identity, roomName string, perms Permissions, metadata map[string]string) (JoinCredential, error)

	UpdateRoomMetadata(ctx context.Context, roomName string, patch map[string]string) error
	RemoveParticipant(ctx context.Context, roomName, identity string) error
}

// Room is the provider's view of a live media room.
type Room struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Permissions drive what a join credential allows inside the room.
type Permissions struct {
	CanPublish   bool `json:"can_publish"`
	CanSubscribe bool `json:"can_subscribe"`
	Moderator    bool `json:"moderator"`
}

// JoinCredential is handed to the client so it can connect to the
// provider directly.
type JoinCredential struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}
