package rooms

import "strings"

// Room names are derived deterministically from caller-supplied ids so
// that provider webhook events (which only carry the room name) can be
// correlated back to the originating call or community.

type Kind string

const (
	KindPrivate   Kind = "private"
	KindCommunity Kind = "community"
)

const (
	privatePrefix   = "private-voice-chat-"
	communityPrefix = "community-voice-chat-"
)

// PrivateRoomName derives the room name for a 1:1 call.
func PrivateRoomName(callID string) string {
	return privatePrefix + callID
}

// CommunityRoomName derives the room name for a community room.
func CommunityRoomName(communityID string) string {
	return communityPrefix + communityID
}

// ParseRoomName reverses the derivation. ok is false for room names this
// service did not mint.
func ParseRoomName(roomName string) (kind Kind, id string, ok bool) {
	if rest, found := strings.CutPrefix(roomName, privatePrefix); found && rest != "" {
		return KindPrivate, rest, true
	}
	if rest, found := strings.CutPrefix(roomName, communityPrefix); found && rest != "" {
		return KindCommunity, rest, true
	}
	return "", "", false
}

// NormalizeAddress lowercases and trims a user address. All session rows
// key on the normalized form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
