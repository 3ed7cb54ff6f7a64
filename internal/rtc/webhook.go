package rtc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider webhook events. Delivery is at-least-once and unordered;
// every consumer must be idempotent.

type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventRoomStarted       EventType = "room_started"
	EventRoomDeleted       EventType = "room_deleted"
	EventIngressStarted    EventType = "ingress_started"
	EventIngressEnded      EventType = "ingress_ended"
)

// LeaveReason qualifies a participant_left event.
type LeaveReason string

const (
	// LeaveClientInitiated is a voluntary leave through the provider.
	LeaveClientInitiated LeaveReason = "client_initiated"
	// LeaveDuplicateIdentity means the same identity connected elsewhere;
	// the old connection is dropped while the new one takes over.
	LeaveDuplicateIdentity LeaveReason = "duplicate_identity"
	// LeaveRoomDeleted means the provider already tore the room down.
	LeaveRoomDeleted LeaveReason = "room_deleted"
	// LeaveConnectionLost is an abrupt network drop.
	LeaveConnectionLost LeaveReason = "connection_lost"
)

// Event is the decoded webhook payload.
type Event struct {
	Type                EventType   `json:"event"`
	RoomName            string      `json:"room_name"`
	ParticipantIdentity string      `json:"participant_identity,omitempty"`
	Reason              LeaveReason `json:"reason,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

var ErrBadSignature = errors.New("webhook signature mismatch")

const SignatureHeader = "X-Webhook-Signature"

// Signature computes the hex HMAC-SHA256 of a webhook body.
func Signature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw body.
func VerifySignature(secret, body []byte, header string) error {
	expected, err := hex.DecodeString(header)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}

// DecodeEvent parses a webhook body into an Event.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	switch e.Type {
	case EventParticipantJoined, EventParticipantLeft, EventRoomStarted,
		EventRoomDeleted, EventIngressStarted, EventIngressEnded:
	default:
		return Event{}, fmt.Errorf("unknown webhook event %q", e.Type)
	}
	if e.RoomName == "" {
		return Event{}, errors.New("webhook event missing room_name")
	}
	return e, nil
}
