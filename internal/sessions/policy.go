package sessions

import "time"

// Policy holds the TTL windows that decide when a membership row is
// stale. The windows are constructor parameters (not ambient config) so
// the predicates are testable with synthetic clocks.
//
// Both the coordinator and the expiration sweep evaluate rooms through
// this policy; nothing else interprets the timestamps.
type Policy struct {
	// InterruptedTTL is the grace period after a connection interruption
	// before the membership counts as gone.
	InterruptedTTL time.Duration
	// InitialConnectTTL is how long a provisioned membership may stay
	// NotConnected before it counts as abandoned.
	InitialConnectTTL time.Duration
	// NoModeratorTTL is how long a community room survives with no
	// active moderator.
	NoModeratorTTL time.Duration
}

func NewPolicy(interruptedTTL, initialConnectTTL, noModeratorTTL time.Duration) Policy {
	return Policy{
		InterruptedTTL:    interruptedTTL,
		InitialConnectTTL: initialConnectTTL,
		NoModeratorTTL:    noModeratorTTL,
	}
}

// rowInactive reports whether a membership no longer counts toward room
// activity.
func (p Policy) rowInactive(status Status, joinedAt, statusUpdatedAt, now time.Time) bool {
	switch status {
	case StatusDisconnected:
		return true
	case StatusInterrupted:
		return now.Sub(statusUpdatedAt) > p.InterruptedTTL
	case StatusNotConnected:
		return now.Sub(joinedAt) > p.InitialConnectTTL
	default:
		return false
	}
}

// PrivateRoomActive reports whether a private room is live: it needs at
// least its two provisioned rows and none of them stale.
func (p Policy) PrivateRoomActive(rows []PrivateSession, now time.Time) bool {
	if len(rows) < 2 {
		return false
	}
	for _, r := range rows {
		if p.rowInactive(r.Status, r.JoinedAt, r.StatusUpdatedAt, now) {
			return false
		}
	}
	return true
}

// PrivateRoomExpired reports whether a private room qualifies for the
// expiration sweep, and whether the live RTC room must be torn down too.
//
// shouldDestroy is false when the only trigger is a Disconnected row: the
// user left voluntarily through the provider, so the live room is assumed
// already gone. A timeout trigger (NotConnected or Interrupted past TTL)
// is the provider's only signal, so the sweep must destroy the room.
func (p Policy) PrivateRoomExpired(rows []PrivateSession, now time.Time) (expired, shouldDestroy bool) {
	for _, r := range rows {
		switch r.Status {
		case StatusDisconnected:
			expired = true
		case StatusNotConnected:
			if now.Sub(r.JoinedAt) >= p.InitialConnectTTL {
				expired = true
				shouldDestroy = true
			}
		case StatusInterrupted:
			if now.Sub(r.StatusUpdatedAt) >= p.InterruptedTTL {
				expired = true
				shouldDestroy = true
			}
		}
	}
	return expired, shouldDestroy
}

// CommunityUserActive reports whether a community membership currently
// counts as present.
func (p Policy) CommunityUserActive(row CommunitySession, now time.Time) bool {
	switch row.Status {
	case StatusConnected:
		return true
	case StatusInterrupted:
		return now.Sub(row.StatusUpdatedAt) <= p.InterruptedTTL
	case StatusNotConnected:
		return now.Sub(row.JoinedAt) <= p.InitialConnectTTL
	default:
		return false
	}
}

// CommunityRoomDestroyable decides community teardown from moderator
// presence alone. Moderators are the trust anchor: without an active one
// there is no one to enforce policy, so the room goes away even if
// ordinary members remain connected.
func (p Policy) CommunityRoomDestroyable(a ModeratorActivity, now time.Time) bool {
	if a.ModeratorCount == 0 {
		return true
	}
	if a.ActiveModeratorCount > 0 {
		return false
	}
	if a.LastActivityAt.IsZero() {
		return true
	}
	return now.Sub(a.LastActivityAt) > p.NoModeratorTTL
}
