package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voice-platform/internal/analytics"
	"voice-platform/internal/rooms"
	"voice-platform/internal/rtc"
	"voice-platform/internal/sessions"
)

// SessionStore is the persistence contract the coordinator mutates.
// *sessions.Store satisfies it; tests inject fakes.
type SessionStore interface {
	CreatePrivateSession(ctx context.Context, roomName string, addresses []string) error
	GetRoomForUser(ctx context.Context, address string) (sessions.PrivateSession, error)
	JoinUserToRoom(ctx context.Context, address, roomName string) (string, error)
	SetStatus(ctx context.Context, address, roomName string, status sessions.Status) error
	ListUsersInRoom(ctx context.Context, roomName string) ([]sessions.PrivateSession, error)
	RemoveSession(ctx context.Context, address, roomName string) error
	DeleteRoom(ctx context.Context, roomName string, requesters []string) ([]string, error)
	PurgeRoom(ctx context.Context, roomName string) error

	UpsertCommunityMembership(ctx context.Context, address, roomName string, isModerator bool) error
	SetCommunityStatus(ctx context.Context, address, roomName string, status sessions.Status) error
	RemoveCommunityMember(ctx context.Context, address, roomName string) error
	RoomModeratorActivity(ctx context.Context, roomName string) (sessions.ModeratorActivity, error)
	PurgeCommunityRoom(ctx context.Context, roomName string) error
}

// Roles accepted on community join. Moderators and owners may create the
// room; plain members require an already-active one.
const (
	RoleOwner     = "owner"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// Coordinator owns every mutation of session rows. It reacts to provider
// events and application-level actions, and instructs the RTC collaborator
// when a live room should exist or disappear.
//
// RTC and analytics calls after a committed store mutation are
// best-effort: failures are logged and never abort the transition.
type Coordinator struct {
	store     SessionStore
	rtc       rtc.RoomService
	analytics analytics.Emitter
	policy    sessions.Policy
	log       *slog.Logger
	clock     func() time.Time
}

func New(store SessionStore, roomSvc rtc.RoomService, emitter analytics.Emitter, policy sessions.Policy, log *slog.Logger) *Coordinator {
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:     store,
		rtc:       roomSvc,
		analytics: emitter,
		policy:    policy,
		log:       log,
		clock:     time.Now,
	}
}

/* ===================== PROVIDER EVENTS ===================== */

// HandleParticipantJoined reacts to a join webhook. A join into a
// no-longer-active private room is stale: the live room is torn down and
// the event dropped. Otherwise the membership is promoted; since a user
// can be durably present in only one private room, a differing old room
// is torn down too.
func (c *Coordinator) HandleParticipantJoined(ctx context.Context, address, roomName string) error {
	address = rooms.NormalizeAddress(address)
	kind, _, ok := rooms.ParseRoomName(roomName)
	if !ok {
		c.log.Warn("join event for foreign room ignored", "room", roomName)
		return nil
	}

	if kind == rooms.KindCommunity {
		err := c.store.SetCommunityStatus(ctx, address, roomName, sessions.StatusConnected)
		if errors.Is(err, sessions.ErrNotFound) {
			// Stale webhook for a membership already swept.
			c.log.Debug("community join for unknown membership ignored", "address", address, "room", roomName)
			return nil
		}
		return err
	}

	rows, err := c.store.ListUsersInRoom(ctx, roomName)
	if err != nil {
		return err
	}
	if !c.policy.PrivateRoomActive(rows, c.clock().UTC()) {
		c.destroyRoom(ctx, roomName, "stale join into inactive room")
		return nil
	}

	oldRoom, err := c.store.JoinUserToRoom(ctx, address, roomName)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			c.log.Warn("join event for unprovisioned membership ignored", "address", address, "room", roomName)
			return nil
		}
		return err
	}
	if oldRoom != "" && oldRoom != roomName {
		c.destroyRoom(ctx, oldRoom, "user switched rooms")
	}
	return nil
}

// HandleParticipantLeft applies the per-reason transition:
//
//	duplicate_identity -> no transition (reconnection in progress)
//	client_initiated   -> Disconnected; private rooms are torn down since
//	                      either party leaving ends a 1:1 call
//	room_deleted       -> row removed outright so a stale webhook cannot
//	                      resurrect it
//	anything else      -> ConnectionInterrupted (grace period applies)
func (c *Coordinator) HandleParticipantLeft(ctx context.Context, address, roomName string, reason rtc.LeaveReason) error {
	address = rooms.NormalizeAddress(address)
	kind, _, ok := rooms.ParseRoomName(roomName)
	if !ok {
		c.log.Warn("left event for foreign room ignored", "room", roomName)
		return nil
	}

	switch reason {
	case rtc.LeaveDuplicateIdentity:
		return nil

	case rtc.LeaveRoomDeleted:
		if kind == rooms.KindCommunity {
			return c.store.RemoveCommunityMember(ctx, address, roomName)
		}
		return c.store.RemoveSession(ctx, address, roomName)

	case rtc.LeaveClientInitiated:
		if kind == rooms.KindCommunity {
			return c.setCommunityStatusIgnoringGone(ctx, address, roomName, sessions.StatusDisconnected)
		}
		c.destroyRoom(ctx, roomName, "participant left voluntarily")
		if err := c.setStatusIgnoringGone(ctx, address, roomName, sessions.StatusDisconnected); err != nil {
			return err
		}
		if err := c.analytics.CallEnded(ctx, roomName, []string{address}); err != nil {
			c.log.Error("call ended analytics failed", "room", roomName, "err", err)
		}
		return nil

	default:
		if kind == rooms.KindCommunity {
			return c.setCommunityStatusIgnoringGone(ctx, address, roomName, sessions.StatusInterrupted)
		}
		return c.setStatusIgnoringGone(ctx, address, roomName, sessions.StatusInterrupted)
	}
}

// HandleRoomDeleted clears every row of a room the provider already tore
// down.
func (c *Coordinator) HandleRoomDeleted(ctx context.Context, roomName string) error {
	kind, _, ok := rooms.ParseRoomName(roomName)
	if !ok {
		return nil
	}
	if kind == rooms.KindCommunity {
		return c.store.PurgeCommunityRoom(ctx, roomName)
	}
	return c.store.PurgeRoom(ctx, roomName)
}

/* ===================== PRIVATE CALLS ===================== */

// CreatePrivateVoiceChat provisions a 1:1 call: the live room, the two
// session rows, and one join credential per address.
func (c *Coordinator) CreatePrivateVoiceChat(ctx context.Context, callID string, addresses []string) (map[string]rtc.JoinCredential, error) {
	if len(addresses) != 2 {
		return nil, fmt.Errorf("private voice chat requires exactly 2 addresses, got %d", len(addresses))
	}
	a0 := rooms.NormalizeAddress(addresses[0])
	a1 := rooms.NormalizeAddress(addresses[1])
	if a0 == a1 {
		return nil, fmt.Errorf("private voice chat requires two distinct addresses")
	}
	roomName := rooms.PrivateRoomName(callID)

	if _, err := c.rtc.CreateOrGetRoom(ctx, roomName); err != nil {
		return nil, fmt.Errorf("provision rtc room: %w", err)
	}
	if err := c.store.CreatePrivateSession(ctx, roomName, []string{a0, a1}); err != nil {
		return nil, err
	}

	creds := make(map[string]rtc.JoinCredential, 2)
	perms := rtc.Permissions{CanPublish: true, CanSubscribe: true}
	for _, addr := range []string{a0, a1} {
		cred, err := c.rtc.GenerateJoinCredential(ctx, addr, roomName, perms, nil)
		if err != nil {
			return nil, fmt.Errorf("credential for %s: %w", addr, err)
		}
		creds[addr] = cred
	}
	return creds, nil
}

// EndPrivateVoiceChat terminates a call at the request of an occupant and
// returns the addresses that were members, for client notification.
// sessions.ErrRoomNotFound when the requester was never part of the room.
func (c *Coordinator) EndPrivateVoiceChat(ctx context.Context, callID, requester string) ([]string, error) {
	roomName := rooms.PrivateRoomName(callID)
	requester = rooms.NormalizeAddress(requester)

	members, err := c.store.DeleteRoom(ctx, roomName, []string{requester})
	if err != nil {
		return nil, err
	}
	c.destroyRoom(ctx, roomName, "call ended by occupant")
	if err := c.analytics.CallEnded(ctx, roomName, members); err != nil {
		c.log.Error("call ended analytics failed", "room", roomName, "err", err)
	}
	return members, nil
}

// IsUserInCall reports whether the user has a qualifying private
// membership.
func (c *Coordinator) IsUserInCall(ctx context.Context, address string) (bool, error) {
	_, err := c.store.GetRoomForUser(ctx, rooms.NormalizeAddress(address))
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

/* ===================== COMMUNITY ROOMS ===================== */

// JoinCommunityVoiceChat creates or refreshes a community membership and
// returns a join credential. Moderators (and owners) may bring the room
// up; plain members need a room that is not currently destroyable.
// Joining a community never evicts the user from other community rooms.
func (c *Coordinator) JoinCommunityVoiceChat(ctx context.Context, communityID, address, role string, profile map[string]string) (rtc.JoinCredential, error) {
	address = rooms.NormalizeAddress(address)
	roomName := rooms.CommunityRoomName(communityID)
	isModerator := role == RoleModerator || role == RoleOwner

	if isModerator {
		if _, err := c.rtc.CreateOrGetRoom(ctx, roomName); err != nil {
			return rtc.JoinCredential{}, fmt.Errorf("provision rtc room: %w", err)
		}
	} else {
		activity, err := c.store.RoomModeratorActivity(ctx, roomName)
		if err != nil {
			return rtc.JoinCredential{}, err
		}
		if c.policy.CommunityRoomDestroyable(activity, c.clock().UTC()) {
			return rtc.JoinCredential{}, sessions.ErrRoomNotFound
		}
	}

	if err := c.store.UpsertCommunityMembership(ctx, address, roomName, isModerator); err != nil {
		return rtc.JoinCredential{}, err
	}

	metadata := map[string]string{"role": role}
	for k, v := range profile {
		metadata[k] = v
	}
	perms := rtc.Permissions{CanPublish: true, CanSubscribe: true, Moderator: isModerator}
	cred, err := c.rtc.GenerateJoinCredential(ctx, address, roomName, perms, metadata)
	if err != nil {
		return rtc.JoinCredential{}, fmt.Errorf("credential for %s: %w", address, err)
	}
	return cred, nil
}

/* ===================== MODERATION ===================== */

// Moderation actions are pass-throughs to the RTC collaborator plus a
// metadata or membership update; the session state machine is not
// involved.

func (c *Coordinator) RequestToSpeak(ctx context.Context, communityID, address string) error {
	roomName := rooms.CommunityRoomName(communityID)
	return c.rtc.UpdateRoomMetadata(ctx, roomName, map[string]string{
		"speak_request": rooms.NormalizeAddress(address),
	})
}

func (c *Coordinator) PromoteSpeaker(ctx context.Context, communityID, address string) error {
	roomName := rooms.CommunityRoomName(communityID)
	return c.rtc.UpdateRoomMetadata(ctx, roomName, map[string]string{
		"speaker:" + rooms.NormalizeAddress(address): "true",
	})
}

func (c *Coordinator) DemoteSpeaker(ctx context.Context, communityID, address string) error {
	roomName := rooms.CommunityRoomName(communityID)
	return c.rtc.UpdateRoomMetadata(ctx, roomName, map[string]string{
		"speaker:" + rooms.NormalizeAddress(address): "false",
	})
}

// KickFromCommunity removes the live participant and the durable
// membership.
func (c *Coordinator) KickFromCommunity(ctx context.Context, communityID, address string) error {
	address = rooms.NormalizeAddress(address)
	roomName := rooms.CommunityRoomName(communityID)
	if err := c.rtc.RemoveParticipant(ctx, roomName, address); err != nil {
		c.log.Error("rtc participant removal failed", "room", roomName, "address", address, "err", err)
	}
	return c.store.RemoveCommunityMember(ctx, address, roomName)
}

/* ===================== HELPERS ===================== */

func (c *Coordinator) destroyRoom(ctx context.Context, roomName, why string) {
	if err := c.rtc.DestroyRoom(ctx, roomName); err != nil {
		c.log.Error("rtc room destroy failed", "room", roomName, "reason", why, "err", err)
	}
}

func (c *Coordinator) setStatusIgnoringGone(ctx context.Context, address, roomName string, status sessions.Status) error {
	err := c.store.SetStatus(ctx, address, roomName, status)
	if errors.Is(err, sessions.ErrNotFound) {
		// Duplicate or late webhook for a row already removed.
		c.log.Debug("status update for missing row ignored", "address", address, "room", roomName, "status", status)
		return nil
	}
	return err
}

func (c *Coordinator) setCommunityStatusIgnoringGone(ctx context.Context, address, roomName string, status sessions.Status) error {
	err := c.store.SetCommunityStatus(ctx, address, roomName, status)
	if errors.Is(err, sessions.ErrNotFound) {
		c.log.Debug("community status update for missing row ignored", "address", address, "room", roomName, "status", status)
		return nil
	}
	return err
}
