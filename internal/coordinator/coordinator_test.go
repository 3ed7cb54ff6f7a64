package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-platform/internal/rooms"
	"voice-platform/internal/rtc"
	"voice-platform/internal/sessions"
)

var testPolicy = sessions.NewPolicy(30*time.Second, time.Minute, 5*time.Minute)

type memKey struct{ addr, room string }

// memStore is an in-memory SessionStore good enough for coordinator
// semantics; SQL-level behavior is covered by the store itself.
type memStore struct {
	private   map[memKey]*sessions.PrivateSession
	community map[memKey]*sessions.CommunitySession
	activity  map[string]sessions.ModeratorActivity
	now       time.Time
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		private:   map[memKey]*sessions.PrivateSession{},
		community: map[memKey]*sessions.CommunitySession{},
		activity:  map[string]sessions.ModeratorActivity{},
		now:       now,
	}
}

func (m *memStore) CreatePrivateSession(_ context.Context, roomName string, addresses []string) error {
	for _, a := range addresses {
		k := memKey{a, roomName}
		if _, exists := m.private[k]; exists {
			return sessions.ErrConflict
		}
		m.private[k] = &sessions.PrivateSession{
			Address: a, RoomName: roomName,
			Status: sessions.StatusNotConnected, JoinedAt: m.now, StatusUpdatedAt: m.now,
		}
	}
	return nil
}

func (m *memStore) GetRoomForUser(_ context.Context, address string) (sessions.PrivateSession, error) {
	for k, row := range m.private {
		if k.addr == address && row.Status == sessions.StatusConnected {
			return *row, nil
		}
	}
	for k, row := range m.private {
		if k.addr == address && row.Status != sessions.StatusDisconnected {
			return *row, nil
		}
	}
	return sessions.PrivateSession{}, sessions.ErrNotFound
}

func (m *memStore) JoinUserToRoom(ctx context.Context, address, roomName string) (string, error) {
	old, err := m.GetRoomForUser(ctx, address)
	oldRoom := ""
	if err == nil {
		oldRoom = old.RoomName
	}
	target, ok := m.private[memKey{address, roomName}]
	if !ok {
		return "", sessions.ErrNotFound
	}
	target.Status = sessions.StatusConnected
	target.StatusUpdatedAt = m.now
	if oldRoom != "" && oldRoom != roomName {
		prev := m.private[memKey{address, oldRoom}]
		prev.Status = sessions.StatusDisconnected
		prev.StatusUpdatedAt = m.now
	}
	return oldRoom, nil
}

func (m *memStore) SetStatus(_ context.Context, address, roomName string, status sessions.Status) error {
	row, ok := m.private[memKey{address, roomName}]
	if !ok {
		return sessions.ErrNotFound
	}
	row.Status = status
	row.StatusUpdatedAt = m.now
	return nil
}

func (m *memStore) ListUsersInRoom(_ context.Context, roomName string) ([]sessions.PrivateSession, error) {
	var out []sessions.PrivateSession
	for k, row := range m.private {
		if k.room == roomName {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memStore) RemoveSession(_ context.Context, address, roomName string) error {
	delete(m.private, memKey{address, roomName})
	return nil
}

func (m *memStore) DeleteRoom(_ context.Context, roomName string, requesters []string) ([]string, error) {
	var members []string
	found := false
	for k := range m.private {
		if k.room != roomName {
			continue
		}
		members = append(members, k.addr)
		for _, r := range requesters {
			if r == k.addr {
				found = true
			}
		}
	}
	if !found {
		return nil, sessions.ErrRoomNotFound
	}
	for _, a := range members {
		delete(m.private, memKey{a, roomName})
	}
	return members, nil
}

func (m *memStore) PurgeRoom(_ context.Context, roomName string) error {
	for k := range m.private {
		if k.room == roomName {
			delete(m.private, k)
		}
	}
	return nil
}

func (m *memStore) UpsertCommunityMembership(_ context.Context, address, roomName string, isModerator bool) error {
	m.community[memKey{address, roomName}] = &sessions.CommunitySession{
		Address: address, RoomName: roomName,
		Status: sessions.StatusNotConnected, IsModerator: isModerator,
		JoinedAt: m.now, StatusUpdatedAt: m.now,
	}
	return nil
}

func (m *memStore) SetCommunityStatus(_ context.Context, address, roomName string, status sessions.Status) error {
	row, ok := m.community[memKey{address, roomName}]
	if !ok {
		return sessions.ErrNotFound
	}
	row.Status = status
	row.StatusUpdatedAt = m.now
	return nil
}

func (m *memStore) RemoveCommunityMember(_ context.Context, address, roomName string) error {
	delete(m.community, memKey{address, roomName})
	return nil
}

func (m *memStore) RoomModeratorActivity(_ context.Context, roomName string) (sessions.ModeratorActivity, error) {
	a, ok := m.activity[roomName]
	if !ok {
		return sessions.ModeratorActivity{}, sessions.ErrRoomNotFound
	}
	return a, nil
}

func (m *memStore) PurgeCommunityRoom(_ context.Context, roomName string) error {
	for k := range m.community {
		if k.room == roomName {
			delete(m.community, k)
		}
	}
	return nil
}

// stubRoomService records commands; destroy never fails unless told to.
type stubRoomService struct {
	created   []string
	destroyed []string
	removed   []string
	metadata  map[string]map[string]string
	destroyErr error
}

func (s *stubRoomService) Name() string                          { return "stub" }
func (s *stubRoomService) HealthCheck(context.Context) error     { return nil }
func (s *stubRoomService) CreateOrGetRoom(_ context.Context, name string) (rtc.Room, error) {
	s.created = append(s.created, name)
	return rtc.Room{Name: name}, nil
}
func (s *stubRoomService) DestroyRoom(_ context.Context, name string) error {
	s.destroyed = append(s.destroyed, name)
	return s.destroyErr
}
func (s *stubRoomService) GenerateJoinCredential(_ context.Context, identity, roomName string, _ rtc.Permissions, _ map[string]string) (rtc.JoinCredential, error) {
	return rtc.JoinCredential{URL: "wss://rtc.test", Token: identity + "@" + roomName}, nil
}
func (s *stubRoomService) UpdateRoomMetadata(_ context.Context, roomName string, patch map[string]string) error {
	if s.metadata == nil {
		s.metadata = map[string]map[string]string{}
	}
	if s.metadata[roomName] == nil {
		s.metadata[roomName] = map[string]string{}
	}
	for k, v := range patch {
		s.metadata[roomName][k] = v
	}
	return nil
}
func (s *stubRoomService) RemoveParticipant(_ context.Context, roomName, identity string) error {
	s.removed = append(s.removed, identity+"@"+roomName)
	return nil
}

type recordingEmitter struct {
	ended   []string
	expired []string
}

func (r *recordingEmitter) CallEnded(_ context.Context, roomName string, _ []string) error {
	r.ended = append(r.ended, roomName)
	return nil
}
func (r *recordingEmitter) CallExpired(_ context.Context, roomName string) error {
	r.expired = append(r.expired, roomName)
	return nil
}

func newTestCoordinator(now time.Time) (*Coordinator, *memStore, *stubRoomService, *recordingEmitter) {
	store := newMemStore(now)
	svc := &stubRoomService{}
	emitter := &recordingEmitter{}
	c := New(store, svc, emitter, testPolicy, nil)
	c.clock = func() time.Time { return now }
	return c, store, svc, emitter
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

/* ===================== TESTS ===================== */

func TestPrivateCallLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, emitter := newTestCoordinator(now)

	room := rooms.PrivateRoomName("call-1")
	creds, err := c.CreatePrivateVoiceChat(ctx, "call-1", []string{"0xA", "0xB"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if _, ok := creds["0xa"]; !ok {
		t.Fatalf("expected credential for normalized address 0xa")
	}
	if !contains(svc.created, room) {
		t.Fatalf("rtc room was not provisioned")
	}

	// Both parties join.
	if err := c.HandleParticipantJoined(ctx, "0xA", room); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if err := c.HandleParticipantJoined(ctx, "0xB", room); err != nil {
		t.Fatalf("join B: %v", err)
	}
	rows, _ := store.ListUsersInRoom(ctx, room)
	for _, r := range rows {
		if r.Status != sessions.StatusConnected {
			t.Fatalf("expected %s connected, got %s", r.Address, r.Status)
		}
	}

	// B leaves voluntarily: room torn down, analytics emitted once.
	if err := c.HandleParticipantLeft(ctx, "0xB", room, rtc.LeaveClientInitiated); err != nil {
		t.Fatalf("left: %v", err)
	}
	if !contains(svc.destroyed, room) {
		t.Fatalf("rtc room was not destroyed on voluntary leave")
	}
	if len(emitter.ended) != 1 {
		t.Fatalf("expected 1 call_ended event, got %d", len(emitter.ended))
	}
	if row := store.private[memKey{"0xb", room}]; row.Status != sessions.StatusDisconnected {
		t.Fatalf("expected B disconnected, got %s", row.Status)
	}
}

func TestHandleParticipantLeft_Idempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, _, _ := newTestCoordinator(now)

	room := rooms.PrivateRoomName("call-1")
	if err := store.CreatePrivateSession(ctx, room, []string{"0xa", "0xb"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.HandleParticipantLeft(ctx, "0xA", room, rtc.LeaveClientInitiated); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	if row := store.private[memKey{"0xa", room}]; row.Status != sessions.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", row.Status)
	}

	// Row already swept: a third delivery is still a benign no-op.
	if err := store.RemoveSession(ctx, "0xa", room); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.HandleParticipantLeft(ctx, "0xA", room, rtc.LeaveClientInitiated); err != nil {
		t.Fatalf("post-sweep delivery: %v", err)
	}
}

func TestHandleParticipantLeft_Reasons(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	room := rooms.PrivateRoomName("call-1")
	_ = store.CreatePrivateSession(ctx, room, []string{"0xa", "0xb"})

	// Duplicate identity: reconnection in progress, nothing changes.
	if err := c.HandleParticipantLeft(ctx, "0xA", room, rtc.LeaveDuplicateIdentity); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if row := store.private[memKey{"0xa", room}]; row.Status != sessions.StatusNotConnected {
		t.Fatalf("duplicate identity must not transition, got %s", row.Status)
	}
	if len(svc.destroyed) != 0 {
		t.Fatalf("duplicate identity must not destroy rooms")
	}

	// Network blip: interrupted, grace period applies.
	if err := c.HandleParticipantLeft(ctx, "0xA", room, rtc.LeaveConnectionLost); err != nil {
		t.Fatalf("connection lost: %v", err)
	}
	if row := store.private[memKey{"0xa", room}]; row.Status != sessions.StatusInterrupted {
		t.Fatalf("expected interrupted, got %s", row.Status)
	}

	// Provider already deleted the room: row removed outright.
	if err := c.HandleParticipantLeft(ctx, "0xB", room, rtc.LeaveRoomDeleted); err != nil {
		t.Fatalf("room deleted: %v", err)
	}
	if _, ok := store.private[memKey{"0xb", room}]; ok {
		t.Fatalf("expected row removed after room_deleted")
	}
}

func TestHandleParticipantJoined_StaleJoinDestroysRoom(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	room := rooms.PrivateRoomName("call-1")
	_ = store.CreatePrivateSession(ctx, room, []string{"0xa", "0xb"})
	// One party already left for good.
	_ = store.SetStatus(ctx, "0xb", room, sessions.StatusDisconnected)

	if err := c.HandleParticipantJoined(ctx, "0xA", room); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !contains(svc.destroyed, room) {
		t.Fatalf("stale join must destroy the rtc room")
	}
	if row := store.private[memKey{"0xa", room}]; row.Status == sessions.StatusConnected {
		t.Fatalf("stale join must not promote the membership")
	}
}

func TestHandleParticipantJoined_EvictsOldPrivateRoom(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	room1 := rooms.PrivateRoomName("call-1")
	room2 := rooms.PrivateRoomName("call-2")
	_ = store.CreatePrivateSession(ctx, room1, []string{"0xa", "0xb"})
	_ = store.CreatePrivateSession(ctx, room2, []string{"0xa", "0xc"})
	_, _ = store.JoinUserToRoom(ctx, "0xa", room1)

	if err := c.HandleParticipantJoined(ctx, "0xA", room2); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !contains(svc.destroyed, room1) {
		t.Fatalf("old room must be destroyed when the user switches")
	}
	if row := store.private[memKey{"0xa", room1}]; row.Status != sessions.StatusDisconnected {
		t.Fatalf("old membership must be disconnected, got %s", row.Status)
	}
	if row := store.private[memKey{"0xa", room2}]; row.Status != sessions.StatusConnected {
		t.Fatalf("new membership must be connected, got %s", row.Status)
	}
}

func TestEndPrivateVoiceChat(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, emitter := newTestCoordinator(now)

	room := rooms.PrivateRoomName("call-1")
	_ = store.CreatePrivateSession(ctx, room, []string{"0xa", "0xb"})

	// A stranger cannot end the call.
	if _, err := c.EndPrivateVoiceChat(ctx, "call-1", "0xEVIL"); !errors.Is(err, sessions.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	members, err := c.EndPrivateVoiceChat(ctx, "call-1", "0xA")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}
	if !contains(svc.destroyed, room) {
		t.Fatalf("rtc room must be destroyed")
	}
	if len(emitter.ended) != 1 {
		t.Fatalf("expected call_ended event")
	}
	if rows, _ := store.ListUsersInRoom(ctx, room); len(rows) != 0 {
		t.Fatalf("expected rows deleted, got %d", len(rows))
	}
}

func TestIsUserInCall(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, _, _ := newTestCoordinator(now)

	in, err := c.IsUserInCall(ctx, "0xA")
	if err != nil || in {
		t.Fatalf("expected not in call, got in=%v err=%v", in, err)
	}

	room := rooms.PrivateRoomName("call-1")
	_ = store.CreatePrivateSession(ctx, room, []string{"0xa", "0xb"})
	_, _ = store.JoinUserToRoom(ctx, "0xa", room)

	in, err = c.IsUserInCall(ctx, "0xA")
	if err != nil || !in {
		t.Fatalf("expected in call, got in=%v err=%v", in, err)
	}
}

func TestJoinCommunityVoiceChat_ModeratorCreatesRoom(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	cred, err := c.JoinCommunityVoiceChat(ctx, "c-42", "0xMOD", RoleModerator, map[string]string{"name": "Mo"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if cred.Token == "" || cred.URL == "" {
		t.Fatalf("expected a usable credential, got %+v", cred)
	}
	room := rooms.CommunityRoomName("c-42")
	if !contains(svc.created, room) {
		t.Fatalf("moderator join must provision the rtc room")
	}
	row, ok := store.community[memKey{"0xmod", room}]
	if !ok || !row.IsModerator || row.Status != sessions.StatusNotConnected {
		t.Fatalf("unexpected membership row: %+v", row)
	}
}

func TestJoinCommunityVoiceChat_MemberNeedsActiveRoom(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, _, _ := newTestCoordinator(now)

	// No room at all.
	if _, err := c.JoinCommunityVoiceChat(ctx, "c-42", "0xA", RoleMember, nil); !errors.Is(err, sessions.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	// Room with a lapsed moderator.
	room := rooms.CommunityRoomName("c-42")
	store.activity[room] = sessions.ModeratorActivity{
		ModeratorCount:       1,
		ActiveModeratorCount: 0,
		LastActivityAt:       now.Add(-time.Hour),
	}
	if _, err := c.JoinCommunityVoiceChat(ctx, "c-42", "0xA", RoleMember, nil); !errors.Is(err, sessions.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound for lapsed room, got %v", err)
	}

	// Room with an active moderator.
	store.activity[room] = sessions.ModeratorActivity{
		ModeratorCount:       1,
		ActiveModeratorCount: 1,
		LastActivityAt:       now,
	}
	if _, err := c.JoinCommunityVoiceChat(ctx, "c-42", "0xA", RoleMember, nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, ok := store.community[memKey{"0xa", room}]; !ok {
		t.Fatalf("expected membership row")
	}
}

func TestCommunityWebhookTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	room := rooms.CommunityRoomName("c-42")
	_ = store.UpsertCommunityMembership(ctx, "0xa", room, false)

	if err := c.HandleParticipantJoined(ctx, "0xA", room); err != nil {
		t.Fatalf("join: %v", err)
	}
	if row := store.community[memKey{"0xa", room}]; row.Status != sessions.StatusConnected {
		t.Fatalf("expected connected, got %s", row.Status)
	}

	// Voluntary leave never tears a community room down.
	if err := c.HandleParticipantLeft(ctx, "0xA", room, rtc.LeaveClientInitiated); err != nil {
		t.Fatalf("left: %v", err)
	}
	if contains(svc.destroyed, room) {
		t.Fatalf("community room must survive a member leaving")
	}
	if row := store.community[memKey{"0xa", room}]; row.Status != sessions.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", row.Status)
	}
}

func TestHandleRoomDeleted(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, _, _ := newTestCoordinator(now)

	private := rooms.PrivateRoomName("call-1")
	comm := rooms.CommunityRoomName("c-42")
	_ = store.CreatePrivateSession(ctx, private, []string{"0xa", "0xb"})
	_ = store.UpsertCommunityMembership(ctx, "0xa", comm, true)

	if err := c.HandleRoomDeleted(ctx, private); err != nil {
		t.Fatalf("private: %v", err)
	}
	if rows, _ := store.ListUsersInRoom(ctx, private); len(rows) != 0 {
		t.Fatalf("expected private rows purged")
	}

	if err := c.HandleRoomDeleted(ctx, comm); err != nil {
		t.Fatalf("community: %v", err)
	}
	if _, ok := store.community[memKey{"0xa", comm}]; ok {
		t.Fatalf("expected community rows purged")
	}
}

func TestKickFromCommunity(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, store, svc, _ := newTestCoordinator(now)

	room := rooms.CommunityRoomName("c-42")
	_ = store.UpsertCommunityMembership(ctx, "0xa", room, false)

	if err := c.KickFromCommunity(ctx, "c-42", "0xA"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if !contains(svc.removed, "0xa@"+room) {
		t.Fatalf("expected live participant removal")
	}
	if _, ok := store.community[memKey{"0xa", room}]; ok {
		t.Fatalf("expected membership removed")
	}
}
