package community

import (
	"context"
	"testing"
	"time"

	"voice-platform/internal/rooms"
	"voice-platform/internal/sessions"
)

type stubMemberStore struct {
	members  map[string][]sessions.CommunitySession
	activity map[string]sessions.ModeratorActivity
}

func (s *stubMemberStore) ListCommunityMembers(_ context.Context, roomName string) ([]sessions.CommunitySession, error) {
	return s.members[roomName], nil
}

func (s *stubMemberStore) RoomModeratorActivity(_ context.Context, roomName string) (sessions.ModeratorActivity, error) {
	a, ok := s.activity[roomName]
	if !ok {
		return sessions.ModeratorActivity{}, sessions.ErrRoomNotFound
	}
	return a, nil
}

func newTestService(store *stubMemberStore, now time.Time) *StatusService {
	policy := sessions.NewPolicy(30*time.Second, time.Minute, 5*time.Minute)
	// nil redis client: cache disabled, straight store reads.
	svc := NewStatusService(store, policy, nil, time.Second, nil)
	svc.clock = func() time.Time { return now }
	return svc
}

func TestGetStatus_EmptyRoomIsInactive(t *testing.T) {
	svc := newTestService(&stubMemberStore{}, time.Now().UTC())

	st, err := svc.GetStatus(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.Active || st.ParticipantCount != 0 || st.ModeratorCount != 0 {
		t.Fatalf("empty room must be inactive: %+v", st)
	}
}

func TestGetStatus_CountsOnlyActiveMembers(t *testing.T) {
	now := time.Now().UTC()
	room := rooms.CommunityRoomName("c-1")
	store := &stubMemberStore{
		members: map[string][]sessions.CommunitySession{
			room: {
				{Address: "0xa", Status: sessions.StatusConnected, IsModerator: true, JoinedAt: now, StatusUpdatedAt: now},
				{Address: "0xb", Status: sessions.StatusConnected, JoinedAt: now, StatusUpdatedAt: now},
				{Address: "0xc", Status: sessions.StatusDisconnected, JoinedAt: now, StatusUpdatedAt: now},
				{Address: "0xd", Status: sessions.StatusInterrupted, JoinedAt: now, StatusUpdatedAt: now.Add(-time.Minute)},
			},
		},
		activity: map[string]sessions.ModeratorActivity{
			room: {ModeratorCount: 1, ActiveModeratorCount: 1, LastActivityAt: now},
		},
	}
	svc := newTestService(store, now)

	st, err := svc.GetStatus(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !st.Active {
		t.Fatalf("room with an active moderator must be active")
	}
	if st.ParticipantCount != 2 {
		t.Fatalf("expected 2 active participants, got %d", st.ParticipantCount)
	}
	if st.ModeratorCount != 1 {
		t.Fatalf("expected 1 active moderator, got %d", st.ModeratorCount)
	}
}

func TestGetStatus_LapsedModeratorRoomIsInactive(t *testing.T) {
	now := time.Now().UTC()
	room := rooms.CommunityRoomName("c-1")
	store := &stubMemberStore{
		members: map[string][]sessions.CommunitySession{
			room: {
				{Address: "0xa", Status: sessions.StatusDisconnected, IsModerator: true, JoinedAt: now.Add(-time.Hour), StatusUpdatedAt: now.Add(-time.Hour)},
			},
		},
		activity: map[string]sessions.ModeratorActivity{
			room: {ModeratorCount: 1, ActiveModeratorCount: 0, LastActivityAt: now.Add(-time.Hour)},
		},
	}
	svc := newTestService(store, now)

	st, err := svc.GetStatus(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.Active {
		t.Fatalf("room past NoModeratorTTL must report inactive")
	}
}

func TestGetStatuses(t *testing.T) {
	now := time.Now().UTC()
	room := rooms.CommunityRoomName("c-1")
	store := &stubMemberStore{
		members: map[string][]sessions.CommunitySession{
			room: {{Address: "0xa", Status: sessions.StatusConnected, IsModerator: true, JoinedAt: now, StatusUpdatedAt: now}},
		},
		activity: map[string]sessions.ModeratorActivity{
			room: {ModeratorCount: 1, ActiveModeratorCount: 1, LastActivityAt: now},
		},
	}
	svc := newTestService(store, now)

	out, err := svc.GetStatuses(context.Background(), []string{"c-1", "c-2"})
	if err != nil {
		t.Fatalf("get statuses: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if !out[0].Active || out[0].CommunityID != "c-1" {
		t.Fatalf("unexpected first status: %+v", out[0])
	}
	if out[1].Active || out[1].CommunityID != "c-2" {
		t.Fatalf("unexpected second status: %+v", out[1])
	}
}
