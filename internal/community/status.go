package community

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"voice-platform/internal/rooms"
	"voice-platform/internal/sessions"

	"github.com/redis/go-redis/v9"
)

// MemberStore is the read side the status service needs.
type MemberStore interface {
	ListCommunityMembers(ctx context.Context, roomName string) ([]sessions.CommunitySession, error)
	RoomModeratorActivity(ctx context.Context, roomName string) (sessions.ModeratorActivity, error)
}

// Status is the caller-facing view of a community room.
type Status struct {
	CommunityID      string `json:"community_id"`
	Active           bool   `json:"active"`
	ParticipantCount int    `json:"participant_count"`
	ModeratorCount   int    `json:"moderator_count"`
}

// StatusService answers single and bulk community status queries.
// Results are cached in redis (cache-aside, short TTL) because bulk
// status is the hottest read path and tolerates slight staleness.
type StatusService struct {
	store    MemberStore
	policy   sessions.Policy
	rdb      *redis.Client
	cacheTTL time.Duration
	log      *slog.Logger
	clock    func() time.Time
}

func NewStatusService(store MemberStore, policy sessions.Policy, rdb *redis.Client, cacheTTL time.Duration, log *slog.Logger) *StatusService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &StatusService{
		store:    store,
		policy:   policy,
		rdb:      rdb,
		cacheTTL: cacheTTL,
		log:      log,
		clock:    time.Now,
	}
}

func cacheKey(communityID string) string {
	return "voice:community-status:" + communityID
}

// GetStatus returns the status of one community room. A room with no
// rows at all reports inactive rather than erroring.
func (s *StatusService) GetStatus(ctx context.Context, communityID string) (Status, error) {
	if st, ok := s.cached(ctx, communityID); ok {
		return st, nil
	}
	st, err := s.compute(ctx, communityID)
	if err != nil {
		return Status{}, err
	}
	s.cache(ctx, st)
	return st, nil
}

// GetStatuses resolves many communities at once, serving hits from the
// cache and computing misses.
func (s *StatusService) GetStatuses(ctx context.Context, communityIDs []string) ([]Status, error) {
	out := make([]Status, 0, len(communityIDs))
	for _, id := range communityIDs {
		st, err := s.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *StatusService) compute(ctx context.Context, communityID string) (Status, error) {
	roomName := rooms.CommunityRoomName(communityID)
	now := s.clock().UTC()

	members, err := s.store.ListCommunityMembers(ctx, roomName)
	if err != nil {
		return Status{}, err
	}
	st := Status{CommunityID: communityID}
	if len(members) == 0 {
		return st, nil
	}

	var activity sessions.ModeratorActivity
	for _, m := range members {
		if !s.policy.CommunityUserActive(m, now) {
			continue
		}
		st.ParticipantCount++
		if m.IsModerator {
			st.ModeratorCount++
		}
	}
	activity, err = s.store.RoomModeratorActivity(ctx, roomName)
	if err != nil {
		if errors.Is(err, sessions.ErrRoomNotFound) {
			return st, nil
		}
		return Status{}, err
	}
	st.Active = !s.policy.CommunityRoomDestroyable(activity, now)
	return st, nil
}

// Cache reads and writes are best-effort; redis being down degrades to
// straight store reads.

func (s *StatusService) cached(ctx context.Context, communityID string) (Status, bool) {
	if s.rdb == nil {
		return Status{}, false
	}
	raw, err := s.rdb.Get(ctx, cacheKey(communityID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Debug("community status cache read failed", "community", communityID, "err", err)
		}
		return Status{}, false
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, false
	}
	return st, true
}

func (s *StatusService) cache(ctx context.Context, st Status) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(st.CommunityID), raw, s.cacheTTL).Err(); err != nil {
		s.log.Debug("community status cache write failed", "community", st.CommunityID, "err", err)
	}
}
