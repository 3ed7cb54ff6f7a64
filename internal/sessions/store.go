package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voice-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store owns persistence of session rows for both room kinds.
//
// Rules:
// - All multi-row mutations run inside a transaction (utils.WithTx) and
//   roll back completely on any error; partial state is never observable.
// - The store never retries; retry policy belongs to callers.
// - Status transitions are decided by the coordinator, never here.
type Store struct {
	db     *sql.DB
	policy Policy
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewStore(db *sql.DB, policy Policy) *Store {
	return &Store{db: db, policy: policy, clock: time.Now}
}

var (
	// ErrNotFound means no session row exists for the given address/room.
	ErrNotFound = errors.New("session not found")
	// ErrRoomNotFound means the referenced room has no row for any of the
	// supplied addresses.
	ErrRoomNotFound = errors.New("room does not exist")
	// ErrConflict means an unexpected duplicate row on provisioning.
	ErrConflict = errors.New("session already exists")
)

const uniqueViolation = "23505"

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

/* ===================== PRIVATE ROOMS ===================== */

// CreatePrivateSession provisions one row per address at NotConnected,
// all sharing the same joined_at.
func (s *Store) CreatePrivateSession(ctx context.Context, roomName string, addresses []string) error {
	if roomName == "" || len(addresses) == 0 {
		return fmt.Errorf("room name and addresses are required")
	}
	now := s.clock().UTC()

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO private_voice_sessions (address, room_name, status, joined_at, status_updated_at)
VALUES ($1,$2,$3,$4,$4)
`
		for _, addr := range addresses {
			if _, err := tx.ExecContext(ctx, q, addr, roomName, StatusNotConnected, now); err != nil {
				return mapInsertErr(err)
			}
		}
		return nil
	})
}

// currentRoomQuery resolves the single most relevant membership for a
// user: Connected first, then Interrupted within TTL, then NotConnected
// within TTL, ties broken by the most recent status change.
const currentRoomQuery = `
SELECT address, room_name, status, joined_at, status_updated_at
FROM private_voice_sessions
WHERE address = $1
  AND (status = 'connected'
    OR (status = 'connection_interrupted' AND status_updated_at > $2)
    OR (status = 'not_connected' AND joined_at > $3))
ORDER BY CASE status
           WHEN 'connected' THEN 0
           WHEN 'connection_interrupted' THEN 1
           ELSE 2
         END,
         status_updated_at DESC
LIMIT 1
`

type rowScanner interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) currentRoom(ctx context.Context, q rowScanner, address string, now time.Time, forUpdate bool) (PrivateSession, error) {
	query := currentRoomQuery
	if forUpdate {
		query += "\nFOR UPDATE"
	}
	var row PrivateSession
	err := q.QueryRowContext(ctx, query,
		address,
		now.Add(-s.policy.InterruptedTTL),
		now.Add(-s.policy.InitialConnectTTL),
	).Scan(&row.Address, &row.RoomName, &row.Status, &row.JoinedAt, &row.StatusUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PrivateSession{}, ErrNotFound
		}
		return PrivateSession{}, err
	}
	return row, nil
}

// GetRoomForUser is the single source of truth for "what room is this
// user currently in". ErrNotFound when no row qualifies.
func (s *Store) GetRoomForUser(ctx context.Context, address string) (PrivateSession, error) {
	return s.currentRoom(ctx, s.db, address, s.clock().UTC(), false)
}

// JoinUserToRoom promotes the user's membership in roomName to Connected.
// If the user was current in a different room, that old membership is
// demoted to Disconnected in the same transaction. Returns the old room
// name ("" if none, possibly equal to roomName).
//
// ErrNotFound when the user has no provisioned row in roomName.
func (s *Store) JoinUserToRoom(ctx context.Context, address, roomName string) (oldRoom string, err error) {
	now := s.clock().UTC()

	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		current, err := s.currentRoom(ctx, tx, address, now, true)
		switch {
		case err == nil:
			oldRoom = current.RoomName
		case errors.Is(err, ErrNotFound):
			oldRoom = ""
		default:
			return err
		}

		const promote = `
UPDATE private_voice_sessions
SET status = $3, status_updated_at = $4
WHERE address = $1 AND room_name = $2
`
		res, err := tx.ExecContext(ctx, promote, address, roomName, StatusConnected, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		if oldRoom != "" && oldRoom != roomName {
			const demote = `
UPDATE private_voice_sessions
SET status = $3, status_updated_at = $4
WHERE address = $1 AND room_name = $2
`
			if _, err := tx.ExecContext(ctx, demote, address, oldRoom, StatusDisconnected, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return oldRoom, nil
}

// SetStatus is a single-row transition with no cross-row atomicity; it
// backs the Disconnected/Interrupted transitions driven by left-events.
// ErrNotFound when the row is already gone (callers treat that as a
// benign no-op for duplicate webhooks).
func (s *Store) SetStatus(ctx context.Context, address, roomName string, status Status) error {
	const q = `
UPDATE private_voice_sessions
SET status = $3, status_updated_at = $4
WHERE address = $1 AND room_name = $2
`
	res, err := s.db.ExecContext(ctx, q, address, roomName, status, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsersInRoom returns every membership row of a private room.
func (s *Store) ListUsersInRoom(ctx context.Context, roomName string) ([]PrivateSession, error) {
	const q = `
SELECT address, room_name, status, joined_at, status_updated_at
FROM private_voice_sessions
WHERE room_name = $1
ORDER BY address
`
	rows, err := s.db.QueryContext(ctx, q, roomName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrivateSession
	for rows.Next() {
		var r PrivateSession
		if err := rows.Scan(&r.Address, &r.RoomName, &r.Status, &r.JoinedAt, &r.StatusUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveSession deletes one membership row. Removing an absent row is not
// an error; stale provider webhooks make this path idempotent.
func (s *Store) RemoveSession(ctx context.Context, address, roomName string) error {
	const q = `DELETE FROM private_voice_sessions WHERE address = $1 AND room_name = $2`
	_, err := s.db.ExecContext(ctx, q, address, roomName)
	return err
}

// PurgeRoom removes every row of a private room with no membership
// check; used when the provider reports the room already deleted.
func (s *Store) PurgeRoom(ctx context.Context, roomName string) error {
	const q = `DELETE FROM private_voice_sessions WHERE room_name = $1`
	_, err := s.db.ExecContext(ctx, q, roomName)
	return err
}

// DeleteRoom removes every row of a private room and returns the member
// addresses. ErrRoomNotFound when none of the requesting addresses holds
// a row in the room, so a bad request never silently no-ops.
func (s *Store) DeleteRoom(ctx context.Context, roomName string, requesters []string) ([]string, error) {
	var members []string

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const lock = `
SELECT address FROM private_voice_sessions
WHERE room_name = $1
FOR UPDATE
`
		rows, err := tx.QueryContext(ctx, lock, roomName)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var addr string
			if err := rows.Scan(&addr); err != nil {
				return err
			}
			members = append(members, addr)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		// Close before issuing further statements on this tx.
		rows.Close()

		found := false
		for _, req := range requesters {
			for _, m := range members {
				if m == req {
					found = true
				}
			}
		}
		if !found {
			return ErrRoomNotFound
		}

		const del = `DELETE FROM private_voice_sessions WHERE room_name = $1`
		_, err = tx.ExecContext(ctx, del, roomName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// SweepExpiredPrivateRooms deletes the rows of up to batchSize expired
// rooms in one transaction and returns the room names that still need
// the live RTC room destroyed (timeout-triggered expiry only; rooms that
// expired through a voluntary disconnect are assumed already gone at the
// provider).
func (s *Store) SweepExpiredPrivateRooms(ctx context.Context, batchSize int) ([]string, error) {
	now := s.clock().UTC()
	interruptedCutoff := now.Add(-s.policy.InterruptedTTL)
	connectCutoff := now.Add(-s.policy.InitialConnectTTL)

	var destroy []string

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT room_name,
       bool_or((status = 'not_connected' AND joined_at <= $2)
            OR (status = 'connection_interrupted' AND status_updated_at <= $3)) AS timed_out
FROM private_voice_sessions
GROUP BY room_name
HAVING bool_or(status = 'disconnected'
            OR (status = 'not_connected' AND joined_at <= $2)
            OR (status = 'connection_interrupted' AND status_updated_at <= $3))
LIMIT $1
`
		rows, err := tx.QueryContext(ctx, q, batchSize, connectCutoff, interruptedCutoff)
		if err != nil {
			return err
		}
		defer rows.Close()

		var expired []string
		for rows.Next() {
			var name string
			var timedOut bool
			if err := rows.Scan(&name, &timedOut); err != nil {
				return err
			}
			expired = append(expired, name)
			if timedOut {
				destroy = append(destroy, name)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		if len(expired) == 0 {
			return nil
		}

		const del = `DELETE FROM private_voice_sessions WHERE room_name = ANY($1)`
		_, err = tx.ExecContext(ctx, del, expired)
		return err
	})
	if err != nil {
		return nil, err
	}
	return destroy, nil
}

/* ===================== COMMUNITY ROOMS ===================== */

// UpsertCommunityMembership creates or refreshes a membership at
// NotConnected. A repeated join refreshes status, moderator flag and the
// TTL anchor rather than inserting a duplicate.
func (s *Store) UpsertCommunityMembership(ctx context.Context, address, roomName string, isModerator bool) error {
	const q = `
INSERT INTO community_voice_sessions (address, room_name, status, is_moderator, joined_at, status_updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (address, room_name)
DO UPDATE SET status = EXCLUDED.status,
              is_moderator = EXCLUDED.is_moderator,
              joined_at = EXCLUDED.joined_at,
              status_updated_at = EXCLUDED.status_updated_at
`
	_, err := s.db.ExecContext(ctx, q, address, roomName, StatusNotConnected, isModerator, s.clock().UTC())
	return err
}

// SetCommunityStatus mirrors SetStatus for community rows.
func (s *Store) SetCommunityStatus(ctx context.Context, address, roomName string, status Status) error {
	const q = `
UPDATE community_voice_sessions
SET status = $3, status_updated_at = $4
WHERE address = $1 AND room_name = $2
`
	res, err := s.db.ExecContext(ctx, q, address, roomName, status, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveCommunityMember deletes one community membership row; absent rows
// are a no-op.
func (s *Store) RemoveCommunityMember(ctx context.Context, address, roomName string) error {
	const q = `DELETE FROM community_voice_sessions WHERE address = $1 AND room_name = $2`
	_, err := s.db.ExecContext(ctx, q, address, roomName)
	return err
}

// PurgeCommunityRoom removes every row of a community room.
func (s *Store) PurgeCommunityRoom(ctx context.Context, roomName string) error {
	const q = `DELETE FROM community_voice_sessions WHERE room_name = $1`
	_, err := s.db.ExecContext(ctx, q, roomName)
	return err
}

// ListCommunityMembers returns every membership row of a community room.
func (s *Store) ListCommunityMembers(ctx context.Context, roomName string) ([]CommunitySession, error) {
	const q = `
SELECT address, room_name, status, is_moderator, joined_at, status_updated_at
FROM community_voice_sessions
WHERE room_name = $1
ORDER BY address
`
	rows, err := s.db.QueryContext(ctx, q, roomName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommunitySession
	for rows.Next() {
		var r CommunitySession
		if err := rows.Scan(&r.Address, &r.RoomName, &r.Status, &r.IsModerator, &r.JoinedAt, &r.StatusUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const moderatorActivityQuery = `
SELECT room_name,
       count(*) FILTER (WHERE is_moderator) AS moderator_count,
       count(*) FILTER (WHERE is_moderator AND (status = 'connected'
            OR (status = 'connection_interrupted' AND status_updated_at >= $2)
            OR (status = 'not_connected' AND joined_at >= $3))) AS active_moderator_count,
       coalesce(max(status_updated_at) FILTER (WHERE is_moderator), 'epoch'::timestamptz) AS last_activity
FROM community_voice_sessions
WHERE room_name = $1
GROUP BY room_name
`

// RoomModeratorActivity aggregates moderator presence for one room.
// ErrRoomNotFound when the room has no rows at all.
func (s *Store) RoomModeratorActivity(ctx context.Context, roomName string) (ModeratorActivity, error) {
	now := s.clock().UTC()
	var a ModeratorActivity
	err := s.db.QueryRowContext(ctx, moderatorActivityQuery,
		roomName,
		now.Add(-s.policy.InterruptedTTL),
		now.Add(-s.policy.InitialConnectTTL),
	).Scan(&a.RoomName, &a.ModeratorCount, &a.ActiveModeratorCount, &a.LastActivityAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModeratorActivity{}, ErrRoomNotFound
		}
		return ModeratorActivity{}, err
	}
	if a.LastActivityAt.Unix() == 0 {
		a.LastActivityAt = time.Time{}
	}
	return a, nil
}

// SweepExpiredCommunityRooms deletes the rows of up to batchSize
// destroyable community rooms (per Policy.CommunityRoomDestroyable) in
// one transaction and returns their names for RTC teardown.
func (s *Store) SweepExpiredCommunityRooms(ctx context.Context, batchSize int) ([]string, error) {
	now := s.clock().UTC()
	interruptedCutoff := now.Add(-s.policy.InterruptedTTL)
	connectCutoff := now.Add(-s.policy.InitialConnectTTL)

	var destroy []string

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT room_name,
       count(*) FILTER (WHERE is_moderator) AS moderator_count,
       count(*) FILTER (WHERE is_moderator AND (status = 'connected'
            OR (status = 'connection_interrupted' AND status_updated_at >= $1)
            OR (status = 'not_connected' AND joined_at >= $2))) AS active_moderator_count,
       coalesce(max(status_updated_at) FILTER (WHERE is_moderator), 'epoch'::timestamptz) AS last_activity
FROM community_voice_sessions
GROUP BY room_name
`
		rows, err := tx.QueryContext(ctx, q, interruptedCutoff, connectCutoff)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a ModeratorActivity
			if err := rows.Scan(&a.RoomName, &a.ModeratorCount, &a.ActiveModeratorCount, &a.LastActivityAt); err != nil {
				return err
			}
			if a.LastActivityAt.Unix() == 0 {
				a.LastActivityAt = time.Time{}
			}
			if s.policy.CommunityRoomDestroyable(a, now) {
				destroy = append(destroy, a.RoomName)
			}
			if len(destroy) >= batchSize {
				break
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		if len(destroy) == 0 {
			return nil
		}

		const del = `DELETE FROM community_voice_sessions WHERE room_name = ANY($1)`
		_, err = tx.ExecContext(ctx, del, destroy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return destroy, nil
}
