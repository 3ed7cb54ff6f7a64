package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Emitter publishes call lifecycle events for downstream consumers.
//
// Callers treat emission as best-effort: a failed emit must never abort
// the state transition that produced it.
type Emitter interface {
	CallEnded(ctx context.Context, roomName string, addresses []string) error
	CallExpired(ctx context.Context, roomName string) error
}

const (
	eventCallEnded   = "call_ended"
	eventCallExpired = "call_expired"
)

// StreamEmitter appends events to a redis stream.
type StreamEmitter struct {
	rdb    *redis.Client
	stream string
	// maxLen caps the stream with approximate trimming.
	maxLen int64
	clock  func() time.Time
}

func NewStreamEmitter(rdb *redis.Client, stream string) *StreamEmitter {
	return &StreamEmitter{rdb: rdb, stream: stream, maxLen: 10000, clock: time.Now}
}

func (e *StreamEmitter) CallEnded(ctx context.Context, roomName string, addresses []string) error {
	return e.append(ctx, eventCallEnded, roomName, addresses)
}

func (e *StreamEmitter) CallExpired(ctx context.Context, roomName string) error {
	return e.append(ctx, eventCallExpired, roomName, nil)
}

func (e *StreamEmitter) append(ctx context.Context, event, roomName string, addresses []string) error {
	values := map[string]any{
		"event_id":    uuid.NewString(),
		"event":       event,
		"room_name":   roomName,
		"occurred_at": e.clock().UTC().Format(time.RFC3339Nano),
	}
	if len(addresses) > 0 {
		values["addresses"] = strings.Join(addresses, ",")
	}
	return e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: e.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Nop discards events; used when analytics is disabled and in tests.
type Nop struct{}

func (Nop) CallEnded(context.Context, string, []string) error { return nil }
func (Nop) CallExpired(context.Context, string) error         { return nil }
