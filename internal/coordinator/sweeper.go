package coordinator

import (
	"context"
	"log/slog"
	"time"

	"voice-platform/internal/analytics"
	"voice-platform/internal/rtc"
)

// SweepStore is the subset of the session store the sweeper needs.
type SweepStore interface {
	SweepExpiredPrivateRooms(ctx context.Context, batchSize int) ([]string, error)
	SweepExpiredCommunityRooms(ctx context.Context, batchSize int) ([]string, error)
}

// Sweeper periodically removes expired session rows and tears down the
// corresponding live rooms. One tick runs at a time; errors are isolated
// per tick so a bad room never stalls the sweep permanently.
type Sweeper struct {
	store     SweepStore
	rtc       rtc.RoomService
	analytics analytics.Emitter
	log       *slog.Logger

	interval  time.Duration
	batchSize int
	// tickTimeout bounds a single tick so a stuck backend cannot block
	// the ticker forever.
	tickTimeout time.Duration
}

func NewSweeper(store SweepStore, roomSvc rtc.RoomService, emitter analytics.Emitter, log *slog.Logger, interval time.Duration, batchSize int) *Sweeper {
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		store:       store,
		rtc:         roomSvc,
		analytics:   emitter,
		log:         log,
		interval:    interval,
		batchSize:   batchSize,
		tickTimeout: interval,
	}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiration sweeper started", "interval", s.interval, "batch_size", s.batchSize)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiration sweeper stopped")
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, s.tickTimeout)
			s.Tick(tickCtx)
			cancel()
		}
	}
}

// Tick performs one sweep pass over both room kinds.
func (s *Sweeper) Tick(ctx context.Context) {
	destroyed, err := s.store.SweepExpiredPrivateRooms(ctx, s.batchSize)
	if err != nil {
		s.log.Error("private room sweep failed", "err", err)
	}
	for _, room := range destroyed {
		if err := s.rtc.DestroyRoom(ctx, room); err != nil {
			s.log.Error("rtc room destroy failed", "room", room, "err", err)
		}
		if err := s.analytics.CallExpired(ctx, room); err != nil {
			s.log.Error("call expired analytics failed", "room", room, "err", err)
		}
	}
	if len(destroyed) > 0 {
		s.log.Info("private rooms swept", "count", len(destroyed))
	}

	communityDestroyed, err := s.store.SweepExpiredCommunityRooms(ctx, s.batchSize)
	if err != nil {
		s.log.Error("community room sweep failed", "err", err)
	}
	for _, room := range communityDestroyed {
		if err := s.rtc.DestroyRoom(ctx, room); err != nil {
			s.log.Error("rtc room destroy failed", "room", room, "err", err)
		}
	}
	if len(communityDestroyed) > 0 {
		s.log.Info("community rooms swept", "count", len(communityDestroyed))
	}
}
