package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"CrashEngine/internal/broadcast"
)

// Key layout for horizontal state sharing. crash:crash_point only exists
// after the round has crashed; the TTLs keep stale state from outliving a
// dead engine.
const (
	keyState      = "crash:state"
	keyMultiplier = "crash:multiplier"
	keyCrashPoint = "crash:crash_point"
	keyRoundID    = "crash:round_id"
)

// LiveState mirrors the current round into Redis so other instances can
// serve reads. Every operation is best-effort: a dead Redis degrades the
// engine to memory-only and never fails a bet or cash-out.
type LiveState struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewLiveState(client *redis.Client, ttl time.Duration, log zerolog.Logger) *LiveState {
	return &LiveState{client: client, ttl: ttl, log: log}
}

// Deliver implements broadcast.Sink: state transitions and ticks update
// the shared keys.
func (l *LiveState) Deliver(ctx context.Context, evt broadcast.Event) error {
	if l.client == nil {
		return nil
	}

	pipe := l.client.Pipeline()
	pipe.Set(ctx, keyState, evt.State, l.ttl)
	pipe.Set(ctx, keyRoundID, evt.RoundID.String(), l.ttl)
	pipe.Set(ctx, keyMultiplier, strconv.FormatFloat(evt.Multiplier, 'f', 2, 64), l.ttl)
	if evt.CrashPoint != nil {
		pipe.Set(ctx, keyCrashPoint, strconv.FormatFloat(*evt.CrashPoint, 'f', 2, 64), l.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Read-path consumers fall back to defaults; just note it.
		l.log.Debug().Err(err).Msg("live state cache write failed")
	}
	return nil
}

// State reads the shared round state, empty string when unavailable.
func (l *LiveState) State(ctx context.Context) string {
	if l.client == nil {
		return ""
	}
	v, err := l.client.Get(ctx, keyState).Result()
	if err != nil {
		return ""
	}
	return v
}

// Multiplier reads the shared multiplier, zero when unavailable.
func (l *LiveState) Multiplier(ctx context.Context) float64 {
	if l.client == nil {
		return 0
	}
	v, err := l.client.Get(ctx, keyMultiplier).Float64()
	if err != nil {
		return 0
	}
	return v
}

// Ping verifies connectivity. The engine treats failure as non-fatal.
func (l *LiveState) Ping(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return l.client.Ping(ctx).Err()
}
