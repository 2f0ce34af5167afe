package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CrashEngine/internal/observability"
)

// EventType labels an outbound game event.
type EventType string

const (
	EventNewRound    EventType = "new_round"
	EventMultiplier  EventType = "multiplier"
	EventCrash       EventType = "crash"
	EventVictoryLap  EventType = "victory_lap"
	EventBetAccepted EventType = "bet_accepted"
	EventBetRemoved  EventType = "bet_removed"
)

// Event is the compact snapshot pushed to subscribers. CrashPoint is set
// only once the round has crashed (clients use it for the crash
// animation); ServerSeed only at or after the results reveal.
type Event struct {
	Type       EventType  `json:"type"`
	RoundID    uuid.UUID  `json:"round_id"`
	State      string     `json:"state"`
	Multiplier float64    `json:"multiplier"`
	SeedHash   string     `json:"seed_hash,omitempty"`
	CrashPoint *float64   `json:"crash_point,omitempty"`
	ServerSeed *string    `json:"server_seed,omitempty"`
	ActiveBets int        `json:"active_bets"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Amount     *int64     `json:"amount,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Sink delivers events to one downstream transport.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// Broadcaster fans events out to its sinks through a bounded channel.
// Publish never blocks: when the channel is full the event is dropped and
// counted, so a stalled sink can never back-pressure the game loop.
type Broadcaster struct {
	ch      chan Event
	sinks   []Sink
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(buffer int, metrics *observability.Metrics, log zerolog.Logger, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		ch:      make(chan Event, buffer),
		sinks:   sinks,
		metrics: metrics,
		log:     log,
	}
}

// Publish enqueues an event without blocking. Dropped events are fine:
// subscribers resync from the next snapshot or the live-state cache.
func (b *Broadcaster) Publish(evt Event) {
	select {
	case b.ch <- evt:
		if b.metrics != nil {
			b.metrics.BroadcastEvents.Inc()
		}
	default:
		if b.metrics != nil {
			b.metrics.BroadcastDrops.Inc()
		}
	}
}

// Run drains the channel and delivers to every sink until ctx is
// cancelled. Sink failures are logged and skipped.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.ch:
			if !ok {
				return
			}
			for _, sink := range b.sinks {
				if err := sink.Deliver(ctx, evt); err != nil {
					if b.metrics != nil {
						b.metrics.BroadcastErrors.Inc()
					}
					b.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("broadcast sink delivery failed")
				}
			}
		}
	}
}

// Close stops accepting events and lets Run drain what is queued.
func (b *Broadcaster) Close() {
	close(b.ch)
}
