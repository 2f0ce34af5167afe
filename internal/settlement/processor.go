package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CrashEngine/internal/insurance"
	"CrashEngine/internal/ledger"
	"CrashEngine/internal/observability"
	"CrashEngine/internal/persistence"
)

// Store writes one round's settlement batch transactionally.
type Store interface {
	SettleBatch(ctx context.Context, roundID uuid.UUID, results []persistence.ResultRow, claimedBets []uuid.UUID, at time.Time) error
}

// Reconciler flags rounds whose settlement could not be persisted.
type Reconciler interface {
	MarkReconciliation(ctx context.Context, id uuid.UUID) error
}

// StatsUpdater receives per-user outcome notifications. Best-effort:
// errors are logged, never propagated into settlement.
type StatsUpdater interface {
	RecordOutcome(ctx context.Context, userID, roundID uuid.UUID, wagered, returned int64) error
}

// ScoreUpdater feeds tournament/community-goal scoring. Best-effort.
type ScoreUpdater interface {
	AddWagered(ctx context.Context, userID uuid.UUID, wagered int64) error
}

// Processor finalizes every active bet of a crashed round exactly once:
// bets flip to lost, results upsert under the (user, round) key, insured
// bets get their coverage credited and the insurance claimed. The store
// batch retries with bounded backoff; exhaustion marks the round for
// manual reconciliation but never stalls the game loop.
type Processor struct {
	mu      sync.Mutex
	settled map[uuid.UUID]bool

	store    Store
	rounds   Reconciler
	wallet   *ledger.Ledger
	stats    StatsUpdater
	scores   ScoreUpdater
	attempts int
	backoff  time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewProcessor(
	store Store,
	rounds Reconciler,
	wallet *ledger.Ledger,
	stats StatsUpdater,
	scores ScoreUpdater,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		settled:  make(map[uuid.UUID]bool),
		store:    store,
		rounds:   rounds,
		wallet:   wallet,
		stats:    stats,
		scores:   scores,
		attempts: 3,
		backoff:  100 * time.Millisecond,
		metrics:  metrics,
		log:      log,
	}
}

// SettleRound settles a crashed round's active-bet snapshot. Invoking it
// again for the same round is a no-op.
func (p *Processor) SettleRound(ctx context.Context, roundID uuid.UUID, bets []*ledger.Bet) error {
	p.mu.Lock()
	if p.settled[roundID] {
		p.mu.Unlock()
		return nil
	}
	p.settled[roundID] = true
	p.mu.Unlock()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.SettlementRuns.Inc()
	}

	results := make([]persistence.ResultRow, 0, len(bets))
	claimed := make([]uuid.UUID, 0)

	for _, bet := range bets {
		if bet.Status != ledger.BetStatusActive {
			// Cash-outs that completed before the snapshot was taken.
			continue
		}
		coverage := int64(0)
		if bet.Insured() {
			coverage = bet.Insurance.CoverageAmount
			claimed = append(claimed, bet.ID)
		}
		results = append(results, persistence.ResultRow{
			UserID:   bet.UserID,
			RoundID:  roundID,
			BetID:    bet.ID,
			Result:   "lost",
			Winnings: coverage,
		})
	}

	if len(results) == 0 {
		return nil
	}

	now := time.Now()
	var storeErr error
	if p.store != nil {
		storeErr = persistence.Retry(ctx, p.attempts, p.backoff, func(ctx context.Context) error {
			err := p.store.SettleBatch(ctx, roundID, results, claimed, now)
			if err != nil && p.metrics != nil {
				p.metrics.SettlementRetries.Inc()
			}
			return err
		})
	}

	// In-memory finalization happens regardless of the store outcome:
	// the ledger must realize losses and insurance payouts so balances
	// and the conservation counters stay correct while degraded.
	for _, bet := range bets {
		if bet.Status != ledger.BetStatusActive {
			continue
		}

		coverage := int64(0)
		if bet.Insured() {
			coverage = bet.Insurance.CoverageAmount
			bet.Insurance.Status = insurance.StatusClaimed
		}
		bet.Status = ledger.BetStatusLost

		if _, err := p.wallet.SettleLoss(ctx, bet.UserID, bet.Amount, coverage); err != nil {
			// Skip rather than abort: partial settlement beats blocking
			// the game loop.
			p.log.Error().Err(err).Stringer("bet_id", bet.ID).Msg("bet settlement skipped")
			continue
		}

		if p.metrics != nil {
			p.metrics.BetsSettled.WithLabelValues("lost").Inc()
			if coverage > 0 {
				p.metrics.InsurancePaid.Add(float64(coverage))
			}
		}

		p.notifyHooks(ctx, bet, roundID, coverage)
	}

	if p.metrics != nil {
		p.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		p.metrics.RealizedEdge.Set(float64(p.wallet.EdgeTotal()))
		p.metrics.LockedWagers.Set(float64(p.wallet.LockedTotal()))
	}

	if storeErr != nil {
		if p.metrics != nil {
			p.metrics.SettlementFailures.Inc()
			p.metrics.ReconciliationNeeded.Inc()
		}
		p.log.Error().Err(storeErr).Stringer("round_id", roundID).
			Msg("ALERT: settlement persistence exhausted retries, round needs manual reconciliation")
		if p.rounds != nil {
			if err := p.rounds.MarkReconciliation(context.WithoutCancel(ctx), roundID); err != nil {
				p.log.Error().Err(err).Stringer("round_id", roundID).Msg("reconciliation marker write failed")
			}
		}
		return storeErr
	}

	p.log.Info().Stringer("round_id", roundID).Int("bets", len(results)).
		Dur("took", time.Since(start)).Msg("round settled")
	return nil
}

// notifyHooks fans out to the injected collaborators. Their failures are
// logged and dropped.
func (p *Processor) notifyHooks(ctx context.Context, bet *ledger.Bet, roundID uuid.UUID, returned int64) {
	if p.stats != nil {
		if err := p.stats.RecordOutcome(ctx, bet.UserID, roundID, bet.Amount, returned); err != nil {
			p.log.Warn().Err(err).Stringer("user_id", bet.UserID).Msg("stats hook failed")
		}
	}
	if p.scores != nil {
		if err := p.scores.AddWagered(ctx, bet.UserID, bet.Amount); err != nil {
			p.log.Warn().Err(err).Stringer("user_id", bet.UserID).Msg("score hook failed")
		}
	}
}
