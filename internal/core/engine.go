package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CrashEngine/internal/broadcast"
	"CrashEngine/internal/fair"
	"CrashEngine/internal/insurance"
	"CrashEngine/internal/ledger"
	"CrashEngine/internal/observability"
	"CrashEngine/internal/persistence"
)

// Config holds the round-timing and wager-bound tunables.
type Config struct {
	WaitingDuration time.Duration
	CrashedDuration time.Duration
	ResultsDuration time.Duration

	// Multiplier advance: +TickIncrement every TickInterval while running.
	TickInterval  time.Duration
	TickIncrement float64

	// Bet bounds in minor units.
	MinBet int64
	MaxBet int64

	// MaxExposure forces an emergency crash when the round's aggregate
	// liability (stakes x multiplier) reaches it. Zero disables the meter.
	MaxExposure int64

	// Round-row creation retry policy before degrading to memory-only.
	CreateAttempts int
	CreateBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		WaitingDuration: 5 * time.Second,
		CrashedDuration: 3 * time.Second,
		ResultsDuration: 5 * time.Second,
		TickInterval:    50 * time.Millisecond,
		TickIncrement:   0.01,
		MinBet:          1_00,
		MaxBet:          1_000_00,
		MaxExposure:     0,
		CreateAttempts:  3,
		CreateBackoff:   100 * time.Millisecond,
	}
}

// RoundStore is the slice of persistence the engine needs for rounds.
type RoundStore interface {
	Insert(ctx context.Context, r persistence.RoundRow) error
	Freeze(ctx context.Context, id uuid.UUID, crashPoint float64, finalWager int64, startedAt time.Time) error
	SetState(ctx context.Context, id uuid.UUID, state string, endedAt *time.Time) error
	NextNonce(ctx context.Context) (int64, error)
}

// BetStore is the slice of persistence the engine needs for bets.
type BetStore interface {
	Insert(ctx context.Context, b *ledger.Bet) error
	MarkWon(ctx context.Context, betID uuid.UUID, multiplier float64, at time.Time) error
}

// Settler finalizes the active-bet snapshot of a crashed round. It owns
// its own retries and reconciliation marking; the engine only logs its
// terminal error and moves on.
type Settler interface {
	SettleRound(ctx context.Context, roundID uuid.UUID, bets []*ledger.Bet) error
}

// Publisher is the non-blocking broadcast entry point.
type Publisher interface {
	Publish(evt broadcast.Event)
}

// Engine is the single owner of all round-mutable state. Every phase
// transition and every bet/cash-out serializes on its one mutex; the tick
// loop is the sole writer of the multiplier.
type Engine struct {
	mu     sync.Mutex
	round  *Round
	nonce  int64
	closed bool

	cfg     Config
	fairCfg fair.Config
	tiers   insurance.Tiers

	wallet  *ledger.Ledger
	rounds  RoundStore
	bets    BetStore
	settler Settler
	pub     Publisher
	clock   Clock
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewEngine(
	cfg Config,
	fairCfg fair.Config,
	tiers insurance.Tiers,
	wallet *ledger.Ledger,
	rounds RoundStore,
	bets BetStore,
	settler Settler,
	pub Publisher,
	clock Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:     cfg,
		fairCfg: fairCfg,
		tiers:   tiers,
		wallet:  wallet,
		rounds:  rounds,
		bets:    bets,
		settler: settler,
		pub:     pub,
		clock:   clock,
		metrics: metrics,
		log:     log,
	}
}

// Run drives rounds until ctx is cancelled: waiting -> running -> crashed
// -> results -> waiting. On cancellation it flushes the current round's
// terminal state best-effort and refuses further commands.
func (e *Engine) Run(ctx context.Context) error {
	defer e.markClosed()

	for {
		if err := e.startWaiting(ctx); err != nil {
			return err
		}
		if !e.sleep(ctx, e.cfg.WaitingDuration) {
			return e.flushAndStop(ctx)
		}

		e.startRunning(ctx)
		if !e.runTicks(ctx) {
			return e.flushAndStop(ctx)
		}

		if !e.sleep(ctx, e.cfg.CrashedDuration) {
			return e.flushAndStop(ctx)
		}

		e.enterResults(ctx)
		if !e.sleep(ctx, e.cfg.ResultsDuration) {
			return e.flushAndStop(ctx)
		}
	}
}

// startWaiting creates and installs a brand-new round: fresh seeds,
// next nonce, crash point at zero aggregate, empty bet set. Round-row
// persistence is retried with backoff and then degraded to memory-only.
func (e *Engine) startWaiting(ctx context.Context) error {
	serverSeed, err := fair.NewServerSeed()
	if err != nil {
		return fmt.Errorf("server seed: %w", err)
	}
	clientSeed, err := fair.NewClientSeed()
	if err != nil {
		return fmt.Errorf("client seed: %w", err)
	}

	nonce := e.nextNonce(ctx)
	now := e.clock.Now()

	round := &Round{
		ID:         uuid.New(),
		ServerSeed: serverSeed,
		SeedHash:   fair.SeedHash(serverSeed),
		ClientSeed: clientSeed,
		Nonce:      nonce,
		CrashPoint: fair.CrashPoint(e.fairCfg, serverSeed, clientSeed, nonce, 0),
		Phase:      PhaseWaiting,
		Multiplier: 1.0,
		StartedAt:  now,
		bets:       make(map[uuid.UUID]*ledger.Bet),
	}

	if e.rounds != nil {
		err := persistence.Retry(ctx, e.cfg.CreateAttempts, e.cfg.CreateBackoff, func(ctx context.Context) error {
			insertErr := e.rounds.Insert(ctx, persistence.RoundRow{
				ID:         round.ID,
				ServerSeed: round.ServerSeed,
				SeedHash:   round.SeedHash,
				ClientSeed: round.ClientSeed,
				Nonce:      round.Nonce,
				CrashPoint: round.CrashPoint,
				State:      string(PhaseWaiting),
				StartedAt:  now,
			})
			if insertErr != nil && e.metrics != nil {
				e.metrics.StoreRetries.Inc()
			}
			return insertErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			round.Degraded = true
			if e.metrics != nil {
				e.metrics.RoundsDegraded.Inc()
			}
			e.log.Warn().Err(err).Stringer("round_id", round.ID).
				Msg("round creation failed, running in-memory only")
		}
	}

	e.mu.Lock()
	e.round = round
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RoundsStarted.Inc()
		e.metrics.ActiveBets.Set(0)
		e.metrics.RoundMultiplier.Set(1.0)
	}
	e.log.Info().Stringer("round_id", round.ID).Int64("nonce", nonce).
		Str("seed_hash", round.SeedHash).Msg("round waiting for bets")

	e.pub.Publish(broadcast.Event{
		Type:      broadcast.EventNewRound,
		RoundID:   round.ID,
		State:     string(PhaseWaiting),
		SeedHash:  round.SeedHash,
		Timestamp: now,
	})
	return nil
}

// startRunning freezes the crash point. The value was last recomputed
// when the final bet arrived; recording the aggregate alongside it is
// what keeps verification reproducible.
func (e *Engine) startRunning(ctx context.Context) {
	now := e.clock.Now()

	e.mu.Lock()
	r := e.round
	r.Phase = PhaseRunning
	r.StartedAt = now
	r.FinalWager = r.aggregate
	crashPoint := r.CrashPoint
	finalWager := r.FinalWager
	degraded := r.Degraded
	activeBets := len(r.bets)
	e.mu.Unlock()

	if e.rounds != nil && !degraded {
		if err := e.rounds.Freeze(ctx, r.ID, crashPoint, finalWager, now); err != nil {
			e.storeError("freeze_round", err)
		}
	}

	if e.metrics != nil {
		e.metrics.CrashPoints.Observe(crashPoint)
	}
	e.log.Info().Stringer("round_id", r.ID).Int("active_bets", activeBets).
		Int64("final_wager", finalWager).Msg("round running")

	e.pub.Publish(broadcast.Event{
		Type:       broadcast.EventMultiplier,
		RoundID:    r.ID,
		State:      string(PhaseRunning),
		Multiplier: 1.0,
		ActiveBets: activeBets,
		Timestamp:  now,
	})
}

// runTicks advances the multiplier until the round crashes. Returns
// false when ctx was cancelled before the crash.
func (e *Engine) runTicks(ctx context.Context) bool {
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C():
			if e.tick(ctx) {
				return true
			}
		}
	}
}

// tick is the sole writer of the multiplier. It advances one increment,
// re-evaluates the crash condition and the exposure meter, and on crash
// flips the phase and snapshots the active-bet set inside one critical
// section so no cash-out can race the settlement snapshot.
func (e *Engine) tick(ctx context.Context) bool {
	e.mu.Lock()
	r := e.round
	if r == nil || r.Phase != PhaseRunning {
		crashed := r != nil && r.Phase == PhaseCrashed
		e.mu.Unlock()
		return crashed
	}

	r.Multiplier += e.cfg.TickIncrement

	trigger := ""
	if r.Multiplier >= r.CrashPoint {
		trigger = "multiplier"
		r.Multiplier = r.CrashPoint
	} else if e.cfg.MaxExposure > 0 && r.Exposure() >= e.cfg.MaxExposure {
		trigger = "exposure"
	}

	if e.metrics != nil {
		e.metrics.RoundMultiplier.Set(r.Multiplier)
		e.metrics.RoundExposure.Set(float64(r.Exposure()))
	}

	if trigger == "" {
		evt := broadcast.Event{
			Type:       broadcast.EventMultiplier,
			RoundID:    r.ID,
			State:      string(PhaseRunning),
			Multiplier: r.Multiplier,
			ActiveBets: len(r.bets),
			Timestamp:  e.clock.Now(),
		}
		e.mu.Unlock()
		e.pub.Publish(evt)
		return false
	}

	now := e.clock.Now()
	r.Phase = PhaseCrashed
	r.EndedAt = &now
	snapshot := r.ActiveBets()
	crashPoint := r.CrashPoint
	multiplier := r.Multiplier
	degraded := r.Degraded
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RoundsCrashed.WithLabelValues(trigger).Inc()
	}
	e.log.Info().Stringer("round_id", r.ID).Float64("crash_point", crashPoint).
		Str("trigger", trigger).Int("losing_bets", len(snapshot)).Msg("round crashed")

	// Crash point becomes public the moment the round crashes; clients
	// use it to animate the crash.
	e.pub.Publish(broadcast.Event{
		Type:       broadcast.EventCrash,
		RoundID:    r.ID,
		State:      string(PhaseCrashed),
		Multiplier: multiplier,
		CrashPoint: &crashPoint,
		ActiveBets: len(snapshot),
		Timestamp:  now,
	})

	if e.rounds != nil && !degraded {
		if err := e.rounds.SetState(ctx, r.ID, string(PhaseCrashed), &now); err != nil {
			e.storeError("round_state", err)
		}
	}

	if err := e.settler.SettleRound(ctx, r.ID, snapshot); err != nil {
		// The settler already marked the round for reconciliation; the
		// loop still advances so the game never stalls.
		e.log.Error().Err(err).Stringer("round_id", r.ID).Msg("settlement failed, round needs reconciliation")
	}
	return true
}

// enterResults reveals the server seed and closes out the round.
func (e *Engine) enterResults(ctx context.Context) {
	now := e.clock.Now()

	e.mu.Lock()
	r := e.round
	r.Phase = PhaseResults
	serverSeed := r.ServerSeed
	crashPoint := r.CrashPoint
	degraded := r.Degraded
	e.mu.Unlock()

	if e.rounds != nil && !degraded {
		if err := e.rounds.SetState(ctx, r.ID, string(PhaseResults), nil); err != nil {
			e.storeError("round_state", err)
		}
	}

	e.pub.Publish(broadcast.Event{
		Type:       broadcast.EventVictoryLap,
		RoundID:    r.ID,
		State:      string(PhaseResults),
		Multiplier: crashPoint,
		CrashPoint: &crashPoint,
		ServerSeed: &serverSeed,
		Timestamp:  now,
	})
}

// PlaceBetResult is returned on a successful bet.
type PlaceBetResult struct {
	BetID      uuid.UUID
	NewBalance int64
}

// PlaceBet accepts a wager during the waiting phase: debit stake plus
// insurance premium, persist the bet row, join the active-bet set, and
// recompute the crash point with the grown aggregate. One atomic unit,
// rolled back in full on persistence failure.
func (e *Engine) PlaceBet(ctx context.Context, userID uuid.UUID, amount int64, insType insurance.Type) (PlaceBetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if e.closed || r == nil || r.Phase != PhaseWaiting {
		e.rejectBet("wrong_phase")
		return PlaceBetResult{}, ledger.ErrInvalidRoundState
	}
	if amount < e.cfg.MinBet || amount > e.cfg.MaxBet {
		e.rejectBet("out_of_bounds")
		return PlaceBetResult{}, fmt.Errorf("%w: amount=%d bounds=[%d,%d]",
			ledger.ErrBetOutOfBounds, amount, e.cfg.MinBet, e.cfg.MaxBet)
	}
	if _, exists := r.bets[userID]; exists {
		e.rejectBet("duplicate")
		return PlaceBetResult{}, ledger.ErrDuplicateBet
	}

	quote, err := e.tiers.Price(insType, amount)
	if err != nil {
		e.rejectBet("bad_insurance")
		return PlaceBetResult{}, err
	}

	newBalance, err := e.wallet.DebitBet(ctx, userID, amount, quote.Premium)
	if err != nil {
		e.rejectBet("insufficient_balance")
		return PlaceBetResult{}, err
	}

	bet := &ledger.Bet{
		ID:       uuid.New(),
		RoundID:  r.ID,
		UserID:   userID,
		Amount:   amount,
		Status:   ledger.BetStatusActive,
		PlacedAt: e.clock.Now(),
	}
	if quote.Type != insurance.TypeNone {
		bet.Insurance = &ledger.BetInsurance{
			Type:           quote.Type,
			Premium:        quote.Premium,
			CoverageRate:   quote.CoverageRate,
			CoverageAmount: quote.CoverageAmount,
			Status:         insurance.StatusActive,
		}
	}

	// Persist inside the same serialization point: a bet row never
	// exists without its debit. Degraded rounds stay memory-only.
	if e.bets != nil && !r.Degraded {
		err := persistence.Retry(ctx, e.cfg.CreateAttempts, e.cfg.CreateBackoff, func(ctx context.Context) error {
			insertErr := e.bets.Insert(ctx, bet)
			if insertErr != nil && e.metrics != nil {
				e.metrics.StoreRetries.Inc()
			}
			return insertErr
		})
		if err != nil {
			e.wallet.RefundBet(ctx, userID, amount, quote.Premium)
			e.storeError("insert_bet", err)
			e.rejectBet("persistence")
			return PlaceBetResult{}, fmt.Errorf("persist bet: %w", err)
		}
	}

	r.bets[userID] = bet
	r.aggregate += amount

	// Still waiting, so the crash point moves with the aggregate. The
	// previous value was never exposed to anyone.
	r.CrashPoint = fair.CrashPoint(e.fairCfg, r.ServerSeed, r.ClientSeed, r.Nonce, r.aggregate)

	if e.metrics != nil {
		e.metrics.BetsPlaced.Inc()
		e.metrics.AmountWagered.Add(float64(amount))
		e.metrics.ActiveBets.Set(float64(len(r.bets)))
		e.metrics.LockedWagers.Set(float64(e.wallet.LockedTotal()))
		e.metrics.RealizedEdge.Set(float64(e.wallet.EdgeTotal()))
		if quote.Type != insurance.TypeNone {
			e.metrics.InsuranceSold.WithLabelValues(string(quote.Type)).Inc()
		}
	}

	e.pub.Publish(broadcast.Event{
		Type:       broadcast.EventBetAccepted,
		RoundID:    r.ID,
		State:      string(r.Phase),
		ActiveBets: len(r.bets),
		UserID:     &userID,
		Amount:     &amount,
		Timestamp:  bet.PlacedAt,
	})

	return PlaceBetResult{BetID: bet.ID, NewBalance: newBalance}, nil
}

// CashOutResult is returned on a successful cash-out.
type CashOutResult struct {
	Multiplier float64
	Winnings   int64
	NewBalance int64
}

// CashOut pays out an active bet at the current multiplier. Valid only
// while running; a call racing the crash transition either completes
// before the settlement snapshot or is rejected here.
func (e *Engine) CashOut(ctx context.Context, userID uuid.UUID) (CashOutResult, error) {
	e.mu.Lock()

	r := e.round
	if e.closed || r == nil || r.Phase != PhaseRunning {
		e.mu.Unlock()
		return CashOutResult{}, ledger.ErrInvalidRoundState
	}
	bet, ok := r.bets[userID]
	if !ok {
		e.mu.Unlock()
		return CashOutResult{}, ledger.ErrNoActiveBet
	}

	multiplier := r.Multiplier
	winnings := int64(float64(bet.Amount) * multiplier)

	newBalance, err := e.wallet.CreditWin(ctx, userID, bet.Amount, winnings)
	if err != nil {
		e.mu.Unlock()
		return CashOutResult{}, err
	}

	bet.Status = ledger.BetStatusWon
	bet.CashoutMultiplier = &multiplier
	delete(r.bets, userID)
	r.aggregate -= bet.Amount
	activeBets := len(r.bets)
	degraded := r.Degraded
	e.mu.Unlock()

	// The bet already left the active set, so settlement can no longer
	// see it; the row update is safe outside the lock.
	if e.bets != nil && !degraded {
		if err := e.bets.MarkWon(ctx, bet.ID, multiplier, e.clock.Now()); err != nil {
			e.storeError("mark_won", err)
		}
	}

	if e.metrics != nil {
		e.metrics.Cashouts.Inc()
		e.metrics.AmountPaidOut.Add(float64(winnings))
		e.metrics.ActiveBets.Set(float64(activeBets))
		e.metrics.LockedWagers.Set(float64(e.wallet.LockedTotal()))
		e.metrics.RealizedEdge.Set(float64(e.wallet.EdgeTotal()))
	}

	e.pub.Publish(broadcast.Event{
		Type:       broadcast.EventBetRemoved,
		RoundID:    r.ID,
		State:      string(PhaseRunning),
		Multiplier: multiplier,
		ActiveBets: activeBets,
		UserID:     &userID,
		Timestamp:  e.clock.Now(),
	})

	return CashOutResult{Multiplier: multiplier, Winnings: winnings, NewBalance: newBalance}, nil
}

// RoundView is a read-only snapshot of the current round for observers.
type RoundView struct {
	ID         uuid.UUID
	Phase      Phase
	Multiplier float64
	CrashPoint float64
	SeedHash   string
	Nonce      int64
	ActiveBets int
	FinalWager int64
	Degraded   bool
}

// CurrentRound returns a copy of the engine's round state.
func (e *Engine) CurrentRound() (RoundView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return RoundView{}, false
	}
	r := e.round
	return RoundView{
		ID:         r.ID,
		Phase:      r.Phase,
		Multiplier: r.Multiplier,
		CrashPoint: r.CrashPoint,
		SeedHash:   r.SeedHash,
		Nonce:      r.Nonce,
		ActiveBets: len(r.bets),
		FinalWager: r.FinalWager,
		Degraded:   r.Degraded,
	}, true
}

// nextNonce pulls the monotonic nonce from the store, falling back to
// the in-memory counter when the store is unavailable.
func (e *Engine) nextNonce(ctx context.Context) int64 {
	if e.rounds != nil {
		if next, err := e.rounds.NextNonce(ctx); err == nil && next > e.nonce {
			e.nonce = next
			return next
		}
	}
	e.nonce++
	return e.nonce
}

// flushAndStop is the shutdown path: one best-effort flush of the
// current round's terminal state, then refuse all further commands.
func (e *Engine) flushAndStop(ctx context.Context) error {
	e.markClosed()

	e.mu.Lock()
	r := e.round
	e.mu.Unlock()

	if r != nil && e.rounds != nil && !r.Degraded {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		now := e.clock.Now()
		if err := e.rounds.SetState(flushCtx, r.ID, string(r.Phase), &now); err != nil {
			e.storeError("shutdown_flush", err)
		}
	}

	e.log.Info().Msg("engine stopped")
	return ctx.Err()
}

func (e *Engine) markClosed() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// sleep waits for d on the injected clock; false means ctx was cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}

func (e *Engine) rejectBet(reason string) {
	if e.metrics != nil {
		e.metrics.BetsRejected.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) storeError(op string, err error) {
	if e.metrics != nil {
		e.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	e.log.Warn().Err(err).Str("op", op).Msg("store operation failed")
}
