package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CrashEngine/internal/core"
	"CrashEngine/internal/fair"
	"CrashEngine/internal/insurance"
	"CrashEngine/internal/observability"
	"CrashEngine/internal/query"
)

// BetCommand is the inbound place_bet payload.
type BetCommand struct {
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	InsuranceType string    `json:"insurance_type,omitempty"`
}

// CashOutCommand is the inbound cash_out payload.
type CashOutCommand struct {
	UserID uuid.UUID `json:"user_id"`
}

// VerifyRequest asks for the crash point of a revealed seed triple. When
// AggregateWager is nil the recorded final wager of the matching round is
// used, so replies reproduce exactly what the engine froze.
type VerifyRequest struct {
	ServerSeed     string `json:"server_seed"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	AggregateWager *int64 `json:"aggregate_wager,omitempty"`
}

// VerifyResponse is the request-reply answer.
type VerifyResponse struct {
	CrashPoint float64 `json:"crash_point,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// HistoryRequest asks for the most recent revealed rounds.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse is the round-history answer.
type HistoryResponse struct {
	Rounds []query.RoundSummary `json:"rounds,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ResultsRequest asks for one user's settled outcomes.
type ResultsRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Limit  int       `json:"limit,omitempty"`
}

// ResultsResponse is the user-results answer.
type ResultsResponse struct {
	Results []query.UserResult `json:"results,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Engine is the command surface the subscriber drives.
type Engine interface {
	PlaceBet(ctx context.Context, userID uuid.UUID, amount int64, insType insurance.Type) (core.PlaceBetResult, error)
	CashOut(ctx context.Context, userID uuid.UUID) (core.CashOutResult, error)
}

// WagerLookup resolves the recorded aggregate wager for verification.
type WagerLookup interface {
	FinalWagerForSeeds(ctx context.Context, serverSeed, clientSeed string, nonce int64) (int64, error)
}

// History serves the read-side queries answered over request-reply.
type History interface {
	RoundHistory(ctx context.Context, limit int) ([]query.RoundSummary, error)
	UserResults(ctx context.Context, userID uuid.UUID, limit int) ([]query.UserResult, error)
}

// CommandSubscriber consumes player commands from JetStream and answers
// verify requests over plain request-reply.
// Subjects: crash.cmd.bet, crash.cmd.cashout, crash.cmd.verify.
type CommandSubscriber struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	engine  Engine
	fairCfg fair.Config
	wagers  WagerLookup
	history History
	metrics *observability.Metrics
	log     zerolog.Logger

	consumers []jetstream.ConsumeContext
	replySubs []*nats.Subscription
}

func NewCommandSubscriber(
	nc *nats.Conn,
	js jetstream.JetStream,
	engine Engine,
	fairCfg fair.Config,
	wagers WagerLookup,
	history History,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *CommandSubscriber {
	return &CommandSubscriber{
		nc:      nc,
		js:      js,
		engine:  engine,
		fairCfg: fairCfg,
		wagers:  wagers,
		history: history,
		metrics: metrics,
		log:     log,
	}
}

// EnsureCommandStream creates the inbound command stream.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "CRASH_COMMANDS",
		Subjects:  []string{"crash.cmd.bet", "crash.cmd.cashout"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	return nil
}

// Subscribe wires all consumers. Commands are always ACKed after one
// handling attempt: a bet rejected for phase or balance reasons must not
// be redelivered into a later round.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	if err := cs.consume(ctx, "crash.cmd.bet", "engine-bets", cs.handleBet); err != nil {
		return err
	}
	if err := cs.consume(ctx, "crash.cmd.cashout", "engine-cashouts", cs.handleCashOut); err != nil {
		return err
	}

	replies := map[string]nats.MsgHandler{
		"crash.cmd.verify":  cs.handleVerify,
		"crash.cmd.history": cs.handleHistory,
		"crash.cmd.results": cs.handleResults,
	}
	for subject, handler := range replies {
		sub, err := cs.nc.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cs.replySubs = append(cs.replySubs, sub)
	}
	return nil
}

func (cs *CommandSubscriber) consume(ctx context.Context, subject, durable string, handler func(context.Context, []byte)) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, "CRASH_COMMANDS", jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(ctx, msg.Data())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}

	cs.consumers = append(cs.consumers, cc)
	return nil
}

func (cs *CommandSubscriber) handleBet(ctx context.Context, data []byte) {
	cs.count("bet")

	var cmd BetCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		cs.fail("bet", err)
		return
	}

	_, err := cs.engine.PlaceBet(ctx, cmd.UserID, cmd.Amount, insurance.Type(cmd.InsuranceType))
	if err != nil {
		cs.fail("bet", err)
	}
}

func (cs *CommandSubscriber) handleCashOut(ctx context.Context, data []byte) {
	cs.count("cashout")

	var cmd CashOutCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		cs.fail("cashout", err)
		return
	}

	if _, err := cs.engine.CashOut(ctx, cmd.UserID); err != nil {
		cs.fail("cashout", err)
	}
}

func (cs *CommandSubscriber) handleVerify(msg *nats.Msg) {
	cs.count("verify")

	respond := func(resp VerifyResponse) {
		data, _ := json.Marshal(resp)
		if err := msg.Respond(data); err != nil {
			cs.log.Warn().Err(err).Msg("verify reply failed")
		}
	}

	var req VerifyRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		cs.fail("verify", err)
		respond(VerifyResponse{Error: "malformed request"})
		return
	}

	aggregate := int64(0)
	if req.AggregateWager != nil {
		aggregate = *req.AggregateWager
	} else if cs.wagers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		recorded, err := cs.wagers.FinalWagerForSeeds(ctx, req.ServerSeed, req.ClientSeed, req.Nonce)
		if err != nil {
			cs.fail("verify", err)
			respond(VerifyResponse{Error: err.Error()})
			return
		}
		aggregate = recorded
	}

	respond(VerifyResponse{
		CrashPoint: fair.Verify(cs.fairCfg, req.ServerSeed, req.ClientSeed, req.Nonce, aggregate),
	})
}

func (cs *CommandSubscriber) handleHistory(msg *nats.Msg) {
	cs.count("history")

	respond := func(resp HistoryResponse) {
		data, _ := json.Marshal(resp)
		if err := msg.Respond(data); err != nil {
			cs.log.Warn().Err(err).Msg("history reply failed")
		}
	}

	if cs.history == nil {
		respond(HistoryResponse{Error: "history unavailable"})
		return
	}

	var req HistoryRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			cs.fail("history", err)
			respond(HistoryResponse{Error: "malformed request"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rounds, err := cs.history.RoundHistory(ctx, req.Limit)
	if err != nil {
		cs.fail("history", err)
		respond(HistoryResponse{Error: "history query failed"})
		return
	}
	respond(HistoryResponse{Rounds: rounds})
}

func (cs *CommandSubscriber) handleResults(msg *nats.Msg) {
	cs.count("results")

	respond := func(resp ResultsResponse) {
		data, _ := json.Marshal(resp)
		if err := msg.Respond(data); err != nil {
			cs.log.Warn().Err(err).Msg("results reply failed")
		}
	}

	if cs.history == nil {
		respond(ResultsResponse{Error: "history unavailable"})
		return
	}

	var req ResultsRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		cs.fail("results", err)
		respond(ResultsResponse{Error: "malformed request"})
		return
	}
	if req.UserID == uuid.Nil {
		respond(ResultsResponse{Error: "user_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results, err := cs.history.UserResults(ctx, req.UserID, req.Limit)
	if err != nil {
		cs.fail("results", err)
		respond(ResultsResponse{Error: "results query failed"})
		return
	}
	respond(ResultsResponse{Results: results})
}

// Drain stops all consumers.
func (cs *CommandSubscriber) Drain() {
	for _, cc := range cs.consumers {
		cc.Stop()
	}
	for _, sub := range cs.replySubs {
		sub.Unsubscribe()
	}
}

func (cs *CommandSubscriber) count(cmd string) {
	if cs.metrics != nil {
		cs.metrics.CommandsReceived.WithLabelValues(cmd).Inc()
	}
}

func (cs *CommandSubscriber) fail(cmd string, err error) {
	if cs.metrics != nil {
		cs.metrics.CommandErrors.WithLabelValues(cmd).Inc()
	}
	cs.log.Warn().Err(err).Str("command", cmd).Msg("command rejected")
}
