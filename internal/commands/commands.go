// Package commands implements C11: routes operator chat messages to
// one of five signal-editing intents, each keyed off a keyword set in
// the message body.
package commands

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/chatfeed"
	"github.com/parsatrade/signalbridge/internal/signal"
	"github.com/parsatrade/signalbridge/internal/store"
)

var (
	editKeywords   = []string{"edit", "edite", "update", "modify"}
	deleteKeywords = []string{"حذف", "delete", "close", "not a signal", "vip"}
	halfKeyword    = "half"
	riskFreeKeywords = []string{"فری", "risk free", "risk-free"}

	atPricePattern = regexp.MustCompile(`@\s*([0-9]+(?:\.[0-9]+)?)`)
)

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func intDigitLen(d decimal.Decimal) int {
	return len(d.Truncate(0).Abs().String())
}

// Router dispatches operator commands under a bounded worker pool and
// per-signal mutual exclusion (§5: "commands on the same Signal are
// serialized; commands on different Signals may run in parallel up to
// the worker-pool size").
type Router struct {
	Store  *store.Store
	Broker broker.Broker
	Parser *signal.Parser
	Logger *log.Logger

	sem       chan struct{}
	locksMu   sync.Mutex
	locks     map[int64]*sync.Mutex
}

// NewRouter builds a Router with a worker pool of the given size
// (spec.md §5: "a bounded worker pool (≈4 workers)").
func NewRouter(st *store.Store, b broker.Broker, parser *signal.Parser, poolSize int) *Router {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Router{
		Store:  st,
		Broker: b,
		Parser: parser,
		Logger: log.Default(),
		sem:    make(chan struct{}, poolSize),
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (r *Router) lockFor(signalID int64) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.locks[signalID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[signalID] = m
	}
	return m
}

// Submit dispatches msg to the worker pool and returns immediately;
// the returned error is from acquiring a pool slot under ctx, not
// from the command itself (command errors are logged, not returned,
// mirroring the fire-and-forget nature of chat command handling).
func (r *Router) Submit(ctx context.Context, g *errgroup.Group, msg chatfeed.Message) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.Go(func() error {
		defer func() { <-r.sem }()
		if err := r.Handle(ctx, msg); err != nil {
			r.Logger.Printf("command handling failed: %v", err)
		}
		return nil
	})
	return nil
}

// Handle routes msg to the matching intent and serializes it against
// any other command touching the same Signal. Every command gets a
// correlation ID so a burst of concurrent edits across different
// signals (§5: "commands on different Signals may run in parallel up
// to the worker-pool size") can still be traced per-command in the log.
func (r *Router) Handle(ctx context.Context, msg chatfeed.Message) error {
	correlationID := uuid.New().String()
	text := msg.Text

	var err error
	switch {
	case containsAny(text, deleteKeywords):
		err = r.handleDelete(ctx, msg)
	case containsAny(text, riskFreeKeywords):
		err = r.handleRiskFree(ctx, msg)
	default:
		if msg.Kind == chatfeed.KindReply {
			if ps, ok := r.Parser.Parse(text, r.brokerSymbols(ctx)); ok {
				err = r.handleReplyReparse(ctx, msg, ps)
				break
			}
		}
		if containsAny(text, editKeywords) {
			err = r.handleStopLossEdit(ctx, msg)
		}
	}

	if err != nil {
		return fmt.Errorf("command[%s]: %w", correlationID, err)
	}
	return nil
}

func (r *Router) brokerSymbols(ctx context.Context) []string {
	syms, err := r.Broker.ListSymbols(ctx)
	if err != nil {
		return nil
	}
	return syms
}

// handleStopLossEdit implements the inline and reply stop-loss update
// intents (§4.11): look up the referenced signal, reject (not
// truncate) on digit-length mismatch, else validate and update.
func (r *Router) handleStopLossEdit(ctx context.Context, msg chatfeed.Message) error {
	match := atPricePattern.FindStringSubmatch(msg.Text)
	if match == nil {
		return nil
	}
	newSL, err := decimal.NewFromString(match[1])
	if err != nil {
		return nil
	}

	sig, ok, err := r.resolveTargetSignal(ctx, msg)
	if err != nil || !ok {
		return err
	}

	mu := r.lockFor(sig.ID)
	mu.Lock()
	defer mu.Unlock()

	if intDigitLen(newSL) != intDigitLen(sig.StopLoss) {
		r.Logger.Printf("stop-loss edit rejected: digit length mismatch for signal %d", sig.ID)
		return nil
	}

	return r.applyStopLoss(ctx, sig, newSL)
}

// handleReplyReparse implements the reply-edit-with-full-re-parse
// intent: a fully re-parsed signal updates SL and tp_list.
func (r *Router) handleReplyReparse(ctx context.Context, msg chatfeed.Message, ps signal.ParsedSignal) error {
	sig, ok, err := r.resolveTargetSignal(ctx, msg)
	if err != nil || !ok {
		return err
	}

	mu := r.lockFor(sig.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := r.applyStopLoss(ctx, sig, ps.StopLoss); err != nil {
		return err
	}
	return r.Store.UpdateTPList(ctx, sig.ID, ps.TakeProfits)
}

func (r *Router) applyStopLoss(ctx context.Context, sig store.Signal, newSL decimal.Decimal) error {
	positions, err := r.Store.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("commands: load positions: %w", err)
	}
	for _, p := range positions {
		_, err := r.Broker.OrderSend(ctx, broker.OrderRequest{
			Action: broker.ActionModifySLTP,
			Ticket: p.BrokerTicket,
			SL:     newSL,
		})
		if err != nil {
			r.Logger.Printf("stop-loss modify failed for ticket %d: %v", p.BrokerTicket, err)
		}
	}
	if err := r.Store.UpdateStopLoss(ctx, sig.ID, newSL); err != nil {
		return fmt.Errorf("commands: persist stop-loss: %w", err)
	}
	return nil
}

// handleDelete implements reply-delete (§4.11): close all child
// positions/pendings; a "half" keyword closes half of each position
// and moves its SL to entry instead of fully removing the signal.
func (r *Router) handleDelete(ctx context.Context, msg chatfeed.Message) error {
	sig, ok, err := r.resolveTargetSignal(ctx, msg)
	if err != nil || !ok {
		return err
	}

	mu := r.lockFor(sig.ID)
	mu.Lock()
	defer mu.Unlock()

	positions, err := r.Store.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("commands: load positions: %w", err)
	}

	if strings.Contains(strings.ToLower(msg.Text), halfKeyword) {
		for _, p := range positions {
			if err := r.closeHalfAndMoveSL(ctx, p.BrokerTicket, sig.OpenPrice); err != nil {
				r.Logger.Printf("half-close failed for ticket %d: %v", p.BrokerTicket, err)
			}
		}
		return nil
	}

	for _, p := range positions {
		if _, err := r.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionClose, Ticket: p.BrokerTicket}); err != nil {
			r.Logger.Printf("close failed for ticket %d: %v", p.BrokerTicket, err)
		}
		if _, err := r.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionRemove, Ticket: p.BrokerTicket}); err != nil {
			r.Logger.Printf("pending cancel failed for ticket %d: %v", p.BrokerTicket, err)
		}
	}
	return r.Store.DeleteSignal(ctx, sig.ID)
}

// handleRiskFree implements the reply-risk-free intent (§4.11): SL to
// first-entry fill price, close half, for every position of the
// referenced signal.
func (r *Router) handleRiskFree(ctx context.Context, msg chatfeed.Message) error {
	sig, ok, err := r.resolveTargetSignal(ctx, msg)
	if err != nil || !ok {
		return err
	}

	mu := r.lockFor(sig.ID)
	mu.Lock()
	defer mu.Unlock()

	positions, err := r.Store.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("commands: load positions: %w", err)
	}

	entryPrice := sig.OpenPrice
	livePositions, err := r.Broker.PositionsGet(ctx)
	if err == nil {
		for _, p := range positions {
			if !p.IsFirst {
				continue
			}
			for _, live := range livePositions {
				if live.Ticket == p.BrokerTicket {
					entryPrice = live.Open
				}
			}
		}
	}

	for _, p := range positions {
		if err := r.closeHalfAndMoveSL(ctx, p.BrokerTicket, entryPrice); err != nil {
			r.Logger.Printf("risk-free failed for ticket %d: %v", p.BrokerTicket, err)
		}
	}
	return r.Store.UpdateStopLoss(ctx, sig.ID, entryPrice)
}

func (r *Router) closeHalfAndMoveSL(ctx context.Context, ticket int64, entryPrice decimal.Decimal) error {
	positions, err := r.Broker.PositionsGet(ctx)
	if err != nil {
		return err
	}
	var volume decimal.Decimal
	for _, p := range positions {
		if p.Ticket == ticket {
			volume = p.Volume
		}
	}
	half := volume.Div(decimal.NewFromInt(2)).Round(2)
	if half.IsPositive() {
		if _, err := r.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionClose, Ticket: ticket, Volume: half}); err != nil {
			return err
		}
	}
	_, err = r.Broker.OrderSend(ctx, broker.OrderRequest{Action: broker.ActionModifySLTP, Ticket: ticket, SL: entryPrice})
	return err
}

// resolveTargetSignal finds the Signal a command targets: scoped to
// the reply parent when the message is a reply, else the most recent
// signal in the chat.
func (r *Router) resolveTargetSignal(ctx context.Context, msg chatfeed.Message) (store.Signal, bool, error) {
	if msg.Kind == chatfeed.KindReply && msg.ReplyToMessageID != 0 {
		sig, ok, err := r.Store.FindSignalByChat(ctx, msg.ChatID, msg.ReplyToMessageID, true)
		if err != nil {
			return store.Signal{}, false, fmt.Errorf("commands: resolve reply target: %w", err)
		}
		return sig, ok, nil
	}
	sig, ok, err := r.Store.FindSignalByChat(ctx, msg.ChatID, 0, false)
	if err != nil {
		return store.Signal{}, false, fmt.Errorf("commands: resolve recent signal: %w", err)
	}
	return sig, ok, nil
}
