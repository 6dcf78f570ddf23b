// Package main is the entry point for the signal bridge: it wires
// configuration, the signal store, the broker session, the chat
// ingress feed, the dispatcher, the operator command router, the
// lifecycle engine, and the status dashboard into one running
// process, then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/chatfeed"
	"github.com/parsatrade/signalbridge/internal/commands"
	"github.com/parsatrade/signalbridge/internal/config"
	"github.com/parsatrade/signalbridge/internal/dashboard"
	"github.com/parsatrade/signalbridge/internal/dispatcher"
	"github.com/parsatrade/signalbridge/internal/lifecycle"
	"github.com/parsatrade/signalbridge/internal/notify"
	"github.com/parsatrade/signalbridge/internal/orders"
	sigparse "github.com/parsatrade/signalbridge/internal/signal"
	"github.com/parsatrade/signalbridge/internal/store"
)

// goldSymbol is the only instrument the market-distance window
// (§4.8) is configured for out of the box; FX majors never reconstruct
// short-form prices (§4.6) so they never need the window either.
const goldSymbol = "XAUUSD"

func main() {
	os.Exit(run())
}

// Bridge holds the process-wide handles §9 calls out as the only
// mutable globals: the configuration snapshot, the store's connection
// pool and cache, and the broker session. Grounded on the teacher's
// cmd/bot.Bot struct shape.
type Bridge struct {
	config     *config.Config
	logger     *log.Logger
	store      *store.Store
	broker     broker.Broker
	notifier   notify.Notifier
	dashServer *dashboard.Server
	userID     int64
	feed       chatfeed.Feed
}

func run() int {
	var configPath, dbPath string
	var userID int64
	var dashboardPort int
	flag.StringVar(&configPath, "config", "settings.json", "path to the JSON configuration document")
	flag.StringVar(&dbPath, "db", "signalbridge.db", "path to the embedded SQL store")
	flag.Int64Var(&userID, "account", 1, "broker account number tagged onto opened positions")
	flag.IntVar(&dashboardPort, "dashboard-port", 8090, "status dashboard listen port (0 disables it)")
	flag.Parse()

	logger := log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.LoadPath(configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, dbPath, !cfg.DisableCache, 1024, 5*time.Minute)
	if err != nil {
		logger.Printf("failed to open store: %v", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	b := buildBroker(cfg)
	if err := b.Login(ctx); err != nil {
		logger.Printf("broker login failed: %v", err)
		return 1
	}

	bridge := &Bridge{
		config:   cfg,
		logger:   logger,
		store:    st,
		broker:   b,
		notifier: buildNotifier(cfg),
		userID:   userID,
		feed:     chatfeed.NewMock(64), // concrete chat-platform client is out of scope (spec.md §1)
	}

	if dashboardPort > 0 {
		dashLogger := logrus.New()
		dashLogger.SetFormatter(&logrus.JSONFormatter{})
		bridge.dashServer = dashboard.NewServer(dashboard.Config{Port: dashboardPort}, st, b, dashLogger)
		go func() {
			if err := bridge.dashServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("dashboard server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := bridge.dashServer.Shutdown(shutdownCtx); err != nil {
				logger.Printf("dashboard shutdown error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutdown signal received, draining in-flight work...")
		cancel()
	}()

	if err := bridge.Notify(ctx, "signal bridge starting up"); err != nil {
		logger.Printf("startup heartbeat failed: %v", err)
	}

	if err := bridge.Run(ctx); err != nil {
		logger.Printf("bridge exited with error: %v", err)
		return 1
	}
	logger.Println("bridge stopped cleanly")
	return 0
}

// Notify routes a line-oriented message to the configured
// notification sink (spec.md §6: "a startup heartbeat").
func (bridge *Bridge) Notify(ctx context.Context, message string) error {
	return bridge.notifier.Notify(ctx, message)
}

func buildBroker(cfg *config.Config) broker.Broker {
	// The concrete MT4/5 terminal binding is out of scope (spec.md
	// §1); Mock stands in as the session this process drives through
	// the same semaphore-serialized, circuit-broken wrapping a real
	// binding would get. Serializer enforces §5's "single stateful
	// session per account" (size-1 gate on Login/OrderSend, size-3 pool
	// on independent reads); Breaker sits outside it so a run of
	// transient failures trips the breaker instead of hammering a
	// struggling terminal.
	mock := broker.NewMock()
	serialized := broker.NewSerializer(mock)
	return broker.NewBreaker(serialized, cfg.MetaTrader.Server)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notification.Token == "" {
		return notify.NewLogging()
	}
	return notify.NewWebhook("https://api.telegram.org/bot"+cfg.Notification.Token, cfg.Notification.ChatID)
}

// Run starts the ingress loop, the operator command router, and the
// lifecycle tick loop, and blocks until ctx is cancelled (spec.md §5:
// "one long-running ingress task per source channel feed" plus "one
// long-running tick-loop per broker account").
func (bridge *Bridge) Run(ctx context.Context) error {
	compiler := &orders.Compiler{
		Broker: bridge.broker,
		Logger: bridge.logger,
		MarketWindow: orders.MarketWindow{
			Symbol:    goldSymbol,
			Threshold: decimal.NewFromFloat(1.0),
		},
		CloserPrice:   decimal.NewFromFloat(bridge.config.MetaTrader.CloserPrice),
		ExpireMinutes: bridge.config.MetaTrader.ExpirePendingOrderInMinutes,
	}

	disp := dispatcher.New(bridge.config, bridge.store, bridge.broker, compiler, bridge.userID)
	parser := sigparse.NewParser()
	if len(bridge.config.MetaTrader.SymbolMappings) > 0 {
		parser.Symbols.Overrides = bridge.config.MetaTrader.SymbolMappings
	}
	parser.Symbols.Strict = bridge.config.MetaTrader.StrictSymbols

	router := commands.NewRouter(bridge.store, bridge.broker, parser, 4)

	engine := lifecycle.NewEngine(bridge.broker, bridge.store)
	engine.CloseOnTrail = bridge.config.MetaTrader.ClosePositionsOnTrail
	if len(bridge.config.MetaTrader.SaveProfits) == 4 {
		engine.SaveProfits = [4]int{
			bridge.config.MetaTrader.SaveProfits[0],
			bridge.config.MetaTrader.SaveProfits[1],
			bridge.config.MetaTrader.SaveProfits[2],
			bridge.config.MetaTrader.SaveProfits[3],
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return bridge.ingress(gctx, disp, router, parser)
	})

	return g.Wait()
}

// ingress runs the one chat-feed consumer loop this process hosts,
// routing each message to the Dispatcher (fresh signals) or the
// CommandRouter (edits/replies/deletes), per spec.md §2's "operator
// messages bypass C5 and flow through C11".
func (bridge *Bridge) ingress(ctx context.Context, disp *dispatcher.Dispatcher, router *commands.Router, parser *sigparse.Parser) error {
	messages, err := bridge.feed.Messages(ctx)
	if err != nil {
		return fmt.Errorf("ingress: open feed: %w", err)
	}

	cmdGroup, cmdCtx := errgroup.WithContext(ctx)
	defer func() { _ = cmdGroup.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			bridge.handleMessage(ctx, cmdCtx, cmdGroup, disp, router, parser, msg)
		}
	}
}

func (bridge *Bridge) handleMessage(ctx, cmdCtx context.Context, cmdGroup *errgroup.Group, disp *dispatcher.Dispatcher, router *commands.Router, parser *sigparse.Parser, msg chatfeed.Message) {
	if msg.Kind == chatfeed.KindNew {
		brokerSymbols, err := bridge.broker.ListSymbols(ctx)
		if err != nil {
			bridge.logger.Printf("ingress: list symbols failed: %v", err)
		}
		ps, ok := parser.Parse(msg.Text, brokerSymbols)
		if ok {
			meta := dispatcher.Meta{ChatID: msg.ChatID, MessageID: msg.MessageID, ChannelTitle: msg.ChannelTitle}
			if _, accepted, err := disp.Dispatch(ctx, meta, ps); err != nil {
				bridge.logger.Printf("dispatch failed: %v", err)
				_ = bridge.notifier.Notify(ctx, fmt.Sprintf("dispatch failed: %v", err))
			} else if accepted {
				return
			}
			return
		}
	}

	if err := router.Submit(cmdCtx, cmdGroup, msg); err != nil {
		bridge.logger.Printf("command submit failed: %v", err)
	}
}
