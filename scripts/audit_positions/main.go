// audit_positions reports Signals/Positions the local store believes
// are open against what the broker session actually reports, and
// writes the full comparison as a YAML dump for offline review.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/config"
	"github.com/parsatrade/signalbridge/internal/store"
)

// auditEntry is one store-side Position paired with whatever the
// broker reports for its ticket, or nothing if the ticket has gone
// missing from the account (a discrepancy worth a human's attention).
type auditEntry struct {
	SignalID   int64   `yaml:"signal_id"`
	Symbol     string  `yaml:"symbol"`
	Ticket     int64   `yaml:"ticket"`
	FoundLive  bool    `yaml:"found_live"`
	LiveVolume float64 `yaml:"live_volume,omitempty"`
}

type auditReport struct {
	GeneratedAt string       `yaml:"generated_at"`
	Entries     []auditEntry `yaml:"entries"`
	Orphans     int          `yaml:"orphan_count"`
}

func main() {
	var (
		configPath = flag.String("config", "settings.json", "path to the JSON configuration document")
		dbPath     = flag.String("db", "signalbridge.db", "path to the embedded SQL store")
		outPath    = flag.String("out", "", "path to write the YAML dump (default: stdout)")
	)
	flag.Parse()

	if err := run(*configPath, *dbPath, *outPath); err != nil {
		log.Fatalf("audit_positions: %v", err)
	}
}

func run(configPath, dbPath, outPath string) error {
	cfg, err := config.LoadPath(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, dbPath, !cfg.DisableCache, 256, time.Minute)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	b := broker.NewBreaker(broker.NewSerializer(broker.NewMock()), cfg.MetaTrader.Server)
	if err := b.Login(ctx); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}

	signals, err := st.ListRecentSignals(ctx, 500)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}

	live, err := b.PositionsGet(ctx)
	if err != nil {
		return fmt.Errorf("fetch live positions: %w", err)
	}
	liveByTicket := make(map[int64]broker.Position, len(live))
	for _, p := range live {
		liveByTicket[p.Ticket] = p
	}

	report := auditReport{GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
	for _, sig := range signals {
		positions, err := st.PositionsOfSignal(ctx, sig.ID)
		if err != nil {
			return fmt.Errorf("positions of signal %d: %w", sig.ID, err)
		}
		for _, pos := range positions {
			entry := auditEntry{SignalID: sig.ID, Symbol: sig.Symbol, Ticket: pos.BrokerTicket}
			if lp, ok := liveByTicket[pos.BrokerTicket]; ok {
				entry.FoundLive = true
				entry.LiveVolume, _ = lp.Volume.Float64()
			} else {
				report.Orphans++
			}
			report.Entries = append(report.Entries, entry)
		}
	}

	out, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if outPath == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(outPath, out, 0o644)
}
