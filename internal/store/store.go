// Package store is the embedded relational SignalStore (C9): two
// tables (Signal, Position) with referential integrity, an optional
// write-through LRU+TTL cache, and atomic multi-table writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Signal is the persistent record created when a ParsedSignal is
// accepted (spec.md §3). SourceChatID is already normalized (leading
// "-100" stripped, absolute value taken) by the time it reaches here.
type Signal struct {
	ID                 int64
	SourceChannelTitle string
	SourceMessageID    int64
	SourceChatID       int64
	OpenPrice          decimal.Decimal
	SecondPrice        decimal.Decimal
	HasSecond          bool
	StopLoss           decimal.Decimal
	TPList             []decimal.Decimal
	Symbol             string
	CreatedAt          string // "YYYY-MM-DD HH:MM:SS"
}

// Position is one broker order opened under a Signal.
type Position struct {
	ID           int64
	SignalID     int64
	BrokerTicket int64
	UserID       int64
	IsFirst      bool
	IsSecond     bool
}

// Store wraps a *sql.DB against the two-table schema, with an
// optional write-through cache.
type Store struct {
	db    *sql.DB
	cache *Cache // nil when caching is disabled
}

// Open creates (if absent) the schema idempotently and returns a
// ready Store. cacheEnabled mirrors the config's disableCache toggle.
func Open(ctx context.Context, dsn string, cacheEnabled bool, cacheSize int, cacheTTL time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createSchema(ctx, db); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cacheEnabled {
		s.cache = NewCache(cacheSize, cacheTTL)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func createSchema(ctx context.Context, db *sql.DB) error {
	const signals = `
CREATE TABLE IF NOT EXISTS Signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_channel_title TEXT NOT NULL,
	telegram_message_id INTEGER,
	telegram_message_chatid INTEGER,
	open_price REAL NOT NULL,
	second_price REAL,
	stop_loss REAL NOT NULL,
	tp_list TEXT NOT NULL,
	symbol TEXT NOT NULL,
	current_time TEXT NOT NULL
);`
	const positions = `
CREATE TABLE IF NOT EXISTS Positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id INTEGER NOT NULL,
	position_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	is_first BOOLEAN NULL,
	is_second BOOLEAN NULL,
	FOREIGN KEY(signal_id) REFERENCES Signals(id) ON DELETE CASCADE
);`
	if _, err := db.ExecContext(ctx, signals); err != nil {
		return fmt.Errorf("create Signals: %w", err)
	}
	if _, err := db.ExecContext(ctx, positions); err != nil {
		return fmt.Errorf("create Positions: %w", err)
	}
	return nil
}

func joinTPList(tps []decimal.Decimal) string {
	parts := make([]string, len(tps))
	for i, tp := range tps {
		parts[i] = tp.String()
	}
	return strings.Join(parts, ",")
}

func splitTPList(s string) []decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err == nil {
			out = append(out, d)
		}
	}
	return out
}

func decOrNil(d decimal.Decimal, has bool) interface{} {
	if !has {
		return nil
	}
	f, _ := d.Float64()
	return f
}

// InsertSignalAndFirstPosition executes the atomic C9 requirement:
// a crash between the two inserts must leave no orphan Signal without
// its primary Position. Both rows exist or neither does.
func (s *Store) InsertSignalAndFirstPosition(ctx context.Context, sig Signal, userID, brokerTicket int64) (signalID int64, positionID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
INSERT INTO Signals (telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.SourceChannelTitle, sig.SourceMessageID, sig.SourceChatID,
		mustFloat(sig.OpenPrice), decOrNil(sig.SecondPrice, sig.HasSecond), mustFloat(sig.StopLoss),
		joinTPList(sig.TPList), sig.Symbol, sig.CreatedAt)
	if err != nil {
		return 0, 0, fmt.Errorf("insert signal: %w", err)
	}
	signalID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	res2, err := tx.ExecContext(ctx, `
INSERT INTO Positions (signal_id, position_id, user_id, is_first, is_second)
VALUES (?, ?, ?, 1, 0)`, signalID, brokerTicket, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("insert first position: %w", err)
	}
	positionID, err = res2.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}

	s.invalidate("Signals")
	s.invalidate("Positions")
	return signalID, positionID, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// InsertPosition inserts a subsequent Position (e.g. the second-entry
// leg) linked to an already-persisted Signal.
func (s *Store) InsertPosition(ctx context.Context, signalID, brokerTicket, userID int64, isFirst, isSecond bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO Positions (signal_id, position_id, user_id, is_first, is_second)
VALUES (?, ?, ?, ?, ?)`, signalID, brokerTicket, userID, isFirst, isSecond)
	if err != nil {
		return 0, fmt.Errorf("insert position: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.invalidate("Positions")
	return id, nil
}

func scanSignal(row interface {
	Scan(dest ...interface{}) error
}) (Signal, error) {
	var sig Signal
	var secondPrice sql.NullFloat64
	var tpList string
	err := row.Scan(&sig.ID, &sig.SourceChannelTitle, &sig.SourceMessageID, &sig.SourceChatID,
		&sig.OpenPrice, &secondPrice, &sig.StopLoss, &tpList, &sig.Symbol, &sig.CreatedAt)
	if err != nil {
		return Signal{}, err
	}
	if secondPrice.Valid {
		sig.HasSecond = true
		sig.SecondPrice = decimal.NewFromFloat(secondPrice.Float64)
	}
	sig.TPList = splitTPList(tpList)
	return sig, nil
}

// FindExactSignal returns the most recent Signal matching
// (open, second, sl, symbol) exactly, per the C9/invariant-60
// at-most-one-signal-per-intent rule.
func (s *Store) FindExactSignal(ctx context.Context, open, second decimal.Decimal, hasSecond bool, sl decimal.Decimal, symbol string) (Signal, bool, error) {
	key := cacheKey("Signals", "FindExact", symbol, open.String(), second.String(), strconv.FormatBool(hasSecond), sl.String())
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			sig, _ := v.(Signal)
			return sig, true, nil
		}
	}

	var row *sql.Row
	if hasSecond {
		row = s.db.QueryRowContext(ctx, `
SELECT id, telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time
FROM Signals WHERE open_price = ? AND second_price = ? AND stop_loss = ? AND symbol = ?
ORDER BY id DESC LIMIT 1`, mustFloat(open), mustFloat(second), mustFloat(sl), symbol)
	} else {
		row = s.db.QueryRowContext(ctx, `
SELECT id, telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time
FROM Signals WHERE open_price = ? AND second_price IS NULL AND stop_loss = ? AND symbol = ?
ORDER BY id DESC LIMIT 1`, mustFloat(open), mustFloat(sl), symbol)
	}

	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return Signal{}, false, nil
	}
	if err != nil {
		return Signal{}, false, err
	}
	if s.cache != nil {
		s.cache.Put(key, sig)
	}
	return sig, true, nil
}

// FindSignalByChat returns the most recent Signal for chatID
// (optionally scoped to a specific messageID for reply-target
// resolution).
func (s *Store) FindSignalByChat(ctx context.Context, chatID int64, messageID int64, scoped bool) (Signal, bool, error) {
	var row *sql.Row
	if scoped {
		row = s.db.QueryRowContext(ctx, `
SELECT id, telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time
FROM Signals WHERE telegram_message_chatid = ? AND telegram_message_id = ?
ORDER BY id DESC LIMIT 1`, chatID, messageID)
	} else {
		row = s.db.QueryRowContext(ctx, `
SELECT id, telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time
FROM Signals WHERE telegram_message_chatid = ?
ORDER BY id DESC LIMIT 1`, chatID)
	}
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return Signal{}, false, nil
	}
	if err != nil {
		return Signal{}, false, err
	}
	return sig, true, nil
}

// FindSignalByPosition resolves the Signal owning brokerTicket via a
// JOIN on Positions.
func (s *Store) FindSignalByPosition(ctx context.Context, brokerTicket int64) (Signal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT s.id, s.telegram_channel_title, s.telegram_message_id, s.telegram_message_chatid, s.open_price, s.second_price, s.stop_loss, s.tp_list, s.symbol, s.current_time
FROM Signals s JOIN Positions p ON p.signal_id = s.id
WHERE p.position_id = ?
ORDER BY s.id DESC LIMIT 1`, brokerTicket)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return Signal{}, false, nil
	}
	if err != nil {
		return Signal{}, false, err
	}
	return sig, true, nil
}

// PositionsOfSignal lists up to two positions of a signal (its first-
// and second-entry legs). It takes no is_first/is_second filter.
func (s *Store) PositionsOfSignal(ctx context.Context, signalID int64) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, signal_id, position_id, user_id, is_first, is_second
FROM Positions WHERE signal_id = ? LIMIT 2`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.SignalID, &p.BrokerTicket, &p.UserID, &p.IsFirst, &p.IsSecond); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentPositionsByChat returns broker tickets (at most 2, most
// recent) for the last signal posted to chatID (optionally scoped to
// messageID for reply resolution).
func (s *Store) RecentPositionsByChat(ctx context.Context, chatID, messageID int64, scoped bool) ([]int64, error) {
	sig, ok, err := s.FindSignalByChat(ctx, chatID, messageID, scoped)
	if err != nil || !ok {
		return nil, err
	}
	positions, err := s.PositionsOfSignal(ctx, sig.ID)
	if err != nil {
		return nil, err
	}
	tickets := make([]int64, len(positions))
	for i, p := range positions {
		tickets[i] = p.BrokerTicket
	}
	return tickets, nil
}

// UpdateStopLoss updates a Signal's stop_loss.
func (s *Store) UpdateStopLoss(ctx context.Context, signalID int64, sl decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Signals SET stop_loss = ? WHERE id = ?`, mustFloat(sl), signalID)
	if err != nil {
		return err
	}
	s.invalidate("Signals")
	return nil
}

// UpdateTPList updates a Signal's tp_list.
func (s *Store) UpdateTPList(ctx context.Context, signalID int64, tps []decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Signals SET tp_list = ? WHERE id = ?`, joinTPList(tps), signalID)
	if err != nil {
		return err
	}
	s.invalidate("Signals")
	return nil
}

// TPLevelsOfPosition returns the TP list of the Signal owning
// brokerTicket, via the same JOIN FindSignalByPosition performs.
func (s *Store) TPLevelsOfPosition(ctx context.Context, brokerTicket int64) ([]decimal.Decimal, error) {
	sig, ok, err := s.FindSignalByPosition(ctx, brokerTicket)
	if err != nil || !ok {
		return nil, err
	}
	return sig.TPList, nil
}

// DeleteSignal removes a Signal row; its Positions cascade.
func (s *Store) DeleteSignal(ctx context.Context, signalID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM Signals WHERE id = ?`, signalID)
	if err != nil {
		return err
	}
	s.invalidate("Signals")
	s.invalidate("Positions")
	return nil
}

// ListRecentSignals returns the most recently created signals, newest
// first, for dashboard/status reporting. Not cached: it backs an
// operator-visibility surface, not a hot lookup path.
func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, telegram_channel_title, telegram_message_id, telegram_message_chatid, open_price, second_price, stop_loss, tp_list, symbol, current_time
FROM Signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *Store) invalidate(table string) {
	if s.cache != nil {
		s.cache.InvalidateTable(table)
	}
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
