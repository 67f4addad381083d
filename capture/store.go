// Package capture records Econet events received by a driver into a SQLite database, so that
// network traffic can be inspected after the fact.
package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/logger"
)

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session      TEXT    NOT NULL,
		at           INTEGER NOT NULL,
		kind         TEXT    NOT NULL,
		network_from INTEGER,
		station_from INTEGER,
		network_to   INTEGER,
		station_to   INTEGER,
		payload      BLOB,
		detail       TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS events_kind ON events(kind)`,
	`CREATE INDEX IF NOT EXISTS events_session ON events(session)`,
}

// ErrClosed is returned when using a store after Close.
var ErrClosed = errors.New("capture: store closed")

// Address is an Econet network and station pair.
type Address struct {
	Network uint8
	Station uint8
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d", a.Network, a.Station)
}

// Entry is a recorded event.
type Entry struct {
	ID      int64
	Session string
	At      time.Time
	Kind    string
	// Addressed is false when the event carries no frame, or its frame is too short for a header.
	Addressed bool
	From      Address
	To        Address
	Payload   []byte
	Detail    string
}

// Store is a SQLite backed event capture.
//
// Every Open starts a new capture session; entries recorded through the store are tagged with
// its id, so several runs can share one database.
type Store struct {
	db      *sql.DB
	session string
	logger  logger.Logger
	now     func() time.Time
	closed  atomic.Bool
}

type storeConfig struct {
	logger logger.Logger
	now    func() time.Time
}

// Option is a functional option for configuring a Store.
type Option interface {
	apply(*storeConfig) error
}

type optFunc func(*storeConfig) error

func (f optFunc) apply(cfg *storeConfig) error { return f(cfg) }

// WithLogger sets the logger of the store.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *storeConfig) error {
		if l == nil {
			return errors.New("capture: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithClock sets the function stamping recorded events. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return optFunc(func(cfg *storeConfig) error {
		if now == nil {
			return errors.New("capture: clock must not be nil")
		}
		cfg.now = now

		return nil
	})
}

// Open opens or creates the capture database at path and prepares its schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	cfg := storeConfig{logger: logger.GetLogger(), now: time.Now}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("capture: open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("capture: ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("capture: set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	session := uuid.NewString()
	s := &Store{
		db:      db,
		session: session,
		logger:  cfg.logger.With("component", "capture", "session", session),
		now:     cfg.now,
	}
	s.logger.Debug("capture store opened", "path", path)

	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("capture: read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("capture: create schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return fmt.Errorf("capture: set schema version: %w", err)
	}

	return nil
}

// Record stores evt and returns the id of the new entry.
func (s *Store) Record(ctx context.Context, evt econet.Event) (int64, error) {
	if evt == nil {
		return 0, errors.New("capture: nil event")
	}

	e := entryOf(evt)
	var from, to [2]sql.NullInt64
	if e.Addressed {
		from = [2]sql.NullInt64{nullInt(e.From.Network), nullInt(e.From.Station)}
		to = [2]sql.NullInt64{nullInt(e.To.Network), nullInt(e.To.Station)}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events(session, at, kind, network_from, station_from, network_to, station_to, payload, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.session, s.now().UnixMilli(), e.Kind, from[0], from[1], to[0], to[1], e.Payload, e.Detail)
	if err != nil {
		return 0, s.wrapErr("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("capture: get event id: %w", err)
	}

	return id, nil
}

// Recent returns at most limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, at, kind, network_from, station_from, network_to, station_to, payload, detail
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, s.wrapErr("list events", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			at       int64
			from, to [2]sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Session, &at, &e.Kind, &from[0], &from[1], &to[0], &to[1], &e.Payload, &e.Detail); err != nil {
			return nil, fmt.Errorf("capture: scan event: %w", err)
		}
		e.At = time.UnixMilli(at)
		if from[1].Valid && to[1].Valid {
			e.Addressed = true
			e.From = Address{Network: uint8(from[0].Int64), Station: uint8(from[1].Int64)}
			e.To = Address{Network: uint8(to[0].Int64), Station: uint8(to[1].Int64)}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capture: iterate events: %w", err)
	}

	return out, nil
}

// CountByKind returns the number of recorded entries per event tag.
func (s *Store) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, s.wrapErr("count events", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("capture: scan count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capture: iterate counts: %w", err)
	}

	return counts, nil
}

// Session returns the id of the capture session started by Open.
func (s *Store) Session() string { return s.session }

// Close closes the database. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *Store) wrapErr(op string, err error) error {
	if s.closed.Load() {
		return fmt.Errorf("capture: %s: %w", op, ErrClosed)
	}
	return fmt.Errorf("capture: %s: %w", op, err)
}

func nullInt(v uint8) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

// entryOf extracts the addressing, payload and a readable detail from evt.
func entryOf(evt econet.Event) Entry {
	e := Entry{Kind: evt.Kind().String()}

	switch evt := evt.(type) {
	case econet.MonitorEvent:
		e.Payload = evt.EconetFrame
		e.addressFromData(evt.EconetFrame)
	case econet.RxBroadcastEvent:
		e.Payload = evt.EconetFrame
		e.addressFromData(evt.EconetFrame)
	case econet.RxImmediateEvent:
		e.Payload = evt.DataFrame
		e.addressFromScout(evt.ScoutFrame)
	case econet.RxTransmitEvent:
		e.Payload = evt.DataFrame
		e.addressFromScout(evt.ScoutFrame)
		e.Detail = fmt.Sprintf("receiveId=%d %s", evt.ReceiveID, e.Detail)
	case econet.StatusEvent, econet.ErrorEvent, econet.TxResultEvent, econet.ReplyResultEvent:
		e.Detail = evt.String()
	}

	return e
}

func (e *Entry) addressFromData(frame []byte) {
	df, err := econet.ParseDataFrame(frame)
	if err != nil {
		e.Detail = err.Error()
		return
	}
	e.Addressed = true
	e.From = Address{Network: df.FromNetwork, Station: df.FromStation}
	e.To = Address{Network: df.ToNetwork, Station: df.ToStation}
	e.Detail = fmt.Sprintf("payload=%d bytes", len(df.Payload))
}

func (e *Entry) addressFromScout(frame []byte) {
	sf, err := econet.ParseScoutFrame(frame)
	if err != nil {
		e.Detail = err.Error()
		return
	}
	e.Addressed = true
	e.From = Address{Network: sf.FromNetwork, Station: sf.FromStation}
	e.To = Address{Network: sf.ToNetwork, Station: sf.ToStation}
	e.Detail = fmt.Sprintf("ctrl=%02x port=%02x", sf.ControlByte, sf.Port)
}
