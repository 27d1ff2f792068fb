package roster

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const eventQueueDepth = 1024

type indexEvent struct {
	playerID uint64
	kind     string
	detail   string
	at       time.Time
}

// SQLiteIndex appends roster lifecycle events to a sqlite database through a
// single writer goroutine. Enqueueing never blocks: if the writer falls
// behind, events are dropped rather than stalling a connection goroutine.
type SQLiteIndex struct {
	db     *sql.DB
	ch     chan indexEvent
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the roster index at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	//1.- A single writer goroutine owns all statements, so one connection suffices.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS player_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	index := &SQLiteIndex{
		db: db,
		ch: make(chan indexEvent, eventQueueDepth),
	}
	index.wg.Add(1)
	go index.writer()
	return index, nil
}

// RecordEvent enqueues one lifecycle event. Safe on a nil index.
func (x *SQLiteIndex) RecordEvent(playerID uint64, kind, detail string, at time.Time) {
	if x == nil || x.closed.Load() {
		return
	}
	select {
	case x.ch <- indexEvent{playerID: playerID, kind: kind, detail: detail, at: at}:
	default:
		// Writer is saturated; drop the event rather than block the caller.
	}
}

func (x *SQLiteIndex) writer() {
	defer x.wg.Done()
	for event := range x.ch {
		_, _ = x.db.Exec(
			`INSERT INTO player_events (player_id, event, detail, at) VALUES (?, ?, ?, ?)`,
			event.playerID, event.kind, event.detail, event.at.UTC().Format(time.RFC3339Nano),
		)
	}
}

// Close drains pending events and releases the database handle.
func (x *SQLiteIndex) Close() error {
	if x == nil {
		return nil
	}
	var err error
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
		x.wg.Wait()
		err = x.db.Close()
	})
	return err
}
