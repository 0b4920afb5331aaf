package lidar

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoSession is returned when recording without an active session or
// replaying a database that holds no sessions
var ErrNoSession = errors.New("no recording session")

// Recorder stores raw lidar payloads in SQLite so a run can be replayed
// through the pipeline later
type Recorder struct {
	db      *sql.DB
	mu      sync.Mutex
	session string
	now     func() time.Time
}

// SessionInfo describes one recording session
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Messages  int       `json:"messages"`
}

// RecordedMessage is one stored payload
type RecordedMessage struct {
	Topic      string
	ReceivedAt time.Time
	Payload    []byte
}

// OpenRecorder opens (creating if needed) the recording database at path
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening recording database: %w", err)
	}
	// one writer at a time keeps SQLite happy without WAL tuning
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing recording schema: %w", err)
	}

	return &Recorder{db: db, now: time.Now}, nil
}

// StartSession begins a new session; subsequent Record calls belong to it
func (r *Recorder) StartSession(notes string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(`INSERT INTO recording_sessions (id, started_ms, notes) VALUES (?, ?, ?)`,
		id, r.now().UnixMilli(), notes)
	if err != nil {
		return "", fmt.Errorf("starting recording session: %w", err)
	}

	r.mu.Lock()
	r.session = id
	r.mu.Unlock()

	log.Printf("[RECORDER] Started session %s", id)
	return id, nil
}

// Session returns the active session id, or "" when none
func (r *Recorder) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Record stores one payload in the active session
func (r *Recorder) Record(topic string, payload []byte) error {
	session := r.Session()
	if session == "" {
		return ErrNoSession
	}
	_, err := r.db.Exec(`INSERT INTO lidar_messages (session_id, topic, received_ms, payload) VALUES (?, ?, ?, ?)`,
		session, topic, r.now().UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}
	return nil
}

// EndSession marks the active session finished
func (r *Recorder) EndSession() error {
	r.mu.Lock()
	session := r.session
	r.session = ""
	r.mu.Unlock()

	if session == "" {
		return nil
	}
	_, err := r.db.Exec(`UPDATE recording_sessions SET ended_ms = ? WHERE id = ?`, r.now().UnixMilli(), session)
	if err != nil {
		return fmt.Errorf("ending recording session: %w", err)
	}
	return nil
}

// Sessions lists recorded sessions, oldest first
func (r *Recorder) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.started_ms, s.ended_ms, s.notes, COUNT(m.id)
		FROM recording_sessions s
		LEFT JOIN lidar_messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_ms, s.rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			info    SessionInfo
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&info.ID, &started, &ended, &info.Notes, &info.Messages); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		info.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			info.EndedAt = time.UnixMilli(ended.Int64)
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Replay streams the payloads of session in recording order. An empty
// session selects the most recent one.
func (r *Recorder) Replay(ctx context.Context, session string, fn func(RecordedMessage) error) error {
	if session == "" {
		err := r.db.QueryRowContext(ctx,
			`SELECT id FROM recording_sessions ORDER BY started_ms DESC, rowid DESC LIMIT 1`).Scan(&session)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSession
		}
		if err != nil {
			return fmt.Errorf("finding latest session: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT topic, received_ms, payload FROM lidar_messages WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return fmt.Errorf("reading session %s: %w", session, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg RecordedMessage
			ms  int64
		)
		if err := rows.Scan(&msg.Topic, &ms, &msg.Payload); err != nil {
			return fmt.Errorf("scanning message: %w", err)
		}
		msg.ReceivedAt = time.UnixMilli(ms)
		if err := fn(msg); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ReplayInto feeds a recorded session through p. The pipeline clock follows
// the recorded arrival times so window eviction matches the original run.
// Returns the number of messages replayed.
func (r *Recorder) ReplayInto(ctx context.Context, p *Pipeline, session string) (int, error) {
	var (
		mu      sync.Mutex
		current time.Time
	)
	p.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	n := 0
	err := r.Replay(ctx, session, func(msg RecordedMessage) error {
		mu.Lock()
		current = msg.ReceivedAt
		mu.Unlock()
		p.Ingest(msg.Payload)
		n++
		return nil
	})
	return n, err
}

// Close ends the active session and closes the database
func (r *Recorder) Close() error {
	if err := r.EndSession(); err != nil {
		log.Printf("[RECORDER] %v", err)
	}
	return r.db.Close()
}
