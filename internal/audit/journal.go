// Package audit keeps a journal of session lifecycle events in BadgerDB.
//
// Storage Model:
//   - audit:{unix nanos, 20 digits}:{seq, 10 digits} -> JSON(Record)
//
// Records expire after the configured retention through Badger's TTL, so
// the journal needs no sweeper of its own.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/session"
)

const prefixRecord = "audit:"

// DefaultRetention is used when Options.Retention is zero.
const DefaultRetention = 7 * 24 * time.Hour

// DefaultLimit caps List when Query.Limit is zero.
const DefaultLimit = 100

// Event is the kind of a journal record.
type Event string

const (
	EventCreated   Event = "created"
	EventDestroyed Event = "destroyed"
	EventFailed    Event = "failed"
)

// Record is one journal entry.
type Record struct {
	Time        time.Time `json:"time"`
	Event       Event     `json:"event"`
	SessionID   string    `json:"session_id,omitempty"`
	MasterID    string    `json:"master_id,omitempty"`
	Application string    `json:"application"`
	UserName    string    `json:"user_name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Options configures a Journal.
type Options struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	Retention time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Query filters List. Zero fields match everything.
type Query struct {
	SessionID   string
	Application string
	Event       Event
	Since       time.Time
	Limit       int
}

func (q Query) matches(r *Record) bool {
	switch {
	case q.SessionID != "" && r.SessionID != q.SessionID && r.MasterID != q.SessionID:
		return false
	case q.Application != "" && r.Application != q.Application:
		return false
	case q.Event != "" && r.Event != q.Event:
		return false
	}
	return true
}

// Journal records session events. It implements session.Listener and
// session.FailedListener.
type Journal struct {
	db        *badgerdb.DB
	retention time.Duration
	now       func() time.Time
	seq       atomic.Uint32
}

// Open opens or creates the journal.
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, errors.New("audit journal path is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	bopts := badgerdb.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}
	return &Journal{db: db, retention: opts.Retention, now: opts.Now}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) key(t time.Time) []byte {
	return fmt.Appendf(nil, "%s%020d:%010d", prefixRecord, t.UnixNano(), j.seq.Add(1))
}

// Append stores r, stamping its time when unset.
func (j *Journal) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Time.IsZero() {
		r.Time = j.now()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	return j.db.Update(func(txn *badgerdb.Txn) error {
		return txn.SetEntry(badgerdb.NewEntry(j.key(r.Time), data).WithTTL(j.retention))
	})
}

// List returns matching records, newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var out []Record
	err := j.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixRecord)
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(prefixRecord), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if !q.Since.IsZero() && r.Time.Before(q.Since) {
				break
			}
			if !q.matches(&r) {
				continue
			}
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Healthcheck verifies the database can serve reads.
func (j *Journal) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

func (j *Journal) record(ctx context.Context, r Record) {
	if err := j.Append(ctx, r); err != nil {
		logger.WarnCtx(ctx, "Audit record dropped", "event", string(r.Event), logger.Err(err))
	}
}

func sessionRecord(s *session.Session, e Event) Record {
	r := Record{
		Event:       e,
		SessionID:   s.ID(),
		Application: s.Application(),
		UserName:    s.UserName(),
	}
	if s.IsSub() {
		r.MasterID = s.Master().ID()
	}
	return r
}

// SessionCreated implements session.Listener.
func (j *Journal) SessionCreated(ctx context.Context, s *session.Session) {
	j.record(ctx, sessionRecord(s, EventCreated))
}

// SessionDestroyed implements session.Listener.
func (j *Journal) SessionDestroyed(ctx context.Context, s *session.Session, reason string) {
	r := sessionRecord(s, EventDestroyed)
	r.Reason = reason
	j.record(ctx, r)
}

// SessionFailed implements session.FailedListener.
func (j *Journal) SessionFailed(ctx context.Context, application string, err error) {
	r := Record{Event: EventFailed, Application: application}
	if err != nil {
		r.Error = err.Error()
	}
	j.record(ctx, r)
}
