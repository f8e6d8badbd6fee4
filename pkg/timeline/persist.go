package timeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// EventKind distinguishes the two source streams in persisted events.
type EventKind uint8

const (
	EventTranscription EventKind = iota + 1
	EventMessage
)

// Event is one appended source item as it is persisted.
type Event struct {
	Kind          EventKind      `msgpack:"k"`
	Transcription *Transcription `msgpack:"t,omitempty"`
	Message       *ChatEntry     `msgpack:"m,omitempty"`
}

// Persister defines the interface for timeline persistence backends.
type Persister interface {
	// Save appends one event.
	Save(ctx context.Context, ev Event) error

	// Load returns every saved event in the order it was saved.
	Load(ctx context.Context) ([]Event, error)

	// Close releases any resources held by the persister.
	Close() error
}

var keyPrefix = []byte("timeline/")

// BadgerOptions configures a BadgerPersister.
type BadgerOptions struct {
	// Dir is the directory for data files. Required unless InMemory.
	Dir string

	// InMemory keeps data in memory only. Useful for tests.
	InMemory bool

	// Logger receives badger's warnings and errors.
	Logger *slog.Logger
}

// BadgerPersister stores events in BadgerDB, msgpack encoded, keyed by a
// big-endian sequence number so iteration order is save order.
type BadgerPersister struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// OpenBadger opens or creates a badger-backed persister.
func OpenBadger(opts BadgerOptions) (*BadgerPersister, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("timeline: BadgerOptions.Dir is required for on-disk mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{logger.With("component", "timeline.badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("timeline: open badger: %w", err)
	}

	p := &BadgerPersister{db: db}
	if err := p.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// loadSeq finds the highest saved sequence number.
func (p *BadgerPersister) loadSeq() error {
	return p.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(append([]byte{}, keyPrefix...), 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(keyPrefix) {
			key := it.Item().Key()
			p.seq = binary.BigEndian.Uint64(key[len(keyPrefix):])
		}
		return nil
	})
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// Save appends ev.
func (p *BadgerPersister) Save(_ context.Context, ev Event) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("timeline: encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.seq + 1
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(next), data)
	}); err != nil {
		return fmt.Errorf("timeline: save event: %w", err)
	}
	p.seq = next
	return nil
}

// Load returns all events in save order. Entries that fail to decode are
// skipped.
func (p *BadgerPersister) Load(ctx context.Context) ([]Event, error) {
	var events []Event
	err := p.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = keyPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var ev Event
			if err := msgpack.Unmarshal(val, &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("timeline: load events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (p *BadgerPersister) Close() error {
	return p.db.Close()
}

// badgerLogger routes badger's logging to slog, dropping its chatty info
// and debug output.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}

var _ Persister = (*BadgerPersister)(nil)
