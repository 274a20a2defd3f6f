// Package kv - BadgerDB backend.
package kv

import (
	"bytes"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/semaphore"
)

// Options configures a Store backend.
type Options struct {
	// InMemory keeps the Badger environment in RAM.
	InMemory bool

	// SyncWrites forces fsync on every commit. Slower, more durable.
	SyncWrites bool

	// MaxReaders bounds the number of concurrently open read
	// transactions. Zero means DefaultMaxReaders.
	MaxReaders int

	// Logger receives Badger's internal logging. Nil silences it; the
	// engine itself never logs.
	Logger badger.Logger
}

// DefaultMaxReaders is the reader-pool bound when Options.MaxReaders is 0.
// Matches the order of magnitude of LMDB's default reader table.
const DefaultMaxReaders = 126

// DefaultOptions returns the options used by production databases.
func DefaultOptions() Options {
	return Options{}
}

// BadgerStore implements Store on BadgerDB. All families share one physical
// keyspace; the family byte is the leading key byte, which preserves
// per-family ascending iteration for free.
type BadgerStore struct {
	db      *badger.DB
	readers *semaphore.Weighted

	mu     sync.Mutex
	closed bool
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (creating if necessary) a Badger environment at dir.
func OpenBadger(dir string, opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	bopts = bopts.WithLogger(opts.Logger)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, &BackendError{Op: "open", Err: err}
	}

	maxReaders := opts.MaxReaders
	if maxReaders <= 0 {
		maxReaders = DefaultMaxReaders
	}

	return &BadgerStore{
		db:      db,
		readers: semaphore.NewWeighted(int64(maxReaders)),
	}, nil
}

// BeginRead starts a snapshot read transaction, claiming a reader slot.
func (s *BadgerStore) BeginRead() (Txn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	if !s.readers.TryAcquire(1) {
		return nil, ErrReadersExhausted
	}
	return &badgerTxn{store: s, txn: s.db.NewTransaction(false), reader: true}, nil
}

// BeginWrite starts a write transaction.
func (s *BadgerStore) BeginWrite() (Txn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	return &badgerTxn{store: s, txn: s.db.NewTransaction(true), update: true}, nil
}

// View runs fn inside a read transaction.
func (s *BadgerStore) View(fn func(Txn) error) error {
	txn, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Discard()
	return fn(txn)
}

// Update runs fn inside a write transaction, committing on success.
func (s *BadgerStore) Update(fn func(Txn) error) error {
	txn, err := s.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// Close shuts the environment down.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return &BackendError{Op: "close", Err: err}
	}
	return nil
}

// badgerTxn adapts badger.Txn to the Txn contract. Family-local keys are
// translated by prepending the family byte.
type badgerTxn struct {
	store    *BadgerStore
	txn      *badger.Txn
	update   bool
	reader   bool
	finished bool
}

func fkey(f Family, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(f)
	copy(out[1:], key)
	return out
}

func (t *badgerTxn) Get(f Family, key []byte) ([]byte, error) {
	item, err := t.txn.Get(fkey(f, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, &BackendError{Op: "get", Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, &BackendError{Op: "get", Err: err}
	}
	return val, nil
}

func (t *badgerTxn) Set(f Family, key, value []byte) error {
	if !t.update {
		return ErrTxnReadOnly
	}
	if err := t.txn.Set(fkey(f, key), value); err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return ErrTxnTooLarge
		}
		return &BackendError{Op: "set", Err: err}
	}
	return nil
}

func (t *badgerTxn) Delete(f Family, key []byte) error {
	if !t.update {
		return ErrTxnReadOnly
	}
	if err := t.txn.Delete(fkey(f, key)); err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return ErrTxnTooLarge
		}
		return &BackendError{Op: "delete", Err: err}
	}
	return nil
}

func (t *badgerTxn) NewIterator(f Family, opts IterOptions) Iterator {
	bopts := badger.DefaultIteratorOptions
	bopts.PrefetchValues = opts.PrefetchValues
	bopts.Prefix = fkey(f, opts.Prefix)

	return &badgerIterator{
		it:    t.txn.NewIterator(bopts),
		fam:   f,
		start: opts.Start,
		end:   opts.End,
		pfx:   bopts.Prefix,
	}
}

func (t *badgerTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	defer t.release()
	if !t.update {
		t.txn.Discard()
		return nil
	}
	if err := t.txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return ErrTxnAborted
		}
		return &BackendError{Op: "commit", Err: err}
	}
	return nil
}

func (t *badgerTxn) Discard() {
	if t.finished {
		return
	}
	t.finished = true
	t.txn.Discard()
	t.release()
}

func (t *badgerTxn) release() {
	if t.reader {
		t.store.readers.Release(1)
		t.reader = false
	}
}

// badgerIterator walks one family in ascending key order, applying the
// optional [Start, End) bound on the family-local key.
type badgerIterator struct {
	it    *badger.Iterator
	fam   Family
	pfx   []byte
	start []byte
	end   []byte
}

func (i *badgerIterator) Rewind() {
	if len(i.start) > 0 {
		i.it.Seek(fkey(i.fam, i.start))
		return
	}
	i.it.Seek(i.pfx)
}

func (i *badgerIterator) Seek(key []byte) { i.it.Seek(fkey(i.fam, key)) }

func (i *badgerIterator) Valid() bool {
	if !i.it.ValidForPrefix(i.pfx) {
		return false
	}
	if len(i.end) > 0 && bytes.Compare(i.Key(), i.end) >= 0 {
		return false
	}
	return true
}

func (i *badgerIterator) Next() { i.it.Next() }

func (i *badgerIterator) Key() []byte {
	k := i.it.Item().Key()
	return k[1:] // strip family byte
}

func (i *badgerIterator) Value() ([]byte, error) {
	val, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		return nil, &BackendError{Op: "iter value", Err: err}
	}
	return val, nil
}

func (i *badgerIterator) Close() { i.it.Close() }
