// Package kv - in-memory backend.
package kv

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// MemoryStore implements Store entirely in RAM. It exists for tests and for
// ephemeral databases; semantics match BadgerStore exactly (snapshot
// isolation, atomic all-families commit, ascending iteration).
//
// The committed state is an immutable value swapped atomically on commit.
// Readers pin the state pointer at begin, so a long-lived read transaction
// observes a stable snapshot at zero cost. Writers are serialized LMDB
// style: one write transaction at a time per store.
type MemoryStore struct {
	state   atomic.Pointer[memState]
	writeMu sync.Mutex
	readers *semaphore.Weighted

	mu     sync.Mutex
	closed bool
}

var _ Store = (*MemoryStore)(nil)

type memState struct {
	fams map[Family]*memFamily
}

type memFamily struct {
	keys []string // sorted ascending
	vals map[string][]byte
}

func emptyState() *memState {
	st := &memState{fams: make(map[Family]*memFamily, len(Families))}
	for _, f := range Families {
		st.fams[f] = &memFamily{vals: make(map[string][]byte)}
	}
	return st
}

// OpenMemory creates an empty in-memory store.
func OpenMemory(opts Options) *MemoryStore {
	maxReaders := opts.MaxReaders
	if maxReaders <= 0 {
		maxReaders = DefaultMaxReaders
	}
	s := &MemoryStore{readers: semaphore.NewWeighted(int64(maxReaders))}
	s.state.Store(emptyState())
	return s
}

// BeginRead pins the current committed snapshot.
func (s *MemoryStore) BeginRead() (Txn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	if !s.readers.TryAcquire(1) {
		return nil, ErrReadersExhausted
	}
	return &memTxn{store: s, base: s.state.Load(), reader: true}, nil
}

// BeginWrite claims the single writer slot; it is held until Commit or
// Discard.
func (s *MemoryStore) BeginWrite() (Txn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	return &memTxn{
		store:   s,
		base:    s.state.Load(),
		update:  true,
		pending: make(map[Family]map[string][]byte),
		deleted: make(map[Family]map[string]struct{}),
	}, nil
}

// View runs fn inside a read transaction.
func (s *MemoryStore) View(fn func(Txn) error) error {
	txn, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Discard()
	return fn(txn)
}

// Update runs fn inside a write transaction, committing on success.
func (s *MemoryStore) Update(fn func(Txn) error) error {
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

// Close marks the store closed. In-memory data is dropped with the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTxn struct {
	store    *MemoryStore
	base     *memState
	update   bool
	reader   bool
	finished bool

	pending map[Family]map[string][]byte
	deleted map[Family]map[string]struct{}
}

func (t *memTxn) Get(f Family, key []byte) ([]byte, error) {
	k := string(key)
	if t.update {
		if _, gone := t.deleted[f][k]; gone {
			return nil, ErrKeyNotFound
		}
		if v, ok := t.pending[f][k]; ok {
			return append([]byte(nil), v...), nil
		}
	}
	v, ok := t.base.fams[f].vals[k]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTxn) Set(f Family, key, value []byte) error {
	if !t.update {
		return ErrTxnReadOnly
	}
	k := string(key)
	if t.pending[f] == nil {
		t.pending[f] = make(map[string][]byte)
	}
	t.pending[f][k] = append([]byte(nil), value...)
	if t.deleted[f] != nil {
		delete(t.deleted[f], k)
	}
	return nil
}

func (t *memTxn) Delete(f Family, key []byte) error {
	if !t.update {
		return ErrTxnReadOnly
	}
	k := string(key)
	if t.deleted[f] == nil {
		t.deleted[f] = make(map[string]struct{})
	}
	t.deleted[f][k] = struct{}{}
	if t.pending[f] != nil {
		delete(t.pending[f], k)
	}
	return nil
}

// NewIterator materializes the merged (base + overlay) sorted key list for
// the requested bounds. The merge is eager but bounded to the scan window.
func (t *memTxn) NewIterator(f Family, opts IterOptions) Iterator {
	fam := t.base.fams[f]

	inBounds := func(k string) bool {
		kb := []byte(k)
		if len(opts.Prefix) > 0 && !bytes.HasPrefix(kb, opts.Prefix) {
			return false
		}
		if len(opts.Start) > 0 && bytes.Compare(kb, opts.Start) < 0 {
			return false
		}
		if len(opts.End) > 0 && bytes.Compare(kb, opts.End) >= 0 {
			return false
		}
		return true
	}

	var keys []string
	for _, k := range fam.keys {
		if !inBounds(k) {
			continue
		}
		if t.update {
			if _, gone := t.deleted[f][k]; gone {
				continue
			}
			if _, shadowed := t.pending[f][k]; shadowed {
				continue // re-added below from the overlay
			}
		}
		keys = append(keys, k)
	}
	if t.update {
		for k := range t.pending[f] {
			if inBounds(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
	}

	return &memIterator{txn: t, fam: f, keys: keys, pos: 0}
}

func (t *memTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	if !t.update {
		t.release()
		return nil
	}
	defer t.release()

	next := &memState{fams: make(map[Family]*memFamily, len(Families))}
	for _, f := range Families {
		cur := t.store.state.Load().fams[f]
		if len(t.pending[f]) == 0 && len(t.deleted[f]) == 0 {
			next.fams[f] = cur
			continue
		}
		nf := &memFamily{vals: make(map[string][]byte, len(cur.vals)+len(t.pending[f]))}
		for k, v := range cur.vals {
			if _, gone := t.deleted[f][k]; gone {
				continue
			}
			nf.vals[k] = v
		}
		for k, v := range t.pending[f] {
			nf.vals[k] = v
		}
		nf.keys = make([]string, 0, len(nf.vals))
		for k := range nf.vals {
			nf.keys = append(nf.keys, k)
		}
		sort.Strings(nf.keys)
		next.fams[f] = nf
	}
	t.store.state.Store(next)
	return nil
}

func (t *memTxn) Discard() {
	if t.finished {
		return
	}
	t.finished = true
	t.release()
}

func (t *memTxn) release() {
	if t.reader {
		t.store.readers.Release(1)
		t.reader = false
	}
	if t.update {
		t.store.writeMu.Unlock()
		t.update = false
	}
}

type memIterator struct {
	txn  *memTxn
	fam  Family
	keys []string
	pos  int
}

func (i *memIterator) Rewind() { i.pos = 0 }

func (i *memIterator) Seek(key []byte) {
	i.pos = sort.Search(len(i.keys), func(n int) bool {
		return bytes.Compare([]byte(i.keys[n]), key) >= 0
	})
}

func (i *memIterator) Valid() bool { return i.pos < len(i.keys) }
func (i *memIterator) Next()       { i.pos++ }
func (i *memIterator) Key() []byte { return []byte(i.keys[i.pos]) }

func (i *memIterator) Value() ([]byte, error) {
	k := i.keys[i.pos]
	if i.txn.update {
		if v, ok := i.txn.pending[i.fam][k]; ok {
			return append([]byte(nil), v...), nil
		}
	}
	v, ok := i.txn.base.fams[i.fam].vals[k]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (i *memIterator) Close() {}
