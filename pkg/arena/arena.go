// Package arena provides the per-query bump allocator.
//
// Every query owns exactly one Arena. Operators allocate transient strings,
// property maps, float vectors and HNSW working sets from it; when the
// query returns, Reset frees everything at once. Items handed out by an
// Arena are invalidated by Reset, so nothing arena-allocated may outlive
// its query.
//
// The allocator is deliberately simple: fixed-size chunks carved off a
// grow-on-demand block list, a byte bound, and no per-object free. That is
// the entire lifetime story - no reference counting, no cycle concerns.
package arena

// Arena is the bump allocator. Not safe for concurrent use; each query
// drives its own.
type Arena struct {
	blocks   [][]byte
	current  []byte
	off      int
	fblocks  [][]float64
	fcurrent []float64
	foff     int
	spent    int
	limit    int
	blockCap int
}

// exhaustedError is the type of ErrExhausted, which is returned when an
// allocation would exceed the arena's byte bound.
type exhaustedError struct{}

func (exhaustedError) Error() string { return "arena: byte bound exceeded" }

// ErrExhausted is the sentinel for arena overflow.
var ErrExhausted error = exhaustedError{}

const defaultBlock = 64 * 1024

// New creates an arena bounded to limit bytes. limit <= 0 means unbounded.
func New(limit int) *Arena {
	return &Arena{limit: limit, blockCap: defaultBlock}
}

// Bytes allocates n bytes.
func (a *Arena) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrExhausted
	}
	if a.limit > 0 && a.spent+n > a.limit {
		return nil, ErrExhausted
	}
	if a.off+n > len(a.current) {
		block := n
		if block < a.blockCap {
			block = a.blockCap
		}
		a.current = make([]byte, block)
		a.blocks = append(a.blocks, a.current)
		a.off = 0
	}
	out := a.current[a.off : a.off+n : a.off+n]
	a.off += n
	a.spent += n
	return out, nil
}

// String copies s into the arena.
func (a *Arena) String(s string) (string, error) {
	b, err := a.Bytes(len(s))
	if err != nil {
		return "", err
	}
	copy(b, s)
	return string(b), nil
}

// Floats allocates a float64 slice of length n from the arena's float
// block list. Accounted against the same byte bound (8 bytes per element).
func (a *Arena) Floats(n int) ([]float64, error) {
	if n < 0 {
		return nil, ErrExhausted
	}
	if a.limit > 0 && a.spent+8*n > a.limit {
		return nil, ErrExhausted
	}
	if a.foff+n > len(a.fcurrent) {
		block := n
		if block < a.blockCap/8 {
			block = a.blockCap / 8
		}
		a.fcurrent = make([]float64, block)
		a.fblocks = append(a.fblocks, a.fcurrent)
		a.foff = 0
	}
	out := a.fcurrent[a.foff : a.foff+n : a.foff+n]
	a.foff += n
	a.spent += 8 * n
	return out, nil
}

// Spent reports the bytes handed out since the last Reset.
func (a *Arena) Spent() int { return a.spent }

// Reset frees every allocation at once. The block list is retained for
// reuse by the next query on the same arena.
func (a *Arena) Reset() {
	a.off = 0
	a.foff = 0
	a.spent = 0
	if len(a.blocks) > 0 {
		a.current = a.blocks[0]
		a.blocks = a.blocks[:1]
	}
	if len(a.fblocks) > 0 {
		a.fcurrent = a.fblocks[0]
		a.fblocks = a.fblocks[:1]
	}
}
