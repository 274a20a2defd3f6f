// Package executor - query registry and execute entry point.
package executor

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/helixdb/helix-go/pkg/arena"
	"github.com/helixdb/helix-go/pkg/bm25"
	"github.com/helixdb/helix-go/pkg/embed"
	"github.com/helixdb/helix-go/pkg/hnsw"
	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

// Options tunes the executor.
type Options struct {
	// ArenaLimit bounds each query's arena in bytes. 0 means the
	// default; negative means unbounded.
	ArenaLimit int

	// Timeout is the per-query deadline. 0 disables it.
	Timeout time.Duration
}

// DefaultArenaLimit bounds a query's arena to 64 MiB unless configured.
const DefaultArenaLimit = 64 << 20

// Registry maps query ids to their compiled form. Registration is
// all-or-nothing per compiled source unit.
type Registry struct {
	mu      sync.RWMutex
	queries map[string]*hql.CompiledQuery
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queries: make(map[string]*hql.CompiledQuery)}
}

// Register installs every query of a compiled unit at once.
func (r *Registry) Register(queries []*hql.CompiledQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range queries {
		r.queries[q.Name] = q
	}
}

// Lookup fetches a compiled query by id.
func (r *Registry) Lookup(queryID string) (*hql.CompiledQuery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queries[queryID]
	return q, ok
}

// Names lists the registered query ids.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queries))
	for name := range r.queries {
		out = append(out, name)
	}
	return out
}

// Executor drives compiled queries against the storage engine.
type Executor struct {
	store    kv.Store
	graph    *storage.GraphStore
	vectors  *hnsw.Index
	text     *bm25.Index
	registry *Registry
	embedder embed.Embedder
	opts     Options
}

// New wires an executor over the engine components.
func New(store kv.Store, graph *storage.GraphStore, vectors *hnsw.Index, text *bm25.Index, registry *Registry, opts Options) *Executor {
	if opts.ArenaLimit == 0 {
		opts.ArenaLimit = DefaultArenaLimit
	}
	return &Executor{
		store: store, graph: graph, vectors: vectors, text: text,
		registry: registry, opts: opts,
	}
}

// SetEmbedder injects the embedding provider used by Embed and hybrid
// search. The provider is externally owned; its failures abort the query
// without touching storage.
func (e *Executor) SetEmbedder(provider embed.Embedder) { e.embedder = provider }

func (e *Executor) embedText(ec *execCtx, text string) ([]float64, error) {
	if e.embedder == nil {
		return nil, &EmbeddingFailedError{Detail: "no provider", Err: ErrNoEmbedder}
	}
	vec, err := e.embedder.Embed(ec.ctx, text)
	if err != nil {
		return nil, &EmbeddingFailedError{Detail: err.Error(), Err: err}
	}
	out, aerr := ec.ar.Floats(len(vec))
	if aerr != nil {
		return nil, aerr
	}
	copy(out, vec)
	return out, nil
}

// Execute runs a registered query. params is a length-prefixed (or bare)
// JSON object binding parameter names to values; the result is a
// length-prefixed JSON object mapping RETURN names to values in
// declaration order.
func (e *Executor) Execute(ctx context.Context, queryID string, params []byte) ([]byte, error) {
	q, ok := e.registry.Lookup(queryID)
	if !ok {
		return nil, &storage.NotFoundError{Kind: "query", ID: queryID}
	}

	bound, err := e.bindParams(q, params)
	if err != nil {
		return nil, err
	}

	var txn kv.Txn
	if q.Writes {
		txn, err = e.store.BeginWrite()
	} else {
		txn, err = e.store.BeginRead()
	}
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	ar := arena.New(e.opts.ArenaLimit)
	defer ar.Reset()

	ec := &execCtx{
		ctx:    ctx,
		txn:    txn,
		ar:     ar,
		ex:     e,
		params: bound,
		vars:   make(map[string][]item),
	}
	if e.opts.Timeout > 0 {
		ec.deadline = time.Now().Add(e.opts.Timeout)
	}

	for _, stmt := range q.Stmts {
		if err := ec.checkAlive(); err != nil {
			return nil, err
		}
		it, err := e.buildPipeline(ec, stmt.Pipeline)
		if err != nil {
			return nil, err
		}
		items, err := drain(ec, it)
		if err != nil {
			return nil, err
		}
		if stmt.Var != "" {
			ec.vars[stmt.Var] = items
		}
	}

	payload, err := e.serializeReturns(ec, q)
	if err != nil {
		return nil, err
	}

	if q.Writes {
		if err := txn.Commit(); err != nil {
			return nil, err
		}
	}
	return Frame(payload), nil
}

// bindParams decodes and checks the parameter payload against the query's
// parameter schema.
func (e *Executor) bindParams(q *hql.CompiledQuery, raw []byte) (map[string]any, error) {
	payload := Unframe(raw)
	decoded := make(map[string]any)
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, invalidArg("params are not a JSON object: %v", err)
		}
	}

	bound := make(map[string]any, len(q.Params))
	for _, p := range q.Params {
		rawVal, present := decoded[p.Name]
		if !present {
			return nil, invalidArg("missing parameter %q", p.Name)
		}
		delete(decoded, p.Name)

		switch p.Kind {
		case hql.ParamID:
			s, ok := rawVal.(string)
			if !ok {
				return nil, invalidArg("parameter %q must be an id string", p.Name)
			}
			id, err := storage.ParseID(s)
			if err != nil {
				return nil, invalidArg("parameter %q: %v", p.Name, err)
			}
			bound[p.Name] = id

		case hql.ParamVector:
			list, ok := rawVal.([]any)
			if !ok {
				return nil, invalidArg("parameter %q must be a float array", p.Name)
			}
			vec := make([]float64, len(list))
			for i, elem := range list {
				f, ok := elem.(float64)
				if !ok {
					return nil, invalidArg("parameter %q element %d is not a number", p.Name, i)
				}
				vec[i] = f
			}
			bound[p.Name] = vec

		default:
			v, err := storage.FromNative(rawVal)
			if err != nil {
				return nil, invalidArg("parameter %q: %v", p.Name, err)
			}
			if p.Type != storage.KindNull {
				coerced, err := v.CoerceTo(p.Type)
				if err != nil {
					return nil, invalidArg("parameter %q: %v", p.Name, err)
				}
				v = coerced
			}
			bound[p.Name] = v
		}
	}
	if len(decoded) > 0 {
		for name := range decoded {
			return nil, invalidArg("unknown parameter %q", name)
		}
	}
	return bound, nil
}

// serializeReturns renders the RETURN tuple as a JSON object whose field
// order follows the declaration order.
func (e *Executor) serializeReturns(ec *execCtx, q *hql.CompiledQuery) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ret := range q.Returns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(ret.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		out, err := evalExpr(ec, nil, ret.Expr)
		if err != nil {
			return nil, err
		}
		native := resultNative(out)
		val, err := json.Marshal(native)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// resultNative converts an evaluation result to its JSON shape. Variables
// bound to scalar pipelines (COUNT) collapse to the scalar; sets become
// lists preserving iteration order.
func resultNative(out any) any {
	switch v := out.(type) {
	case storage.Value:
		return v.Native()
	case []float64:
		return v
	case []item:
		if len(v) == 1 && v[0].kind == hql.CarrierScalar {
			return v[0].native()
		}
		list := make([]any, len(v))
		for i := range v {
			list[i] = v[i].native()
		}
		return list
	case storage.ID:
		return v.String()
	}
	return nil
}

// Frame length-prefixes a structured payload (u32 big-endian).
func Frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// Unframe strips a length prefix when present; bare payloads pass through,
// which keeps hand-written callers honest without a second entry point.
func Unframe(raw []byte) []byte {
	if len(raw) >= 4 {
		if n := binary.BigEndian.Uint32(raw); int(n) == len(raw)-4 {
			return raw[4:]
		}
	}
	return raw
}
