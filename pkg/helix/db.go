// Package helix is the embedded database handle tying the engine together.
//
// A DB owns one kv environment, the schema registry, the graph store, the
// BM25 and HNSW indexes, the query registry and the executor. The three
// entry points the outside world consumes:
//
//	db, err := helix.Open(dir, nil)
//	result, err := db.Compile(hqlSource)       // register schema + queries
//	out, err := db.Execute(ctx, "QueryName", paramsJSON)
//
// Example:
//
//	db, err := helix.Open(t.TempDir(), nil)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	_, err = db.Compile(`
//		N::User { name: String }
//		QUERY AddUser(name: String) =>
//		  u <- AddN<User>({name: name})
//		  RETURN u
//	`)
//	out, err := db.Execute(ctx, "AddUser", []byte(`{"name":"Alice"}`))
package helix

import (
	"context"
	"fmt"
	"sync"

	"github.com/helixdb/helix-go/pkg/bm25"
	"github.com/helixdb/helix-go/pkg/config"
	"github.com/helixdb/helix-go/pkg/embed"
	"github.com/helixdb/helix-go/pkg/executor"
	"github.com/helixdb/helix-go/pkg/hnsw"
	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

// DB is an open HelixDB database. Safe for concurrent use: queries run in
// their own transactions; Compile serializes schema swaps.
type DB struct {
	store    kv.Store
	graph    *storage.GraphStore
	vectors  *hnsw.Index
	text     *bm25.Index
	registry *executor.Registry
	exec     *executor.Executor

	mu     sync.Mutex // serializes Compile and Close
	closed bool
}

// Open opens (creating if needed) a database directory. cfg nil means
// defaults (Badger backend).
func Open(dir string, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store kv.Store
	switch cfg.Backend {
	case config.BackendMemory:
		store = kv.OpenMemory(kv.Options{MaxReaders: cfg.MaxReaders})
	default:
		var err error
		store, err = kv.OpenBadger(dir, kv.Options{
			SyncWrites: cfg.SyncWrites,
			MaxReaders: cfg.MaxReaders,
		})
		if err != nil {
			return nil, err
		}
	}

	var schema *storage.Schema
	err := store.View(func(txn kv.Txn) error {
		var err error
		schema, err = storage.LoadSchema(txn)
		return err
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	graph := storage.NewGraphStore(schema)
	text := bm25.NewIndex()
	vectors := hnsw.NewIndex(schema)
	graph.SetDocIndexer(&docIndexer{text: text, graph: graph})
	graph.SetVectorTombstoner(vectors)

	registry := executor.NewRegistry()
	exec := executor.New(store, graph, vectors, text, registry, executor.Options{
		ArenaLimit: cfg.ArenaLimitBytes,
		Timeout:    cfg.QueryTimeout,
	})

	db := &DB{
		store: store, graph: graph, vectors: vectors, text: text,
		registry: registry, exec: exec,
	}
	db.configureEmbedding(cfg)
	return db, nil
}

func (db *DB) configureEmbedding(cfg *config.Config) {
	ec := cfg.Embedding
	base := &embed.Config{
		APIURL: ec.APIURL, APIKey: ec.APIKey, Model: ec.Model,
		Dimensions: ec.Dimensions, Timeout: ec.Timeout,
	}
	switch ec.Provider {
	case "ollama":
		def := embed.DefaultOllamaConfig()
		fillEmbedDefaults(base, def)
		db.SetEmbedder(embed.NewOllama(base))
	case "openai":
		def := embed.DefaultOpenAIConfig(ec.APIKey)
		fillEmbedDefaults(base, def)
		db.SetEmbedder(embed.NewOpenAI(base))
	}
}

func fillEmbedDefaults(cfg, def *embed.Config) {
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.APIPath == "" {
		cfg.APIPath = def.APIPath
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
}

// SetEmbedder injects the embedding provider used by Embed and hybrid
// search.
func (db *DB) SetEmbedder(provider embed.Embedder) { db.exec.SetEmbedder(provider) }

// Compile parses, analyzes and registers an HQL source unit. Schema
// declarations persist to the meta family; queries enter the registry.
// Registration is transactional: a fatal diagnostic registers nothing and
// leaves storage untouched.
func (db *DB) Compile(source string) (*hql.CompileResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, kv.ErrStoreClosed
	}

	result, err := hql.Compile(source, db.graph.Schema())
	if err != nil {
		return nil, err
	}

	if err := db.store.Update(func(txn kv.Txn) error {
		return storage.SaveSchema(txn, result.Schema)
	}); err != nil {
		return nil, err
	}

	db.graph.SetSchema(result.Schema)
	db.vectors.SetSchema(result.Schema)
	db.registry.Register(result.Queries)

	out := &hql.CompileResult{Diagnostics: result.Diagnostics}
	for _, q := range result.Queries {
		out.Registered = append(out.Registered, q.Name)
	}
	return out, nil
}

// Execute runs a registered query with a JSON parameter payload (bare or
// length-prefixed) and returns the length-prefixed JSON result.
func (db *DB) Execute(ctx context.Context, queryID string, params []byte) ([]byte, error) {
	return db.exec.Execute(ctx, queryID, params)
}

// Queries lists the registered query ids.
func (db *DB) Queries() []string { return db.registry.Names() }

// Compact runs the maintenance pass: HNSW tombstone rebuild, then BM25
// posting sweep, each under its own write transaction so a failing step
// never half-applies. Errors are delivered on the returned channel, which
// closes when maintenance finishes.
func (db *DB) Compact(ctx context.Context) <-chan error {
	errs := make(chan error, 2)
	go func() {
		defer close(errs)
		if err := db.store.Update(func(txn kv.Txn) error {
			return db.vectors.Compact(txn)
		}); err != nil {
			errs <- fmt.Errorf("helix: hnsw compaction: %w", err)
		}
		if ctx.Err() != nil {
			return
		}
		if err := db.store.Update(func(txn kv.Txn) error {
			return db.text.Compact(txn)
		}); err != nil {
			errs <- fmt.Errorf("helix: bm25 compaction: %w", err)
		}
	}()
	return errs
}

// Migrate applies a schema migration in place under one write txn.
func (db *DB) Migrate(m storage.Migration) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Update(func(txn kv.Txn) error {
		return db.graph.Migrate(txn, m)
	})
}

// Close releases the environment. Running queries must finish first.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.store.Close()
}

// Store exposes the kv environment for maintenance tooling.
func (db *DB) Store() kv.Store { return db.store }

// Graph exposes the graph store for embedding pipelines and tools.
func (db *DB) Graph() *storage.GraphStore { return db.graph }

// docIndexer adapts the bm25 index to the graph store's maintenance hook.
type docIndexer struct {
	text  *bm25.Index
	graph *storage.GraphStore
}

func (d *docIndexer) IndexDoc(txn kv.Txn, label string, id storage.ID, oldText, newText string) error {
	return d.text.IndexDoc(txn, label, id, oldText, newText)
}

func (d *docIndexer) RemoveDoc(txn kv.Txn, label string, id storage.ID, oldText string) error {
	return d.text.RemoveDoc(txn, label, id, oldText)
}
