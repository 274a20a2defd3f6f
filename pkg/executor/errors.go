// Package executor evaluates compiled HQL operator pipelines against the
// storage engine.
//
// Execution is single-threaded per query, driven by pull-based iterators
// rooted at the operator list. Each query owns one arena; all transient
// values are allocated there and freed at once when the query returns.
// A query runs inside exactly one transaction: write when the IR contains
// any mutation, read otherwise.
package executor

import (
	"errors"
	"fmt"
)

// Lifecycle and argument errors surfaced at the execute boundary. Storage,
// kv, compiler and arena errors pass through with their own types.
var (
	// ErrCancelled reports cancellation between operator steps; the
	// transaction was aborted and the arena dropped.
	ErrCancelled = errors.New("executor: query cancelled")

	// ErrTimedOut reports deadline expiry, handled like cancellation.
	ErrTimedOut = errors.New("executor: query deadline exceeded")

	// ErrNoEmbedder reports an Embed call with no provider injected.
	ErrNoEmbedder = errors.New("executor: no embedding provider configured")
)

// InvalidArgumentError reports a parameter shape or value failure.
type InvalidArgumentError struct {
	Detail string
}

func (e *InvalidArgumentError) Error() string { return "executor: invalid argument: " + e.Detail }

func invalidArg(format string, args ...any) error {
	return &InvalidArgumentError{Detail: fmt.Sprintf(format, args...)}
}

// EmbeddingFailedError wraps a provider failure. The transaction is
// aborted; storage is never left half-written by a failed embedding.
type EmbeddingFailedError struct {
	Detail string
	Err    error
}

func (e *EmbeddingFailedError) Error() string { return "executor: embedding failed: " + e.Detail }
func (e *EmbeddingFailedError) Unwrap() error { return e.Err }
