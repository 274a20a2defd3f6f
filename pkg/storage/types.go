// Package storage provides the graph storage engine for HelixDB.
//
// The engine mounts the kv layer into a GraphStore that maintains the
// referential invariants across families on every write:
//
//   - every edge's endpoints exist and match the declared labels
//   - every out_edges entry has its in_edges mirror
//   - secondary index entries track the current property values
//   - dropping a node cascades to incident edges, index entries, BM25 docs
//     and tombstones its vectors
//
// All operations participate in a caller-supplied kv.Txn; nothing commits
// behind the caller's back, so a query executes inside exactly one
// transaction.
//
// Example:
//
//	gs := storage.NewGraphStore(schema)
//	err := store.Update(func(txn kv.Txn) error {
//		id, err := gs.AddNode(txn, "User", props)
//		if err != nil {
//			return err
//		}
//		_, err = gs.AddEdge(txn, "Knows", id, other, nil)
//		return err
//	})
package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors. Higher layers match with errors.Is / errors.As.
var (
	ErrInvalidValue = errors.New("storage: invalid value")
)

// NotFoundError reports an absent entity.
type NotFoundError struct {
	Kind string // "node", "edge", "vector", "query"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("storage: %s %s not found", e.Kind, e.ID) }

// NotFound builds a NotFoundError for an entity id.
func NotFound(kind string, id ID) error { return &NotFoundError{Kind: kind, ID: id.String()} }

// SchemaViolationError reports a label/field/type mismatch or a UNIQUE
// breach.
type SchemaViolationError struct {
	Detail string
}

func (e *SchemaViolationError) Error() string { return "storage: schema violation: " + e.Detail }

// Violation builds a SchemaViolationError.
func Violation(format string, args ...any) error {
	return &SchemaViolationError{Detail: fmt.Sprintf(format, args...)}
}

// ID is the 128-bit identifier shared by nodes, edges and vectors. IDs are
// UUIDv7 (time-ordered random), so raw-byte ascending order is also rough
// creation order, which keeps id-ordered scans cache friendly.
type ID [16]byte

// NilID is the zero identifier; no stored entity carries it.
var NilID ID

// NewID generates a fresh time-ordered identifier.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses the canonical UUID text form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("storage: parse id %q: %w", s, err)
	}
	return ID(u), nil
}

// String renders the canonical UUID text form.
func (id ID) String() string { return uuid.UUID(id).String() }

// Bytes returns the big-endian 16-byte wire form used in keys.
func (id ID) Bytes() []byte { return append([]byte(nil), id[:]...) }

// IDFromBytes reads a 16-byte wire form back into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != 16 {
		return id, fmt.Errorf("storage: id must be 16 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsNil reports whether the id is the zero value.
func (id ID) IsNil() bool { return id == NilID }

// MarshalText implements encoding.TextMarshaler so IDs serialize as UUID
// strings inside JSON payloads.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Properties is a property bag: field name to tagged value.
type Properties map[string]Value

// Clone deep-copies the bag.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Node is a labeled entity with a property bag.
type Node struct {
	ID         ID         `json:"id"`
	Label      string     `json:"label"`
	Properties Properties `json:"properties,omitempty"`
}

// Edge is a directed labeled connection between two nodes. Unique records
// the edge type's UNIQUE contract so drop paths need not consult the
// schema.
type Edge struct {
	ID         ID         `json:"id"`
	Label      string     `json:"label"`
	From       ID         `json:"from"`
	To         ID         `json:"to"`
	Properties Properties `json:"properties,omitempty"`
	Unique     bool       `json:"unique,omitempty"`
}

// VectorMeta is the stored metadata row for a vector. The float payload
// lives in the vectors family as a raw f64 array keyed by id and level.
type VectorMeta struct {
	ID         ID         `json:"id"`
	Label      string     `json:"label"`
	Level      int        `json:"level"`
	Dimension  int        `json:"dimension"`
	Properties Properties `json:"properties,omitempty"`
	Deleted    bool       `json:"deleted,omitempty"`

	// NodeID links the vector to its owning node when it was created
	// through a node. Nil for free-standing vectors.
	NodeID ID `json:"nodeId,omitempty"`
}
