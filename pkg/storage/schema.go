// Package storage - schema registry.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/helixdb/helix-go/pkg/kv"
)

// Precision is the declared float width of a vector label. Storage widens
// everything to f64; the declaration is kept for clients and future codecs.
type Precision string

const (
	PrecisionF16 Precision = "F16"
	PrecisionF32 Precision = "F32"
	PrecisionF64 Precision = "F64"
)

// Distance selects the metric of a vector label.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceL2     Distance = "l2"
)

// HNSWParams are the per-label index parameters.
type HNSWParams struct {
	M              int      `json:"m"`
	Mmax0          int      `json:"mmax0"`
	EfConstruction int      `json:"efConstruction"`
	EfSearch       int      `json:"efSearch"`
	Distance       Distance `json:"distance"`
}

// DefaultHNSWParams returns the spec defaults: M=16, Mmax0=32,
// efConstruction=200, efSearch=50, cosine.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, Mmax0: 32, EfConstruction: 200, EfSearch: 50, Distance: DistanceCosine}
}

// BM25Params are the per-label scoring constants.
type BM25Params struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

// DefaultBM25Params returns the standard constants.
func DefaultBM25Params() BM25Params { return BM25Params{K1: 1.2, B: 0.75} }

// FieldDef declares one property field of a label.
type FieldDef struct {
	Name     string `json:"name"`
	Type     Kind   `json:"type"`
	TypeName string `json:"typeName"` // original schema spelling, e.g. "[F64]"
	Indexed  bool   `json:"indexed,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
}

// NodeDef declares a node label.
type NodeDef struct {
	Label  string              `json:"label"`
	Fields map[string]FieldDef `json:"fields"`
}

// EdgeDef declares an edge label with its endpoint node labels.
type EdgeDef struct {
	Label  string              `json:"label"`
	From   string              `json:"from"`
	To     string              `json:"to"`
	Unique bool                `json:"unique,omitempty"`
	Fields map[string]FieldDef `json:"fields,omitempty"`
}

// VectorDef declares a vector label.
type VectorDef struct {
	Label     string              `json:"label"`
	Dimension int                 `json:"dimension"`
	Precision Precision           `json:"precision"`
	HNSW      HNSWParams          `json:"hnsw"`
	BM25      BM25Params          `json:"bm25"`
	Fields    map[string]FieldDef `json:"fields,omitempty"`
}

// Schema is the versioned registry of every declared label. It is persisted
// in the meta family's schema cell and consulted inside the active txn
// snapshot.
type Schema struct {
	Version int                  `json:"version"`
	Nodes   map[string]NodeDef   `json:"nodes"`
	Edges   map[string]EdgeDef   `json:"edges"`
	Vectors map[string]VectorDef `json:"vectors"`

	// labelHashes caches name -> hash after validation.
	labelHashes map[string]uint32
}

// NewSchema returns an empty version-1 schema.
func NewSchema() *Schema {
	return &Schema{
		Version: 1,
		Nodes:   make(map[string]NodeDef),
		Edges:   make(map[string]EdgeDef),
		Vectors: make(map[string]VectorDef),
	}
}

// Validate checks cross-label consistency and hash collisions. Collisions
// in the 32-bit label/field hash space are rejected outright rather than
// re-salted, so the on-disk key layout stays a pure function of the name.
func (s *Schema) Validate() error {
	s.labelHashes = make(map[string]uint32)
	byHash := make(map[uint32]string)

	addLabel := func(name string) error {
		h := HashLabel(name)
		if prev, ok := byHash[h]; ok && prev != name {
			return Violation("label hash collision between %q and %q", prev, name)
		}
		byHash[h] = name
		s.labelHashes[name] = h
		return nil
	}

	checkFields := func(label string, fields map[string]FieldDef) error {
		fieldByHash := make(map[uint32]string)
		for name, def := range fields {
			if def.Name != name {
				return Violation("field %q of %q declared under key %q", def.Name, label, name)
			}
			h := HashLabel(name)
			if h == LabelScanFieldHash {
				return Violation("field %q of %q hashes to the reserved label-scan cell", name, label)
			}
			if prev, ok := fieldByHash[h]; ok {
				return Violation("field hash collision in %q between %q and %q", label, prev, name)
			}
			fieldByHash[h] = name
		}
		return nil
	}

	for name, def := range s.Nodes {
		if err := addLabel(name); err != nil {
			return err
		}
		if err := checkFields(name, def.Fields); err != nil {
			return err
		}
	}
	for name, def := range s.Edges {
		if err := addLabel(name); err != nil {
			return err
		}
		if err := checkFields(name, def.Fields); err != nil {
			return err
		}
		if _, ok := s.Nodes[def.From]; !ok {
			return Violation("edge %q: unknown from-label %q", name, def.From)
		}
		if _, ok := s.Nodes[def.To]; !ok {
			return Violation("edge %q: unknown to-label %q", name, def.To)
		}
	}
	for name, def := range s.Vectors {
		if err := addLabel(name); err != nil {
			return err
		}
		if err := checkFields(name, def.Fields); err != nil {
			return err
		}
		if def.Dimension <= 0 {
			return Violation("vector %q: dimension must be positive", name)
		}
	}
	return nil
}

// LabelHash returns the validated hash of a declared label.
func (s *Schema) LabelHash(name string) uint32 {
	if h, ok := s.labelHashes[name]; ok {
		return h
	}
	return HashLabel(name)
}

// IndexedFields returns a label's indexed fields in name order, so index
// maintenance writes rows deterministically.
func (s *Schema) IndexedFields(label string) []FieldDef {
	def, ok := s.Nodes[label]
	if !ok {
		return nil
	}
	var out []FieldDef
	for _, f := range def.Fields {
		if f.Indexed {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TextFields returns a label's string-typed fields in name order; these
// feed the BM25 document for the label.
func (s *Schema) TextFields(label string) []FieldDef {
	def, ok := s.Nodes[label]
	if !ok {
		return nil
	}
	var out []FieldDef
	for _, f := range def.Fields {
		if f.Type == KindString {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckNodeProps verifies and coerces a property bag against a node label.
// Unknown fields are rejected; every declared field is optional, UNIQUE-indexed
// ones included (an absent value occupies no unique-index cell).
func (s *Schema) CheckNodeProps(label string, props Properties) (Properties, error) {
	def, ok := s.Nodes[label]
	if !ok {
		return nil, Violation("unknown node label %q", label)
	}
	return checkProps("node", label, def.Fields, props)
}

// CheckEdgeProps verifies and coerces a property bag against an edge label.
func (s *Schema) CheckEdgeProps(label string, props Properties) (Properties, error) {
	def, ok := s.Edges[label]
	if !ok {
		return nil, Violation("unknown edge label %q", label)
	}
	return checkProps("edge", label, def.Fields, props)
}

// CheckVectorProps verifies and coerces metadata against a vector label.
func (s *Schema) CheckVectorProps(label string, props Properties) (Properties, error) {
	def, ok := s.Vectors[label]
	if !ok {
		return nil, Violation("unknown vector label %q", label)
	}
	return checkProps("vector", label, def.Fields, props)
}

func checkProps(kind, label string, fields map[string]FieldDef, props Properties) (Properties, error) {
	out := make(Properties, len(props))
	for name, v := range props {
		def, ok := fields[name]
		if !ok {
			return nil, Violation("%s %q has no field %q", kind, label, name)
		}
		if v.Kind == KindNull {
			// Null clears the field; there is nothing to type-check.
			out[name] = v
			continue
		}
		coerced, err := v.CoerceTo(def.Type)
		if err != nil {
			return nil, Violation("%s %q field %q: %v", kind, label, name, err)
		}
		out[name] = coerced
	}
	return out, nil
}

// LoadSchema reads the schema cell, returning an empty schema when the
// database is new.
func LoadSchema(txn kv.Txn) (*Schema, error) {
	data, err := txn.Get(kv.FamilyMeta, MetaSchemaCell)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return NewSchema(), nil
		}
		return nil, err
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: schema cell: %v", kv.ErrCorruptPayload, err)
	}
	if s.Nodes == nil {
		s.Nodes = make(map[string]NodeDef)
	}
	if s.Edges == nil {
		s.Edges = make(map[string]EdgeDef)
	}
	if s.Vectors == nil {
		s.Vectors = make(map[string]VectorDef)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSchema writes the schema cell inside the caller's write transaction.
func SaveSchema(txn kv.Txn, s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(kv.FamilyMeta, MetaSchemaCell, data)
}

// MigrationRule is one step of an on-disk schema rewrite. Rules apply to
// every stored node of Label, in order.
type MigrationRule struct {
	Label string `json:"label"`

	// Exactly one of the following is set.
	RenameField string `json:"renameField,omitempty"` // RenameField -> NewName
	NewName     string `json:"newName,omitempty"`
	DropField   string `json:"dropField,omitempty"`
	AddField    string `json:"addField,omitempty"` // AddField with Default
	Default     *Value `json:"default,omitempty"`
}

// Migration maps one schema version to the next.
type Migration struct {
	FromVersion int             `json:"fromVersion"`
	Rules       []MigrationRule `json:"rules"`
}
