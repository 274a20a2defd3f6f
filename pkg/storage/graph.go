// Package storage - the GraphStore.
package storage

import (
	"errors"
	"strings"

	"github.com/helixdb/helix-go/pkg/kv"
)

// DocIndexer maintains the BM25 document for a node's text fields. The
// GraphStore drives it on node create, update and drop so postings never
// drift from the stored rows. Implemented by the bm25 package.
type DocIndexer interface {
	// IndexDoc replaces the document body for id. oldText carries the
	// previous body (empty on create) so the indexer can retract stale
	// postings without a by-doc scan.
	IndexDoc(txn kv.Txn, label string, id ID, oldText, newText string) error
	RemoveDoc(txn kv.Txn, label string, id ID, oldText string) error
}

// VectorTombstoner tombstones the vectors owned by a dropped node.
// Implemented by the hnsw package.
type VectorTombstoner interface {
	TombstoneOwned(txn kv.Txn, nodeID ID) error
}

// GraphStore is the typed CRUD layer over the kv families. It is stateless
// apart from the schema registry and the maintenance hooks; every method
// runs inside the caller's transaction.
type GraphStore struct {
	schema  *Schema
	docs    DocIndexer
	vectors VectorTombstoner
}

// NewGraphStore builds a GraphStore over a validated schema.
func NewGraphStore(schema *Schema) *GraphStore {
	return &GraphStore{schema: schema}
}

// SetDocIndexer wires the BM25 maintenance hook.
func (g *GraphStore) SetDocIndexer(d DocIndexer) { g.docs = d }

// SetVectorTombstoner wires the vector tombstone hook.
func (g *GraphStore) SetVectorTombstoner(v VectorTombstoner) { g.vectors = v }

// Schema returns the active schema registry.
func (g *GraphStore) Schema() *Schema { return g.schema }

// SetSchema swaps the registry (used after compile-time schema updates and
// migrations).
func (g *GraphStore) SetSchema(s *Schema) { g.schema = s }

// AddNode creates a node, its label-scan entry, its secondary-index entries
// and its BM25 document. Fails with SchemaViolationError when a UNIQUE
// index already holds one of the values.
func (g *GraphStore) AddNode(txn kv.Txn, label string, props Properties) (ID, error) {
	checked, err := g.schema.CheckNodeProps(label, props)
	if err != nil {
		return NilID, err
	}
	id := NewID()
	if err := g.writeNode(txn, &Node{ID: id, Label: label, Properties: checked}, nil); err != nil {
		return NilID, err
	}
	return id, nil
}

// writeNode writes the node row plus derived entries. prev carries the
// previous version for updates (nil on create) so stale index rows are
// removed first.
func (g *GraphStore) writeNode(txn kv.Txn, node *Node, prev *Node) error {
	labelHash := g.schema.LabelHash(node.Label)

	if prev != nil {
		if err := g.removeIndexEntries(txn, prev); err != nil {
			return err
		}
	}

	// Unique checks before any write so a violation leaves nothing behind
	// even inside a still-open transaction.
	for _, f := range g.schema.IndexedFields(node.Label) {
		if !f.Unique {
			continue
		}
		v, ok := node.Properties[f.Name]
		if !ok {
			continue
		}
		vb, err := EncodeIndexValue(v)
		if err != nil {
			return err
		}
		taken, err := g.indexHolds(txn, labelHash, HashLabel(f.Name), vb, node.ID)
		if err != nil {
			return err
		}
		if taken {
			return Violation("unique index %s.%s already holds this value", node.Label, f.Name)
		}
	}

	if prev != nil {
		if err := g.removeIndexEntries(txn, prev); err != nil {
			return err
		}
	}

	data, err := EncodeNode(node)
	if err != nil {
		return err
	}
	if err := txn.Set(kv.FamilyNodes, NodeKey(node.ID), data); err != nil {
		return err
	}

	// Label-scan entry: field hash 0, empty value.
	if err := txn.Set(kv.FamilySecondary, SecondaryKey(labelHash, LabelScanFieldHash, nil, node.ID), nil); err != nil {
		return err
	}

	for _, f := range g.schema.IndexedFields(node.Label) {
		v, ok := node.Properties[f.Name]
		if !ok {
			continue
		}
		vb, err := EncodeIndexValue(v)
		if err != nil {
			return err
		}
		if err := txn.Set(kv.FamilySecondary, SecondaryKey(labelHash, HashLabel(f.Name), vb, node.ID), nil); err != nil {
			return err
		}
	}

	if g.docs != nil {
		var oldText string
		if prev != nil {
			oldText = g.nodeText(prev)
		}
		text := g.nodeText(node)
		if text != "" {
			if err := g.docs.IndexDoc(txn, node.Label, node.ID, oldText, text); err != nil {
				return err
			}
		} else if oldText != "" {
			if err := g.docs.RemoveDoc(txn, node.Label, node.ID, oldText); err != nil {
				return err
			}
		}
	}
	return nil
}

// nodeText concatenates the node's string fields in name order; this is the
// BM25 document body.
func (g *GraphStore) nodeText(node *Node) string {
	var parts []string
	for _, f := range g.schema.TextFields(node.Label) {
		if v, ok := node.Properties[f.Name]; ok && v.Kind == KindString && v.Str != "" {
			parts = append(parts, v.Str)
		}
	}
	return strings.Join(parts, "\n")
}

// indexHolds reports whether a secondary value cell is occupied by an id
// other than self.
func (g *GraphStore) indexHolds(txn kv.Txn, labelHash, fieldHash uint32, valueBytes []byte, self ID) (bool, error) {
	it := txn.NewIterator(kv.FamilySecondary, kv.IterOptions{
		Prefix: SecondaryPrefix(labelHash, fieldHash, valueBytes),
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		id, ok := SecondaryEntryID(it.Key())
		if ok && id != self {
			return true, nil
		}
	}
	return false, nil
}

func (g *GraphStore) removeIndexEntries(txn kv.Txn, node *Node) error {
	labelHash := g.schema.LabelHash(node.Label)
	for _, f := range g.schema.IndexedFields(node.Label) {
		v, ok := node.Properties[f.Name]
		if !ok {
			continue
		}
		vb, err := EncodeIndexValue(v)
		if err != nil {
			return err
		}
		if err := txn.Delete(kv.FamilySecondary, SecondaryKey(labelHash, HashLabel(f.Name), vb, node.ID)); err != nil {
			return err
		}
	}
	return nil
}

// GetNode loads a node by id.
func (g *GraphStore) GetNode(txn kv.Txn, id ID) (*Node, error) {
	data, err := txn.Get(kv.FamilyNodes, NodeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, NotFound("node", id)
		}
		return nil, err
	}
	return DecodeNode(data)
}

// GetEdge loads an edge by id.
func (g *GraphStore) GetEdge(txn kv.Txn, id ID) (*Edge, error) {
	data, err := txn.Get(kv.FamilyEdges, EdgeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, NotFound("edge", id)
		}
		return nil, err
	}
	return DecodeEdge(data)
}

// AddEdge creates an edge after verifying both endpoints exist and carry
// the declared labels. UNIQUE edge labels reject a second edge over the
// same ordered pair.
func (g *GraphStore) AddEdge(txn kv.Txn, label string, from, to ID, props Properties) (ID, error) {
	def, ok := g.schema.Edges[label]
	if !ok {
		return NilID, Violation("unknown edge label %q", label)
	}
	checked, err := g.schema.CheckEdgeProps(label, props)
	if err != nil {
		return NilID, err
	}

	fromNode, err := g.GetNode(txn, from)
	if err != nil {
		return NilID, err
	}
	if fromNode.Label != def.From {
		return NilID, Violation("edge %q: from-node is %q, want %q", label, fromNode.Label, def.From)
	}
	toNode, err := g.GetNode(txn, to)
	if err != nil {
		return NilID, err
	}
	if toNode.Label != def.To {
		return NilID, Violation("edge %q: to-node is %q, want %q", label, toNode.Label, def.To)
	}

	labelHash := g.schema.LabelHash(label)

	if def.Unique {
		it := txn.NewIterator(kv.FamilyOutEdges, kv.IterOptions{
			Prefix:         AdjacencyPrefix(from, labelHash, true),
			PrefetchValues: true,
		})
		for it.Rewind(); it.Valid(); it.Next() {
			dst, err := it.Value()
			if err != nil {
				it.Close()
				return NilID, err
			}
			existing, _ := IDFromBytes(dst)
			if existing == to {
				it.Close()
				return NilID, Violation("unique edge %q already exists between this pair", label)
			}
		}
		it.Close()
	}

	id := NewID()
	edge := &Edge{ID: id, Label: label, From: from, To: to, Properties: checked, Unique: def.Unique}
	data, err := EncodeEdge(edge)
	if err != nil {
		return NilID, err
	}
	if err := txn.Set(kv.FamilyEdges, EdgeKey(id), data); err != nil {
		return NilID, err
	}
	if err := txn.Set(kv.FamilyOutEdges, OutEdgeKey(from, labelHash, id), to.Bytes()); err != nil {
		return NilID, err
	}
	if err := txn.Set(kv.FamilyInEdges, InEdgeKey(to, labelHash, id), from.Bytes()); err != nil {
		return NilID, err
	}
	return id, nil
}

// Neighbor is one adjacency entry: the connecting edge and the far
// endpoint.
type Neighbor struct {
	EdgeID ID
	Target ID
}

// AdjacencyIter streams one endpoint's adjacency in edge-id order within
// each label cell. Close it before ending the transaction.
type AdjacencyIter struct {
	it kv.Iterator
}

// Next yields the following entry, or ok=false at the end.
func (a *AdjacencyIter) Next() (Neighbor, bool, error) {
	if !a.it.Valid() {
		return Neighbor{}, false, nil
	}
	_, _, edgeID, ok := SplitAdjacencyKey(a.it.Key())
	if !ok {
		return Neighbor{}, false, kv.ErrCorruptPayload
	}
	val, err := a.it.Value()
	if err != nil {
		return Neighbor{}, false, err
	}
	target, err := IDFromBytes(val)
	if err != nil {
		return Neighbor{}, false, err
	}
	a.it.Next()
	return Neighbor{EdgeID: edgeID, Target: target}, true, nil
}

// Close releases the underlying iterator.
func (a *AdjacencyIter) Close() { a.it.Close() }

// OutNeighbors scans src's outgoing adjacency, optionally restricted to an
// edge label. Implemented as a prefix scan: src | labelHash when labeled,
// src alone otherwise.
func (g *GraphStore) OutNeighbors(txn kv.Txn, src ID, label string) *AdjacencyIter {
	return g.adjacency(txn, kv.FamilyOutEdges, src, label)
}

// InNeighbors scans dst's incoming adjacency.
func (g *GraphStore) InNeighbors(txn kv.Txn, dst ID, label string) *AdjacencyIter {
	return g.adjacency(txn, kv.FamilyInEdges, dst, label)
}

func (g *GraphStore) adjacency(txn kv.Txn, fam kv.Family, endpoint ID, label string) *AdjacencyIter {
	labeled := label != ""
	prefix := AdjacencyPrefix(endpoint, g.schema.LabelHash(label), labeled)
	it := txn.NewIterator(fam, kv.IterOptions{Prefix: prefix, PrefetchValues: true})
	it.Rewind()
	return &AdjacencyIter{it: it}
}

// IDIter streams ids out of a secondary-index scan.
type IDIter struct {
	it kv.Iterator
}

// Next yields the following id, or ok=false at the end.
func (s *IDIter) Next() (ID, bool) {
	if !s.it.Valid() {
		return NilID, false
	}
	id, ok := SecondaryEntryID(s.it.Key())
	s.it.Next()
	if !ok {
		return NilID, false
	}
	return id, true
}

// Close releases the underlying iterator.
func (s *IDIter) Close() { s.it.Close() }

// ByIndex scans the ids whose field currently equals value.
func (g *GraphStore) ByIndex(txn kv.Txn, label, field string, value Value) (*IDIter, error) {
	vb, err := EncodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	it := txn.NewIterator(kv.FamilySecondary, kv.IterOptions{
		Prefix: SecondaryPrefix(g.schema.LabelHash(label), HashLabel(field), vb),
	})
	it.Rewind()
	return &IDIter{it: it}, nil
}

// ByIndexRange scans ids whose field value lies in [lo, hi). Either bound
// may be the zero Value to leave that side open.
func (g *GraphStore) ByIndexRange(txn kv.Txn, label, field string, lo, hi Value) (*IDIter, error) {
	base := SecondaryPrefix(g.schema.LabelHash(label), HashLabel(field), nil)
	opts := kv.IterOptions{Prefix: base}
	if lo.Kind != KindNull {
		lb, err := EncodeIndexValue(lo)
		if err != nil {
			return nil, err
		}
		opts.Start = append(append([]byte(nil), base...), lb...)
	}
	if hi.Kind != KindNull {
		hb, err := EncodeIndexValue(hi)
		if err != nil {
			return nil, err
		}
		opts.End = append(append([]byte(nil), base...), hb...)
	}
	it := txn.NewIterator(kv.FamilySecondary, opts)
	it.Rewind()
	return &IDIter{it: it}, nil
}

// NodesByLabel scans every node of a label via its label-scan entries, in
// id (creation) order.
func (g *GraphStore) NodesByLabel(txn kv.Txn, label string) *IDIter {
	it := txn.NewIterator(kv.FamilySecondary, kv.IterOptions{
		Prefix: SecondaryPrefix(g.schema.LabelHash(label), LabelScanFieldHash, nil),
	})
	it.Rewind()
	return &IDIter{it: it}
}

// EdgesByLabel scans every edge row and filters by label. Edge sources are
// rare enough in practice that no dedicated index family is kept for them.
func (g *GraphStore) EdgesByLabel(txn kv.Txn, label string, fn func(*Edge) error) error {
	it := txn.NewIterator(kv.FamilyEdges, kv.IterOptions{PrefetchValues: true})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		data, err := it.Value()
		if err != nil {
			return err
		}
		edge, err := DecodeEdge(data)
		if err != nil {
			return err
		}
		if label != "" && edge.Label != label {
			continue
		}
		if err := fn(edge); err != nil {
			return err
		}
	}
	return nil
}

// DropEdge removes an edge and both adjacency mirrors.
func (g *GraphStore) DropEdge(txn kv.Txn, id ID) error {
	edge, err := g.GetEdge(txn, id)
	if err != nil {
		return err
	}
	labelHash := g.schema.LabelHash(edge.Label)
	if err := txn.Delete(kv.FamilyEdges, EdgeKey(id)); err != nil {
		return err
	}
	if err := txn.Delete(kv.FamilyOutEdges, OutEdgeKey(edge.From, labelHash, id)); err != nil {
		return err
	}
	return txn.Delete(kv.FamilyInEdges, InEdgeKey(edge.To, labelHash, id))
}

// DropNode removes the node, its incident edges in both directions, its
// secondary entries and BM25 document, and tombstones its vectors.
//
// Deletion is two prefix scans plus row deletes; adjacency being mirrored
// means no back-reference chasing is ever needed.
func (g *GraphStore) DropNode(txn kv.Txn, id ID) error {
	node, err := g.GetNode(txn, id)
	if err != nil {
		return err
	}

	// Incident edges, both directions. Collect first: deleting under an
	// open iterator is backend-dependent.
	var incident []ID
	for _, fam := range []kv.Family{kv.FamilyOutEdges, kv.FamilyInEdges} {
		it := txn.NewIterator(fam, kv.IterOptions{Prefix: id.Bytes()})
		for it.Rewind(); it.Valid(); it.Next() {
			if _, _, edgeID, ok := SplitAdjacencyKey(it.Key()); ok {
				incident = append(incident, edgeID)
			}
		}
		it.Close()
	}
	for _, edgeID := range incident {
		if err := g.DropEdge(txn, edgeID); err != nil {
			// A self-loop appears in both scans; the second drop finds
			// nothing.
			var nf *NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return err
		}
	}

	labelHash := g.schema.LabelHash(node.Label)
	if err := g.removeIndexEntries(txn, node); err != nil {
		return err
	}
	if err := txn.Delete(kv.FamilySecondary, SecondaryKey(labelHash, LabelScanFieldHash, nil, id)); err != nil {
		return err
	}
	if g.docs != nil {
		if err := g.docs.RemoveDoc(txn, node.Label, id, g.nodeText(node)); err != nil {
			return err
		}
	}
	if g.vectors != nil {
		if err := g.vectors.TombstoneOwned(txn, id); err != nil {
			return err
		}
	}
	return txn.Delete(kv.FamilyNodes, NodeKey(id))
}

// PutProperty rewrites one field of a node, updating affected secondary
// entries and the BM25 document.
func (g *GraphStore) PutProperty(txn kv.Txn, id ID, field string, value Value) error {
	return g.UpdateNode(txn, id, Properties{field: value})
}

// UpdateNode merges a property patch into a node.
func (g *GraphStore) UpdateNode(txn kv.Txn, id ID, patch Properties) (err error) {
	node, err := g.GetNode(txn, id)
	if err != nil {
		return err
	}
	checked, err := g.schema.CheckNodeProps(node.Label, patch)
	if err != nil {
		return err
	}
	prev := &Node{ID: node.ID, Label: node.Label, Properties: node.Properties.Clone()}
	if node.Properties == nil {
		node.Properties = make(Properties, len(checked))
	}
	for k, v := range checked {
		if v.Kind == KindNull {
			delete(node.Properties, k)
			continue
		}
		node.Properties[k] = v
	}
	return g.writeNode(txn, node, prev)
}

// Migrate applies an ordered rewrite mapping the stored schema version to
// the next. Runs entirely inside the caller's write transaction; the
// updated schema cell is written last.
func (g *GraphStore) Migrate(txn kv.Txn, m Migration) error {
	if m.FromVersion != g.schema.Version {
		return Violation("migration from version %d does not match stored version %d", m.FromVersion, g.schema.Version)
	}
	for _, rule := range m.Rules {
		if err := g.applyRule(txn, rule); err != nil {
			return err
		}
	}
	g.schema.Version++
	return SaveSchema(txn, g.schema)
}

func (g *GraphStore) applyRule(txn kv.Txn, rule MigrationRule) error {
	ids := g.NodesByLabel(txn, rule.Label)
	var all []ID
	for {
		id, ok := ids.Next()
		if !ok {
			break
		}
		all = append(all, id)
	}
	ids.Close()

	for _, id := range all {
		node, err := g.GetNode(txn, id)
		if err != nil {
			return err
		}
		prev := &Node{ID: node.ID, Label: node.Label, Properties: node.Properties.Clone()}
		switch {
		case rule.RenameField != "":
			if v, ok := node.Properties[rule.RenameField]; ok {
				delete(node.Properties, rule.RenameField)
				if node.Properties == nil {
					node.Properties = make(Properties)
				}
				node.Properties[rule.NewName] = v
			}
		case rule.DropField != "":
			delete(node.Properties, rule.DropField)
		case rule.AddField != "":
			if _, ok := node.Properties[rule.AddField]; !ok && rule.Default != nil {
				if node.Properties == nil {
					node.Properties = make(Properties)
				}
				node.Properties[rule.AddField] = *rule.Default
			}
		}
		if err := g.writeNode(txn, node, prev); err != nil {
			return err
		}
	}
	return nil
}
