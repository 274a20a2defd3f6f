// Package hnsw implements the persistent Hierarchical Navigable Small
// World index over the kv vector families.
//
// Layout (all maintained inside the caller's transaction):
//
//   - vectors:      "v:" | id | level  -> raw f64 array
//   - vector_props: id                 -> metadata (label, level, deleted, owner)
//   - hnsw_edges:   src | level | dst  -> empty
//   - meta:         entry_point cell   -> per-label {id, level}
//
// Edges are stored bidirectionally: for every (u, l, v) row the mirror
// (v, l, u) row exists, and neighbor counts never exceed Mmax0 at layer 0
// or M above it after any single operation commits.
//
// Deletion tombstones the metadata row and leaves the proximity graph in
// place so reachability survives; Compact rebuilds neighbor lists around
// the tombstones and reclaims their rows.
package hnsw

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/helixdb/helix-go/pkg/arena"
	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

// Candidate is one search hit: vector id and distance under the label's
// declared metric (smaller is closer).
type Candidate struct {
	ID       storage.ID
	Distance float64
}

// Filter restricts search results by metadata; return false to skip.
type Filter func(meta *storage.VectorMeta) bool

// Index is the HNSW index. Stateless between calls apart from the schema
// and the level RNG; all graph state lives in the kv families.
type Index struct {
	schema *storage.Schema

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewIndex builds an index over a validated schema.
func NewIndex(schema *storage.Schema) *Index {
	return &Index{schema: schema, rng: rand.New(rand.NewSource(rand.Int63()))}
}

// SetSchema swaps the registry after a schema update.
func (x *Index) SetSchema(s *storage.Schema) { x.schema = s }

// entryPoint is one label's entry cell payload.
type entryPoint struct {
	ID    storage.ID `json:"id"`
	Level int        `json:"level"`
}

func (x *Index) loadEntryPoints(txn kv.Txn) (map[string]entryPoint, error) {
	data, err := txn.Get(kv.FamilyMeta, storage.MetaEntryPointCell)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return make(map[string]entryPoint), nil
		}
		return nil, err
	}
	eps := make(map[string]entryPoint)
	if err := json.Unmarshal(data, &eps); err != nil {
		return nil, fmt.Errorf("%w: entry point cell: %v", kv.ErrCorruptPayload, err)
	}
	return eps, nil
}

func (x *Index) saveEntryPoints(txn kv.Txn, eps map[string]entryPoint) error {
	if len(eps) == 0 {
		err := txn.Delete(kv.FamilyMeta, storage.MetaEntryPointCell)
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	data, err := json.Marshal(eps)
	if err != nil {
		return err
	}
	return txn.Set(kv.FamilyMeta, storage.MetaEntryPointCell, data)
}

// params resolves a label's HNSW configuration.
func (x *Index) params(label string) (storage.VectorDef, error) {
	def, ok := x.schema.Vectors[label]
	if !ok {
		return storage.VectorDef{}, storage.Violation("unknown vector label %q", label)
	}
	p := def.HNSW
	if p.M <= 0 {
		def.HNSW = storage.DefaultHNSWParams()
	} else if p.Mmax0 <= 0 {
		def.HNSW.Mmax0 = 2 * p.M
	}
	return def, nil
}

// randomLevel draws from the geometric distribution with parameter
// 1/ln(M).
func (x *Index) randomLevel(m int) int {
	x.rngMu.Lock()
	r := x.rng.Float64()
	x.rngMu.Unlock()
	level := int(-math.Log(r) / math.Log(float64(m)))
	if level < 0 {
		level = 0
	}
	const maxLevel = 32
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// Get loads a vector's metadata and float payload.
func (x *Index) Get(txn kv.Txn, id storage.ID) (*storage.VectorMeta, []float64, error) {
	meta, err := x.getMeta(txn, id)
	if err != nil {
		return nil, nil, err
	}
	raw, err := txn.Get(kv.FamilyVectors, storage.VectorKey(id, meta.Level))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, nil, fmt.Errorf("%w: vector %s has no data row", kv.ErrCorruptPayload, id)
		}
		return nil, nil, err
	}
	data, err := storage.DecodeFloats(raw)
	if err != nil {
		return nil, nil, err
	}
	return meta, data, nil
}

func (x *Index) getMeta(txn kv.Txn, id storage.ID) (*storage.VectorMeta, error) {
	raw, err := txn.Get(kv.FamilyVectorProps, storage.VectorPropsKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, storage.NotFound("vector", id)
		}
		return nil, err
	}
	return storage.DecodeVectorMeta(raw)
}

// neighbors lists src's neighbor ids at one level, in id order.
func (x *Index) neighbors(txn kv.Txn, src storage.ID, level int) ([]storage.ID, error) {
	var out []storage.ID
	it := txn.NewIterator(kv.FamilyHNSWEdges, kv.IterOptions{
		Prefix: storage.HNSWNeighborPrefix(src, level),
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		dst, ok := storage.HNSWEdgeDst(it.Key())
		if !ok {
			return nil, kv.ErrCorruptPayload
		}
		out = append(out, dst)
	}
	return out, nil
}

func (x *Index) putEdgePair(txn kv.Txn, a, b storage.ID, level int) error {
	if err := txn.Set(kv.FamilyHNSWEdges, storage.HNSWEdgeKey(a, level, b), nil); err != nil {
		return err
	}
	return txn.Set(kv.FamilyHNSWEdges, storage.HNSWEdgeKey(b, level, a), nil)
}

func (x *Index) deleteEdgePair(txn kv.Txn, a, b storage.ID, level int) error {
	if err := txn.Delete(kv.FamilyHNSWEdges, storage.HNSWEdgeKey(a, level, b)); err != nil {
		return err
	}
	return txn.Delete(kv.FamilyHNSWEdges, storage.HNSWEdgeKey(b, level, a))
}

// Insert adds a vector under a label, wiring it into the proximity graph.
// owner links the vector to the node that carries it (NilID for
// free-standing vectors).
func (x *Index) Insert(txn kv.Txn, label string, data []float64, props storage.Properties, owner storage.ID) (storage.ID, error) {
	def, err := x.params(label)
	if err != nil {
		return storage.NilID, err
	}
	if len(data) != def.Dimension {
		return storage.NilID, storage.Violation("vector %q expects dimension %d, got %d", label, def.Dimension, len(data))
	}
	checked, err := x.schema.CheckVectorProps(label, props)
	if err != nil {
		return storage.NilID, err
	}

	level := x.randomLevel(def.HNSW.M)
	id := storage.NewID()
	meta := &storage.VectorMeta{
		ID: id, Label: label, Level: level,
		Dimension: def.Dimension, Properties: checked, NodeID: owner,
	}
	metaRaw, err := storage.EncodeVectorMeta(meta)
	if err != nil {
		return storage.NilID, err
	}
	if err := txn.Set(kv.FamilyVectorProps, storage.VectorPropsKey(id), metaRaw); err != nil {
		return storage.NilID, err
	}
	if err := txn.Set(kv.FamilyVectors, storage.VectorKey(id, level), storage.EncodeFloats(data)); err != nil {
		return storage.NilID, err
	}

	eps, err := x.loadEntryPoints(txn)
	if err != nil {
		return storage.NilID, err
	}
	ep, ok := eps[label]
	if !ok {
		eps[label] = entryPoint{ID: id, Level: level}
		return id, x.saveEntryPoints(txn, eps)
	}

	state := newSearchState(txn, x, nil)
	dist := metricFor(def.HNSW.Distance)

	// Greedy-descend above the new vector's level to find a near seed.
	cur := ep.ID
	for l := ep.Level; l > level; l-- {
		cur, err = x.greedyStep(state, data, cur, l, dist)
		if err != nil {
			return storage.NilID, err
		}
	}

	top := level
	if ep.Level < top {
		top = ep.Level
	}
	for l := top; l >= 0; l-- {
		candidates, err := x.searchLayer(state, data, cur, def.HNSW.EfConstruction, l, dist)
		if err != nil {
			return storage.NilID, err
		}

		// The new node's own trim and the overflow prune of the far side
		// both use the layer cap: Mmax0 at layer 0, M above it.
		cap := def.HNSW.M
		if l == 0 {
			cap = def.HNSW.Mmax0
		}
		selected := x.selectNeighbors(state, data, candidates, cap, dist)

		for _, n := range selected {
			if err := x.putEdgePair(txn, id, n.ID, l); err != nil {
				return storage.NilID, err
			}
			if err := x.pruneOverflow(txn, state, n.ID, l, cap, dist); err != nil {
				return storage.NilID, err
			}
		}
		if len(candidates) > 0 {
			cur = candidates[0].ID
		}
	}

	if level > ep.Level {
		eps[label] = entryPoint{ID: id, Level: level}
		if err := x.saveEntryPoints(txn, eps); err != nil {
			return storage.NilID, err
		}
	}
	return id, nil
}

// pruneOverflow re-selects a node's neighbor list when an insertion pushed
// it past its cap, dropping the pruned edges on both sides.
func (x *Index) pruneOverflow(txn kv.Txn, state *searchState, id storage.ID, level, cap int, dist metric) error {
	current, err := x.neighbors(txn, id, level)
	if err != nil {
		return err
	}
	if len(current) <= cap {
		return nil
	}
	vec, err := state.vector(id)
	if err != nil {
		return err
	}
	cands := make([]Candidate, 0, len(current))
	for _, n := range current {
		nv, err := state.vector(n)
		if err != nil {
			return err
		}
		cands = append(cands, Candidate{ID: n, Distance: dist(vec, nv)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })

	keep := x.selectNeighbors(state, vec, cands, cap, dist)
	kept := make(map[storage.ID]bool, len(keep))
	for _, k := range keep {
		kept[k.ID] = true
	}
	for _, n := range current {
		if !kept[n] {
			if err := x.deleteEdgePair(txn, id, n, level); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectNeighbors trims candidates (sorted ascending by distance) to m
// using the diversity heuristic: a candidate is kept only if it is closer
// to the query than to every already-kept neighbor, so one dense cluster
// cannot absorb the whole list.
func (x *Index) selectNeighbors(state *searchState, query []float64, candidates []Candidate, m int, dist metric) []Candidate {
	if len(candidates) <= m {
		return candidates
	}
	selected := make([]Candidate, 0, m)
	var spilled []Candidate
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		cv, err := state.vector(c.ID)
		if err != nil {
			continue
		}
		dominated := false
		for _, s := range selected {
			sv, err := state.vector(s.ID)
			if err != nil {
				continue
			}
			if dist(cv, sv) < c.Distance {
				dominated = true
				break
			}
		}
		if dominated {
			spilled = append(spilled, c)
			continue
		}
		selected = append(selected, c)
	}
	// Backfill from the dominated pool so sparse graphs keep M links.
	for _, c := range spilled {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

// greedyStep moves to the closest neighbor at one level until no neighbor
// improves, returning the local minimum.
func (x *Index) greedyStep(state *searchState, query []float64, entry storage.ID, level int, dist metric) (storage.ID, error) {
	cur := entry
	curVec, err := state.vector(cur)
	if err != nil {
		return storage.NilID, err
	}
	curDist := dist(query, curVec)
	for {
		changed := false
		ns, err := x.neighbors(state.txn, cur, level)
		if err != nil {
			return storage.NilID, err
		}
		for _, n := range ns {
			nv, err := state.vector(n)
			if err != nil {
				return storage.NilID, err
			}
			if d := dist(query, nv); d < curDist {
				cur, curDist = n, d
				changed = true
			}
		}
		if !changed {
			return cur, nil
		}
	}
}

// searchLayer is the standard two-heap scan: a candidate min-heap expands
// outward while a bounded max-heap keeps the ef best results. Returns
// candidates sorted ascending by distance.
func (x *Index) searchLayer(state *searchState, query []float64, entry storage.ID, ef, level int, dist metric) ([]Candidate, error) {
	state.resetVisited()
	state.visit(entry)

	entryVec, err := state.vector(entry)
	if err != nil {
		return nil, err
	}
	entryDist := dist(query, entryVec)

	candidates := &minHeap{{ID: entry, Distance: entryDist}}
	heap.Init(candidates)
	results := &maxHeap{{ID: entry, Distance: entryDist}}
	heap.Init(results)

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(Candidate)
		if results.Len() >= ef && closest.Distance > (*results)[0].Distance {
			break
		}
		ns, err := x.neighbors(state.txn, closest.ID, level)
		if err != nil {
			return nil, err
		}
		for _, n := range ns {
			if state.visited(n) {
				continue
			}
			state.visit(n)
			nv, err := state.vector(n)
			if err != nil {
				return nil, err
			}
			d := dist(query, nv)
			if results.Len() < ef || d < (*results)[0].Distance {
				heap.Push(candidates, Candidate{ID: n, Distance: d})
				heap.Push(results, Candidate{ID: n, Distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]Candidate, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(Candidate)
	}
	return out, nil
}

// Search returns the k nearest live vectors to query under the label's
// metric, filtered by the optional metadata predicate. Working sets live
// in the supplied arena.
func (x *Index) Search(txn kv.Txn, ar *arena.Arena, label string, query []float64, k int, filter Filter) ([]Candidate, error) {
	def, err := x.params(label)
	if err != nil {
		return nil, err
	}
	if len(query) != def.Dimension {
		return nil, storage.Violation("vector %q expects dimension %d, got %d", label, def.Dimension, len(query))
	}
	eps, err := x.loadEntryPoints(txn)
	if err != nil {
		return nil, err
	}
	ep, ok := eps[label]
	if !ok {
		return nil, nil
	}

	state := newSearchState(txn, x, ar)
	dist := metricFor(def.HNSW.Distance)

	cur := ep.ID
	for l := ep.Level; l > 0; l-- {
		cur, err = x.greedyStep(state, query, cur, l, dist)
		if err != nil {
			return nil, err
		}
	}

	ef := def.HNSW.EfSearch
	if k > ef {
		ef = k
	}
	candidates, err := x.searchLayer(state, query, cur, ef, 0, dist)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, k)
	for _, c := range candidates {
		meta, err := x.getMeta(txn, c.ID)
		if err != nil {
			return nil, err
		}
		if meta.Deleted {
			continue
		}
		if filter != nil && !filter(meta) {
			continue
		}
		out = append(out, c)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Delete tombstones a vector. Graph edges stay in place; search filters
// tombstones on emit, and Compact reclaims them.
func (x *Index) Delete(txn kv.Txn, id storage.ID) error {
	meta, err := x.getMeta(txn, id)
	if err != nil {
		return err
	}
	if meta.Deleted {
		return nil
	}
	meta.Deleted = true
	raw, err := storage.EncodeVectorMeta(meta)
	if err != nil {
		return err
	}
	if err := txn.Set(kv.FamilyVectorProps, storage.VectorPropsKey(id), raw); err != nil {
		return err
	}
	return x.repairEntryPoint(txn, meta.Label)
}

// TombstoneOwned tombstones every vector owned by a node; called by the
// graph store's drop cascade.
func (x *Index) TombstoneOwned(txn kv.Txn, nodeID storage.ID) error {
	var owned []storage.ID
	it := txn.NewIterator(kv.FamilyVectorProps, kv.IterOptions{PrefetchValues: true})
	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			it.Close()
			return err
		}
		meta, err := storage.DecodeVectorMeta(raw)
		if err != nil {
			it.Close()
			return err
		}
		if meta.NodeID == nodeID && !meta.Deleted {
			owned = append(owned, meta.ID)
		}
	}
	it.Close()
	for _, id := range owned {
		if err := x.Delete(txn, id); err != nil {
			return err
		}
	}
	return nil
}

// repairEntryPoint re-points a label's entry cell at the live vector with
// the highest level, or clears it when no live vector remains.
func (x *Index) repairEntryPoint(txn kv.Txn, label string) error {
	eps, err := x.loadEntryPoints(txn)
	if err != nil {
		return err
	}
	ep, ok := eps[label]
	if ok {
		if meta, err := x.getMeta(txn, ep.ID); err == nil && !meta.Deleted {
			return nil // still valid
		}
	}

	best := entryPoint{Level: -1}
	it := txn.NewIterator(kv.FamilyVectorProps, kv.IterOptions{PrefetchValues: true})
	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			it.Close()
			return err
		}
		meta, err := storage.DecodeVectorMeta(raw)
		if err != nil {
			it.Close()
			return err
		}
		if meta.Label != label || meta.Deleted {
			continue
		}
		if meta.Level > best.Level {
			best = entryPoint{ID: meta.ID, Level: meta.Level}
		}
	}
	it.Close()

	if best.Level < 0 {
		delete(eps, label)
	} else {
		eps[label] = best
	}
	return x.saveEntryPoints(txn, eps)
}

// Compact physically removes tombstoned vectors, stitching each one's
// neighbors to each other (within caps) so the graph stays navigable.
// Runs under the caller's write transaction; a failure leaves the
// transaction for the caller to abort, so no partial step ever commits.
func (x *Index) Compact(txn kv.Txn) error {
	var tombs []*storage.VectorMeta
	it := txn.NewIterator(kv.FamilyVectorProps, kv.IterOptions{PrefetchValues: true})
	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			it.Close()
			return err
		}
		meta, err := storage.DecodeVectorMeta(raw)
		if err != nil {
			it.Close()
			return err
		}
		if meta.Deleted {
			tombs = append(tombs, meta)
		}
	}
	it.Close()

	for _, tomb := range tombs {
		def, err := x.params(tomb.Label)
		if err != nil {
			return err
		}

		for l := 0; l <= tomb.Level; l++ {
			ns, err := x.neighbors(txn, tomb.ID, l)
			if err != nil {
				return err
			}
			for _, n := range ns {
				if err := x.deleteEdgePair(txn, tomb.ID, n, l); err != nil {
					return err
				}
			}

			cap := def.HNSW.M
			if l == 0 {
				cap = def.HNSW.Mmax0
			}
			// Stitch surviving neighbors pairwise around the hole.
			for i := 0; i < len(ns); i++ {
				for j := i + 1; j < len(ns); j++ {
					a, b := ns[i], ns[j]
					am, err := x.getMeta(txn, a)
					if err != nil || am.Deleted {
						continue
					}
					bm, err := x.getMeta(txn, b)
					if err != nil || bm.Deleted {
						continue
					}
					an, err := x.neighbors(txn, a, l)
					if err != nil {
						return err
					}
					if len(an) >= cap || containsID(an, b) {
						continue
					}
					bn, err := x.neighbors(txn, b, l)
					if err != nil {
						return err
					}
					if len(bn) >= cap {
						continue
					}
					if err := x.putEdgePair(txn, a, b, l); err != nil {
						return err
					}
				}
			}
		}

		if err := txn.Delete(kv.FamilyVectors, storage.VectorKey(tomb.ID, tomb.Level)); err != nil {
			return err
		}
		if err := txn.Delete(kv.FamilyVectorProps, storage.VectorPropsKey(tomb.ID)); err != nil {
			return err
		}
		if err := x.repairEntryPoint(txn, tomb.Label); err != nil {
			return err
		}
	}
	return nil
}

func containsID(ids []storage.ID, id storage.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// searchState caches decoded vectors and tracks visited ids for one
// operation. The visited set is a roaring bitmap over a dense id table,
// and decoded vectors are arena-backed when an arena is supplied.
type searchState struct {
	txn   kv.Txn
	index *Index
	ar    *arena.Arena

	dense map[storage.ID]uint32
	seen  *roaring.Bitmap
	vecs  map[storage.ID][]float64
}

func newSearchState(txn kv.Txn, index *Index, ar *arena.Arena) *searchState {
	return &searchState{
		txn:   txn,
		index: index,
		ar:    ar,
		dense: make(map[storage.ID]uint32),
		seen:  roaring.New(),
		vecs:  make(map[storage.ID][]float64),
	}
}

func (s *searchState) denseID(id storage.ID) uint32 {
	if d, ok := s.dense[id]; ok {
		return d
	}
	d := uint32(len(s.dense))
	s.dense[id] = d
	return d
}

func (s *searchState) resetVisited()            { s.seen.Clear() }
func (s *searchState) visit(id storage.ID)      { s.seen.Add(s.denseID(id)) }
func (s *searchState) visited(id storage.ID) bool {
	d, ok := s.dense[id]
	return ok && s.seen.Contains(d)
}

// vector loads and caches a vector's float payload.
func (s *searchState) vector(id storage.ID) ([]float64, error) {
	if v, ok := s.vecs[id]; ok {
		return v, nil
	}
	_, data, err := s.index.Get(s.txn, id)
	if err != nil {
		return nil, err
	}
	if s.ar != nil {
		buf, aerr := s.ar.Floats(len(data))
		if aerr != nil {
			return nil, aerr
		}
		copy(buf, data)
		data = buf
	}
	s.vecs[id] = data
	return data, nil
}

// Heaps.

type minHeap []Candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].Distance < h[j].Distance }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap []Candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
