package hnsw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix-go/pkg/arena"
	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

func vectorSchema(t *testing.T, dim int, dist storage.Distance) *storage.Schema {
	t.Helper()
	s := storage.NewSchema()
	params := storage.DefaultHNSWParams()
	params.Distance = dist
	s.Vectors["Embedding"] = storage.VectorDef{
		Label:     "Embedding",
		Dimension: dim,
		Precision: storage.PrecisionF64,
		HNSW:      params,
		BM25:      storage.DefaultBM25Params(),
		Fields: map[string]storage.FieldDef{
			"tag": {Name: "tag", Type: storage.KindString, TypeName: "String"},
		},
	}
	require.NoError(t, s.Validate())
	return s
}

func newHNSW(t *testing.T, dim int, dist storage.Distance) (*Index, kv.Store) {
	t.Helper()
	store := kv.OpenMemory(kv.Options{})
	t.Cleanup(func() { store.Close() })
	return NewIndex(vectorSchema(t, dim, dist)), store
}

func insert(t *testing.T, x *Index, store kv.Store, vec []float64) storage.ID {
	t.Helper()
	var id storage.ID
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		var err error
		id, err = x.Insert(txn, "Embedding", vec, nil, storage.NilID)
		return err
	}))
	return id
}

func searchK(t *testing.T, x *Index, store kv.Store, query []float64, k int) []Candidate {
	t.Helper()
	var out []Candidate
	require.NoError(t, store.View(func(txn kv.Txn) error {
		var err error
		out, err = x.Search(txn, arena.New(0), "Embedding", query, k, nil)
		return err
	}))
	return out
}

func TestInsertAndGet(t *testing.T) {
	x, store := newHNSW(t, 3, storage.DistanceCosine)
	id := insert(t, x, store, []float64{1, 2, 3})

	require.NoError(t, store.View(func(txn kv.Txn) error {
		meta, data, err := x.Get(txn, id)
		require.NoError(t, err)
		assert.Equal(t, "Embedding", meta.Label)
		assert.Equal(t, 3, meta.Dimension)
		assert.Equal(t, []float64{1, 2, 3}, data)
		return nil
	}))
}

func TestDimensionChecked(t *testing.T) {
	x, store := newHNSW(t, 3, storage.DistanceCosine)
	err := store.Update(func(txn kv.Txn) error {
		_, err := x.Insert(txn, "Embedding", []float64{1, 2}, nil, storage.NilID)
		return err
	})
	var sv *storage.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}

func TestSearchTrivialSet(t *testing.T) {
	// The spec's recall scenario: five 3-dim vectors, cosine metric.
	x, store := newHNSW(t, 3, storage.DistanceCosine)

	ids := []storage.ID{
		insert(t, x, store, []float64{1, 0, 0}),
		insert(t, x, store, []float64{0, 1, 0}),
		insert(t, x, store, []float64{0, 0, 1}),
		insert(t, x, store, []float64{1, 1, 0}),
		insert(t, x, store, []float64{0, 1, 1}),
	}

	results := searchK(t, x, store, []float64{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, ids[0], results[0].ID, "exact match first")
	assert.Equal(t, ids[3], results[1].ID, "45-degree vector second")
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestSearchEmptyIndex(t *testing.T) {
	x, store := newHNSW(t, 3, storage.DistanceCosine)
	assert.Empty(t, searchK(t, x, store, []float64{1, 0, 0}, 5))
}

func TestDeleteFiltersTombstones(t *testing.T) {
	x, store := newHNSW(t, 2, storage.DistanceL2)
	a := insert(t, x, store, []float64{0, 0})
	b := insert(t, x, store, []float64{1, 0})
	insert(t, x, store, []float64{5, 5})

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.Delete(txn, a)
	}))

	results := searchK(t, x, store, []float64{0, 0}, 2)
	require.NotEmpty(t, results)
	assert.Equal(t, b, results[0].ID, "tombstoned vector excluded")
	for _, r := range results {
		assert.NotEqual(t, a, r.ID)
	}
}

func TestMetadataFilter(t *testing.T) {
	x, store := newHNSW(t, 2, storage.DistanceL2)

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		for i := 0; i < 4; i++ {
			tag := "even"
			if i%2 == 1 {
				tag = "odd"
			}
			_, err := x.Insert(txn, "Embedding", []float64{float64(i), 0},
				storage.Properties{"tag": storage.StringValue(tag)}, storage.NilID)
			if err != nil {
				return err
			}
		}
		return nil
	}))

	var results []Candidate
	require.NoError(t, store.View(func(txn kv.Txn) error {
		var err error
		results, err = x.Search(txn, arena.New(0), "Embedding", []float64{0, 0}, 4,
			func(meta *storage.VectorMeta) bool {
				return meta.Properties["tag"].Str == "odd"
			})
		return err
	}))
	require.Len(t, results, 2)
}

// checkInvariants asserts bidirectionality, neighbor caps and entry-point
// correctness over the whole graph.
func checkInvariants(t *testing.T, x *Index, store kv.Store) {
	t.Helper()
	require.NoError(t, store.View(func(txn kv.Txn) error {
		type edge struct {
			src, dst storage.ID
			level    uint64
		}
		edges := make(map[edge]bool)
		counts := make(map[storage.ID]map[uint64]int)

		it := txn.NewIterator(kv.FamilyHNSWEdges, kv.IterOptions{})
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Key()
			require.Len(t, key, 48)
			var src, dst storage.ID
			copy(src[:], key[:16])
			copy(dst[:], key[32:])
			var level uint64
			for _, b := range key[16:32] {
				level = level<<8 | uint64(b)
			}
			edges[edge{src: src, dst: dst, level: level}] = true
			if counts[src] == nil {
				counts[src] = make(map[uint64]int)
			}
			counts[src][level]++
		}
		it.Close()

		// Bidirectionality.
		for e := range edges {
			assert.True(t, edges[edge{src: e.dst, dst: e.src, level: e.level}],
				"missing mirror for %v level %d", e.src, e.level)
		}

		// Caps.
		def := x.schema.Vectors["Embedding"]
		for id, byLevel := range counts {
			for level, n := range byLevel {
				cap := def.HNSW.M
				if level == 0 {
					cap = def.HNSW.Mmax0
				}
				assert.LessOrEqual(t, n, cap, "node %v exceeds cap at level %d", id, level)
			}
		}

		// Entry point: live, and at the max level over live vectors.
		eps, err := x.loadEntryPoints(txn)
		require.NoError(t, err)
		maxLevel, liveCount := -1, 0
		pit := txn.NewIterator(kv.FamilyVectorProps, kv.IterOptions{PrefetchValues: true})
		for pit.Rewind(); pit.Valid(); pit.Next() {
			raw, err := pit.Value()
			require.NoError(t, err)
			meta, err := storage.DecodeVectorMeta(raw)
			require.NoError(t, err)
			if meta.Deleted {
				continue
			}
			liveCount++
			if meta.Level > maxLevel {
				maxLevel = meta.Level
			}
		}
		pit.Close()

		ep, ok := eps["Embedding"]
		if liveCount == 0 {
			assert.False(t, ok, "entry point present on empty index")
		} else {
			require.True(t, ok, "entry point missing")
			meta, err := x.getMeta(txn, ep.ID)
			require.NoError(t, err)
			assert.False(t, meta.Deleted)
			assert.Equal(t, maxLevel, meta.Level)
			assert.Equal(t, maxLevel, ep.Level)
		}
		return nil
	}))
}

func TestInvariantsUnderChurn(t *testing.T) {
	x, store := newHNSW(t, 4, storage.DistanceCosine)
	rng := rand.New(rand.NewSource(42))

	var ids []storage.ID
	for i := 0; i < 60; i++ {
		vec := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		ids = append(ids, insert(t, x, store, vec))
	}
	checkInvariants(t, x, store)

	// Tombstone a third.
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		for i, id := range ids {
			if i%3 == 0 {
				if err := x.Delete(txn, id); err != nil {
					return err
				}
			}
		}
		return nil
	}))
	checkInvariants(t, x, store)

	// Search still avoids every tombstone.
	results := searchK(t, x, store, []float64{0.1, 0.2, 0.3, 0.4}, 10)
	deleted := make(map[storage.ID]bool)
	for i, id := range ids {
		if i%3 == 0 {
			deleted[id] = true
		}
	}
	for _, r := range results {
		assert.False(t, deleted[r.ID])
	}

	// Compact and re-check; tombstone rows must be gone.
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.Compact(txn)
	}))
	checkInvariants(t, x, store)

	require.NoError(t, store.View(func(txn kv.Txn) error {
		for id := range deleted {
			_, err := x.getMeta(txn, id)
			var nf *storage.NotFoundError
			assert.ErrorAs(t, err, &nf, "tombstone survived compaction")
		}
		return nil
	}))
}

func TestDeleteAllClearsEntryPoint(t *testing.T) {
	x, store := newHNSW(t, 2, storage.DistanceL2)
	a := insert(t, x, store, []float64{1, 2})
	b := insert(t, x, store, []float64{3, 4})

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		if err := x.Delete(txn, a); err != nil {
			return err
		}
		return x.Delete(txn, b)
	}))
	checkInvariants(t, x, store)
	assert.Empty(t, searchK(t, x, store, []float64{1, 2}, 3))
}

func TestRecallOnClusteredData(t *testing.T) {
	x, store := newHNSW(t, 8, storage.DistanceL2)
	rng := rand.New(rand.NewSource(7))

	// Two well-separated clusters.
	centers := [][]float64{make([]float64, 8), make([]float64, 8)}
	for i := range centers[1] {
		centers[1][i] = 100
	}
	type tagged struct {
		id      storage.ID
		cluster int
	}
	var all []tagged
	for i := 0; i < 80; i++ {
		c := i % 2
		vec := make([]float64, 8)
		for j := range vec {
			vec[j] = centers[c][j] + rng.Float64()
		}
		all = append(all, tagged{id: insert(t, x, store, vec), cluster: c})
	}

	results := searchK(t, x, store, centers[0], 10)
	require.Len(t, results, 10)
	byID := make(map[storage.ID]int)
	for _, v := range all {
		byID[v.id] = v.cluster
	}
	for _, r := range results {
		assert.Equal(t, 0, byID[r.ID], "result from the wrong cluster")
	}
}

func TestTombstoneOwned(t *testing.T) {
	x, store := newHNSW(t, 2, storage.DistanceL2)
	owner := storage.NewID()

	var owned storage.ID
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		var err error
		owned, err = x.Insert(txn, "Embedding", []float64{1, 1}, nil, owner)
		if err != nil {
			return err
		}
		_, err = x.Insert(txn, "Embedding", []float64{2, 2}, nil, storage.NilID)
		return err
	}))

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.TombstoneOwned(txn, owner)
	}))

	require.NoError(t, store.View(func(txn kv.Txn) error {
		meta, err := x.getMeta(txn, owned)
		require.NoError(t, err)
		assert.True(t, meta.Deleted)
		return nil
	}))
	checkInvariants(t, x, store)
}

func BenchmarkInsert(b *testing.B) {
	store := kv.OpenMemory(kv.Options{})
	defer store.Close()
	s := storage.NewSchema()
	s.Vectors["Embedding"] = storage.VectorDef{
		Label: "Embedding", Dimension: 16,
		HNSW: storage.DefaultHNSWParams(), BM25: storage.DefaultBM25Params(),
	}
	if err := s.Validate(); err != nil {
		b.Fatal(err)
	}
	x := NewIndex(s)
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vec := make([]float64, 16)
		for j := range vec {
			vec[j] = rng.Float64()
		}
		err := store.Update(func(txn kv.Txn) error {
			_, err := x.Insert(txn, "Embedding", vec, nil, storage.NilID)
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
