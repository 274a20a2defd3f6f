package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

func newIndex(t *testing.T) (*Index, kv.Store) {
	t.Helper()
	store := kv.OpenMemory(kv.Options{})
	t.Cleanup(func() { store.Close() })
	return NewIndex(), store
}

func addDoc(t *testing.T, x *Index, store kv.Store, label, text string) storage.ID {
	t.Helper()
	id := storage.NewID()
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.IndexDoc(txn, label, id, "", text)
	}))
	return id
}

func search(t *testing.T, x *Index, store kv.Store, label, query string, topK int) []Result {
	t.Helper()
	var out []Result
	require.NoError(t, store.View(func(txn kv.Txn) error {
		var err error
		out, err = x.Search(txn, label, query, topK)
		return err
	}))
	return out
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The quick, brown FOX!")
	assert.Equal(t, []string{"quick", "brown", "fox"}, tokens)

	assert.Empty(t, Tokenize("a I . ,"))
}

func TestSearchRanksByRelevance(t *testing.T) {
	x, store := newIndex(t)

	fox := addDoc(t, x, store, "Doc", "the quick brown fox jumps over the fence")
	dog := addDoc(t, x, store, "Doc", "lazy dog sleeps all day")
	both := addDoc(t, x, store, "Doc", "fox and dog walk together, fox leads")

	results := search(t, x, store, "Doc", "fox", 10)
	require.Len(t, results, 2)
	// "both" mentions fox twice and is not much longer, so it outranks
	// the single mention.
	assert.Equal(t, both, results[0].DocID)
	assert.Equal(t, fox, results[1].DocID)
	assert.Greater(t, results[0].Score, results[1].Score)

	results = search(t, x, store, "Doc", "dog", 10)
	ids := []storage.ID{results[0].DocID, results[1].DocID}
	assert.Contains(t, ids, dog)
	assert.Contains(t, ids, both)
}

func TestTopKBound(t *testing.T) {
	x, store := newIndex(t)
	for i := 0; i < 10; i++ {
		addDoc(t, x, store, "Doc", "common term document")
	}
	assert.Len(t, search(t, x, store, "Doc", "common", 3), 3)
}

func TestReindexIsIdempotent(t *testing.T) {
	x, store := newIndex(t)
	id := storage.NewID()

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.IndexDoc(txn, "Doc", id, "", "alpha beta gamma")
	}))
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.IndexDoc(txn, "Doc", id, "alpha beta gamma", "delta epsilon")
	}))

	assert.Empty(t, search(t, x, store, "Doc", "alpha", 10), "old terms retracted")
	require.Len(t, search(t, x, store, "Doc", "delta", 10), 1)

	// Stats count one live document.
	require.NoError(t, store.View(func(txn kv.Txn) error {
		stats, err := x.loadStats(txn)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats["Doc"].DocCount)
		assert.EqualValues(t, 2, stats["Doc"].TotalLen)
		return nil
	}))
}

func TestRemoveDoc(t *testing.T) {
	x, store := newIndex(t)
	id := addDoc(t, x, store, "Doc", "unique snowflake text")

	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.RemoveDoc(txn, "Doc", id, "unique snowflake text")
	}))
	assert.Empty(t, search(t, x, store, "Doc", "snowflake", 10))

	// Removing again is a no-op.
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.RemoveDoc(txn, "Doc", id, "unique snowflake text")
	}))
}

func TestLabelsAreIsolated(t *testing.T) {
	x, store := newIndex(t)
	addDoc(t, x, store, "Article", "shared term")
	addDoc(t, x, store, "Comment", "shared term")

	assert.Len(t, search(t, x, store, "Article", "shared", 10), 1)
	assert.Len(t, search(t, x, store, "Comment", "shared", 10), 1)
}

func TestPerLabelParams(t *testing.T) {
	x, store := newIndex(t)
	x.SetParams("Doc", storage.BM25Params{K1: 2.0, B: 0.5})

	short := addDoc(t, x, store, "Doc", "fox")
	addDoc(t, x, store, "Doc", "fox fox fox fox fox plus many other words to lengthen the document body")

	results := search(t, x, store, "Doc", "fox", 10)
	require.Len(t, results, 2)
	_ = short
}

func TestCompactRemovesOrphans(t *testing.T) {
	x, store := newIndex(t)
	id := addDoc(t, x, store, "Doc", "orphan candidate")

	// Simulate a torn state: doc row gone, postings left behind.
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return txn.Delete(kv.FamilyBM25Docs, storage.DocKey(id))
	}))
	require.NoError(t, store.Update(func(txn kv.Txn) error {
		return x.Compact(txn)
	}))

	require.NoError(t, store.View(func(txn kv.Txn) error {
		it := txn.NewIterator(kv.FamilyBM25Postings, kv.IterOptions{})
		defer it.Close()
		it.Rewind()
		assert.False(t, it.Valid(), "orphan postings remain after compaction")
		return nil
	}))
}
