// Package search - hybrid retrieval.
package search

import (
	"github.com/helixdb/helix-go/pkg/arena"
	"github.com/helixdb/helix-go/pkg/bm25"
	"github.com/helixdb/helix-go/pkg/hnsw"
	"github.com/helixdb/helix-go/pkg/kv"
)

// HybridOptions tunes one hybrid retrieval.
type HybridOptions struct {
	// K is the final result bound.
	K int

	// RRFK is the fusion constant; 0 means DefaultRRFK.
	RRFK float64

	// CandidateMultiplier widens both underlying searches so fusion has
	// material to work with. 0 means 4.
	CandidateMultiplier int
}

// Hybrid runs vector k-NN and BM25 over the same label and fuses the two
// rankings with RRF. The BM25 side scores node documents; the vector side
// scores vectors, whose owning node (when set) is used as the fusion key
// so both lists speak the same id language.
func Hybrid(txn kv.Txn, ar *arena.Arena, vectors *hnsw.Index, text *bm25.Index,
	label string, query []float64, queryText string, opts HybridOptions) ([]Fused, error) {

	mult := opts.CandidateMultiplier
	if mult <= 0 {
		mult = 4
	}
	fetch := opts.K * mult
	if fetch < opts.K {
		fetch = opts.K
	}

	vecResults, err := vectors.Search(txn, ar, label, query, fetch, nil)
	if err != nil {
		return nil, err
	}
	vecRanked := make([]Ranked, 0, len(vecResults))
	for _, r := range vecResults {
		id := r.ID
		if meta, _, err := vectors.Get(txn, r.ID); err == nil && !meta.NodeID.IsNil() {
			id = meta.NodeID
		}
		vecRanked = append(vecRanked, Ranked{ID: id, Score: -r.Distance})
	}

	textResults, err := text.Search(txn, label, queryText, fetch)
	if err != nil {
		return nil, err
	}
	textRanked := make([]Ranked, 0, len(textResults))
	for _, r := range textResults {
		textRanked = append(textRanked, Ranked{ID: r.DocID, Score: r.Score})
	}

	fused := FuseRRF(opts.RRFK, vecRanked, textRanked)
	if opts.K > 0 && len(fused) > opts.K {
		fused = fused[:opts.K]
	}
	return fused, nil
}
