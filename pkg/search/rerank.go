// Package search provides hybrid retrieval fusion for HelixDB.
//
// Vector k-NN and BM25 return scores on incomparable scales, so hybrid
// search combines them by rank, not by score. Two rerankers are offered:
//
//   - RRF (Reciprocal Rank Fusion): score = sum over lists of
//     1 / (k + rank). Robust to scale differences; k defaults to 60 per
//     the original RRF paper.
//   - MMR (Maximal Marginal Relevance): greedy re-ordering balancing
//     relevance against diversity. lambda = 1 keeps pure relevance,
//     lambda = 0 pure diversity.
//
// Both produce a total order over their input.
package search

import (
	"sort"

	"github.com/helixdb/helix-go/pkg/hnsw"
	"github.com/helixdb/helix-go/pkg/storage"
)

// DefaultRRFK is the standard RRF constant.
const DefaultRRFK = 60.0

// Ranked is one entry of a ranked input list; rank is implied by slice
// position, Score is kept for diagnostics.
type Ranked struct {
	ID    storage.ID
	Score float64
}

// Fused is one output of RRF fusion, carrying the per-list ranks that
// produced it (0 = absent from that list).
type Fused struct {
	ID    storage.ID
	Score float64
	Ranks []int
}

// FuseRRF merges ranked lists by reciprocal rank. Ties break on id so the
// order is total and deterministic.
func FuseRRF(k float64, lists ...[]Ranked) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := make(map[storage.ID]*Fused)
	var order []storage.ID

	for li, list := range lists {
		for rank, entry := range list {
			f, ok := byID[entry.ID]
			if !ok {
				f = &Fused{ID: entry.ID, Ranks: make([]int, len(lists))}
				byID[entry.ID] = f
				order = append(order, entry.ID)
			}
			f.Ranks[li] = rank + 1
			f.Score += 1.0 / (k + float64(rank+1))
		}
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// MMRItem is one candidate for MMR reranking: its relevance to the query
// and its embedding for pairwise similarity.
type MMRItem struct {
	ID        storage.ID
	Relevance float64
	Vector    []float64
}

// RerankMMR greedily re-orders items by marginal relevance:
//
//	argmax lambda*rel(d) - (1-lambda)*max sim(d, selected)
//
// Items without vectors contribute zero similarity, so they compete on
// relevance alone.
func RerankMMR(lambda float64, items []MMRItem) []MMRItem {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	remaining := append([]MMRItem(nil), items...)
	out := make([]MMRItem, 0, len(items))

	for len(remaining) > 0 {
		bestIdx, bestScore := -1, 0.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range out {
				if cand.Vector == nil || sel.Vector == nil || len(cand.Vector) != len(sel.Vector) {
					continue
				}
				if sim := hnsw.CosineSimilarity(cand.Vector, sel.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*cand.Relevance - (1-lambda)*maxSim
			if bestIdx < 0 || score > bestScore ||
				(score == bestScore && cand.ID.String() < remaining[bestIdx].ID.String()) {
				bestIdx, bestScore = i, score
			}
		}
		out = append(out, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}
