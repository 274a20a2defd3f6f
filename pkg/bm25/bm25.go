// Package bm25 provides a persistent per-label inverted index with BM25
// scoring.
//
// Postings live in the bm25:postings family (label hash | term | doc id ->
// term frequency) and document lengths in bm25:docs; aggregate per-label
// statistics (live doc count, total length) sit in a meta cell. All three
// are maintained inside the caller's transaction, so the index commits or
// aborts together with the rows it describes.
//
// Scoring is standard BM25 with the Lucene non-negative IDF variant:
//
//	idf  = log(1 + (N - df + 0.5) / (df + 0.5))
//	s    = idf * tf*(k1+1) / (tf + k1*(1 - b + b*len/avgLen))
//
// k1 and b default to 1.2 / 0.75 and are tunable per label.
package bm25

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

// Tokenizer splits text into index terms.
type Tokenizer func(text string) []string

// Result is one scored document.
type Result struct {
	DocID storage.ID
	Score float64
}

// labelStats aggregates the live documents of one label.
type labelStats struct {
	DocCount int64 `json:"docCount"`
	TotalLen int64 `json:"totalLen"`
}

// Index is the BM25 index over every indexed label. It is stateless apart
// from configuration; all data lives in the kv families.
type Index struct {
	params     map[string]storage.BM25Params
	tokenizers map[string]Tokenizer
	defaults   storage.BM25Params
}

// NewIndex creates an index with the standard scoring constants.
func NewIndex() *Index {
	return &Index{
		params:     make(map[string]storage.BM25Params),
		tokenizers: make(map[string]Tokenizer),
		defaults:   storage.DefaultBM25Params(),
	}
}

// SetParams overrides k1/b for one label.
func (x *Index) SetParams(label string, p storage.BM25Params) { x.params[label] = p }

// SetTokenizer overrides the tokenizer for one label.
func (x *Index) SetTokenizer(label string, t Tokenizer) { x.tokenizers[label] = t }

func (x *Index) paramsFor(label string) storage.BM25Params {
	if p, ok := x.params[label]; ok {
		return p
	}
	return x.defaults
}

func (x *Index) tokenizerFor(label string) Tokenizer {
	if t, ok := x.tokenizers[label]; ok {
		return t
	}
	return Tokenize
}

// IndexDoc adds or replaces a document. Re-adding the same doc id
// overwrites: the previous postings (derived from oldText) are removed
// first, so the operation is idempotent.
func (x *Index) IndexDoc(txn kv.Txn, label string, id storage.ID, oldText, newText string) error {
	if oldText != "" {
		if err := x.remove(txn, label, id, oldText); err != nil {
			return err
		}
	}
	tokens := x.tokenizerFor(label)(newText)
	if len(tokens) == 0 {
		return nil
	}
	labelHash := storage.HashLabel(label)

	termFreq := make(map[string]uint32)
	for _, tok := range tokens {
		termFreq[tok]++
	}
	for term, tf := range termFreq {
		if err := txn.Set(kv.FamilyBM25Postings, storage.PostingKey(labelHash, term, id), storage.EncodeU32(tf)); err != nil {
			return err
		}
	}
	if err := txn.Set(kv.FamilyBM25Docs, storage.DocKey(id), storage.EncodeU32(uint32(len(tokens)))); err != nil {
		return err
	}
	return x.bumpStats(txn, label, 1, int64(len(tokens)))
}

// RemoveDoc deletes a document's postings and length row. Removing an
// absent document is a no-op.
func (x *Index) RemoveDoc(txn kv.Txn, label string, id storage.ID, oldText string) error {
	if _, err := txn.Get(kv.FamilyBM25Docs, storage.DocKey(id)); err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return x.remove(txn, label, id, oldText)
}

func (x *Index) remove(txn kv.Txn, label string, id storage.ID, text string) error {
	tokens := x.tokenizerFor(label)(text)
	if len(tokens) == 0 {
		return nil
	}
	labelHash := storage.HashLabel(label)
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if err := txn.Delete(kv.FamilyBM25Postings, storage.PostingKey(labelHash, tok, id)); err != nil {
			return err
		}
	}
	if err := txn.Delete(kv.FamilyBM25Docs, storage.DocKey(id)); err != nil {
		return err
	}
	return x.bumpStats(txn, label, -1, -int64(len(tokens)))
}

func (x *Index) loadStats(txn kv.Txn) (map[string]*labelStats, error) {
	data, err := txn.Get(kv.FamilyMeta, storage.MetaBM25StatsCell)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return make(map[string]*labelStats), nil
		}
		return nil, err
	}
	stats := make(map[string]*labelStats)
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("%w: bm25 stats: %v", kv.ErrCorruptPayload, err)
	}
	return stats, nil
}

func (x *Index) bumpStats(txn kv.Txn, label string, docs, length int64) error {
	stats, err := x.loadStats(txn)
	if err != nil {
		return err
	}
	st := stats[label]
	if st == nil {
		st = &labelStats{}
		stats[label] = st
	}
	st.DocCount += docs
	st.TotalLen += length
	if st.DocCount < 0 {
		st.DocCount = 0
	}
	if st.TotalLen < 0 {
		st.TotalLen = 0
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return txn.Set(kv.FamilyMeta, storage.MetaBM25StatsCell, data)
}

// Search scores the label's documents against the query and returns up to
// topK results in descending score order.
func (x *Index) Search(txn kv.Txn, label, query string, topK int) ([]Result, error) {
	terms := x.tokenizerFor(label)(query)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}
	stats, err := x.loadStats(txn)
	if err != nil {
		return nil, err
	}
	st := stats[label]
	if st == nil || st.DocCount == 0 {
		return nil, nil
	}
	n := float64(st.DocCount)
	avgLen := float64(st.TotalLen) / n
	p := x.paramsFor(label)
	labelHash := storage.HashLabel(label)

	type posting struct {
		doc storage.ID
		tf  float64
	}
	scores := make(map[storage.ID]float64)
	docLens := make(map[storage.ID]float64)

	docLen := func(id storage.ID) (float64, error) {
		if l, ok := docLens[id]; ok {
			return l, nil
		}
		data, err := txn.Get(kv.FamilyBM25Docs, storage.DocKey(id))
		if err != nil {
			return 0, err
		}
		raw, err := storage.DecodeU32(data)
		if err != nil {
			return 0, err
		}
		l := float64(raw)
		docLens[id] = l
		return l, nil
	}

	for _, term := range terms {
		var postings []posting
		it := txn.NewIterator(kv.FamilyBM25Postings, kv.IterOptions{
			Prefix:         storage.PostingPrefix(labelHash, term),
			PrefetchValues: true,
		})
		for it.Rewind(); it.Valid(); it.Next() {
			id, ok := storage.PostingDocID(it.Key())
			if !ok {
				continue
			}
			val, err := it.Value()
			if err != nil {
				it.Close()
				return nil, err
			}
			tf, err := storage.DecodeU32(val)
			if err != nil {
				it.Close()
				return nil, err
			}
			postings = append(postings, posting{doc: id, tf: float64(tf)})
		}
		it.Close()

		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		if idf < 0 {
			idf = 0
		}
		for _, post := range postings {
			length, err := docLen(post.doc)
			if err != nil {
				if errors.Is(err, kv.ErrKeyNotFound) {
					continue // posting for a compactable deleted doc
				}
				return nil, err
			}
			num := post.tf * (p.K1 + 1)
			den := post.tf + p.K1*(1-p.B+p.B*(length/avgLen))
			scores[post.doc] += idf * (num / den)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{DocID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID.String() < results[j].DocID.String()
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Compact removes postings whose document row is gone (left behind when a
// crash interleaved with an earlier compaction, or by direct family
// surgery). Runs under the caller's write transaction.
func (x *Index) Compact(txn kv.Txn) error {
	var orphans [][]byte
	it := txn.NewIterator(kv.FamilyBM25Postings, kv.IterOptions{})
	for it.Rewind(); it.Valid(); it.Next() {
		id, ok := storage.PostingDocID(it.Key())
		if !ok {
			continue
		}
		if _, err := txn.Get(kv.FamilyBM25Docs, storage.DocKey(id)); err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				orphans = append(orphans, append([]byte(nil), it.Key()...))
				continue
			}
			it.Close()
			return err
		}
	}
	it.Close()
	for _, key := range orphans {
		if err := txn.Delete(kv.FamilyBM25Postings, key); err != nil {
			return err
		}
	}
	return nil
}

// Tokenize is the default tokenizer: lowercase, split at unicode word
// breaks, drop one-rune tokens and stop words.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	var tokens []string
	for _, word := range words {
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if stopWords[word] {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// stopWords is a minimal list of generic words; domain terms are
// deliberately not filtered.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}
