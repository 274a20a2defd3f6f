// Package storage - byte-exact key layouts for every family.
//
// All integer key components are big-endian so lexicographic byte order
// equals numeric order. Label and field names are compressed to 32-bit
// FNV-1a hashes; collisions are rejected at schema registration time, so
// keys never need to disambiguate.
package storage

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// vectorKeyPrefix tags rows in the vectors family.
var vectorKeyPrefix = []byte("v:")

// HashLabel returns the 32-bit FNV-1a hash of a label or field name.
func HashLabel(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// NodeKey is the nodes-family key: id(16).
func NodeKey(id ID) []byte { return id.Bytes() }

// EdgeKey is the edges-family key: id(16).
func EdgeKey(id ID) []byte { return id.Bytes() }

// OutEdgeKey is the out_edges key: src(16) | labelHash(4) | edgeID(16).
func OutEdgeKey(src ID, labelHash uint32, edgeID ID) []byte {
	k := make([]byte, 36)
	copy(k, src[:])
	putUint32(k[16:], labelHash)
	copy(k[20:], edgeID[:])
	return k
}

// InEdgeKey is the in_edges key: dst(16) | labelHash(4) | edgeID(16).
func InEdgeKey(dst ID, labelHash uint32, edgeID ID) []byte {
	return OutEdgeKey(dst, labelHash, edgeID)
}

// AdjacencyPrefix scans one endpoint's adjacency, optionally restricted to
// a label.
func AdjacencyPrefix(endpoint ID, labelHash uint32, labeled bool) []byte {
	if !labeled {
		return endpoint.Bytes()
	}
	k := make([]byte, 20)
	copy(k, endpoint[:])
	putUint32(k[16:], labelHash)
	return k
}

// SplitAdjacencyKey decomposes an adjacency key back into its components.
func SplitAdjacencyKey(key []byte) (endpoint ID, labelHash uint32, edgeID ID, ok bool) {
	if len(key) != 36 {
		return NilID, 0, NilID, false
	}
	copy(endpoint[:], key[:16])
	labelHash = binary.BigEndian.Uint32(key[16:20])
	copy(edgeID[:], key[20:])
	return endpoint, labelHash, edgeID, true
}

// SecondaryKey is the secondary-index key:
// labelHash(4) | fieldHash(4) | valueBytes | id(16).
// The value encoding is order preserving (see EncodeIndexValue), so range
// scans over one (label, field) pair walk values in order.
func SecondaryKey(labelHash, fieldHash uint32, valueBytes []byte, id ID) []byte {
	k := make([]byte, 8+len(valueBytes)+16)
	putUint32(k, labelHash)
	putUint32(k[4:], fieldHash)
	copy(k[8:], valueBytes)
	copy(k[8+len(valueBytes):], id[:])
	return k
}

// SecondaryPrefix scans all entries of one (label, field) pair, optionally
// narrowed to one encoded value.
func SecondaryPrefix(labelHash, fieldHash uint32, valueBytes []byte) []byte {
	k := make([]byte, 8+len(valueBytes))
	putUint32(k, labelHash)
	putUint32(k[4:], fieldHash)
	copy(k[8:], valueBytes)
	return k
}

// SecondaryEntryID extracts the trailing id from a secondary-index key.
func SecondaryEntryID(key []byte) (ID, bool) {
	if len(key) < 8+16 {
		return NilID, false
	}
	var id ID
	copy(id[:], key[len(key)-16:])
	return id, true
}

// LabelScanFieldHash is the reserved field hash of the implicit per-label
// index entry written for every node, backing whole-label scans.
const LabelScanFieldHash uint32 = 0

// PostingKey is the bm25:postings key: labelHash(4) | term | 0x00 | docID(16).
// The NUL separator keeps term boundaries unambiguous under prefix scans
// (terms are tokenized words and never contain NUL).
func PostingKey(labelHash uint32, term string, docID ID) []byte {
	k := make([]byte, 4+len(term)+1+16)
	putUint32(k, labelHash)
	copy(k[4:], term)
	k[4+len(term)] = 0x00
	copy(k[5+len(term):], docID[:])
	return k
}

// PostingPrefix scans all docs for one (label, term) pair.
func PostingPrefix(labelHash uint32, term string) []byte {
	k := make([]byte, 4+len(term)+1)
	putUint32(k, labelHash)
	copy(k[4:], term)
	k[4+len(term)] = 0x00
	return k
}

// PostingDocID extracts the trailing doc id from a postings key.
func PostingDocID(key []byte) (ID, bool) {
	if len(key) < 4+1+16 {
		return NilID, false
	}
	var id ID
	copy(id[:], key[len(key)-16:])
	return id, true
}

// DocKey is the bm25:docs key: docID(16). Value is the u32 doc length.
func DocKey(docID ID) []byte { return docID.Bytes() }

// VectorKey is the vectors-family key: "v:" | id(16) | level(16, big-endian
// u128). Levels are tiny integers; the wide field keeps the layout aligned
// with the id width.
func VectorKey(id ID, level int) []byte {
	k := make([]byte, 2+16+16)
	copy(k, vectorKeyPrefix)
	copy(k[2:], id[:])
	binary.BigEndian.PutUint64(k[26:], uint64(level))
	return k
}

// VectorPropsKey is the vector_props key: id(16).
func VectorPropsKey(id ID) []byte { return id.Bytes() }

// HNSWEdgeKey is the hnsw_edges key: src(16) | level(16) | dst(16).
func HNSWEdgeKey(src ID, level int, dst ID) []byte {
	k := make([]byte, 48)
	copy(k, src[:])
	binary.BigEndian.PutUint64(k[24:], uint64(level))
	copy(k[32:], dst[:])
	return k
}

// HNSWNeighborPrefix scans all neighbors of src at one level.
func HNSWNeighborPrefix(src ID, level int) []byte {
	k := make([]byte, 32)
	copy(k, src[:])
	binary.BigEndian.PutUint64(k[24:], uint64(level))
	return k
}

// HNSWEdgeDst extracts the neighbor id from an hnsw_edges key.
func HNSWEdgeDst(key []byte) (ID, bool) {
	if len(key) != 48 {
		return NilID, false
	}
	var id ID
	copy(id[:], key[32:])
	return id, true
}

// Meta-family cell names.
var (
	MetaSchemaCell     = []byte("schema")
	MetaEntryPointCell = []byte("entry_point")
	MetaBM25StatsCell  = []byte("bm25_stats")
)

// EncodeIndexValue renders a value into order-preserving bytes for
// secondary-index keys, tagged by a leading type byte so values of
// different kinds never interleave.
//
// Numeric values of every width share one tag and an 8-byte form (sign-bit
// flipped integers, monotone-mapped floats) so an I32 and a U8 holding the
// same number land on the same key.
func EncodeIndexValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindString, KindDate:
		out := make([]byte, 1+len(v.Str))
		out[0] = 0x01
		copy(out[1:], v.Str)
		return out, nil
	case KindBool:
		if v.B {
			return []byte{0x02, 1}, nil
		}
		return []byte{0x02, 0}, nil
	case KindBlob:
		out := make([]byte, 1+len(v.Blob))
		out[0] = 0x04
		copy(out[1:], v.Blob)
		return out, nil
	}
	if v.IsNumeric() {
		f, _ := v.AsFloat()
		bits := math.Float64bits(f)
		// Monotone mapping: flip the sign bit for positives, all bits for
		// negatives, so byte order equals numeric order.
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		out := make([]byte, 9)
		out[0] = 0x03
		binary.BigEndian.PutUint64(out[1:], bits)
		return out, nil
	}
	return nil, Violation("values of kind %v are not indexable", v.Kind)
}
