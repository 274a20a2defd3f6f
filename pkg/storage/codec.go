// Package storage - value codecs for BadgerDB-style byte storage.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/helixdb/helix-go/pkg/kv"
)

// EncodeNode converts a Node to its stored byte form.
func EncodeNode(node *Node) ([]byte, error) {
	return json.Marshal(node)
}

// DecodeNode converts stored bytes back to a Node.
func DecodeNode(data []byte) (*Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: node: %v", kv.ErrCorruptPayload, err)
	}
	return &node, nil
}

// EncodeEdge converts an Edge to its stored byte form.
func EncodeEdge(edge *Edge) ([]byte, error) {
	return json.Marshal(edge)
}

// DecodeEdge converts stored bytes back to an Edge.
func DecodeEdge(data []byte) (*Edge, error) {
	var edge Edge
	if err := json.Unmarshal(data, &edge); err != nil {
		return nil, fmt.Errorf("%w: edge: %v", kv.ErrCorruptPayload, err)
	}
	return &edge, nil
}

// EncodeVectorMeta converts vector metadata to its stored byte form.
func EncodeVectorMeta(meta *VectorMeta) ([]byte, error) {
	return json.Marshal(meta)
}

// DecodeVectorMeta converts stored bytes back to vector metadata.
func DecodeVectorMeta(data []byte) (*VectorMeta, error) {
	var meta VectorMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: vector meta: %v", kv.ErrCorruptPayload, err)
	}
	return &meta, nil
}

// EncodeFloats packs a float slice into the raw little-endian f64 array
// stored in the vectors family. Storage always widens to f64 regardless of
// the label's declared precision.
func EncodeFloats(data []float64) []byte {
	out := make([]byte, 8*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
	}
	return out
}

// DecodeFloats unpacks a raw f64 array.
func DecodeFloats(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: f64 array length %d", kv.ErrCorruptPayload, len(data))
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return out, nil
}

// EncodeU32 packs a u32 (big-endian), the bm25 term-frequency and
// doc-length value form.
func EncodeU32(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

// DecodeU32 unpacks a big-endian u32.
func DecodeU32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: u32 length %d", kv.ErrCorruptPayload, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
