// Package executor - pipeline items.
package executor

import (
	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/storage"
)

// item is one element flowing through a pipeline. Exactly one payload
// field is set, selected by kind. Strings and vectors inside items are
// arena-borrowed; they die with the query.
type item struct {
	kind hql.CarrierKind

	node  *storage.Node
	edge  *storage.Edge
	vmeta *storage.VectorMeta
	vec   []float64

	scalar storage.Value

	// row holds a projection result in field order.
	row []rowField

	// score carries retrieval metadata: negative distance for vector
	// hits, fusion score for hybrid hits.
	score float64

	// ranks carries the per-list ranks of a hybrid hit (vector, bm25);
	// consumed by RerankRRF.
	ranks []int
}

type rowField struct {
	name  string
	value storage.Value
}

// id returns the item's entity id, or NilID for scalars and rows.
func (it *item) id() storage.ID {
	switch it.kind {
	case hql.CarrierNodes:
		if it.node != nil {
			return it.node.ID
		}
	case hql.CarrierEdges:
		if it.edge != nil {
			return it.edge.ID
		}
	case hql.CarrierVectors:
		if it.vmeta != nil {
			return it.vmeta.ID
		}
	}
	return storage.NilID
}

// prop reads a property of the item. ok is false when the field is absent.
func (it *item) prop(field string) (storage.Value, bool) {
	if field == "id" {
		if id := it.id(); !id.IsNil() {
			return storage.StringValue(id.String()), true
		}
		return storage.Value{}, false
	}
	switch it.kind {
	case hql.CarrierNodes:
		if it.node != nil {
			v, ok := it.node.Properties[field]
			return v, ok
		}
	case hql.CarrierEdges:
		if it.edge != nil {
			v, ok := it.edge.Properties[field]
			return v, ok
		}
	case hql.CarrierVectors:
		if it.vmeta != nil {
			if field == "score" || field == "distance" {
				return storage.FloatValue(-it.score), true
			}
			v, ok := it.vmeta.Properties[field]
			return v, ok
		}
	case hql.CarrierStruct:
		for _, f := range it.row {
			if f.name == field {
				return f.value, true
			}
		}
	}
	return storage.Value{}, false
}

// native renders the item as a plain Go value for result payloads.
func (it *item) native() any {
	switch it.kind {
	case hql.CarrierNodes:
		if it.node == nil {
			return nil
		}
		return map[string]any{
			"id":         it.node.ID.String(),
			"label":      it.node.Label,
			"properties": propsNative(it.node.Properties),
		}
	case hql.CarrierEdges:
		if it.edge == nil {
			return nil
		}
		return map[string]any{
			"id":         it.edge.ID.String(),
			"label":      it.edge.Label,
			"from":       it.edge.From.String(),
			"to":         it.edge.To.String(),
			"properties": propsNative(it.edge.Properties),
		}
	case hql.CarrierVectors:
		if it.vmeta == nil {
			return nil
		}
		out := map[string]any{
			"id":         it.vmeta.ID.String(),
			"label":      it.vmeta.Label,
			"distance":   -it.score,
			"properties": propsNative(it.vmeta.Properties),
		}
		if it.vec != nil {
			out["data"] = it.vec
		}
		return out
	case hql.CarrierScalar:
		return it.scalar.Native()
	case hql.CarrierStruct:
		out := make(map[string]any, len(it.row))
		for _, f := range it.row {
			out[f.name] = f.value.Native()
		}
		return out
	}
	return nil
}

func propsNative(p storage.Properties) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Native()
	}
	return out
}
