// Package executor - operator iterators.
//
// Every operator exposes the pull contract: next() yields arena-borrowed
// items until exhausted. Early-terminating operators (RANGE, EXISTS)
// simply stop pulling; there is no coroutine machinery to unwind.
package executor

import (
	"errors"
	"sort"

	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/search"
	"github.com/helixdb/helix-go/pkg/storage"
)

type iter interface {
	next(ec *execCtx) (item, bool, error)
	close()
}

// buildPipeline chains a pipeline's operators into one iterator.
func (e *Executor) buildPipeline(ec *execCtx, pipe *hql.PipelineIR) (iter, error) {
	var cur iter
	for _, op := range pipe.Ops {
		next, err := e.buildOp(ec, op, cur)
		if err != nil {
			if cur != nil {
				cur.close()
			}
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (e *Executor) buildOp(ec *execCtx, op hql.Op, input iter) (iter, error) {
	switch o := op.(type) {
	case *hql.OpAllNodes:
		return &allNodesIter{e: e, label: o.Label}, nil
	case *hql.OpNodeByID:
		return &nodeByIDIter{e: e, op: o}, nil
	case *hql.OpAllEdges:
		return &allEdgesIter{e: e, label: o.Label}, nil
	case *hql.OpEdgeByID:
		return &edgeByIDIter{e: e, op: o}, nil
	case *hql.OpIndexLookup:
		return &indexLookupIter{e: e, op: o}, nil
	case *hql.OpVectorByID:
		return &vectorByIDIter{e: e, op: o}, nil
	case *hql.OpVectorSearch:
		return &vectorSearchIter{e: e, op: o}, nil
	case *hql.OpHybridSearch:
		return &hybridIter{e: e, op: o}, nil
	case *hql.OpVarScan:
		return &varScanIter{name: o.Name}, nil
	case *hql.OpEmbed:
		return &embedSourceIter{e: e, op: o}, nil
	case *hql.OpOut:
		return &hopIter{e: e, input: input, label: o.EdgeLabel, out: true, toNodes: true}, nil
	case *hql.OpIn:
		return &hopIter{e: e, input: input, label: o.EdgeLabel, out: false, toNodes: true}, nil
	case *hql.OpOutE:
		return &hopIter{e: e, input: input, label: o.EdgeLabel, out: true}, nil
	case *hql.OpInE:
		return &hopIter{e: e, input: input, label: o.EdgeLabel, out: false}, nil
	case *hql.OpEndpoint:
		return &endpointIter{e: e, input: input, to: o.To}, nil
	case *hql.OpWhere:
		return &whereIter{input: input, cond: o.Cond}, nil
	case *hql.OpCount:
		return &countIter{input: input}, nil
	case *hql.OpOrderBy:
		return &orderByIter{input: input, op: o}, nil
	case *hql.OpRange:
		return &rangeIter{input: input, op: o}, nil
	case *hql.OpRerankRRF:
		return &rerankRRFIter{input: input, op: o}, nil
	case *hql.OpRerankMMR:
		return &rerankMMRIter{e: e, input: input, op: o}, nil
	case *hql.OpProject:
		return &projectIter{input: input, op: o}, nil
	case *hql.OpAddNode:
		return &addNodeIter{e: e, op: o}, nil
	case *hql.OpAddEdge:
		return &addEdgeIter{e: e, op: o}, nil
	case *hql.OpAddVector:
		return &addVectorIter{e: e, op: o}, nil
	case *hql.OpUpdate:
		return &updateIter{e: e, input: input, op: o}, nil
	case *hql.OpDrop:
		return &dropIter{e: e, input: input, carrier: o.Carrier}, nil
	}
	return nil, invalidArg("internal: unhandled operator %T", op)
}

// drain pulls an iterator to exhaustion, checking liveness per step.
func drain(ec *execCtx, it iter) ([]item, error) {
	defer it.close()
	var out []item
	for {
		if err := ec.checkAlive(); err != nil {
			return nil, err
		}
		next, ok, err := it.next(ec)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, next)
	}
}

// Sources.

type allNodesIter struct {
	e     *Executor
	label string
	ids   *storage.IDIter
}

func (i *allNodesIter) next(ec *execCtx) (item, bool, error) {
	if err := ec.checkAlive(); err != nil {
		return item{}, false, err
	}
	if i.ids == nil {
		i.ids = i.e.graph.NodesByLabel(ec.txn, i.label)
	}
	id, ok := i.ids.Next()
	if !ok {
		return item{}, false, nil
	}
	node, err := i.e.graph.GetNode(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	return item{kind: hql.CarrierNodes, node: node}, true, nil
}

func (i *allNodesIter) close() {
	if i.ids != nil {
		i.ids.Close()
	}
}

type nodeByIDIter struct {
	e    *Executor
	op   *hql.OpNodeByID
	done bool
}

func (i *nodeByIDIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	id, err := evalID(ec, nil, i.op.ID)
	if err != nil {
		return item{}, false, err
	}
	node, err := i.e.graph.GetNode(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	if i.op.Label != "" && node.Label != i.op.Label {
		return item{}, false, storage.NotFound("node", id)
	}
	return item{kind: hql.CarrierNodes, node: node}, true, nil
}

func (i *nodeByIDIter) close() {}

type edgeByIDIter struct {
	e    *Executor
	op   *hql.OpEdgeByID
	done bool
}

func (i *edgeByIDIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	id, err := evalID(ec, nil, i.op.ID)
	if err != nil {
		return item{}, false, err
	}
	edge, err := i.e.graph.GetEdge(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	if i.op.Label != "" && edge.Label != i.op.Label {
		return item{}, false, storage.NotFound("edge", id)
	}
	return item{kind: hql.CarrierEdges, edge: edge}, true, nil
}

func (i *edgeByIDIter) close() {}

type allEdgesIter struct {
	e      *Executor
	label  string
	edges  []*storage.Edge
	loaded bool
	pos    int
}

func (i *allEdgesIter) next(ec *execCtx) (item, bool, error) {
	if !i.loaded {
		i.loaded = true
		err := i.e.graph.EdgesByLabel(ec.txn, i.label, func(edge *storage.Edge) error {
			if err := ec.checkAlive(); err != nil {
				return err
			}
			i.edges = append(i.edges, edge)
			return nil
		})
		if err != nil {
			return item{}, false, err
		}
	}
	if i.pos >= len(i.edges) {
		return item{}, false, nil
	}
	edge := i.edges[i.pos]
	i.pos++
	return item{kind: hql.CarrierEdges, edge: edge}, true, nil
}

func (i *allEdgesIter) close() {}

type indexLookupIter struct {
	e       *Executor
	op      *hql.OpIndexLookup
	ids     *storage.IDIter
	started bool
}

func (i *indexLookupIter) next(ec *execCtx) (item, bool, error) {
	if err := ec.checkAlive(); err != nil {
		return item{}, false, err
	}
	if !i.started {
		i.started = true
		val, err := evalValue(ec, nil, i.op.Value)
		if err != nil {
			return item{}, false, err
		}
		i.ids, err = i.e.graph.ByIndex(ec.txn, i.op.Label, i.op.Field, val)
		if err != nil {
			return item{}, false, err
		}
	}
	id, ok := i.ids.Next()
	if !ok {
		return item{}, false, nil
	}
	node, err := i.e.graph.GetNode(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	return item{kind: hql.CarrierNodes, node: node}, true, nil
}

func (i *indexLookupIter) close() {
	if i.ids != nil {
		i.ids.Close()
	}
}

type vectorByIDIter struct {
	e    *Executor
	op   *hql.OpVectorByID
	done bool
}

func (i *vectorByIDIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	id, err := evalID(ec, nil, i.op.ID)
	if err != nil {
		return item{}, false, err
	}
	meta, data, err := i.e.vectors.Get(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	if meta.Deleted {
		return item{}, false, storage.NotFound("vector", id)
	}
	return item{kind: hql.CarrierVectors, vmeta: meta, vec: data}, true, nil
}

func (i *vectorByIDIter) close() {}

type vectorSearchIter struct {
	e       *Executor
	op      *hql.OpVectorSearch
	results []item
	started bool
	pos     int
}

func (i *vectorSearchIter) next(ec *execCtx) (item, bool, error) {
	if !i.started {
		i.started = true
		vec, err := evalVector(ec, nil, i.op.Vec)
		if err != nil {
			return item{}, false, err
		}
		k, err := evalInt(ec, nil, i.op.K)
		if err != nil {
			return item{}, false, err
		}
		hits, err := i.e.vectors.Search(ec.txn, ec.ar, i.op.Label, vec, int(k), nil)
		if err != nil {
			return item{}, false, err
		}
		for _, hit := range hits {
			meta, data, err := i.e.vectors.Get(ec.txn, hit.ID)
			if err != nil {
				return item{}, false, err
			}
			i.results = append(i.results, item{
				kind: hql.CarrierVectors, vmeta: meta, vec: data, score: -hit.Distance,
			})
		}
	}
	if i.pos >= len(i.results) {
		return item{}, false, nil
	}
	out := i.results[i.pos]
	i.pos++
	return out, true, nil
}

func (i *vectorSearchIter) close() {}

type hybridIter struct {
	e       *Executor
	op      *hql.OpHybridSearch
	results []item
	started bool
	pos     int
}

func (i *hybridIter) next(ec *execCtx) (item, bool, error) {
	if !i.started {
		i.started = true
		vec, err := evalVector(ec, nil, i.op.Vec)
		if err != nil {
			return item{}, false, err
		}
		text, err := evalValue(ec, nil, i.op.Text)
		if err != nil {
			return item{}, false, err
		}
		if text.Kind != storage.KindString {
			return item{}, false, invalidArg("hybrid search text must be a String, got %v", text.Kind)
		}
		k, err := evalInt(ec, nil, i.op.K)
		if err != nil {
			return item{}, false, err
		}
		fused, err := search.Hybrid(ec.txn, ec.ar, i.e.vectors, i.e.text, i.op.Label,
			vec, text.Str, search.HybridOptions{K: int(k)})
		if err != nil {
			return item{}, false, err
		}
		for _, f := range fused {
			it, err := i.e.resolveHybridHit(ec, f)
			if err != nil {
				return item{}, false, err
			}
			if it != nil {
				i.results = append(i.results, *it)
			}
		}
	}
	if i.pos >= len(i.results) {
		return item{}, false, nil
	}
	out := i.results[i.pos]
	i.pos++
	return out, true, nil
}

func (i *hybridIter) close() {}

// resolveHybridHit maps a fused id to its item: a node when the id is a
// document/owner node, else the vector itself.
func (e *Executor) resolveHybridHit(ec *execCtx, f search.Fused) (*item, error) {
	node, err := e.graph.GetNode(ec.txn, f.ID)
	if err == nil {
		return &item{kind: hql.CarrierNodes, node: node, score: f.Score, ranks: f.Ranks}, nil
	}
	var nf *storage.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	meta, data, verr := e.vectors.Get(ec.txn, f.ID)
	if verr != nil {
		if errors.As(verr, &nf) {
			return nil, nil // fused id vanished mid-txn; skip
		}
		return nil, verr
	}
	return &item{kind: hql.CarrierVectors, vmeta: meta, vec: data, score: f.Score, ranks: f.Ranks}, nil
}

type varScanIter struct {
	name    string
	items   []item
	started bool
	pos     int
}

func (i *varScanIter) next(ec *execCtx) (item, bool, error) {
	if !i.started {
		i.started = true
		i.items = ec.vars[i.name]
	}
	if i.pos >= len(i.items) {
		return item{}, false, nil
	}
	out := i.items[i.pos]
	i.pos++
	return out, true, nil
}

func (i *varScanIter) close() {}

type embedSourceIter struct {
	e    *Executor
	op   *hql.OpEmbed
	done bool
}

func (i *embedSourceIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	text, err := evalValue(ec, nil, i.op.Text)
	if err != nil {
		return item{}, false, err
	}
	if text.Kind != storage.KindString {
		return item{}, false, invalidArg("Embed requires a String, got %v", text.Kind)
	}
	vec, err := i.e.embedText(ec, text.Str)
	if err != nil {
		return item{}, false, err
	}
	elems := make([]storage.Value, len(vec))
	for idx, f := range vec {
		elems[idx] = storage.FloatValue(f)
	}
	return item{kind: hql.CarrierScalar, scalar: storage.ListValue(elems), vec: vec}, true, nil
}

func (i *embedSourceIter) close() {}

// Hops.

// hopIter streams adjacency for each input item. Within one source node,
// neighbors come back in edge-id order straight off the prefix scan.
type hopIter struct {
	e       *Executor
	input   iter
	label   string
	out     bool
	toNodes bool

	adj *storage.AdjacencyIter
}

func (i *hopIter) next(ec *execCtx) (item, bool, error) {
	for {
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		if i.adj == nil {
			src, ok, err := i.input.next(ec)
			if err != nil || !ok {
				return item{}, false, err
			}
			id := src.id()
			if id.IsNil() {
				continue
			}
			if i.out {
				i.adj = i.e.graph.OutNeighbors(ec.txn, id, i.label)
			} else {
				i.adj = i.e.graph.InNeighbors(ec.txn, id, i.label)
			}
		}
		n, ok, err := i.adj.Next()
		if err != nil {
			return item{}, false, err
		}
		if !ok {
			i.adj.Close()
			i.adj = nil
			continue
		}
		if i.toNodes {
			node, err := i.e.graph.GetNode(ec.txn, n.Target)
			if err != nil {
				return item{}, false, err
			}
			return item{kind: hql.CarrierNodes, node: node}, true, nil
		}
		edge, err := i.e.graph.GetEdge(ec.txn, n.EdgeID)
		if err != nil {
			return item{}, false, err
		}
		return item{kind: hql.CarrierEdges, edge: edge}, true, nil
	}
}

func (i *hopIter) close() {
	if i.adj != nil {
		i.adj.Close()
	}
	i.input.close()
}

type endpointIter struct {
	e     *Executor
	input iter
	to    bool
}

func (i *endpointIter) next(ec *execCtx) (item, bool, error) {
	for {
		src, ok, err := i.input.next(ec)
		if err != nil || !ok {
			return item{}, false, err
		}
		if src.edge == nil {
			continue
		}
		id := src.edge.From
		if i.to {
			id = src.edge.To
		}
		node, err := i.e.graph.GetNode(ec.txn, id)
		if err != nil {
			return item{}, false, err
		}
		return item{kind: hql.CarrierNodes, node: node}, true, nil
	}
}

func (i *endpointIter) close() { i.input.close() }

// Filters and aggregators.

type whereIter struct {
	input iter
	cond  hql.ExprIR
}

func (i *whereIter) next(ec *execCtx) (item, bool, error) {
	for {
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		cur, ok, err := i.input.next(ec)
		if err != nil || !ok {
			return item{}, false, err
		}
		keep, err := evalBool(ec, &cur, i.cond)
		if err != nil {
			return item{}, false, err
		}
		if keep {
			return cur, true, nil
		}
	}
}

func (i *whereIter) close() { i.input.close() }

type countIter struct {
	input iter
	done  bool
}

func (i *countIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	var count int64
	for {
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		_, ok, err := i.input.next(ec)
		if err != nil {
			return item{}, false, err
		}
		if !ok {
			break
		}
		count++
	}
	return item{kind: hql.CarrierScalar, scalar: storage.IntValue(count)}, true, nil
}

func (i *countIter) close() { i.input.close() }

type orderByIter struct {
	input  iter
	op     *hql.OpOrderBy
	sorted []item
	done   bool
	pos    int
}

func (i *orderByIter) next(ec *execCtx) (item, bool, error) {
	if !i.done {
		i.done = true
		items, err := drain(ec, i.input)
		if err != nil {
			return item{}, false, err
		}
		keys := make([]storage.Value, len(items))
		for idx := range items {
			v, err := evalValue(ec, &items[idx], i.op.Expr)
			if err != nil {
				return item{}, false, err
			}
			keys[idx] = v
		}
		order := make([]int, len(items))
		for idx := range order {
			order[idx] = idx
		}
		// Stable sort; incomparable pairs keep their input order.
		sort.SliceStable(order, func(a, b int) bool {
			cmp, ok := keys[order[a]].Compare(keys[order[b]])
			if !ok {
				return false
			}
			if i.op.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
		i.sorted = make([]item, len(items))
		for idx, from := range order {
			i.sorted[idx] = items[from]
		}
	}
	if i.pos >= len(i.sorted) {
		return item{}, false, nil
	}
	out := i.sorted[i.pos]
	i.pos++
	return out, true, nil
}

func (i *orderByIter) close() {}

// rangeIter keeps input positions [lo, hi), dropping upstream iteration as
// soon as hi is reached.
type rangeIter struct {
	input    iter
	op       *hql.OpRange
	lo, hi   int64
	resolved bool
	pos      int64
	closed   bool
}

func (i *rangeIter) next(ec *execCtx) (item, bool, error) {
	if !i.resolved {
		i.resolved = true
		var err error
		if i.lo, err = evalInt(ec, nil, i.op.Lo); err != nil {
			return item{}, false, err
		}
		if i.hi, err = evalInt(ec, nil, i.op.Hi); err != nil {
			return item{}, false, err
		}
		if i.lo < 0 || i.hi < i.lo {
			return item{}, false, invalidArg("RANGE(%d, %d) is not a valid window", i.lo, i.hi)
		}
	}
	for {
		if i.closed || i.pos >= i.hi {
			if !i.closed {
				i.closed = true
				i.input.close()
			}
			return item{}, false, nil
		}
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		cur, ok, err := i.input.next(ec)
		if err != nil || !ok {
			return item{}, false, err
		}
		i.pos++
		if i.pos-1 < i.lo {
			continue
		}
		return cur, true, nil
	}
}

func (i *rangeIter) close() {
	if !i.closed {
		i.closed = true
		i.input.close()
	}
}

type rerankRRFIter struct {
	input  iter
	op     *hql.OpRerankRRF
	sorted []item
	done   bool
	pos    int
}

func (i *rerankRRFIter) next(ec *execCtx) (item, bool, error) {
	if !i.done {
		i.done = true
		items, err := drain(ec, i.input)
		if err != nil {
			return item{}, false, err
		}
		k := search.DefaultRRFK
		if i.op.K != nil {
			kVal, err := evalInt(ec, nil, i.op.K)
			if err != nil {
				return item{}, false, err
			}
			k = float64(kVal)
		}
		// Re-fuse by the per-list ranks the hybrid source recorded;
		// items without ranks fall back to their input position.
		score := func(it *item, pos int) float64 {
			if len(it.ranks) == 0 {
				return 1.0 / (k + float64(pos+1))
			}
			s := 0.0
			for _, r := range it.ranks {
				if r > 0 {
					s += 1.0 / (k + float64(r))
				}
			}
			return s
		}
		scores := make([]float64, len(items))
		order := make([]int, len(items))
		for idx := range items {
			scores[idx] = score(&items[idx], idx)
			order[idx] = idx
		}
		sort.SliceStable(order, func(a, b int) bool {
			return scores[order[a]] > scores[order[b]]
		})
		i.sorted = make([]item, len(items))
		for idx, from := range order {
			i.sorted[idx] = items[from]
			i.sorted[idx].score = scores[from]
		}
	}
	if i.pos >= len(i.sorted) {
		return item{}, false, nil
	}
	out := i.sorted[i.pos]
	i.pos++
	return out, true, nil
}

func (i *rerankRRFIter) close() {}

type rerankMMRIter struct {
	e      *Executor
	input  iter
	op     *hql.OpRerankMMR
	sorted []item
	done   bool
	pos    int
}

func (i *rerankMMRIter) next(ec *execCtx) (item, bool, error) {
	if !i.done {
		i.done = true
		items, err := drain(ec, i.input)
		if err != nil {
			return item{}, false, err
		}
		lambdaVal, err := evalValue(ec, nil, i.op.Lambda)
		if err != nil {
			return item{}, false, err
		}
		lambda, ok := lambdaVal.AsFloat()
		if !ok {
			return item{}, false, invalidArg("RerankMMR lambda must be numeric")
		}
		// Relevance: recorded retrieval score when present, else input
		// position decaying.
		mmr := make([]search.MMRItem, len(items))
		for idx := range items {
			rel := items[idx].score
			if rel == 0 {
				rel = 1.0 / float64(idx+1)
			}
			mmr[idx] = search.MMRItem{
				ID:        items[idx].id(),
				Relevance: rel,
				Vector:    items[idx].vec,
			}
		}
		reranked := search.RerankMMR(lambda, mmr)
		byID := make(map[storage.ID]item, len(items))
		for _, it := range items {
			byID[it.id()] = it
		}
		i.sorted = make([]item, 0, len(reranked))
		for _, m := range reranked {
			i.sorted = append(i.sorted, byID[m.ID])
		}
	}
	if i.pos >= len(i.sorted) {
		return item{}, false, nil
	}
	out := i.sorted[i.pos]
	i.pos++
	return out, true, nil
}

func (i *rerankMMRIter) close() {}

// Projections.

type projectIter struct {
	input iter
	op    *hql.OpProject
}

func (i *projectIter) next(ec *execCtx) (item, bool, error) {
	cur, ok, err := i.input.next(ec)
	if err != nil || !ok {
		return item{}, false, err
	}
	row := make([]rowField, 0, len(i.op.Fields))
	for _, f := range i.op.Fields {
		var v storage.Value
		if f.Expr == nil {
			v, _ = cur.prop(f.Name)
		} else {
			v, err = evalValue(ec, &cur, f.Expr)
			if err != nil {
				return item{}, false, err
			}
		}
		row = append(row, rowField{name: f.Name, value: v})
	}
	return item{kind: hql.CarrierStruct, row: row}, true, nil
}

func (i *projectIter) close() { i.input.close() }

// Mutations.

func (e *Executor) evalProps(ec *execCtx, fields []hql.ProjField) (storage.Properties, error) {
	props := make(storage.Properties, len(fields))
	for _, f := range fields {
		v, err := evalValue(ec, nil, f.Expr)
		if err != nil {
			return nil, err
		}
		props[f.Name] = v
	}
	return props, nil
}

type addNodeIter struct {
	e    *Executor
	op   *hql.OpAddNode
	done bool
}

func (i *addNodeIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	props, err := i.e.evalProps(ec, i.op.Fields)
	if err != nil {
		return item{}, false, err
	}
	id, err := i.e.graph.AddNode(ec.txn, i.op.Label, props)
	if err != nil {
		return item{}, false, err
	}
	node, err := i.e.graph.GetNode(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	return item{kind: hql.CarrierNodes, node: node}, true, nil
}

func (i *addNodeIter) close() {}

type addEdgeIter struct {
	e    *Executor
	op   *hql.OpAddEdge
	done bool
}

func (i *addEdgeIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	from, err := evalID(ec, nil, i.op.From)
	if err != nil {
		return item{}, false, err
	}
	to, err := evalID(ec, nil, i.op.To)
	if err != nil {
		return item{}, false, err
	}
	props, err := i.e.evalProps(ec, i.op.Fields)
	if err != nil {
		return item{}, false, err
	}
	id, err := i.e.graph.AddEdge(ec.txn, i.op.Label, from, to, props)
	if err != nil {
		return item{}, false, err
	}
	edge, err := i.e.graph.GetEdge(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	return item{kind: hql.CarrierEdges, edge: edge}, true, nil
}

func (i *addEdgeIter) close() {}

type addVectorIter struct {
	e    *Executor
	op   *hql.OpAddVector
	done bool
}

func (i *addVectorIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	data, err := evalVector(ec, nil, i.op.Data)
	if err != nil {
		return item{}, false, err
	}
	props, err := i.e.evalProps(ec, i.op.Fields)
	if err != nil {
		return item{}, false, err
	}
	owner := storage.NilID
	if i.op.Owner != nil {
		owner, err = evalID(ec, nil, i.op.Owner)
		if err != nil {
			return item{}, false, err
		}
	}
	id, err := i.e.vectors.Insert(ec.txn, i.op.Label, data, props, owner)
	if err != nil {
		return item{}, false, err
	}
	meta, vec, err := i.e.vectors.Get(ec.txn, id)
	if err != nil {
		return item{}, false, err
	}
	return item{kind: hql.CarrierVectors, vmeta: meta, vec: vec}, true, nil
}

func (i *addVectorIter) close() {}

type updateIter struct {
	e     *Executor
	input iter
	op    *hql.OpUpdate
}

func (i *updateIter) next(ec *execCtx) (item, bool, error) {
	for {
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		cur, ok, err := i.input.next(ec)
		if err != nil || !ok {
			return item{}, false, err
		}
		if cur.node == nil {
			continue
		}
		patch := make(storage.Properties, len(i.op.Fields))
		for _, f := range i.op.Fields {
			v, err := evalValue(ec, &cur, f.Expr)
			if err != nil {
				return item{}, false, err
			}
			patch[f.Name] = v
		}
		if err := i.e.graph.UpdateNode(ec.txn, cur.node.ID, patch); err != nil {
			return item{}, false, err
		}
		node, err := i.e.graph.GetNode(ec.txn, cur.node.ID)
		if err != nil {
			return item{}, false, err
		}
		return item{kind: hql.CarrierNodes, node: node}, true, nil
	}
}

func (i *updateIter) close() { i.input.close() }

type dropIter struct {
	e       *Executor
	input   iter
	carrier hql.Carrier
	done    bool
}

func (i *dropIter) next(ec *execCtx) (item, bool, error) {
	if i.done {
		return item{}, false, nil
	}
	i.done = true
	// Materialize before mutating: dropping under an open prefix scan is
	// backend-dependent.
	items, err := drain(ec, i.input)
	i.input = nil
	if err != nil {
		return item{}, false, err
	}
	var dropped int64
	for _, cur := range items {
		if err := ec.checkAlive(); err != nil {
			return item{}, false, err
		}
		switch cur.kind {
		case hql.CarrierNodes:
			err = i.e.graph.DropNode(ec.txn, cur.node.ID)
		case hql.CarrierEdges:
			err = i.e.graph.DropEdge(ec.txn, cur.edge.ID)
		case hql.CarrierVectors:
			err = i.e.vectors.Delete(ec.txn, cur.vmeta.ID)
		default:
			continue
		}
		if err != nil {
			return item{}, false, err
		}
		dropped++
	}
	return item{kind: hql.CarrierScalar, scalar: storage.IntValue(dropped)}, true, nil
}

func (i *dropIter) close() {
	if i.input != nil {
		i.input.close()
	}
}
