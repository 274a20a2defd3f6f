// Package hql - semantic analyzer and lowering.
package hql

import (
	"fmt"
	"strings"

	"github.com/helixdb/helix-go/pkg/storage"
)

// AnalysisResult is a successful compilation: the merged schema, the
// lowered queries and any non-fatal diagnostics.
type AnalysisResult struct {
	Schema      *storage.Schema
	Queries     []*CompiledQuery
	Diagnostics []Diagnostic
}

// Analyze checks a parsed source unit against the existing schema registry
// (which may be empty), merges its declarations and lowers its queries to
// IR. A single fatal diagnostic fails the whole unit; compile errors never
// touch storage.
func Analyze(src *Source, base *storage.Schema) (*AnalysisResult, error) {
	a := &analyzer{}
	schema := mergeSchema(base, src, &a.diags)
	if err := schema.Validate(); err != nil {
		a.diags.fatalf(Span{Line: 1, Col: 1}, "%v", err)
	}
	a.schema = schema

	var queries []*CompiledQuery
	seen := make(map[string]bool)
	for i := range src.Queries {
		decl := &src.Queries[i]
		if seen[decl.Name] {
			a.diags.fatalf(decl.Span, "duplicate query %q", decl.Name)
			continue
		}
		seen[decl.Name] = true
		if q := a.analyzeQuery(decl); q != nil {
			queries = append(queries, q)
		}
	}

	if a.diags.hasFatal() {
		return nil, &CompileError{Diagnostics: a.diags.list}
	}
	return &AnalysisResult{Schema: schema, Queries: queries, Diagnostics: a.diags.list}, nil
}

// mergeSchema clones base and applies the unit's declarations.
func mergeSchema(base *storage.Schema, src *Source, diags *diagnostics) *storage.Schema {
	schema := storage.NewSchema()
	if base != nil {
		schema.Version = base.Version
		for k, v := range base.Nodes {
			schema.Nodes[k] = v
		}
		for k, v := range base.Edges {
			schema.Edges[k] = v
		}
		for k, v := range base.Vectors {
			schema.Vectors[k] = v
		}
	}

	fieldDefs := func(decls []FieldDecl) map[string]storage.FieldDef {
		out := make(map[string]storage.FieldDef, len(decls))
		for _, f := range decls {
			kind, ok := storage.KindFromName(f.TypeName)
			if !ok {
				diags.fatalf(f.Span, "unknown type %q", f.TypeName)
				continue
			}
			out[f.Name] = storage.FieldDef{
				Name: f.Name, Type: kind, TypeName: f.TypeName,
				Indexed: f.Indexed, Unique: f.Unique,
			}
		}
		return out
	}

	for _, decl := range src.Nodes {
		schema.Nodes[decl.Name] = storage.NodeDef{Label: decl.Name, Fields: fieldDefs(decl.Fields)}
	}
	for _, decl := range src.Edges {
		schema.Edges[decl.Name] = storage.EdgeDef{
			Label: decl.Name, From: decl.From, To: decl.To,
			Unique: decl.Unique, Fields: fieldDefs(decl.Fields),
		}
	}
	for _, decl := range src.Vectors {
		precision := storage.PrecisionF64
		switch decl.Precision {
		case "":
		case "F16":
			precision = storage.PrecisionF16
		case "F32":
			precision = storage.PrecisionF32
		case "F64":
			precision = storage.PrecisionF64
		default:
			diags.fatalf(decl.Span, "unknown precision %q", decl.Precision)
		}
		schema.Vectors[decl.Name] = storage.VectorDef{
			Label: decl.Name, Dimension: decl.Dim, Precision: precision,
			HNSW: storage.DefaultHNSWParams(), BM25: storage.DefaultBM25Params(),
			Fields: fieldDefs(decl.Fields),
		}
	}
	return schema
}

type analyzer struct {
	schema *storage.Schema
	diags  diagnostics
}

// queryScope tracks one query's parameters and bound variables.
type queryScope struct {
	params map[string]ParamIR
	vars   map[string]Carrier
}

func (a *analyzer) analyzeQuery(decl *QueryDecl) *CompiledQuery {
	q := &CompiledQuery{Name: decl.Name}
	scope := &queryScope{
		params: make(map[string]ParamIR),
		vars:   make(map[string]Carrier),
	}

	for _, p := range decl.Params {
		if _, dup := scope.params[p.Name]; dup {
			a.diags.fatalf(p.Span, "duplicate parameter %q", p.Name)
			continue
		}
		ir, ok := a.paramIR(p)
		if !ok {
			continue
		}
		scope.params[p.Name] = ir
		q.Params = append(q.Params, ir)
	}

	for _, stmt := range decl.Stmts {
		switch s := stmt.(type) {
		case *AssignStmt:
			pipe := a.lowerPipeline(s.Pipeline, scope, s.Span)
			if pipe == nil {
				return nil
			}
			if _, dup := scope.vars[s.Var]; dup {
				a.diags.fatalf(s.Span, "variable %q already bound", s.Var)
				return nil
			}
			if _, isParam := scope.params[s.Var]; isParam {
				a.diags.fatalf(s.Span, "variable %q shadows a parameter", s.Var)
				return nil
			}
			scope.vars[s.Var] = pipe.Carrier
			q.Stmts = append(q.Stmts, StmtIR{Var: s.Var, Pipeline: pipe})
		case *ExprStmt:
			pipe := a.lowerPipeline(s.Pipeline, scope, s.Span)
			if pipe == nil {
				return nil
			}
			q.Stmts = append(q.Stmts, StmtIR{Pipeline: pipe})
		case *DropStmt:
			pipe := a.lowerPipeline(s.Pipeline, scope, s.Span)
			if pipe == nil {
				return nil
			}
			switch pipe.Carrier.Kind {
			case CarrierNodes, CarrierEdges, CarrierVectors:
			default:
				a.diags.fatalf(s.Span, "DROP requires a node, edge or vector set, got %v", pipe.Carrier.Kind)
				return nil
			}
			pipe.Ops = append(pipe.Ops, &OpDrop{Carrier: pipe.Carrier})
			pipe.Carrier = Carrier{Kind: CarrierScalar}
			q.Stmts = append(q.Stmts, StmtIR{Pipeline: pipe})
		}
	}

	for _, item := range decl.Returns {
		expr, _ := a.lowerExpr(item.Expr, scope, Carrier{Kind: CarrierScalar}, false)
		if expr == nil {
			return nil
		}
		q.Returns = append(q.Returns, ReturnIR{Name: item.Name, Expr: expr})
	}

	q.Writes = queryWrites(q)
	return q
}

func (a *analyzer) paramIR(p Param) (ParamIR, bool) {
	switch {
	case p.TypeName == "ID":
		return ParamIR{Name: p.Name, Kind: ParamID}, true
	case strings.HasPrefix(p.TypeName, "["):
		return ParamIR{Name: p.Name, Kind: ParamVector}, true
	default:
		kind, ok := storage.KindFromName(p.TypeName)
		if !ok {
			a.diags.fatalf(p.Span, "unknown parameter type %q", p.TypeName)
			return ParamIR{}, false
		}
		return ParamIR{Name: p.Name, Kind: ParamScalar, Type: kind}, true
	}
}

func queryWrites(q *CompiledQuery) bool {
	for _, stmt := range q.Stmts {
		for _, op := range stmt.Pipeline.Ops {
			switch op.(type) {
			case *OpAddNode, *OpAddEdge, *OpAddVector, *OpUpdate, *OpDrop:
				return true
			}
		}
	}
	return false
}

// lowerPipeline checks and lowers one pipeline, returning nil after
// emitting a fatal diagnostic.
func (a *analyzer) lowerPipeline(pipe *Pipeline, scope *queryScope, span Span) *PipelineIR {
	out := &PipelineIR{}

	carrier, ok := a.lowerSource(pipe.Source, scope, out)
	if !ok {
		return nil
	}

	// AddE endpoint steps are consumed by the source operator.
	var addEdge *OpAddEdge
	if len(out.Ops) > 0 {
		addEdge, _ = out.Ops[len(out.Ops)-1].(*OpAddEdge)
	}

	for _, step := range pipe.Steps {
		switch s := step.(type) {
		case *FromStep:
			if addEdge == nil {
				a.diags.fatalf(s.Span, "::From is only valid on AddE")
				return nil
			}
			expr, _ := a.lowerExpr(s.Expr, scope, carrier, false)
			if expr == nil {
				return nil
			}
			addEdge.From = expr
			continue
		case *ToStep:
			if addEdge == nil {
				a.diags.fatalf(s.Span, "::To is only valid on AddE")
				return nil
			}
			expr, _ := a.lowerExpr(s.Expr, scope, carrier, false)
			if expr == nil {
				return nil
			}
			addEdge.To = expr
			continue
		}

		next, ok := a.lowerStep(step, carrier, scope, out)
		if !ok {
			return nil
		}
		carrier = next
	}

	if addEdge != nil && (addEdge.From == nil || addEdge.To == nil) {
		a.diags.fatalf(span, "AddE<%s> requires both ::From and ::To", addEdge.Label)
		return nil
	}

	out.Carrier = carrier
	a.rewrite(out)
	return out
}

func (a *analyzer) lowerSource(src SourceExpr, scope *queryScope, out *PipelineIR) (Carrier, bool) {
	switch s := src.(type) {
	case *ScanSource:
		return a.lowerScan(s, scope, out)

	case *AddNSource:
		def, ok := a.schema.Nodes[s.Label]
		if !ok {
			a.diags.fatalf(s.Span, "unknown node label %q", s.Label)
			return Carrier{}, false
		}
		fields, ok := a.lowerFieldInits(s.Fields, def.Fields, s.Label, scope)
		if !ok {
			return Carrier{}, false
		}
		op := &OpAddNode{Label: s.Label, Fields: fields}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *AddESource:
		def, ok := a.schema.Edges[s.Label]
		if !ok {
			a.diags.fatalf(s.Span, "unknown edge label %q", s.Label)
			return Carrier{}, false
		}
		fields, ok := a.lowerFieldInits(s.Fields, def.Fields, s.Label, scope)
		if !ok {
			return Carrier{}, false
		}
		op := &OpAddEdge{Label: s.Label, Fields: fields}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *AddVSource:
		def, ok := a.schema.Vectors[s.Label]
		if !ok {
			a.diags.fatalf(s.Span, "unknown vector label %q", s.Label)
			return Carrier{}, false
		}
		data, _ := a.lowerExpr(s.Data, scope, Carrier{Kind: CarrierScalar}, false)
		if data == nil {
			return Carrier{}, false
		}
		var owner ExprIR
		if s.Owner != nil {
			owner, _ = a.lowerExpr(s.Owner, scope, Carrier{Kind: CarrierScalar}, false)
			if owner == nil {
				return Carrier{}, false
			}
		}
		fields, ok := a.lowerFieldInits(s.Fields, def.Fields, s.Label, scope)
		if !ok {
			return Carrier{}, false
		}
		op := &OpAddVector{Label: s.Label, Data: data, Owner: owner, Fields: fields}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *SearchVSource:
		if _, ok := a.schema.Vectors[s.Label]; !ok {
			a.diags.fatalf(s.Span, "unknown vector label %q", s.Label)
			return Carrier{}, false
		}
		vec, _ := a.lowerExpr(s.Vec, scope, Carrier{Kind: CarrierScalar}, false)
		k, _ := a.lowerExpr(s.K, scope, Carrier{Kind: CarrierScalar}, false)
		if vec == nil || k == nil {
			return Carrier{}, false
		}
		op := &OpVectorSearch{Label: s.Label, Vec: vec, K: k}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *HybridSource:
		if _, ok := a.schema.Vectors[s.Label]; !ok {
			a.diags.fatalf(s.Span, "unknown vector label %q", s.Label)
			return Carrier{}, false
		}
		vec, _ := a.lowerExpr(s.Vec, scope, Carrier{Kind: CarrierScalar}, false)
		text, _ := a.lowerExpr(s.Text, scope, Carrier{Kind: CarrierScalar}, false)
		k, _ := a.lowerExpr(s.K, scope, Carrier{Kind: CarrierScalar}, false)
		if vec == nil || text == nil || k == nil {
			return Carrier{}, false
		}
		op := &OpHybridSearch{Label: s.Label, Vec: vec, Text: text, K: k}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *EmbedSource:
		text, _ := a.lowerExpr(s.Text, scope, Carrier{Kind: CarrierScalar}, false)
		if text == nil {
			return Carrier{}, false
		}
		op := &OpEmbed{Text: text}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *VarSource:
		carrier, ok := scope.vars[s.Name]
		if !ok {
			a.diags.fatalf(s.Span, "unknown variable %q", s.Name)
			return Carrier{}, false
		}
		out.Ops = append(out.Ops, &OpVarScan{Name: s.Name, Carrier: carrier})
		return carrier, true
	}
	return Carrier{}, false
}

func (a *analyzer) lowerScan(s *ScanSource, scope *queryScope, out *PipelineIR) (Carrier, bool) {
	switch s.Kind {
	case EntityNode:
		def, ok := a.schema.Nodes[s.Label]
		if !ok {
			a.diags.fatalf(s.Span, "unknown node label %q", s.Label)
			return Carrier{}, false
		}
		if s.IDExpr != nil {
			id, _ := a.lowerExpr(s.IDExpr, scope, Carrier{Kind: CarrierScalar}, false)
			if id == nil {
				return Carrier{}, false
			}
			op := &OpNodeByID{Label: s.Label, ID: id}
			out.Ops = append(out.Ops, op)
			return op.Out(), true
		}
		op := &OpAllNodes{Label: s.Label}
		out.Ops = append(out.Ops, op)
		carrier := op.Out()
		// Object filters become equality predicates; the rewrite pass
		// turns indexed ones into index lookups.
		for _, f := range s.Filter {
			fd, ok := def.Fields[f.Name]
			if !ok {
				a.diags.fatalf(f.Span, "node %q has no field %q", s.Label, f.Name)
				return Carrier{}, false
			}
			val, _ := a.lowerExpr(f.Expr, scope, carrier, false)
			if val == nil {
				return Carrier{}, false
			}
			out.Ops = append(out.Ops, &OpWhere{
				Cond: &BinaryIR{
					Op: OpEq,
					L:  &PropIR{Field: f.Name, Type: fd.Type},
					R:  val,
				},
				Carrier: carrier,
			})
		}
		return carrier, true

	case EntityEdge:
		if _, ok := a.schema.Edges[s.Label]; !ok {
			a.diags.fatalf(s.Span, "unknown edge label %q", s.Label)
			return Carrier{}, false
		}
		if len(s.Filter) > 0 {
			a.diags.fatalf(s.Span, "edge scans do not take object filters")
			return Carrier{}, false
		}
		if s.IDExpr != nil {
			id, _ := a.lowerExpr(s.IDExpr, scope, Carrier{Kind: CarrierScalar}, false)
			if id == nil {
				return Carrier{}, false
			}
			op := &OpEdgeByID{Label: s.Label, ID: id}
			out.Ops = append(out.Ops, op)
			return op.Out(), true
		}
		op := &OpAllEdges{Label: s.Label}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case EntityVector:
		if _, ok := a.schema.Vectors[s.Label]; !ok {
			a.diags.fatalf(s.Span, "unknown vector label %q", s.Label)
			return Carrier{}, false
		}
		if s.IDExpr == nil {
			a.diags.fatalf(s.Span, "vector scans require an id; use SearchV<%s>(vec, k) for k-NN", s.Label)
			return Carrier{}, false
		}
		id, _ := a.lowerExpr(s.IDExpr, scope, Carrier{Kind: CarrierScalar}, false)
		if id == nil {
			return Carrier{}, false
		}
		op := &OpVectorByID{Label: s.Label, ID: id}
		out.Ops = append(out.Ops, op)
		return op.Out(), true
	}
	return Carrier{}, false
}

func isSetCarrier(c Carrier) bool {
	switch c.Kind {
	case CarrierNodes, CarrierEdges, CarrierVectors, CarrierStruct:
		return true
	}
	return false
}

func (a *analyzer) lowerStep(step Step, carrier Carrier, scope *queryScope, out *PipelineIR) (Carrier, bool) {
	switch s := step.(type) {
	case *HopStep:
		def, ok := a.schema.Edges[s.Label]
		if !ok {
			a.diags.fatalf(s.Span, "unknown edge label %q", s.Label)
			return Carrier{}, false
		}
		if carrier.Kind != CarrierNodes {
			a.diags.fatalf(s.Span, "hops require a node-set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		switch s.Kind {
		case HopOut, HopOutE:
			if carrier.Label != "" && def.From != carrier.Label {
				a.diags.fatalf(s.Span, "edge %q starts at %q, not %q", s.Label, def.From, carrier.Label)
				return Carrier{}, false
			}
		case HopIn, HopInE:
			if carrier.Label != "" && def.To != carrier.Label {
				a.diags.fatalf(s.Span, "edge %q ends at %q, not %q", s.Label, def.To, carrier.Label)
				return Carrier{}, false
			}
		}
		var op Op
		switch s.Kind {
		case HopOut:
			op = &OpOut{EdgeLabel: s.Label, ToLabel: def.To}
		case HopIn:
			op = &OpIn{EdgeLabel: s.Label, FromLabel: def.From}
		case HopOutE:
			op = &OpOutE{EdgeLabel: s.Label}
		case HopInE:
			op = &OpInE{EdgeLabel: s.Label}
		}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *EndpointStep:
		if carrier.Kind != CarrierEdges {
			a.diags.fatalf(s.Span, "::FromV/::ToV require an edge-set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		nodeLabel := ""
		if carrier.Label != "" {
			def := a.schema.Edges[carrier.Label]
			if s.To {
				nodeLabel = def.To
			} else {
				nodeLabel = def.From
			}
		}
		op := &OpEndpoint{To: s.To, NodeLabel: nodeLabel}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *WhereStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "::WHERE requires a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		cond, _ := a.lowerExpr(s.Cond, scope, carrier, true)
		if cond == nil {
			return Carrier{}, false
		}
		op := &OpWhere{Cond: cond, Carrier: carrier}
		out.Ops = append(out.Ops, op)
		return carrier, true

	case *RangeStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "::RANGE requires a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		lo, _ := a.lowerExpr(s.Lo, scope, carrier, false)
		hi, _ := a.lowerExpr(s.Hi, scope, carrier, false)
		if lo == nil || hi == nil {
			return Carrier{}, false
		}
		op := &OpRange{Lo: lo, Hi: hi, Carrier: carrier}
		out.Ops = append(out.Ops, op)
		return carrier, true

	case *OrderStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "::ORDER requires a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		expr, _ := a.lowerExpr(s.Expr, scope, carrier, true)
		if expr == nil {
			return Carrier{}, false
		}
		op := &OpOrderBy{Expr: expr, Desc: s.Desc, Carrier: carrier}
		out.Ops = append(out.Ops, op)
		return carrier, true

	case *CountStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "::COUNT requires a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		op := &OpCount{}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *ProjectStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "projections require a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		fields := make([]ProjField, 0, len(s.Fields))
		for _, f := range s.Fields {
			if f.Expr == nil {
				if !a.checkFieldExists(carrier, f.Name, f.Span) {
					return Carrier{}, false
				}
				fields = append(fields, ProjField{Name: f.Name})
				continue
			}
			expr, _ := a.lowerExpr(f.Expr, scope, carrier, true)
			if expr == nil {
				return Carrier{}, false
			}
			fields = append(fields, ProjField{Name: f.Name, Expr: expr})
		}
		op := &OpProject{Fields: fields}
		out.Ops = append(out.Ops, op)
		return op.Out(), true

	case *UpdateStep:
		if carrier.Kind != CarrierNodes {
			a.diags.fatalf(s.Span, "::UPDATE requires a node-set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		var defFields map[string]storage.FieldDef
		if carrier.Label != "" {
			defFields = a.schema.Nodes[carrier.Label].Fields
		}
		fields, ok := a.lowerFieldInits(s.Fields, defFields, carrier.Label, scope)
		if !ok {
			return Carrier{}, false
		}
		op := &OpUpdate{Label: carrier.Label, Fields: fields}
		out.Ops = append(out.Ops, op)
		return carrier, true

	case *RerankRRFStep:
		if !isSetCarrier(carrier) {
			a.diags.fatalf(s.Span, "::RerankRRF requires a set carrier, got %v", carrier.Kind)
			return Carrier{}, false
		}
		var k ExprIR
		if s.K != nil {
			k, _ = a.lowerExpr(s.K, scope, carrier, false)
			if k == nil {
				return Carrier{}, false
			}
		}
		op := &OpRerankRRF{K: k, Carrier: carrier}
		out.Ops = append(out.Ops, op)
		return carrier, true

	case *RerankMMRStep:
		if carrier.Kind != CarrierVectors && carrier.Kind != CarrierNodes {
			a.diags.fatalf(s.Span, "::RerankMMR requires vector or hybrid results, got %v", carrier.Kind)
			return Carrier{}, false
		}
		lambda, _ := a.lowerExpr(s.Lambda, scope, carrier, false)
		if lambda == nil {
			return Carrier{}, false
		}
		op := &OpRerankMMR{Lambda: lambda, Carrier: carrier}
		out.Ops = append(out.Ops, op)
		return carrier, true
	}

	a.diags.fatalf(Span{}, "internal: unhandled step %T", step)
	return Carrier{}, false
}

// checkFieldExists verifies a projected field against the carrier's label.
func (a *analyzer) checkFieldExists(carrier Carrier, field string, span Span) bool {
	if field == "id" || carrier.Label == "" || carrier.Kind == CarrierStruct {
		return true
	}
	var fields map[string]storage.FieldDef
	switch carrier.Kind {
	case CarrierNodes:
		fields = a.schema.Nodes[carrier.Label].Fields
	case CarrierEdges:
		fields = a.schema.Edges[carrier.Label].Fields
	case CarrierVectors:
		if field == "score" || field == "distance" {
			return true
		}
		fields = a.schema.Vectors[carrier.Label].Fields
	default:
		return true
	}
	if _, ok := fields[field]; !ok {
		a.diags.fatalf(span, "%q has no field %q", carrier.Label, field)
		return false
	}
	return true
}

// lowerFieldInits checks an object literal against a field table.
func (a *analyzer) lowerFieldInits(inits []FieldInit, fields map[string]storage.FieldDef, label string, scope *queryScope) ([]ProjField, bool) {
	out := make([]ProjField, 0, len(inits))
	for _, f := range inits {
		if fields != nil {
			fd, ok := fields[f.Name]
			if !ok {
				a.diags.fatalf(f.Span, "%q has no field %q", label, f.Name)
				return nil, false
			}
			a.checkLiteralType(f.Expr, fd, f.Span)
		}
		expr, _ := a.lowerExpr(f.Expr, scope, Carrier{Kind: CarrierScalar}, false)
		if expr == nil {
			return nil, false
		}
		out = append(out, ProjField{Name: f.Name, Expr: expr})
	}
	return out, true
}

// checkLiteralType flags literal/field type mismatches at compile time;
// non-literal expressions are checked at run time by the storage layer.
func (a *analyzer) checkLiteralType(e Expr, fd storage.FieldDef, span Span) {
	lit := literalValue(e)
	if lit == nil {
		return
	}
	if _, err := lit.CoerceTo(fd.Type); err != nil {
		a.diags.fatalf(span, "field %q expects %s: %v", fd.Name, fd.TypeName, err)
	}
}

func literalValue(e Expr) *storage.Value {
	var v storage.Value
	switch t := e.(type) {
	case *StringLit:
		v = storage.StringValue(t.Value)
	case *IntLit:
		v = storage.IntValue(t.Value)
	case *FloatLit:
		v = storage.FloatValue(t.Value)
	case *BoolLit:
		v = storage.BoolValue(t.Value)
	default:
		return nil
	}
	return &v
}

// lowerExpr lowers an expression. itemCtx marks positions evaluated per
// item, where bare identifiers may resolve to properties of the current
// element; resolution order is parameter, variable, property.
func (a *analyzer) lowerExpr(e Expr, scope *queryScope, carrier Carrier, itemCtx bool) (ExprIR, storage.Kind) {
	switch t := e.(type) {
	case *StringLit:
		return &LitIR{Value: storage.StringValue(t.Value)}, storage.KindString
	case *IntLit:
		return &LitIR{Value: storage.IntValue(t.Value)}, storage.KindI64
	case *FloatLit:
		return &LitIR{Value: storage.FloatValue(t.Value)}, storage.KindF64
	case *BoolLit:
		return &LitIR{Value: storage.BoolValue(t.Value)}, storage.KindBool

	case *ListLit:
		// All-numeric literal lists fold to vectors at compile time.
		floats := make([]float64, 0, len(t.Elems))
		allNumeric := true
		for _, elem := range t.Elems {
			switch lit := elem.(type) {
			case *IntLit:
				floats = append(floats, float64(lit.Value))
			case *FloatLit:
				floats = append(floats, lit.Value)
			default:
				allNumeric = false
			}
		}
		if allNumeric {
			return &VecLitIR{Data: floats}, storage.KindList
		}
		elems := make([]ExprIR, 0, len(t.Elems))
		for _, elem := range t.Elems {
			ir, _ := a.lowerExpr(elem, scope, carrier, itemCtx)
			if ir == nil {
				return nil, storage.KindNull
			}
			elems = append(elems, ir)
		}
		return &ListIR{Elems: elems}, storage.KindList

	case *Ident:
		if p, ok := scope.params[t.Name]; ok {
			return &ParamRefIR{Name: t.Name}, p.Type
		}
		if c, ok := scope.vars[t.Name]; ok {
			return &VarRefIR{Name: t.Name, Carrier: c}, storage.KindNull
		}
		if itemCtx {
			if t.Name == "id" {
				return &IDOfIR{}, storage.KindString
			}
			kind, known := a.fieldKind(carrier, t.Name)
			if !known {
				a.diags.fatalf(t.Span, "unknown identifier %q (not a parameter, variable or field of %s)", t.Name, describeCarrier(carrier))
				return nil, storage.KindNull
			}
			return &PropIR{Field: t.Name, Type: kind}, kind
		}
		a.diags.fatalf(t.Span, "unknown identifier %q", t.Name)
		return nil, storage.KindNull

	case *PropAccess:
		base, ok := t.Base.(*Ident)
		if !ok {
			a.diags.fatalf(t.Span, "property access requires a variable base")
			return nil, storage.KindNull
		}
		c, isVar := scope.vars[base.Name]
		if !isVar {
			a.diags.fatalf(base.Span, "unknown variable %q", base.Name)
			return nil, storage.KindNull
		}
		if t.Field == "id" {
			return &PropOfVarIR{Var: base.Name, Field: "id"}, storage.KindString
		}
		kind, known := a.fieldKind(c, t.Field)
		if !known {
			a.diags.fatalf(t.Span, "%s has no field %q", describeCarrier(c), t.Field)
			return nil, storage.KindNull
		}
		return &PropOfVarIR{Var: base.Name, Field: t.Field, Type: kind}, kind

	case *Binary:
		l, lk := a.lowerExpr(t.L, scope, carrier, itemCtx)
		r, rk := a.lowerExpr(t.R, scope, carrier, itemCtx)
		if l == nil || r == nil {
			return nil, storage.KindNull
		}
		a.checkBinaryKinds(t, lk, rk)
		ir := foldBinary(&BinaryIR{Op: t.Op, L: l, R: r})
		return ir, binaryResultKind(t.Op, lk)

	case *Unary:
		x, xk := a.lowerExpr(t.X, scope, carrier, itemCtx)
		if x == nil {
			return nil, storage.KindNull
		}
		return &UnaryIR{Neg: t.Neg, X: x}, xk

	case *Exists:
		pipe := a.lowerPipeline(t.Pipeline, scope, t.Span)
		if pipe == nil {
			return nil, storage.KindNull
		}
		for _, op := range pipe.Ops {
			switch op.(type) {
			case *OpAddNode, *OpAddEdge, *OpAddVector, *OpUpdate, *OpDrop:
				a.diags.fatalf(t.Span, "EXISTS subpipelines cannot mutate")
				return nil, storage.KindNull
			}
		}
		return &ExistsIR{Pipeline: pipe}, storage.KindBool

	case *EmbedExpr:
		text, _ := a.lowerExpr(t.Text, scope, carrier, itemCtx)
		if text == nil {
			return nil, storage.KindNull
		}
		return &EmbedIR{Text: text}, storage.KindList
	}

	a.diags.fatalf(Span{}, "internal: unhandled expression %T", e)
	return nil, storage.KindNull
}

func describeCarrier(c Carrier) string {
	if c.Label != "" {
		return fmt.Sprintf("%v of %q", c.Kind, c.Label)
	}
	return c.Kind.String()
}

// fieldKind resolves a property name against the carrier's label. Unknown
// labels accept any field (checked at run time); known labels are strict.
func (a *analyzer) fieldKind(c Carrier, field string) (storage.Kind, bool) {
	if c.Label == "" || c.Kind == CarrierStruct || c.Kind == CarrierScalar {
		return storage.KindNull, true
	}
	var fields map[string]storage.FieldDef
	switch c.Kind {
	case CarrierNodes:
		fields = a.schema.Nodes[c.Label].Fields
	case CarrierEdges:
		fields = a.schema.Edges[c.Label].Fields
	case CarrierVectors:
		if field == "score" || field == "distance" {
			return storage.KindF64, true
		}
		fields = a.schema.Vectors[c.Label].Fields
	}
	fd, ok := fields[field]
	if !ok {
		return storage.KindNull, false
	}
	return fd.Type, true
}

func (a *analyzer) checkBinaryKinds(b *Binary, lk, rk storage.Kind) {
	if lk == storage.KindNull || rk == storage.KindNull {
		return // unknown side, checked at run time
	}
	numeric := func(k storage.Kind) bool {
		return (k >= storage.KindI8 && k <= storage.KindU128) || k == storage.KindF32 || k == storage.KindF64
	}
	switch b.Op {
	case OpAdd, OpSub, OpMul, OpDiv:
		if !numeric(lk) || !numeric(rk) {
			a.diags.fatalf(b.Span, "arithmetic requires numeric operands, got %v and %v", lk, rk)
		}
	case OpLt, OpLte, OpGt, OpGte:
		comparable := (numeric(lk) && numeric(rk)) ||
			(lk == rk && (lk == storage.KindString || lk == storage.KindDate || lk == storage.KindBool))
		if !comparable {
			a.diags.fatalf(b.Span, "cannot order %v against %v", lk, rk)
		}
	case OpAnd, OpOr:
		if lk != storage.KindBool || rk != storage.KindBool {
			a.diags.fatalf(b.Span, "boolean operators require Boolean operands, got %v and %v", lk, rk)
		}
	}
}

func binaryResultKind(op BinaryOp, lk storage.Kind) storage.Kind {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return lk
	default:
		return storage.KindBool
	}
}

// foldBinary evaluates constant subtrees at compile time.
func foldBinary(b *BinaryIR) ExprIR {
	l, lok := b.L.(*LitIR)
	r, rok := b.R.(*LitIR)
	if !lok || !rok {
		return b
	}
	v, ok := evalConstBinary(b.Op, l.Value, r.Value)
	if !ok {
		return b
	}
	return &LitIR{Value: v}
}

func evalConstBinary(op BinaryOp, l, r storage.Value) (storage.Value, bool) {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		lf, lok := l.AsFloat()
		rf, rok := r.AsFloat()
		if !lok || !rok {
			return storage.Value{}, false
		}
		var out float64
		switch op {
		case OpAdd:
			out = lf + rf
		case OpSub:
			out = lf - rf
		case OpMul:
			out = lf * rf
		case OpDiv:
			if rf == 0 {
				return storage.Value{}, false
			}
			out = lf / rf
		}
		if l.IsInteger() && r.IsInteger() && op != OpDiv {
			return storage.IntValue(int64(out)), true
		}
		return storage.FloatValue(out), true
	case OpEq:
		return storage.BoolValue(l.Equal(r)), true
	case OpNeq:
		return storage.BoolValue(!l.Equal(r)), true
	case OpLt, OpLte, OpGt, OpGte:
		cmp, ok := l.Compare(r)
		if !ok {
			return storage.Value{}, false
		}
		switch op {
		case OpLt:
			return storage.BoolValue(cmp < 0), true
		case OpLte:
			return storage.BoolValue(cmp <= 0), true
		case OpGt:
			return storage.BoolValue(cmp > 0), true
		default:
			return storage.BoolValue(cmp >= 0), true
		}
	case OpAnd, OpOr:
		if l.Kind != storage.KindBool || r.Kind != storage.KindBool {
			return storage.Value{}, false
		}
		if op == OpAnd {
			return storage.BoolValue(l.B && r.B), true
		}
		return storage.BoolValue(l.B || r.B), true
	}
	return storage.Value{}, false
}

// rewrite applies the rule-based optimizations: index pushdown and
// redundant-projection elimination. (Constant folding happens during
// expression lowering.)
func (a *analyzer) rewrite(pipe *PipelineIR) {
	a.pushdownIndexLookups(pipe)
	a.dropRedundantProjections(pipe)
}

// pushdownIndexLookups turns AllNodes followed by an equality Where on an
// indexed field into a direct secondary-index lookup.
func (a *analyzer) pushdownIndexLookups(pipe *PipelineIR) {
	for i := 0; i+1 < len(pipe.Ops); i++ {
		scan, ok := pipe.Ops[i].(*OpAllNodes)
		if !ok {
			continue
		}
		where, ok := pipe.Ops[i+1].(*OpWhere)
		if !ok {
			continue
		}
		bin, ok := where.Cond.(*BinaryIR)
		if !ok || bin.Op != OpEq {
			continue
		}
		prop, ok := bin.L.(*PropIR)
		if !ok {
			continue
		}
		if propRefs(bin.R) {
			continue // value depends on the current item
		}
		fd, declared := a.schema.Nodes[scan.Label].Fields[prop.Field]
		if !declared || !fd.Indexed {
			continue
		}
		pipe.Ops[i] = &OpIndexLookup{Label: scan.Label, Field: prop.Field, Value: bin.R}
		pipe.Ops = append(pipe.Ops[:i+1], pipe.Ops[i+2:]...)
	}
}

// propRefs reports whether the expression reads the current item.
func propRefs(e ExprIR) bool {
	switch t := e.(type) {
	case *PropIR, *IDOfIR:
		return true
	case *BinaryIR:
		return propRefs(t.L) || propRefs(t.R)
	case *UnaryIR:
		return propRefs(t.X)
	case *ListIR:
		for _, elem := range t.Elems {
			if propRefs(elem) {
				return true
			}
		}
	case *EmbedIR:
		return propRefs(t.Text)
	}
	return false
}

// dropRedundantProjections removes a projection whose output is
// immediately discarded (followed by COUNT) or recomputed by a following
// projection of bare picks.
func (a *analyzer) dropRedundantProjections(pipe *PipelineIR) {
	for i := 0; i+1 < len(pipe.Ops); i++ {
		proj, ok := pipe.Ops[i].(*OpProject)
		if !ok {
			continue
		}
		switch next := pipe.Ops[i+1].(type) {
		case *OpCount:
			pipe.Ops = append(pipe.Ops[:i], pipe.Ops[i+1:]...)
			i--
		case *OpProject:
			if allBarePicks(proj) && picksSubset(next, proj) {
				pipe.Ops = append(pipe.Ops[:i], pipe.Ops[i+1:]...)
				i--
			}
		}
	}
}

func allBarePicks(p *OpProject) bool {
	for _, f := range p.Fields {
		if f.Expr != nil {
			return false
		}
	}
	return true
}

// picksSubset reports whether every field the later projection reads is a
// bare pick the earlier projection also carries.
func picksSubset(later, earlier *OpProject) bool {
	have := make(map[string]bool, len(earlier.Fields))
	for _, f := range earlier.Fields {
		have[f.Name] = true
	}
	for _, f := range later.Fields {
		if f.Expr != nil {
			return false
		}
		if !have[f.Name] {
			return false
		}
	}
	return true
}
