// Package hql - operator IR.
//
// The analyzer lowers checked queries into a closed set of iterator-shaped
// operators. Each operator records the carrier type it produces; the
// executor trusts these and never re-checks.
package hql

import "github.com/helixdb/helix-go/pkg/storage"

// CarrierKind is the type flowing through a point in the pipeline.
type CarrierKind int

const (
	CarrierNodes CarrierKind = iota
	CarrierEdges
	CarrierVectors
	CarrierScalar
	CarrierStruct
)

func (c CarrierKind) String() string {
	switch c {
	case CarrierNodes:
		return "node-set"
	case CarrierEdges:
		return "edge-set"
	case CarrierVectors:
		return "vector-set"
	case CarrierScalar:
		return "scalar"
	case CarrierStruct:
		return "struct-set"
	}
	return "unknown"
}

// Carrier is a carrier kind plus the label it is statically known to hold,
// when single-labeled ("" otherwise).
type Carrier struct {
	Kind  CarrierKind
	Label string
}

// Op is one IR operator. Out is the carrier it produces.
type Op interface {
	opNode()
	Out() Carrier
}

// Sources.

// OpAllNodes scans every node of a label in id order.
type OpAllNodes struct{ Label string }

// OpNodeByID looks a node up by id.
type OpNodeByID struct {
	Label string
	ID    ExprIR
}

// OpAllEdges scans edges of a label.
type OpAllEdges struct{ Label string }

// OpEdgeByID looks an edge up by id.
type OpEdgeByID struct {
	Label string
	ID    ExprIR
}

// OpIndexLookup scans a secondary index cell; the label-filter/index
// pushdown rewrite produces it from AllNodes+Where.
type OpIndexLookup struct {
	Label string
	Field string
	Value ExprIR
}

// OpVectorByID looks a vector up by id.
type OpVectorByID struct {
	Label string
	ID    ExprIR
}

// OpVectorSearch is HNSW k-NN.
type OpVectorSearch struct {
	Label string
	Vec   ExprIR
	K     ExprIR
}

// OpHybridSearch is fused vector + BM25 retrieval.
type OpHybridSearch struct {
	Label string
	Vec   ExprIR
	Text  ExprIR
	K     ExprIR
}

// OpVarScan replays a bound variable's materialized result.
type OpVarScan struct {
	Name    string
	Carrier Carrier
}

// Hops.

// OpOut / OpIn hop node -> node over an edge label.
type OpOut struct {
	EdgeLabel string
	ToLabel   string
}
type OpIn struct {
	EdgeLabel string
	FromLabel string
}

// OpOutE / OpInE hop node -> edge.
type OpOutE struct{ EdgeLabel string }
type OpInE struct{ EdgeLabel string }

// OpEndpoint hops edge -> endpoint node (::FromV / ::ToV).
type OpEndpoint struct {
	To        bool
	NodeLabel string
}

// Filters.

// OpWhere keeps items satisfying the predicate.
type OpWhere struct {
	Cond    ExprIR
	Carrier Carrier
}

// Aggregators.

// OpCount reduces a set to its cardinality.
type OpCount struct{}

// OpOrderBy sorts (stably) by the expression.
type OpOrderBy struct {
	Expr    ExprIR
	Desc    bool
	Carrier Carrier
}

// OpRange keeps input positions [Lo, Hi).
type OpRange struct {
	Lo, Hi  ExprIR
	Carrier Carrier
}

// OpRerankRRF re-fuses hybrid results by reciprocal rank.
type OpRerankRRF struct {
	K       ExprIR // nil = default constant
	Carrier Carrier
}

// OpRerankMMR diversity-reranks vector results.
type OpRerankMMR struct {
	Lambda  ExprIR
	Carrier Carrier
}

// Projections.

// ProjField is one projected output field; Expr nil picks the named
// property of the current item.
type ProjField struct {
	Name string
	Expr ExprIR
}

// OpProject materializes only the requested fields.
type OpProject struct{ Fields []ProjField }

// Mutations.

// OpAddNode creates one node per evaluation.
type OpAddNode struct {
	Label  string
	Fields []ProjField
}

// OpAddEdge creates one edge.
type OpAddEdge struct {
	Label  string
	From   ExprIR
	To     ExprIR
	Fields []ProjField
}

// OpAddVector inserts one vector. Owner (optional) links it to a node.
type OpAddVector struct {
	Label  string
	Data   ExprIR
	Owner  ExprIR
	Fields []ProjField
}

// OpUpdate patches every item of the incoming node set.
type OpUpdate struct {
	Label  string
	Fields []ProjField
}

// OpDrop deletes every incoming entity.
type OpDrop struct{ Carrier Carrier }

// OpEmbed calls the embedding provider, producing a scalar float list.
type OpEmbed struct{ Text ExprIR }

func (*OpAllNodes) opNode()     {}
func (*OpNodeByID) opNode()     {}
func (*OpAllEdges) opNode()     {}
func (*OpEdgeByID) opNode()     {}
func (*OpIndexLookup) opNode()  {}
func (*OpVectorByID) opNode()   {}
func (*OpVectorSearch) opNode() {}
func (*OpHybridSearch) opNode() {}
func (*OpVarScan) opNode()      {}
func (*OpOut) opNode()          {}
func (*OpIn) opNode()           {}
func (*OpOutE) opNode()         {}
func (*OpInE) opNode()          {}
func (*OpEndpoint) opNode()     {}
func (*OpWhere) opNode()        {}
func (*OpCount) opNode()        {}
func (*OpOrderBy) opNode()      {}
func (*OpRange) opNode()        {}
func (*OpRerankRRF) opNode()    {}
func (*OpRerankMMR) opNode()    {}
func (*OpProject) opNode()      {}
func (*OpAddNode) opNode()      {}
func (*OpAddEdge) opNode()      {}
func (*OpAddVector) opNode()    {}
func (*OpUpdate) opNode()       {}
func (*OpDrop) opNode()         {}
func (*OpEmbed) opNode()        {}

func (o *OpAllNodes) Out() Carrier     { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpNodeByID) Out() Carrier     { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpAllEdges) Out() Carrier     { return Carrier{Kind: CarrierEdges, Label: o.Label} }
func (o *OpEdgeByID) Out() Carrier     { return Carrier{Kind: CarrierEdges, Label: o.Label} }
func (o *OpIndexLookup) Out() Carrier  { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpVectorByID) Out() Carrier   { return Carrier{Kind: CarrierVectors, Label: o.Label} }
func (o *OpVectorSearch) Out() Carrier { return Carrier{Kind: CarrierVectors, Label: o.Label} }
func (o *OpHybridSearch) Out() Carrier { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpVarScan) Out() Carrier      { return o.Carrier }
func (o *OpOut) Out() Carrier          { return Carrier{Kind: CarrierNodes, Label: o.ToLabel} }
func (o *OpIn) Out() Carrier           { return Carrier{Kind: CarrierNodes, Label: o.FromLabel} }
func (o *OpOutE) Out() Carrier         { return Carrier{Kind: CarrierEdges, Label: o.EdgeLabel} }
func (o *OpInE) Out() Carrier          { return Carrier{Kind: CarrierEdges, Label: o.EdgeLabel} }
func (o *OpEndpoint) Out() Carrier     { return Carrier{Kind: CarrierNodes, Label: o.NodeLabel} }
func (o *OpWhere) Out() Carrier        { return o.Carrier }
func (o *OpCount) Out() Carrier        { return Carrier{Kind: CarrierScalar} }
func (o *OpOrderBy) Out() Carrier      { return o.Carrier }
func (o *OpRange) Out() Carrier        { return o.Carrier }
func (o *OpRerankRRF) Out() Carrier    { return o.Carrier }
func (o *OpRerankMMR) Out() Carrier    { return o.Carrier }
func (o *OpProject) Out() Carrier      { return Carrier{Kind: CarrierStruct} }
func (o *OpAddNode) Out() Carrier      { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpAddEdge) Out() Carrier      { return Carrier{Kind: CarrierEdges, Label: o.Label} }
func (o *OpAddVector) Out() Carrier    { return Carrier{Kind: CarrierVectors, Label: o.Label} }
func (o *OpUpdate) Out() Carrier       { return Carrier{Kind: CarrierNodes, Label: o.Label} }
func (o *OpDrop) Out() Carrier         { return Carrier{Kind: CarrierScalar} }
func (o *OpEmbed) Out() Carrier        { return Carrier{Kind: CarrierScalar} }

// PipelineIR is a lowered pipeline: a source operator followed by chained
// operators, evaluated left to right.
type PipelineIR struct {
	Ops     []Op
	Carrier Carrier
}

// StmtIR is one lowered statement.
type StmtIR struct {
	Var      string // "" for unbound statements
	Pipeline *PipelineIR
}

// ReturnIR is one lowered RETURN column.
type ReturnIR struct {
	Name string
	Expr ExprIR
}

// ParamKind tags how a parameter binds.
type ParamKind int

const (
	ParamScalar ParamKind = iota
	ParamID
	ParamVector
)

// ParamIR is one checked parameter.
type ParamIR struct {
	Name string
	Kind ParamKind
	Type storage.Kind // for ParamScalar
}

// CompiledQuery is the registered, executable form of one QUERY.
type CompiledQuery struct {
	Name    string
	Params  []ParamIR
	Stmts   []StmtIR
	Returns []ReturnIR

	// Writes is true when any operator mutates; the executor opens the
	// transaction kind accordingly.
	Writes bool
}

// Expression IR. The executor evaluates these against the current item and
// the bound parameters/variables.

// ExprIR is a lowered expression.
type ExprIR interface{ exprIR() }

// LitIR is a constant.
type LitIR struct{ Value storage.Value }

// ParamRefIR reads a bound parameter.
type ParamRefIR struct{ Name string }

// VarRefIR reads a bound pipeline variable (its materialized items).
type VarRefIR struct {
	Name    string
	Carrier Carrier
}

// PropIR reads a property of the current item.
type PropIR struct {
	Field string
	Type  storage.Kind
}

// PropOfVarIR reads a property of the first item of a bound variable.
type PropOfVarIR struct {
	Var   string
	Field string
	Type  storage.Kind
}

// IDOfIR yields the current item's id.
type IDOfIR struct{}

// BinaryIR is an arithmetic/comparison/boolean operation.
type BinaryIR struct {
	Op   BinaryOp
	L, R ExprIR
}

// UnaryIR is negation or NOT.
type UnaryIR struct {
	Neg bool
	X   ExprIR
}

// ListIR builds a list value.
type ListIR struct{ Elems []ExprIR }

// ExistsIR evaluates a subpipeline and yields whether it produced any
// item; evaluation short-circuits after the first.
type ExistsIR struct{ Pipeline *PipelineIR }

// EmbedIR calls the embedding provider at run time.
type EmbedIR struct{ Text ExprIR }

// VecLitIR is a pre-folded float vector (ListLit of numeric literals).
type VecLitIR struct{ Data []float64 }

func (*LitIR) exprIR()       {}
func (*ParamRefIR) exprIR()  {}
func (*VarRefIR) exprIR()    {}
func (*PropIR) exprIR()      {}
func (*PropOfVarIR) exprIR() {}
func (*IDOfIR) exprIR()      {}
func (*BinaryIR) exprIR()    {}
func (*UnaryIR) exprIR()     {}
func (*ListIR) exprIR()      {}
func (*ExistsIR) exprIR()    {}
func (*EmbedIR) exprIR()     {}
func (*VecLitIR) exprIR()    {}
