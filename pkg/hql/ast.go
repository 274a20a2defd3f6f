// Package hql provides the HelixQL compiler: lexer, parser, semantic
// analyzer and the operator IR the traversal executor runs.
//
// A source unit contains schema declarations and queries:
//
//	N::User { INDEX email: String, name: String, age: I32 }
//	E::Knows { From: User, To: User, since: Date }
//	V::Doc   { Dim: 768, body: String }
//
//	QUERY FriendsOf(id: ID) =>
//	  friends <- N<User>(id)::Out<Knows>
//	  RETURN friends
//
// Compilation is parse -> analyze -> lower. The analyzer resolves labels
// and fields against the schema registry, infers the carrier type flowing
// through every pipeline stage, and rejects illegal operator applications
// with span-carrying diagnostics. A single fatal diagnostic prevents
// registration of the whole unit.
package hql

// Span locates a token or construct in the source text.
type Span struct {
	Start int // byte offset, inclusive
	End   int // byte offset, exclusive
	Line  int // 1-based
	Col   int // 1-based rune column
}

// Source is a parsed compilation unit.
type Source struct {
	Nodes   []NodeDecl
	Edges   []EdgeDecl
	Vectors []VectorDecl
	Queries []QueryDecl
}

// FieldDecl is one schema field.
type FieldDecl struct {
	Name     string
	TypeName string
	Indexed  bool
	Unique   bool
	Span     Span
}

// NodeDecl declares a node label.
type NodeDecl struct {
	Name   string
	Fields []FieldDecl
	Span   Span
}

// EdgeDecl declares an edge label.
type EdgeDecl struct {
	Name   string
	From   string
	To     string
	Unique bool
	Fields []FieldDecl
	Span   Span
}

// VectorDecl declares a vector label.
type VectorDecl struct {
	Name      string
	Dim       int
	Precision string // "", "F16", "F32", "F64"
	Fields    []FieldDecl
	Span      Span
}

// Param is one query parameter.
type Param struct {
	Name     string
	TypeName string
	Span     Span
}

// ReturnItem is one RETURN expression with its output name.
type ReturnItem struct {
	Name string
	Expr Expr
	Span Span
}

// QueryDecl is one QUERY declaration.
type QueryDecl struct {
	Name    string
	Params  []Param
	Stmts   []Stmt
	Returns []ReturnItem
	Span    Span
}

// Stmt is a statement in a query body.
type Stmt interface{ stmtNode() }

// AssignStmt binds a pipeline's result to a variable.
type AssignStmt struct {
	Var      string
	Pipeline *Pipeline
	Span     Span
}

// ExprStmt evaluates a pipeline for its side effects.
type ExprStmt struct {
	Pipeline *Pipeline
	Span     Span
}

// DropStmt deletes the entities produced by a pipeline.
type DropStmt struct {
	Pipeline *Pipeline
	Span     Span
}

func (*AssignStmt) stmtNode() {}
func (*ExprStmt) stmtNode()   {}
func (*DropStmt) stmtNode()   {}

// Pipeline is a source followed by chained steps.
type Pipeline struct {
	Source SourceExpr
	Steps  []Step
	Span   Span
}

// SourceExpr starts a pipeline.
type SourceExpr interface{ sourceNode() }

// FieldInit is one field of an object literal.
type FieldInit struct {
	Name string
	Expr Expr
	Span Span
}

// ScanSource is N<Label>, E<Label> or V<Label>, optionally narrowed by an
// id expression or an object filter.
type ScanSource struct {
	Kind   EntityKind // node, edge, vector
	Label  string     // empty when no label is written; the analyzer rejects an empty label as unknown
	IDExpr Expr       // non-nil: lookup by id
	Filter []FieldInit
	Span   Span
}

// EntityKind tags the entity class of a scan.
type EntityKind int

const (
	EntityNode EntityKind = iota
	EntityEdge
	EntityVector
)

// AddNSource creates a node.
type AddNSource struct {
	Label  string
	Fields []FieldInit
	Span   Span
}

// AddESource creates an edge; endpoints arrive via ::From / ::To steps.
type AddESource struct {
	Label  string
	Fields []FieldInit
	Span   Span
}

// AddVSource inserts a vector. Owner optionally links it to the node that
// carries it, so drop cascades tombstone it and hybrid search fuses on the
// node id.
type AddVSource struct {
	Label  string
	Data   Expr
	Owner  Expr
	Fields []FieldInit
	Span   Span
}

// SearchVSource is vector k-NN.
type SearchVSource struct {
	Label string
	Vec   Expr
	K     Expr
	Span  Span
}

// HybridSource is combined vector + BM25 retrieval.
type HybridSource struct {
	Label string
	Vec   Expr
	Text  Expr
	K     Expr
	Span  Span
}

// EmbedSource calls the embedding provider.
type EmbedSource struct {
	Text Expr
	Span Span
}

// VarSource references a bound variable.
type VarSource struct {
	Name string
	Span Span
}

func (*ScanSource) sourceNode()   {}
func (*AddNSource) sourceNode()   {}
func (*AddESource) sourceNode()   {}
func (*AddVSource) sourceNode()   {}
func (*SearchVSource) sourceNode() {}
func (*HybridSource) sourceNode() {}
func (*EmbedSource) sourceNode()  {}
func (*VarSource) sourceNode()    {}

// Step is one chained pipeline operation.
type Step interface{ stepNode() }

// HopKind selects the traversal direction and whether the hop lands on
// nodes or edges.
type HopKind int

const (
	HopOut HopKind = iota
	HopIn
	HopOutE
	HopInE
)

// HopStep is ::Out<L>, ::In<L>, ::OutE<L> or ::InE<L>.
type HopStep struct {
	Kind  HopKind
	Label string
	Span  Span
}

// EndpointStep is ::FromV or ::ToV, hopping from an edge to an endpoint.
type EndpointStep struct {
	To   bool // true = ::ToV
	Span Span
}

// WhereStep filters by predicate.
type WhereStep struct {
	Cond Expr
	Span Span
}

// RangeStep is ::RANGE(a, b): keep input positions [a, b).
type RangeStep struct {
	Lo   Expr
	Hi   Expr
	Span Span
}

// OrderStep is ::ORDER<Asc|Desc>(expr).
type OrderStep struct {
	Desc bool
	Expr Expr
	Span Span
}

// CountStep is ::COUNT.
type CountStep struct{ Span Span }

// ProjectStep is ::{a, b, c} or ::{a, total: expr}.
type ProjectStep struct {
	Fields []FieldInit // Expr nil = pick the named field
	Span   Span
}

// FromStep / ToStep set AddE endpoints.
type FromStep struct {
	Expr Expr
	Span Span
}
type ToStep struct {
	Expr Expr
	Span Span
}

// UpdateStep is ::UPDATE({...}).
type UpdateStep struct {
	Fields []FieldInit
	Span   Span
}

// RerankRRFStep is ::RerankRRF(k?).
type RerankRRFStep struct {
	K    Expr // nil = default constant
	Span Span
}

// RerankMMRStep is ::RerankMMR(lambda).
type RerankMMRStep struct {
	Lambda Expr
	Span   Span
}

func (*HopStep) stepNode()       {}
func (*EndpointStep) stepNode()  {}
func (*WhereStep) stepNode()     {}
func (*RangeStep) stepNode()     {}
func (*OrderStep) stepNode()     {}
func (*CountStep) stepNode()     {}
func (*ProjectStep) stepNode()   {}
func (*FromStep) stepNode()      {}
func (*ToStep) stepNode()        {}
func (*UpdateStep) stepNode()    {}
func (*RerankRRFStep) stepNode() {}
func (*RerankMMRStep) stepNode() {}

// Expr is an expression.
type Expr interface{ exprNode() }

// StringLit, IntLit, FloatLit, BoolLit are literals.
type StringLit struct {
	Value string
	Span  Span
}
type IntLit struct {
	Value int64
	Span  Span
}
type FloatLit struct {
	Value float64
	Span  Span
}
type BoolLit struct {
	Value bool
	Span  Span
}

// ListLit is [e1, e2, ...], used for inline vectors.
type ListLit struct {
	Elems []Expr
	Span  Span
}

// Ident references a parameter, a bound variable, or - inside WHERE and
// projections - a property of the current element. Resolution order is
// param, variable, property.
type Ident struct {
	Name string
	Span Span
}

// PropAccess is base.field.
type PropAccess struct {
	Base  Expr
	Field string
	Span  Span
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

// Binary is a binary operation.
type Binary struct {
	Op   BinaryOp
	L, R Expr
	Span Span
}

// Unary is NOT or negation.
type Unary struct {
	Neg  bool // true: -x, false: NOT x
	X    Expr
	Span Span
}

// Exists is EXISTS(pipeline).
type Exists struct {
	Pipeline *Pipeline
	Span     Span
}

// EmbedExpr is Embed(text) in expression position.
type EmbedExpr struct {
	Text Expr
	Span Span
}

func (*StringLit) exprNode()  {}
func (*IntLit) exprNode()     {}
func (*FloatLit) exprNode()   {}
func (*BoolLit) exprNode()    {}
func (*ListLit) exprNode()    {}
func (*Ident) exprNode()      {}
func (*PropAccess) exprNode() {}
func (*Binary) exprNode()     {}
func (*Unary) exprNode()      {}
func (*Exists) exprNode()     {}
func (*EmbedExpr) exprNode()  {}
