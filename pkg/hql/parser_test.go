package hql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaDecls(t *testing.T) {
	src, err := Parse(`
		// users and who they know
		N::User { INDEX email: String, name: String, age: I32 }
		E::Knows UNIQUE { From: User, To: User, since: Date }
		V::Doc { Dim: 3, Precision: F32, body: String }
	`)
	require.NoError(t, err)

	require.Len(t, src.Nodes, 1)
	user := src.Nodes[0]
	assert.Equal(t, "User", user.Name)
	require.Len(t, user.Fields, 3)
	assert.True(t, user.Fields[0].Indexed)
	assert.Equal(t, "email", user.Fields[0].Name)

	require.Len(t, src.Edges, 1)
	knows := src.Edges[0]
	assert.Equal(t, "User", knows.From)
	assert.Equal(t, "User", knows.To)
	assert.True(t, knows.Unique)
	require.Len(t, knows.Fields, 1)
	assert.Equal(t, "since", knows.Fields[0].Name)

	require.Len(t, src.Vectors, 1)
	assert.Equal(t, 3, src.Vectors[0].Dim)
	assert.Equal(t, "F32", src.Vectors[0].Precision)
}

func TestParseQuery(t *testing.T) {
	src, err := Parse(`
		QUERY FriendsOf(userId: ID) =>
		  user <- N<User>(userId)
		  friends <- user::Out<Knows>
		  RETURN friends
	`)
	require.NoError(t, err)
	require.Len(t, src.Queries, 1)

	q := src.Queries[0]
	assert.Equal(t, "FriendsOf", q.Name)
	require.Len(t, q.Params, 1)
	assert.Equal(t, "ID", q.Params[0].TypeName)
	require.Len(t, q.Stmts, 2)

	first := q.Stmts[0].(*AssignStmt)
	assert.Equal(t, "user", first.Var)
	scan := first.Pipeline.Source.(*ScanSource)
	assert.Equal(t, EntityNode, scan.Kind)
	assert.Equal(t, "User", scan.Label)
	assert.NotNil(t, scan.IDExpr)

	second := q.Stmts[1].(*AssignStmt)
	hop := second.Pipeline.Steps[0].(*HopStep)
	assert.Equal(t, HopOut, hop.Kind)
	assert.Equal(t, "Knows", hop.Label)

	require.Len(t, q.Returns, 1)
	assert.Equal(t, "friends", q.Returns[0].Name)
}

func TestParseObjectFilterAndMutations(t *testing.T) {
	src, err := Parse(`
		QUERY Wire(a: ID, b: ID) =>
		  u <- N<User>({email: "x@y"})
		  e <- AddE<Knows>({since: "2024-01-01"})::From(a)::To(b)
		  AddN<User>({name: "Zed", age: 3 + 4})
		  RETURN e
	`)
	require.NoError(t, err)
	q := src.Queries[0]

	scan := q.Stmts[0].(*AssignStmt).Pipeline.Source.(*ScanSource)
	require.Len(t, scan.Filter, 1)
	assert.Equal(t, "email", scan.Filter[0].Name)

	addE := q.Stmts[1].(*AssignStmt).Pipeline
	_, isAddE := addE.Source.(*AddESource)
	assert.True(t, isAddE)
	require.Len(t, addE.Steps, 2)
	_, isFrom := addE.Steps[0].(*FromStep)
	_, isTo := addE.Steps[1].(*ToStep)
	assert.True(t, isFrom)
	assert.True(t, isTo)

	addN := q.Stmts[2].(*ExprStmt).Pipeline.Source.(*AddNSource)
	require.Len(t, addN.Fields, 2)
	bin := addN.Fields[1].Expr.(*Binary)
	assert.Equal(t, OpAdd, bin.Op)
}

func TestParseSearchAndRerank(t *testing.T) {
	src, err := Parse(`
		QUERY Find(vec: [F64], text: String) =>
		  hits <- SearchHybrid<Doc>(vec, text, 10)::RerankRRF
		  near <- SearchV<Doc>([1, 0, 0], 2)::RerankMMR(0.7)
		  RETURN hits, near
	`)
	require.NoError(t, err)
	q := src.Queries[0]

	hybrid := q.Stmts[0].(*AssignStmt).Pipeline
	h := hybrid.Source.(*HybridSource)
	assert.Equal(t, "Doc", h.Label)
	_, isRRF := hybrid.Steps[0].(*RerankRRFStep)
	assert.True(t, isRRF)

	searchV := q.Stmts[1].(*AssignStmt).Pipeline
	sv := searchV.Source.(*SearchVSource)
	list := sv.Vec.(*ListLit)
	assert.Len(t, list.Elems, 3)
	mmr := searchV.Steps[0].(*RerankMMRStep)
	assert.InDelta(t, 0.7, mmr.Lambda.(*FloatLit).Value, 1e-9)
}

func TestParseFilterOrderProject(t *testing.T) {
	src, err := Parse(`
		QUERY Adults() =>
		  users <- N<User>::WHERE(age >= 18 AND name != "root")
		    ::ORDER<Desc>(age)::RANGE(0, 10)::{name, age}
		  total <- N<User>::COUNT
		  RETURN users, total
	`)
	require.NoError(t, err)
	q := src.Queries[0]

	steps := q.Stmts[0].(*AssignStmt).Pipeline.Steps
	require.Len(t, steps, 4)
	where := steps[0].(*WhereStep)
	cond := where.Cond.(*Binary)
	assert.Equal(t, OpAnd, cond.Op)

	order := steps[1].(*OrderStep)
	assert.True(t, order.Desc)

	_, isRange := steps[2].(*RangeStep)
	assert.True(t, isRange)

	proj := steps[3].(*ProjectStep)
	require.Len(t, proj.Fields, 2)
	assert.Nil(t, proj.Fields[0].Expr)

	count := q.Stmts[1].(*AssignStmt).Pipeline.Steps[0]
	_, isCount := count.(*CountStep)
	assert.True(t, isCount)
}

func TestParseDropAndExists(t *testing.T) {
	src, err := Parse(`
		QUERY Cleanup(userId: ID) =>
		  DROP N<User>(userId)
		  lonely <- N<User>::WHERE(NOT EXISTS(N<User>::Out<Knows>))
		  RETURN lonely
	`)
	require.NoError(t, err)
	q := src.Queries[0]

	_, isDrop := q.Stmts[0].(*DropStmt)
	assert.True(t, isDrop)

	where := q.Stmts[1].(*AssignStmt).Pipeline.Steps[0].(*WhereStep)
	not := where.Cond.(*Unary)
	_, isExists := not.X.(*Exists)
	assert.True(t, isExists)
}

func TestParseErrorsCarrySpans(t *testing.T) {
	_, err := Parse(`QUERY Broken( =>`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	require.NotEmpty(t, ce.Diagnostics)
	d := ce.Diagnostics[0]
	assert.Equal(t, SeverityFatal, d.Severity)
	assert.Equal(t, 1, d.Span.Line)
	assert.Greater(t, d.Span.Col, 1)
}

func TestReservedWordsRejected(t *testing.T) {
	_, err := Parse(`QUERY RETURN() => RETURN 1`)
	require.Error(t, err)

	_, err = Parse(`N::WHERE { x: String }`)
	require.Error(t, err)
}

func TestLineCommentsAndWhitespace(t *testing.T) {
	src, err := Parse("QUERY A()=>x<-N<User>//trailing\nRETURN x")
	require.NoError(t, err)
	require.Len(t, src.Queries, 1)
	assert.Len(t, src.Queries[0].Stmts, 1)
}

func TestNamedReturnColumns(t *testing.T) {
	src, err := Parse(`
		QUERY Stats() =>
		  n <- N<User>::COUNT
		  RETURN total: n, n
	`)
	require.NoError(t, err)
	returns := src.Queries[0].Returns
	require.Len(t, returns, 2)
	assert.Equal(t, "total", returns[0].Name)
	assert.Equal(t, "n", returns[1].Name)
}
