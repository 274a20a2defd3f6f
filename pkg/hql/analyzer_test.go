package hql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaSrc = `
	N::User { INDEX email: String, name: String, age: I32 }
	N::Post { title: String, body: String }
	E::Knows { From: User, To: User, since: Date }
	E::Wrote { From: User, To: Post }
	V::Doc { Dim: 3, body: String }
`

func compileOK(t *testing.T, query string) *AnalysisResult {
	t.Helper()
	result, err := Compile(testSchemaSrc+query, nil)
	require.NoError(t, err)
	return result
}

func compileFatal(t *testing.T, query, wantSubstr string) {
	t.Helper()
	_, err := Compile(testSchemaSrc+query, nil)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	found := false
	for _, d := range ce.Diagnostics {
		if d.Severity == SeverityFatal {
			found = true
			if wantSubstr != "" {
				assert.Contains(t, d.Message, wantSubstr)
			}
			break
		}
	}
	assert.True(t, found, "expected a fatal diagnostic")
}

func TestSchemaMerging(t *testing.T) {
	result := compileOK(t, "")
	s := result.Schema
	require.Contains(t, s.Nodes, "User")
	assert.True(t, s.Nodes["User"].Fields["email"].Indexed)
	require.Contains(t, s.Edges, "Knows")
	assert.Equal(t, "User", s.Edges["Knows"].From)
	require.Contains(t, s.Vectors, "Doc")
	assert.Equal(t, 3, s.Vectors["Doc"].Dimension)
	assert.Equal(t, 16, s.Vectors["Doc"].HNSW.M)
}

func TestCarrierInferenceThroughHops(t *testing.T) {
	result := compileOK(t, `
		QUERY Titles(userId: ID) =>
		  posts <- N<User>(userId)::Out<Wrote>::{title}
		  RETURN posts
	`)
	require.Len(t, result.Queries, 1)
	q := result.Queries[0]
	require.Len(t, q.Stmts, 1)

	ops := q.Stmts[0].Pipeline.Ops
	require.Len(t, ops, 3)
	out := ops[1].(*OpOut)
	assert.Equal(t, "Post", out.ToLabel, "hop lands on the edge's To label")
	assert.Equal(t, CarrierStruct, q.Stmts[0].Pipeline.Carrier.Kind)
	assert.False(t, q.Writes)
}

func TestHopLegality(t *testing.T) {
	// Wrote starts at User, so hopping out of a Post via Wrote is illegal.
	compileFatal(t, `
		QUERY Bad(postId: ID) =>
		  x <- N<Post>(postId)::Out<Wrote>
		  RETURN x
	`, "starts at")

	// In-hop legality mirrors it: Knows ends at User, not Post.
	compileFatal(t, `
		QUERY Bad2(postId: ID) =>
		  x <- N<Post>(postId)::In<Knows>
		  RETURN x
	`, "ends at")
}

func TestUnknownLabelAndField(t *testing.T) {
	compileFatal(t, `
		QUERY Bad() =>
		  x <- N<Ghost>
		  RETURN x
	`, "unknown node label")

	compileFatal(t, `
		QUERY Bad2() =>
		  x <- N<User>::{nickname}
		  RETURN x
	`, `no field "nickname"`)

	compileFatal(t, `
		QUERY Bad3() =>
		  x <- N<User>::WHERE(salary > 3)
		  RETURN x
	`, "unknown identifier")
}

func TestMutationTypeChecking(t *testing.T) {
	compileFatal(t, `
		QUERY Bad() =>
		  u <- AddN<User>({age: "forty"})
		  RETURN u
	`, "expects I32")

	compileFatal(t, `
		QUERY Bad2() =>
		  u <- AddN<User>({nickname: "x"})
		  RETURN u
	`, `no field "nickname"`)
}

func TestAddEdgeRequiresEndpoints(t *testing.T) {
	compileFatal(t, `
		QUERY Bad(a: ID) =>
		  e <- AddE<Knows>::From(a)
		  RETURN e
	`, "requires both ::From and ::To")
}

func TestCountIsScalar(t *testing.T) {
	result := compileOK(t, `
		QUERY Total() =>
		  n <- N<User>::COUNT
		  RETURN n
	`)
	pipe := result.Queries[0].Stmts[0].Pipeline
	assert.Equal(t, CarrierScalar, pipe.Carrier.Kind)

	// COUNT of a scalar is illegal.
	compileFatal(t, `
		QUERY Bad() =>
		  n <- N<User>::COUNT::COUNT
		  RETURN n
	`, "requires a set carrier")
}

func TestWritesDetection(t *testing.T) {
	read := compileOK(t, `
		QUERY R() =>
		  u <- N<User>
		  RETURN u
	`)
	assert.False(t, read.Queries[0].Writes)

	write := compileOK(t, `
		QUERY W(name: String) =>
		  u <- AddN<User>({name: name})
		  RETURN u
	`)
	assert.True(t, write.Queries[0].Writes)

	drop := compileOK(t, `
		QUERY D(id: ID) =>
		  DROP N<User>(id)
		  RETURN 1
	`)
	assert.True(t, drop.Queries[0].Writes)
}

func TestIndexPushdown(t *testing.T) {
	result := compileOK(t, `
		QUERY ByEmail(email: String) =>
		  u <- N<User>({email: email})
		  RETURN u
	`)
	ops := result.Queries[0].Stmts[0].Pipeline.Ops
	require.Len(t, ops, 1, "AllNodes+Where collapses to one lookup")
	lookup := ops[0].(*OpIndexLookup)
	assert.Equal(t, "email", lookup.Field)

	// Non-indexed fields stay a scan + filter.
	result = compileOK(t, `
		QUERY ByName(name: String) =>
		  u <- N<User>({name: name})
		  RETURN u
	`)
	ops = result.Queries[0].Stmts[0].Pipeline.Ops
	require.Len(t, ops, 2)
	_, isScan := ops[0].(*OpAllNodes)
	_, isWhere := ops[1].(*OpWhere)
	assert.True(t, isScan)
	assert.True(t, isWhere)

	// Explicit WHERE on an indexed field also collapses.
	result = compileOK(t, `
		QUERY ByEmail2() =>
		  u <- N<User>::WHERE(email == "x@y")
		  RETURN u
	`)
	ops = result.Queries[0].Stmts[0].Pipeline.Ops
	require.Len(t, ops, 1)
	_, isLookup := ops[0].(*OpIndexLookup)
	assert.True(t, isLookup)
}

func TestConstantFolding(t *testing.T) {
	result := compileOK(t, `
		QUERY Folded() =>
		  u <- N<User>::RANGE(0, 2 + 3)
		  RETURN u
	`)
	ops := result.Queries[0].Stmts[0].Pipeline.Ops
	rng := ops[1].(*OpRange)
	hi := rng.Hi.(*LitIR)
	assert.EqualValues(t, 5, hi.Value.I)
}

func TestRedundantProjectionBeforeCount(t *testing.T) {
	result := compileOK(t, `
		QUERY C() =>
		  n <- N<User>::{name}::COUNT
		  RETURN n
	`)
	ops := result.Queries[0].Stmts[0].Pipeline.Ops
	require.Len(t, ops, 2, "projection feeding COUNT is eliminated")
	_, isCount := ops[1].(*OpCount)
	assert.True(t, isCount)
}

func TestDuplicateQueryAndVariable(t *testing.T) {
	compileFatal(t, `
		QUERY Dup() => RETURN 1
		QUERY Dup() => RETURN 2
	`, "duplicate query")

	compileFatal(t, `
		QUERY V() =>
		  x <- N<User>
		  x <- N<Post>
		  RETURN x
	`, "already bound")
}

func TestExistsCannotMutate(t *testing.T) {
	compileFatal(t, `
		QUERY Bad(name: String) =>
		  u <- N<User>::WHERE(EXISTS(AddN<User>({name: name})))
		  RETURN u
	`, "cannot mutate")
}

func TestVectorScanRequiresID(t *testing.T) {
	compileFatal(t, `
		QUERY Bad() =>
		  v <- V<Doc>
		  RETURN v
	`, "require an id")
}

func TestDropRequiresEntitySet(t *testing.T) {
	compileFatal(t, `
		QUERY Bad() =>
		  DROP N<User>::COUNT
		  RETURN 1
	`, "DROP requires")
}

func TestSchemaHashCollisionDiagnostic(t *testing.T) {
	// costarring/liquid collide under FNV-1a 32; if they do here, the
	// analyzer must refuse the schema.
	src := `
		N::costarring { x: String }
		N::liquid { y: String }
		QUERY Q() => RETURN 1
	`
	_, err := Compile(src, nil)
	if err == nil {
		t.Skip("hash pair does not collide under this FNV variant")
	}
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "collision")
}

func TestWarningsSurviveSuccess(t *testing.T) {
	result := compileOK(t, `
		QUERY Q() =>
		  u <- N<User>
		  RETURN u
	`)
	for _, d := range result.Diagnostics {
		assert.NotEqual(t, SeverityFatal, d.Severity)
	}
}
