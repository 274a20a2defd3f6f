package helix

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix-go/pkg/config"
	"github.com/helixdb/helix-go/pkg/embed"
	"github.com/helixdb/helix-go/pkg/executor"
	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/storage"
)

func memDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	db, err := Open("", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func diskDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// run executes a query and decodes its framed JSON result.
func run(t *testing.T, db *DB, query, params string) map[string]any {
	t.Helper()
	out, err := db.Execute(context.Background(), query, []byte(params))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(executor.Unframe(out), &decoded))
	return decoded
}

func compile(t *testing.T, db *DB, src string) {
	t.Helper()
	_, err := db.Compile(src)
	require.NoError(t, err)
}

const socialSchema = `
	N::User { INDEX UNIQUE email: String, name: String, age: I32 }
	E::Knows { From: User, To: User }
	E::SpouseOf UNIQUE { From: User, To: User }

	QUERY AddUser(name: String, email: String) =>
	  u <- AddN<User>({name: name, email: email})
	  RETURN u

	QUERY Link(a: ID, b: ID) =>
	  e <- AddE<Knows>::From(a)::To(b)
	  RETURN e

	QUERY Marry(a: ID, b: ID) =>
	  e <- AddE<SpouseOf>::From(a)::To(b)
	  RETURN e

	QUERY FriendsOf(id: ID) =>
	  friends <- N<User>(id)::Out<Knows>
	  RETURN friends

	QUERY KnownBy(id: ID) =>
	  inward <- N<User>(id)::In<Knows>
	  RETURN inward

	QUERY ByEmail(email: String) =>
	  u <- N<User>({email: email})
	  RETURN u

	QUERY Rename(id: ID, email: String) =>
	  u <- N<User>(id)::UPDATE({email: email})
	  RETURN u

	QUERY Remove(id: ID) =>
	  DROP N<User>(id)
	  RETURN 1
`

func addUser(t *testing.T, db *DB, name, email string) string {
	t.Helper()
	out := run(t, db, "AddUser", fmt.Sprintf(`{"name":%q,"email":%q}`, name, email))
	u := out["u"].([]any)[0].(map[string]any)
	return u["id"].(string)
}

func resultIDs(t *testing.T, out map[string]any, col string) []string {
	t.Helper()
	var ids []string
	list, ok := out[col].([]any)
	if !ok {
		return nil
	}
	for _, e := range list {
		ids = append(ids, e.(map[string]any)["id"].(string))
	}
	return ids
}

func TestNodeEdgeRoundTrip(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *DB{"memory": memDB, "badger": diskDB} {
		t.Run(name, func(t *testing.T) {
			db := open(t)
			compile(t, db, socialSchema)

			a := addUser(t, db, "A", "a@x")
			b := addUser(t, db, "B", "b@x")
			run(t, db, "Link", fmt.Sprintf(`{"a":%q,"b":%q}`, a, b))

			friends := resultIDs(t, run(t, db, "FriendsOf", fmt.Sprintf(`{"id":%q}`, a)), "friends")
			assert.Equal(t, []string{b}, friends)

			inward := resultIDs(t, run(t, db, "KnownBy", fmt.Sprintf(`{"id":%q}`, b)), "inward")
			assert.Equal(t, []string{a}, inward)
		})
	}
}

func TestUniqueEdgeRejected(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema)
	a := addUser(t, db, "A", "a@x")
	b := addUser(t, db, "B", "b@x")

	pair := fmt.Sprintf(`{"a":%q,"b":%q}`, a, b)
	run(t, db, "Marry", pair)

	_, err := db.Execute(context.Background(), "Marry", []byte(pair))
	var sv *storage.SchemaViolationError
	require.ErrorAs(t, err, &sv)
}

func TestSecondaryIndexLifecycle(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema)
	id := addUser(t, db, "A", "x@y")

	hit := resultIDs(t, run(t, db, "ByEmail", `{"email":"x@y"}`), "u")
	assert.Equal(t, []string{id}, hit)

	run(t, db, "Rename", fmt.Sprintf(`{"id":%q,"email":"z@w"}`, id))

	assert.Empty(t, resultIDs(t, run(t, db, "ByEmail", `{"email":"x@y"}`), "u"))
	assert.Equal(t, []string{id}, resultIDs(t, run(t, db, "ByEmail", `{"email":"z@w"}`), "u"))
}

func TestDropCascadeEndToEnd(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema)
	hub := addUser(t, db, "hub", "h@x")
	var spokes []string
	for i := 0; i < 3; i++ {
		spokes = append(spokes, addUser(t, db, "s", fmt.Sprintf("s%d@x", i)))
	}
	for _, s := range spokes {
		run(t, db, "Link", fmt.Sprintf(`{"a":%q,"b":%q}`, hub, s))
	}
	run(t, db, "Remove", fmt.Sprintf(`{"id":%q}`, hub))

	// The node is gone.
	_, err := db.Execute(context.Background(), "FriendsOf", []byte(fmt.Sprintf(`{"id":%q}`, hub)))
	var nf *storage.NotFoundError
	require.ErrorAs(t, err, &nf)

	// No survivor sees the hub, and no orphan index entries remain.
	for _, s := range spokes {
		assert.Empty(t, resultIDs(t, run(t, db, "KnownBy", fmt.Sprintf(`{"id":%q}`, s)), "inward"))
	}
	assert.Empty(t, resultIDs(t, run(t, db, "ByEmail", `{"email":"h@x"}`), "u"))
}

const vectorSchema = `
	V::Doc { Dim: 3 }
	N::Article { INDEX slug: String, body: String }

	QUERY Put(data: [F64]) =>
	  v <- AddV<Doc>(data)
	  RETURN v

	QUERY Near(q: [F64], k: I64) =>
	  hits <- SearchV<Doc>(q, k)
	  RETURN hits
`

func TestVectorRecallTrivialSet(t *testing.T) {
	db := memDB(t)
	compile(t, db, vectorSchema)

	vecs := [][]float64{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}, {0, 1, 1},
	}
	ids := make([]string, len(vecs))
	for i, v := range vecs {
		data, _ := json.Marshal(map[string]any{"data": v})
		out := run(t, db, "Put", string(data))
		ids[i] = out["v"].([]any)[0].(map[string]any)["id"].(string)
	}

	out := run(t, db, "Near", `{"q":[1,0,0],"k":2}`)
	hits := out["hits"].([]any)
	require.Len(t, hits, 2)
	assert.Equal(t, ids[0], hits[0].(map[string]any)["id"], "exact match first")
	assert.Equal(t, ids[3], hits[1].(map[string]any)["id"], "45-degree vector second")
}

func TestHybridSearchRanksLexicalMatchFirst(t *testing.T) {
	db := memDB(t)
	db.SetEmbedder(embed.NewStatic(8))
	compile(t, db, `
		N::Article { title: String, body: String }
		V::Article { Dim: 8 }

		QUERY Put(title: String, body: String) =>
		  a <- AddN<Article>({title: title, body: body})
		  v <- AddV<Article>(Embed(body), a)
		  RETURN a

		QUERY Find(q: String, k: I64) =>
		  hits <- SearchHybrid<Article>(Embed(q), q, k)::RerankRRF
		  RETURN hits
	`)

	run(t, db, "Put", `{"title":"fox","body":"the quick brown fox"}`)
	run(t, db, "Put", `{"title":"dog","body":"lazy dog sleeps"}`)

	out := run(t, db, "Find", `{"q":"quick brown fox","k":10}`)
	hits := out["hits"].([]any)
	require.NotEmpty(t, hits)
	first := hits[0].(map[string]any)
	props := first["properties"].(map[string]any)
	assert.Equal(t, "fox", props["title"], "fox document ranks first")
}

func TestProjectionOrderCountRange(t *testing.T) {
	db := memDB(t)
	compile(t, db, `
		N::User { name: String, age: I32 }

		QUERY Put(name: String, age: I32) =>
		  u <- AddN<User>({name: name, age: age})
		  RETURN u

		QUERY Adults() =>
		  rows <- N<User>::WHERE(age >= 18)::ORDER<Desc>(age)::RANGE(0, 2)::{name, age}
		  total <- N<User>::COUNT
		  RETURN rows, total
	`)

	for i, u := range []struct {
		name string
		age  int
	}{{"kid", 10}, {"a", 30}, {"b", 40}, {"c", 20}} {
		run(t, db, "Put", fmt.Sprintf(`{"name":%q,"age":%d}`, u.name, u.age))
		_ = i
	}

	out := run(t, db, "Adults", "{}")
	rows := out["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].(map[string]any)["name"])
	assert.Equal(t, "a", rows[1].(map[string]any)["name"])
	assert.EqualValues(t, 4, out["total"])
}

func TestReturnOrderPreserved(t *testing.T) {
	db := memDB(t)
	compile(t, db, `
		N::User { name: String }
		QUERY Q() =>
		  c <- N<User>::COUNT
		  RETURN zebra: c, alpha: c, mid: c
	`)
	out, err := db.Execute(context.Background(), "Q", nil)
	require.NoError(t, err)
	payload := string(executor.Unframe(out))
	zebra := indexOf(payload, `"zebra"`)
	alpha := indexOf(payload, `"alpha"`)
	mid := indexOf(payload, `"mid"`)
	assert.True(t, zebra < alpha && alpha < mid, "declaration order preserved: %s", payload)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestParamBindingErrors(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema)

	cases := map[string]string{
		"missing":  `{}`,
		"badShape": `{"name": 7, "email": "x"}`,
		"extra":    `{"name":"a","email":"b","bogus":1}`,
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := db.Execute(context.Background(), "AddUser", []byte(params))
			var ia *executor.InvalidArgumentError
			require.ErrorAs(t, err, &ia)
		})
	}
}

func TestUnknownQuery(t *testing.T) {
	db := memDB(t)
	_, err := db.Execute(context.Background(), "Nope", nil)
	var nf *storage.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "query", nf.Kind)
}

func TestCompileErrorsTouchNothing(t *testing.T) {
	db := memDB(t)
	compile(t, db, `N::User { name: String }`)

	_, err := db.Compile(`
		QUERY Good() => RETURN 1
		QUERY Bad() =>
		  x <- N<Ghost>
		  RETURN x
	`)
	var ce *hql.CompileError
	require.ErrorAs(t, err, &ce)

	// All-or-nothing: Good did not register either.
	assert.Empty(t, db.Queries())
}

func TestWriteAbortsOnError(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema+`
		QUERY AddTwoThenFail(name: String) =>
		  a <- AddN<User>({name: name, email: "dup@x"})
		  b <- AddN<User>({name: name, email: "dup@x"})
		  RETURN a
	`)
	// Second insert hits the unique email index; the whole txn aborts.
	compileFail := func() error {
		_, err := db.Execute(context.Background(), "AddTwoThenFail", []byte(`{"name":"n"}`))
		return err
	}
	require.Error(t, compileFail())

	assert.Empty(t, resultIDs(t, run(t, db, "ByEmail", `{"email":"dup@x"}`), "u"),
		"aborted transaction left rows behind")
}

func TestCancellationBetweenOperators(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema)
	addUser(t, db, "A", "a@x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.Execute(ctx, "ByEmail", []byte(`{"email":"a@x"}`))
	assert.ErrorIs(t, err, executor.ErrCancelled)
}

func TestExistsAndPropAccess(t *testing.T) {
	db := memDB(t)
	compile(t, db, socialSchema+`
		QUERY Lonely() =>
		  all <- N<User>::WHERE(NOT EXISTS(N<User>::Out<Knows>))
		  RETURN all
	`)
	a := addUser(t, db, "A", "a@x")
	b := addUser(t, db, "B", "b@x")
	run(t, db, "Link", fmt.Sprintf(`{"a":%q,"b":%q}`, a, b))

	// EXISTS here asks "does any User have an outgoing Knows" - true, so
	// every user is filtered.
	out := run(t, db, "Lonely", "{}")
	assert.Empty(t, resultIDs(t, out, "all"))
}

func TestSchemaPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, nil)
	require.NoError(t, err)
	compile(t, db, `N::User { INDEX email: String, name: String }`)
	require.NoError(t, db.Close())

	db2, err := Open(dir, nil)
	require.NoError(t, err)
	defer db2.Close()

	// Queries can compile against the persisted schema alone.
	_, err = db2.Compile(`
		QUERY ByEmail(email: String) =>
		  u <- N<User>({email: email})
		  RETURN u
	`)
	require.NoError(t, err)
}

func TestEmbeddingFailurePropagates(t *testing.T) {
	db := memDB(t)
	compile(t, db, `
		N::Article { body: String }
		V::Article { Dim: 8 }
		QUERY E(q: String) =>
		  v <- Embed(q)
		  RETURN v
	`)
	// No provider injected.
	_, err := db.Execute(context.Background(), "E", []byte(`{"q":"x"}`))
	var ef *executor.EmbeddingFailedError
	require.ErrorAs(t, err, &ef)
}

func TestCompactRuns(t *testing.T) {
	db := memDB(t)
	compile(t, db, vectorSchema+`
		QUERY Del(id: ID) =>
		  DROP V<Doc>(id)
		  RETURN 1
	`)
	out := run(t, db, "Put", `{"data":[1,0,0]}`)
	id := out["v"].([]any)[0].(map[string]any)["id"].(string)
	run(t, db, "Put", `{"data":[0,1,0]}`)
	run(t, db, "Del", fmt.Sprintf(`{"id":%q}`, id))

	for err := range db.Compact(context.Background()) {
		t.Fatalf("compaction error: %v", err)
	}

	hits := run(t, db, "Near", `{"q":[1,0,0],"k":5}`)["hits"].([]any)
	for _, h := range hits {
		assert.NotEqual(t, id, h.(map[string]any)["id"])
	}
}
