package kv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStores returns one store per backend so every test runs against both.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	badger, err := OpenBadger(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { badger.Close() })

	mem := OpenMemory(Options{})
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{"badger": badger, "memory": mem}
}

func TestGetSetDelete(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(func(txn Txn) error {
				return txn.Set(FamilyNodes, []byte("k1"), []byte("v1"))
			})
			require.NoError(t, err)

			err = store.View(func(txn Txn) error {
				v, err := txn.Get(FamilyNodes, []byte("k1"))
				require.NoError(t, err)
				assert.Equal(t, []byte("v1"), v)

				// Same key in another family is absent.
				_, err = txn.Get(FamilyEdges, []byte("k1"))
				assert.ErrorIs(t, err, ErrKeyNotFound)
				return nil
			})
			require.NoError(t, err)

			err = store.Update(func(txn Txn) error {
				return txn.Delete(FamilyNodes, []byte("k1"))
			})
			require.NoError(t, err)

			err = store.View(func(txn Txn) error {
				_, err := txn.Get(FamilyNodes, []byte("k1"))
				assert.ErrorIs(t, err, ErrKeyNotFound)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestWriteThroughReadTxnFails(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := store.BeginRead()
			require.NoError(t, err)
			defer txn.Discard()

			assert.ErrorIs(t, txn.Set(FamilyNodes, []byte("k"), []byte("v")), ErrTxnReadOnly)
			assert.ErrorIs(t, txn.Delete(FamilyNodes, []byte("k")), ErrTxnReadOnly)
		})
	}
}

func TestPrefixIterationAscending(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(func(txn Txn) error {
				for _, k := range []string{"a:3", "a:1", "b:1", "a:2", "c:9"} {
					if err := txn.Set(FamilyOutEdges, []byte(k), []byte{}); err != nil {
						return err
					}
				}
				return nil
			})
			require.NoError(t, err)

			var got []string
			err = store.View(func(txn Txn) error {
				it := txn.NewIterator(FamilyOutEdges, IterOptions{Prefix: []byte("a:")})
				defer it.Close()
				for it.Rewind(); it.Valid(); it.Next() {
					got = append(got, string(it.Key()))
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a:1", "a:2", "a:3"}, got)
		})
	}
}

func TestRangeIteration(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(func(txn Txn) error {
				for i := 0; i < 10; i++ {
					k := []byte(fmt.Sprintf("k%d", i))
					if err := txn.Set(FamilySecondary, k, []byte{byte(i)}); err != nil {
						return err
					}
				}
				return nil
			})
			require.NoError(t, err)

			var got []string
			err = store.View(func(txn Txn) error {
				it := txn.NewIterator(FamilySecondary, IterOptions{
					Start: []byte("k2"),
					End:   []byte("k5"),
				})
				defer it.Close()
				for it.Rewind(); it.Valid(); it.Next() {
					got = append(got, string(it.Key()))
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"k2", "k3", "k4"}, got)
		})
	}
}

func TestSnapshotIsolation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Update(func(txn Txn) error {
				return txn.Set(FamilyMeta, []byte("cell"), []byte("old"))
			}))

			reader, err := store.BeginRead()
			require.NoError(t, err)
			defer reader.Discard()

			require.NoError(t, store.Update(func(txn Txn) error {
				return txn.Set(FamilyMeta, []byte("cell"), []byte("new"))
			}))

			v, err := reader.Get(FamilyMeta, []byte("cell"))
			require.NoError(t, err)
			assert.Equal(t, []byte("old"), v, "reader sees its snapshot")

			require.NoError(t, store.View(func(txn Txn) error {
				v, err := txn.Get(FamilyMeta, []byte("cell"))
				require.NoError(t, err)
				assert.Equal(t, []byte("new"), v, "new reader sees the commit")
				return nil
			}))
		})
	}
}

func TestAbortRollsBackAllFamilies(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			boom := fmt.Errorf("boom")
			err := store.Update(func(txn Txn) error {
				require.NoError(t, txn.Set(FamilyNodes, []byte("n"), []byte("x")))
				require.NoError(t, txn.Set(FamilyOutEdges, []byte("o"), []byte{}))
				require.NoError(t, txn.Set(FamilyMeta, []byte("m"), []byte("y")))
				return boom
			})
			assert.ErrorIs(t, err, boom)

			require.NoError(t, store.View(func(txn Txn) error {
				for _, f := range Families {
					it := txn.NewIterator(f, IterOptions{})
					for it.Rewind(); it.Valid(); it.Next() {
						t.Fatalf("family %#x has row %q after abort", byte(f), it.Key())
					}
					it.Close()
				}
				return nil
			}))
		})
	}
}

func TestWriteTxnReadsOwnWrites(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(func(txn Txn) error {
				require.NoError(t, txn.Set(FamilyNodes, []byte("a"), []byte("1")))

				v, err := txn.Get(FamilyNodes, []byte("a"))
				require.NoError(t, err)
				assert.Equal(t, []byte("1"), v)

				it := txn.NewIterator(FamilyNodes, IterOptions{})
				defer it.Close()
				it.Rewind()
				require.True(t, it.Valid())
				assert.Equal(t, []byte("a"), it.Key())
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestReaderPoolExhaustion(t *testing.T) {
	store := OpenMemory(Options{MaxReaders: 2})
	defer store.Close()

	r1, err := store.BeginRead()
	require.NoError(t, err)
	r2, err := store.BeginRead()
	require.NoError(t, err)

	_, err = store.BeginRead()
	assert.ErrorIs(t, err, ErrReadersExhausted)

	r1.Discard()
	r3, err := store.BeginRead()
	require.NoError(t, err)
	r3.Discard()
	r2.Discard()
}

func TestDeterministicIteration(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Update(func(txn Txn) error {
				for i := 0; i < 50; i++ {
					k := []byte(fmt.Sprintf("x%02d", (i*37)%50))
					if err := txn.Set(FamilyInEdges, k, []byte{byte(i)}); err != nil {
						return err
					}
				}
				return nil
			}))

			collect := func() []string {
				var keys []string
				require.NoError(t, store.View(func(txn Txn) error {
					it := txn.NewIterator(FamilyInEdges, IterOptions{})
					defer it.Close()
					for it.Rewind(); it.Valid(); it.Next() {
						keys = append(keys, string(it.Key()))
					}
					return nil
				}))
				return keys
			}

			first := collect()
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, collect())
			}
		})
	}
}
