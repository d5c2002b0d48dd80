package testing

import (
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/stretchr/testify/require"
)

func defaultAttr() store.CreateAttr {
	return store.CreateAttr{Mode: 0644, UID: 1000, GID: 1000}
}

func root(t *testing.T, s store.Store) store.Key {
	t.Helper()
	key, err := s.GetRoot(testContext())
	require.NoError(t, err)
	return key
}

func createFile(t *testing.T, s store.Store, parent store.Key, name string) store.Key {
	t.Helper()
	key, err := s.Create(testContext(), parent, name, defaultAttr())
	require.NoError(t, err)
	require.LessOrEqual(t, len(key), store.MaxKeyLen)
	return key
}

func createDir(t *testing.T, s store.Store, parent store.Key, name string) store.Key {
	t.Helper()
	key, err := s.Mkdir(testContext(), parent, name, store.CreateAttr{Mode: 0755, UID: 1000, GID: 1000})
	require.NoError(t, err)
	return key
}

func getAttr(t *testing.T, s store.Store, key store.Key) *store.Attr {
	t.Helper()
	attr, err := s.GetAttr(testContext(), key)
	require.NoError(t, err)
	return attr
}

func names(list *store.DirList) []string {
	out := make([]string, 0, len(list.Entries))
	for _, e := range list.Entries {
		out = append(out, e.Name)
	}
	return out
}
