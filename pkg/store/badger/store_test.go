package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	storetesting "github.com/marmos91/dittofs-exports/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{Path: path}, nil)
	require.NoError(t, err)
	return s
}

func TestBadgerStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			s := newTestStore(t, t.TempDir())
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	suite.Run(t)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newTestStore(t, dir)
	rootKey, err := s.GetRoot(ctx)
	require.NoError(t, err)
	sub, err := s.Mkdir(ctx, rootKey, "sub", store.CreateAttr{Mode: 0750, UID: 7})
	require.NoError(t, err)
	file, err := s.Create(ctx, sub, "f", store.CreateAttr{Mode: 0640})
	require.NoError(t, err)
	_, err = s.Write(ctx, file, 0, []byte("persisted"))
	require.NoError(t, err)
	before, err := s.GetAttr(ctx, file)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = newTestStore(t, dir)
	defer s.Close()

	reopened, err := s.GetRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, rootKey, reopened, "keys are stable across restarts")

	found, err := s.Lookup(ctx, reopened, "sub")
	require.NoError(t, err)
	assert.Equal(t, sub, found)

	attr, err := s.GetAttr(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, before.FileID, attr.FileID)
	assert.True(t, before.Mtime.Equal(attr.Mtime))

	buf := make([]byte, 32)
	n, _, err := s.Read(ctx, file, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(buf[:n]))

	// Sequences resume past the values leased before the restart.
	other, err := s.Create(ctx, sub, "g", store.CreateAttr{Mode: 0640})
	require.NoError(t, err)
	otherAttr, err := s.GetAttr(ctx, other)
	require.NoError(t, err)
	assert.Greater(t, otherAttr.FileID, attr.FileID)
	assert.Greater(t, otherAttr.Change, attr.Change)
}

func TestKeysFitHandles(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	rootKey, err := s.GetRoot(context.Background())
	require.NoError(t, err)
	assert.Len(t, rootKey, 16)
	assert.LessOrEqual(t, len(rootKey), store.MaxKeyLen)
}
