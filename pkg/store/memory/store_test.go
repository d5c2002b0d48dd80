package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	storetesting "github.com/marmos91/dittofs-exports/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			return New(Config{})
		},
	}
	suite.Run(t)
}

func TestMkdirAll(t *testing.T) {
	ctx := context.Background()
	s := New(Config{RootMode: 0700, RootUID: 5, RootGID: 6})

	rootKey, err := s.GetRoot(ctx)
	require.NoError(t, err)
	attr, err := s.GetAttr(ctx, rootKey)
	require.NoError(t, err)
	assert.Equal(t, uint32(0700), attr.Mode)
	assert.Equal(t, uint32(5), attr.UID)

	leaf, err := s.MkdirAll(ctx, "/export/home/alice", store.CreateAttr{Mode: 0755})
	require.NoError(t, err)

	again, err := s.MkdirAll(ctx, "export/home/alice/", store.CreateAttr{Mode: 0755})
	require.NoError(t, err)
	assert.Equal(t, leaf, again, "existing directories are reused")

	home, err := s.MkdirAll(ctx, "/export/home", store.CreateAttr{})
	require.NoError(t, err)
	parent, err := s.Parent(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, home, parent)
}
