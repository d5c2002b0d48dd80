package testing

import (
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRenameTests executes the rename tests.
func (suite *StoreTestSuite) RunRenameTests(t *testing.T) {
	t.Run("SameDirectory", suite.testRenameSameDirectory)
	t.Run("AcrossDirectories", suite.testRenameAcrossDirectories)
	t.Run("Replace", suite.testRenameReplace)
	t.Run("Errors", suite.testRenameErrors)
}

func (suite *StoreTestSuite) testRenameSameDirectory(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	file := createFile(t, s, rootKey, "old")

	changed, err := s.Rename(testContext(), rootKey, "old", rootKey, "new")
	require.NoError(t, err)
	assert.True(t, changed)

	found, err := s.Lookup(testContext(), rootKey, "new")
	require.NoError(t, err)
	assert.Equal(t, file, found)

	_, err = s.Lookup(testContext(), rootKey, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testRenameAcrossDirectories(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	a := createDir(t, s, rootKey, "a")
	b := createDir(t, s, rootKey, "b")
	sub := createDir(t, s, a, "sub")

	changed, err := s.Rename(testContext(), a, "sub", b, "sub")
	require.NoError(t, err)
	assert.True(t, changed)

	parent, err := s.Parent(testContext(), sub)
	require.NoError(t, err)
	assert.Equal(t, b, parent)
	assert.Equal(t, uint32(2), getAttr(t, s, a).Nlink)
	assert.Equal(t, uint32(3), getAttr(t, s, b).Nlink)
}

func (suite *StoreTestSuite) testRenameReplace(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	src := createFile(t, s, rootKey, "src")
	dst := createFile(t, s, rootKey, "dst")

	changed, err := s.Rename(testContext(), rootKey, "src", rootKey, "dst")
	require.NoError(t, err)
	assert.True(t, changed)

	found, err := s.Lookup(testContext(), rootKey, "dst")
	require.NoError(t, err)
	assert.Equal(t, src, found)

	_, err = s.GetAttr(testContext(), dst)
	assert.ErrorIs(t, err, store.ErrStaleHandle, "the replaced object lost its last link")

	require.NoError(t, s.Link(testContext(), rootKey, "alias", src))
	changed, err = s.Rename(testContext(), rootKey, "alias", rootKey, "dst")
	require.NoError(t, err)
	assert.False(t, changed, "renaming onto another link of the same object is a no-op")
}

func (suite *StoreTestSuite) testRenameErrors(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	dir := createDir(t, s, rootKey, "dir")
	createDir(t, s, dir, "child")
	createFile(t, s, rootKey, "file")
	full := createDir(t, s, rootKey, "full")
	createFile(t, s, full, "x")

	tests := []struct {
		name     string
		from, to string
		toDir    store.Key
		code     store.ErrorCode
	}{
		{"missing source", "nope", "x", rootKey, store.ErrNotFound},
		{"dir over file", "dir", "file", rootKey, store.ErrNotDirectory},
		{"file over dir", "file", "dir", rootKey, store.ErrIsDirectory},
		{"dir over non-empty dir", "dir", "full", rootKey, store.ErrNotEmpty},
		{"dir into itself", "dir", "loop", dir, store.ErrInvalidArgument},
		{"reserved target", "file", "..", rootKey, store.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Rename(testContext(), rootKey, tt.from, tt.toDir, tt.to)
			assert.ErrorIs(t, err, tt.code)
		})
	}
}
