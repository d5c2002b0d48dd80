package testing

import (
	"strings"
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests executes the directory operation tests.
func (suite *StoreTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("Root", suite.testRoot)
	t.Run("Lookup", suite.testLookup)
	t.Run("Parent", suite.testParent)
	t.Run("ReadDir", suite.testReadDir)
	t.Run("ReadDirPaging", suite.testReadDirPaging)
	t.Run("Remove", suite.testRemove)
}

func (suite *StoreTestSuite) testRoot(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)

	attr := getAttr(t, s, rootKey)
	assert.Equal(t, store.FileTypeDirectory, attr.Type)
	assert.Equal(t, uint32(0755), attr.Mode)
	assert.Equal(t, uint32(0), attr.UID)

	parent, err := s.Parent(testContext(), rootKey)
	require.NoError(t, err)
	assert.Equal(t, rootKey, parent, "the root is its own parent")
}

func (suite *StoreTestSuite) testLookup(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	file := createFile(t, s, rootKey, "a.txt")

	found, err := s.Lookup(testContext(), rootKey, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, file, found)

	tests := []struct {
		name string
		code store.ErrorCode
	}{
		{"missing", store.ErrNotFound},
		{"", store.ErrInvalidName},
		{"a/b", store.ErrInvalidName},
		{".", store.ErrInvalidName},
		{"..", store.ErrInvalidName},
		{strings.Repeat("x", store.MaxNameLen+1), store.ErrNameTooLong},
	}
	for _, tt := range tests {
		_, err := s.Lookup(testContext(), rootKey, tt.name)
		assert.ErrorIs(t, err, tt.code, "name %q", tt.name)
	}

	_, err = s.Lookup(testContext(), file, "child")
	assert.ErrorIs(t, err, store.ErrNotDirectory)
}

func (suite *StoreTestSuite) testParent(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	dir := createDir(t, s, rootKey, "d")
	file := createFile(t, s, dir, "f")

	parent, err := s.Parent(testContext(), file)
	require.NoError(t, err)
	assert.Equal(t, dir, parent)

	parent, err = s.Parent(testContext(), dir)
	require.NoError(t, err)
	assert.Equal(t, rootKey, parent)
}

func (suite *StoreTestSuite) testReadDir(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	for _, name := range []string{"c", "a", "b"} {
		createFile(t, s, rootKey, name)
	}
	createDir(t, s, rootKey, "sub")

	list, err := s.ReadDir(testContext(), rootKey, 0, 0, 0)
	require.NoError(t, err)
	assert.True(t, list.EOF)
	assert.Equal(t, []string{"a", "b", "c", "sub"}, names(list))
	assert.Equal(t, store.VerifierOf(getAttr(t, s, rootKey)), list.Verifier)
	for _, e := range list.Entries {
		assert.GreaterOrEqual(t, e.Cookie, store.FirstCookie)
		require.NotNil(t, e.Attr)
	}

	file := createFile(t, s, rootKey, "file")
	_, err = s.ReadDir(testContext(), file, 0, 0, 0)
	assert.ErrorIs(t, err, store.ErrNotDirectory)
}

func (suite *StoreTestSuite) testReadDirPaging(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	for _, name := range []string{"e1", "e2", "e3", "e4", "e5"} {
		createFile(t, s, rootKey, name)
	}

	var (
		got      []string
		cookie   uint64
		verifier store.Verifier
	)
	for {
		page, err := s.ReadDir(testContext(), rootKey, cookie, verifier, 2)
		require.NoError(t, err)
		got = append(got, names(page)...)
		if page.EOF {
			break
		}
		require.NotEmpty(t, page.Entries)
		cookie = page.Entries[len(page.Entries)-1].Cookie
		verifier = page.Verifier
	}
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, got)

	page, err := s.ReadDir(testContext(), rootKey, 0, 0, 2)
	require.NoError(t, err)
	createFile(t, s, rootKey, "e6")
	_, err = s.ReadDir(testContext(), rootKey, page.Entries[1].Cookie, page.Verifier, 2)
	assert.ErrorIs(t, err, store.ErrBadCookie, "a changed directory invalidates old cookies")
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	dir := createDir(t, s, rootKey, "d")
	file := createFile(t, s, dir, "f")

	err := s.Remove(testContext(), rootKey, "d")
	assert.ErrorIs(t, err, store.ErrNotEmpty)

	before := getAttr(t, s, dir).Change
	require.NoError(t, s.Remove(testContext(), dir, "f"))
	assert.Greater(t, getAttr(t, s, dir).Change, before)

	_, err = s.GetAttr(testContext(), file)
	assert.ErrorIs(t, err, store.ErrStaleHandle)
	_, err = s.Lookup(testContext(), dir, "f")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Remove(testContext(), rootKey, "d"))
	_, err = s.GetAttr(testContext(), dir)
	assert.ErrorIs(t, err, store.ErrStaleHandle)

	err = s.Remove(testContext(), rootKey, "d")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
