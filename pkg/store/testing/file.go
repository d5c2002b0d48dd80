package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFileTests executes the object creation and attribute tests.
func (suite *StoreTestSuite) RunFileTests(t *testing.T) {
	t.Run("Create", suite.testCreate)
	t.Run("Symlink", suite.testSymlink)
	t.Run("Link", suite.testLink)
	t.Run("SetAttr", suite.testSetAttr)
	t.Run("ACL", suite.testACL)
	t.Run("StaleKey", suite.testStaleKey)
}

func (suite *StoreTestSuite) testCreate(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	before := getAttr(t, s, rootKey).Change

	file := createFile(t, s, rootKey, "f")
	attr := getAttr(t, s, file)
	assert.Equal(t, store.FileTypeRegular, attr.Type)
	assert.Equal(t, uint32(0644), attr.Mode)
	assert.Equal(t, uint32(1000), attr.UID)
	assert.Equal(t, uint32(1), attr.Nlink)
	assert.NotZero(t, attr.FileID)
	assert.Greater(t, getAttr(t, s, rootKey).Change, before, "creating a child changes the parent")

	_, err := s.Create(testContext(), rootKey, "f", defaultAttr())
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = s.Mkdir(testContext(), rootKey, "..", defaultAttr())
	assert.ErrorIs(t, err, store.ErrInvalidName)

	dir := createDir(t, s, rootKey, "d")
	assert.True(t, getAttr(t, s, dir).IsDir())
	assert.NotEqual(t, attr.FileID, getAttr(t, s, dir).FileID)
}

func (suite *StoreTestSuite) testSymlink(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)

	link, err := s.Symlink(testContext(), rootKey, "l", "../target", defaultAttr())
	require.NoError(t, err)

	target, err := s.Readlink(testContext(), link)
	require.NoError(t, err)
	assert.Equal(t, "../target", target)

	attr := getAttr(t, s, link)
	assert.Equal(t, store.FileTypeSymlink, attr.Type)
	assert.Equal(t, uint64(len("../target")), attr.Size)

	file := createFile(t, s, rootKey, "f")
	_, err = s.Readlink(testContext(), file)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func (suite *StoreTestSuite) testLink(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	dir := createDir(t, s, rootKey, "d")
	file := createFile(t, s, rootKey, "f")

	require.NoError(t, s.Link(testContext(), dir, "g", file))
	assert.Equal(t, uint32(2), getAttr(t, s, file).Nlink)

	found, err := s.Lookup(testContext(), dir, "g")
	require.NoError(t, err)
	assert.Equal(t, file, found)

	err = s.Link(testContext(), dir, "g", file)
	assert.ErrorIs(t, err, store.ErrExists)

	err = s.Link(testContext(), rootKey, "d2", dir)
	assert.ErrorIs(t, err, store.ErrIsDirectory)

	require.NoError(t, s.Remove(testContext(), rootKey, "f"))
	attr := getAttr(t, s, file)
	assert.Equal(t, uint32(1), attr.Nlink, "the object survives while a link remains")
}

func (suite *StoreTestSuite) testSetAttr(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	file := createFile(t, s, rootKey, "f")
	before := getAttr(t, s, file)

	mode := uint32(0600)
	uid := uint32(42)
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetAttr(testContext(), file, &store.SetAttrs{Mode: &mode, UID: &uid, Mtime: &mtime}))

	after := getAttr(t, s, file)
	assert.Equal(t, mode, after.Mode)
	assert.Equal(t, uid, after.UID)
	assert.Equal(t, before.GID, after.GID)
	assert.True(t, mtime.Equal(after.Mtime))
	assert.Greater(t, after.Change, before.Change)

	size := uint64(10)
	dir := createDir(t, s, rootKey, "d")
	err := s.SetAttr(testContext(), dir, &store.SetAttrs{Size: &size})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func (suite *StoreTestSuite) testACL(t *testing.T) {
	s := suite.NewStore(t)
	rootKey := root(t, s)
	file := createFile(t, s, rootKey, "f")

	acl, err := s.GetACL(testContext(), file)
	require.NoError(t, err)
	assert.Empty(t, acl)

	want := []store.ACE{
		{Type: store.ACEDeny, Mask: 0x2, Who: "uid:1001"},
		{Type: store.ACEAllow, Mask: 0x1, Who: store.WhoEveryone},
	}
	require.NoError(t, s.SetACL(testContext(), file, want))

	acl, err = s.GetACL(testContext(), file)
	require.NoError(t, err)
	assert.Equal(t, want, acl)
}

func (suite *StoreTestSuite) testStaleKey(t *testing.T) {
	s := suite.NewStore(t)

	for _, key := range []store.Key{nil, store.Key("short"), make(store.Key, 16)} {
		_, err := s.GetAttr(testContext(), key)
		assert.ErrorIs(t, err, store.ErrStaleHandle, "key %x", []byte(key))
	}
}
