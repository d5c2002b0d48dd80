package testing

import (
	"testing"

	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunIOTests executes the read, write and commit tests.
func (suite *StoreTestSuite) RunIOTests(t *testing.T) {
	t.Run("WriteRead", suite.testWriteRead)
	t.Run("Truncate", suite.testTruncate)
	t.Run("Directory", suite.testIODirectory)
}

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	s := suite.NewStore(t)
	file := createFile(t, s, root(t, s), "f")
	before := getAttr(t, s, file).Change

	n, err := s.Write(testContext(), file, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	n, err = s.Write(testContext(), file, 6, []byte("gophers"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	attr := getAttr(t, s, file)
	assert.Equal(t, uint64(13), attr.Size)
	assert.Greater(t, attr.Change, before)

	buf := make([]byte, 5)
	n, eof, err := s.Read(testContext(), file, 6, buf)
	require.NoError(t, err)
	assert.Equal(t, "gophe", string(buf[:n]))
	assert.False(t, eof)

	buf = make([]byte, 64)
	n, eof, err = s.Read(testContext(), file, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello gophers", string(buf[:n]))
	assert.True(t, eof)

	n, eof, err = s.Read(testContext(), file, 100, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, eof)

	require.NoError(t, s.Commit(testContext(), file, 0, 0))
}

func (suite *StoreTestSuite) testTruncate(t *testing.T) {
	s := suite.NewStore(t)
	file := createFile(t, s, root(t, s), "f")
	_, err := s.Write(testContext(), file, 0, []byte("0123456789"))
	require.NoError(t, err)

	size := uint64(4)
	require.NoError(t, s.SetAttr(testContext(), file, &store.SetAttrs{Size: &size}))

	buf := make([]byte, 16)
	n, eof, err := s.Read(testContext(), file, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:n]))
	assert.True(t, eof)
}

func (suite *StoreTestSuite) testIODirectory(t *testing.T) {
	s := suite.NewStore(t)
	dir := createDir(t, s, root(t, s), "d")

	_, _, err := s.Read(testContext(), dir, 0, make([]byte, 1))
	assert.ErrorIs(t, err, store.ErrIsDirectory)

	_, err = s.Write(testContext(), dir, 0, []byte("x"))
	assert.ErrorIs(t, err, store.ErrIsDirectory)
}
