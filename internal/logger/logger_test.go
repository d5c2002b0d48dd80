package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
		_ = SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("warn")

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")
	assert.False(t, IsEnabled(LevelInfo))
	assert.True(t, IsEnabled(LevelError))
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetFormat("json"))

	Info("exported %s", "/srv")

	var line map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "exported /srv", line["msg"])
	assert.NotEmpty(t, line["time"])

	assert.Error(t, SetFormat("xml"))
}

func TestOpenOutput(t *testing.T) {
	w, closeFn, err := OpenOutput("stderr")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	assert.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "dittofs.log")
	w, closeFn, err = OpenOutput(path)
	require.NoError(t, err)

	SetOutput(w)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	Error("to file")
	require.NoError(t, closeFn())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(content)), "to file"))
}
