package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("create rotating writer", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "pulse.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "subdir", "pulse.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})

	t.Run("zero max size uses the default", func(t *testing.T) {
		tmpDir := t.TempDir()

		rw, err := NewRotatingWriter(filepath.Join(tmpDir, "pulse.log"), 0, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(defaultMaxSizeMB)*1024*1024, rw.maxSize)
	})
}

func TestRotatingWriterRotates(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "pulse.log")

	// 1MB limit; two writes of ~700KB force one rotation.
	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	line := strings.Repeat("x", 700*1024)

	_, err = rw.Write([]byte(line))
	require.NoError(t, err)
	_, err = rw.Write([]byte(line))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	// The active file holds only the post-rotation write.
	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, int64(len(line)), info.Size())
}
