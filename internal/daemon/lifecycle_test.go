package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(t *testing.T) *LifecycleManager {
	t.Helper()

	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	return NewLifecycleManager(d)
}

func TestLifecycleManager(t *testing.T) {
	t.Run("start writes PID file", func(t *testing.T) {
		l := newTestLifecycle(t)

		require.NoError(t, l.Start())

		pid, err := l.GetPID()
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		require.NoError(t, l.Stop())
		assert.NoFileExists(t, l.pidFile)
	})

	t.Run("stop without PID file is fine", func(t *testing.T) {
		l := newTestLifecycle(t)
		assert.NoError(t, l.Stop())
	})

	t.Run("own process reads as running", func(t *testing.T) {
		l := newTestLifecycle(t)

		require.NoError(t, l.Start())
		defer l.Stop()

		assert.True(t, l.IsRunning())
	})

	t.Run("missing PID file reads as not running", func(t *testing.T) {
		l := newTestLifecycle(t)
		assert.False(t, l.IsRunning())
	})

	t.Run("garbage PID file is an error", func(t *testing.T) {
		l := newTestLifecycle(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(l.pidFile), 0755))
		require.NoError(t, os.WriteFile(l.pidFile, []byte("not-a-pid"), 0644))

		_, err := l.GetPID()
		assert.Error(t, err)
		assert.False(t, l.IsRunning())
	})

	t.Run("stale PID reads as not running", func(t *testing.T) {
		l := newTestLifecycle(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(l.pidFile), 0755))
		// Above the Linux pid_max ceiling, so no such process exists.
		require.NoError(t, os.WriteFile(l.pidFile, []byte(strconv.Itoa(9999999)), 0644))

		assert.False(t, l.IsRunning())
	})
}
