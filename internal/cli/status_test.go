package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		statusCmd := cmd.Commands()

		found := false
		for _, c := range statusCmd {
			if c.Name() == "status" {
				found = true
				break
			}
		}
		assert.True(t, found, "status command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "status")
	})

	t.Run("reports stopped without pid file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "pulse.json")
		pidFile := filepath.Join(tmpDir, "absent.pid")

		content := fmt.Sprintf(`{"daemon": {"pid_file": %q}}`, pidFile)
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		prev := cfgFile
		cfgFile = configPath
		defer func() { cfgFile = prev }()

		// A fresh command avoids flag state left on the shared root by the
		// --help subtest above.
		output := &bytes.Buffer{}
		cmd := &cobra.Command{}
		cmd.SetOut(output)

		require.NoError(t, runStatus(cmd, nil))
		assert.Contains(t, output.String(), "Status: stopped")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"sub-second rounds down", 400 * time.Millisecond, "0s"},
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"whole hours", time.Hour, "1h0m0s"},
		{"hours minutes seconds", 26*time.Hour + 15*time.Minute + 20*time.Second, "26h15m20s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
