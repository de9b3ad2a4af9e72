package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the Pulse daemon service.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile, err := resolvePIDFile()
	if err != nil {
		return err
	}

	if !isRunning(pidFile) {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Status: running")
	fmt.Fprintf(cmd.OutOrStdout(), "PID: %d\n", pid)

	// PID file modification time approximates the start time.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		uptime := time.Since(fileInfo.ModTime())
		fmt.Fprintf(cmd.OutOrStdout(), "Uptime: %s\n", formatDuration(uptime))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
