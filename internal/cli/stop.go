package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/regtech-io/pulse/internal/config"
)

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Pulse daemon service",
	Long: `Stop the Pulse daemon service gracefully.
Sends SIGTERM to the daemon and waits for it to shut down.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for daemon to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile, err := resolvePIDFile()
	if err != nil {
		return err
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("daemon does not appear to be running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to PID %d\n", pid)

	// Wait for the process to exit
	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !isRunning(pidFile) {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped successfully")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon killed")
	return nil
}

// resolvePIDFile finds the PID file from config, falling back to the default
// location.
func resolvePIDFile() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Daemon.PIDFile != "" {
		return cfg.Daemon.PIDFile, nil
	}
	return getPIDFilePath(), nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
