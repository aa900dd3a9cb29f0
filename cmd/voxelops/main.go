// Package main implements the voxelops CLI: validated, audited execution of
// neuroimaging pipeline procedures.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// logLevel overrides logging.level from the config file.
	logLevel string

	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitError carries a process exit code without printing usage.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "voxelops",
	Short: "Validated, audited neuroimaging procedure runs",
	Long: `voxelops runs neuroimaging pipeline procedures (HeudiConv, QSIPrep,
QSIRecon, QSIParc, FreeSurfer) behind pre- and post-validation and records
every step in an append-only, hash-chained audit log.

Configuration is read from ~/.config/voxelops/config.yaml and VOXELOPS_*
environment variables.`,
	Version:      fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/voxelops/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
}
