package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxelops/internal/orchestrator"
)

const maxResultFileSize = 16 * 1024 * 1024

func init() {
	rootCmd.AddCommand(resultCmd)
}

var resultCmd = &cobra.Command{
	Use:   "result <file>",
	Short: "Summarize a flat result record written by run --result",
	Long: `Read a flat result record and print its status, failure reason,
validation errors and warnings. Exits 2 when the run did not succeed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if info.Size() > maxResultFileSize {
			return fmt.Errorf("result file too large: %d bytes", info.Size())
		}
		// #nosec G304 -- user-selected result file.
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		view, err := orchestrator.ParseFlatRecord(data)
		if err != nil {
			return err
		}
		return summarizeResult(cmd.OutOrStdout(), view)
	},
}

func summarizeResult(w io.Writer, v *orchestrator.ResultView) error {
	subject := "sub-" + v.Participant
	if v.Session != "" {
		subject += " ses-" + v.Session
	}
	_, _ = fmt.Fprintf(w, "run:       %s\n", v.RunID)
	_, _ = fmt.Fprintf(w, "procedure: %s (%s)\n", v.Procedure, subject)
	_, _ = fmt.Fprintf(w, "status:    %s\n", v.Status)
	_, _ = fmt.Fprintf(w, "duration:  %.1fs\n", v.DurationSeconds)
	if v.AuditLogFile != "" {
		_, _ = fmt.Fprintf(w, "audit log: %s\n", v.AuditLogFile)
	}
	if v.FailureReason != "" {
		_, _ = fmt.Fprintf(w, "reason:    %s\n", v.FailureReason)
	}
	for _, msg := range v.Errors() {
		_, _ = fmt.Fprintf(w, "  error:   %s\n", msg)
	}
	for _, msg := range v.Warnings() {
		_, _ = fmt.Fprintf(w, "  warning: %s\n", msg)
	}

	if !v.Success {
		return &exitError{code: 2, err: fmt.Errorf("run %s did not succeed", v.RunID)}
	}
	return nil
}
