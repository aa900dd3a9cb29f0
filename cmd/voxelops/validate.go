package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

var (
	validateFlags requestFlags
	validateJSON  bool
)

func init() {
	rootCmd.AddCommand(validateCmd)
	addRequestFlags(validateCmd, &validateFlags)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full report as JSON")
}

var validateCmd = &cobra.Command{
	Use:   "validate <procedure> --inputs FILE",
	Short: "Run pre-validation only",
	Long: `Check that a procedure's inputs are ready without executing anything.
No audit events are written. Exits 2 when a blocking check fails.

Examples:
  voxelops validate qsiprep --inputs inputs.yaml
  voxelops validate freesurfer --inputs fs.yaml --participant 01 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd.Context(), "")
		if err != nil {
			return err
		}
		defer rt.close(cmd.Context())

		req, err := buildRequest(args[0], validateFlags)
		if err != nil {
			return err
		}
		report, err := rt.orchestrator(nil, nil).PreValidate(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), report, validateJSON)
	},
}

// printReport writes report as JSON or as one line per check, and converts
// a failed report into exit code 2.
func printReport(w io.Writer, report *validation.Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(report.Map(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if _, err := fmt.Fprintln(w, string(data)); err != nil {
			return err
		}
	} else {
		for _, res := range report.Results {
			mark := "PASS"
			if !res.Passed {
				mark = "FAIL"
				if res.Severity == validation.SeverityWarning {
					mark = "WARN"
				}
			}
			_, _ = fmt.Fprintf(w, "%-4s  %-40s  %s\n", mark, res.RuleName, res.Message)
		}
		_, _ = fmt.Fprintln(w, report.Summary())
	}

	if !report.Passed() {
		return &exitError{code: 2, err: fmt.Errorf("%s pre-validation failed: %d error(s)", report.Procedure, len(report.Errors()))}
	}
	return nil
}
