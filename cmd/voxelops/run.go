package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/orchestrator"
)

// requestFlags are shared by run and validate.
type requestFlags struct {
	inputsFile  string
	paramsFile  string
	outputsFile string
	participant string
	session     string
	logDir      string
}

var (
	runFlags       requestFlags
	runMetricsAddr string
	runResultFile  string
	runQuiet       bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	addRequestFlags(runCmd, &runFlags)
	runCmd.Flags().StringVar(&runFlags.outputsFile, "outputs", "", "YAML/JSON file of expected outputs for post-validation")
	runCmd.Flags().StringVar(&runFlags.logDir, "log-dir", "", "audit log directory (overrides audit.log_dir)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and run status on this address while running")
	runCmd.Flags().StringVar(&runResultFile, "result", "", "also write the flat result record to this file")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print progress to stderr")
}

func addRequestFlags(cmd *cobra.Command, f *requestFlags) {
	cmd.Flags().StringVar(&f.inputsFile, "inputs", "", "YAML/JSON file of procedure inputs (required)")
	cmd.Flags().StringVar(&f.paramsFile, "params", "", "YAML/JSON file of procedure configuration")
	cmd.Flags().StringVar(&f.participant, "participant", "", "participant label without the sub- prefix (defaults to inputs.participant)")
	cmd.Flags().StringVar(&f.session, "session", "", "session label without the ses- prefix (defaults to inputs.session)")
	_ = cmd.MarkFlagRequired("inputs")
}

var runCmd = &cobra.Command{
	Use:   "run <procedure> --inputs FILE [flags] -- COMMAND [ARGS...]",
	Short: "Validate, execute and audit one procedure run",
	Long: `Run one procedure through pre-validation, execution and post-validation.

The command after "--" is executed as-is; its exit status decides whether
execution succeeded. The flat result record is printed to stdout as JSON.
The process exits 0 only when the run reaches "success".

Examples:
  # Run QSIPrep for participant 01
  voxelops run qsiprep --inputs inputs.yaml --outputs outputs.yaml -- \
    docker run --rm pennlinc/qsiprep /data /out participant --participant-label 01

  # Expose metrics and live run status while a long run executes
  voxelops run freesurfer --inputs fs.yaml --metrics-addr 127.0.0.1:9464 -- recon-all -all -s sub-01`,
	Args: func(cmd *cobra.Command, args []string) error {
		dash := cmd.ArgsLenAtDash()
		if dash != 1 {
			return errors.New("expected exactly one procedure name followed by -- and the command to execute")
		}
		if len(args) < 2 {
			return errors.New("no command given after --")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setupRuntime(cmd.Context(), runMetricsAddr)
		if err != nil {
			return err
		}
		defer rt.close(cmd.Context())

		req, err := buildRequest(args[0], runFlags)
		if err != nil {
			return err
		}
		req.Command = args[1:]

		var progress orchestrator.ProgressCallback
		if !runQuiet {
			progress = progressPrinter(cmd.ErrOrStderr())
		}
		executor, err := rt.commandExecutor(cmd.Context())
		if err != nil {
			return err
		}
		orch := rt.orchestrator(executor, progress)

		res, err := orch.Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		rt.tracker.Complete(res)
		rt.logger.ForRun(logging.Run{
			ID:          res.RunID,
			Procedure:   res.Procedure,
			Participant: res.Participant,
			Session:     res.Session,
		}).Info(cmd.Context(), "run finished",
			zap.String("status", string(res.Status)),
			zap.String("audit_log_file", res.AuditLogFile),
		)
		return writeResult(cmd.OutOrStdout(), runResultFile, res)
	},
}

// buildRequest loads the request documents named by f.
func buildRequest(procedure string, f requestFlags) (orchestrator.Request, error) {
	req := orchestrator.Request{
		Procedure:   procedure,
		Participant: f.participant,
		Session:     f.session,
		LogDir:      f.logDir,
	}

	inputs, err := attrs.Load(f.inputsFile)
	if err != nil {
		return req, fmt.Errorf("inputs: %w", err)
	}
	req.Inputs = inputs

	if f.paramsFile != "" {
		params, err := attrs.Load(f.paramsFile)
		if err != nil {
			return req, fmt.Errorf("params: %w", err)
		}
		req.Config = params
	} else {
		req.Config = attrs.Map{}
	}

	if f.outputsFile != "" {
		outputs, err := attrs.Load(f.outputsFile)
		if err != nil {
			return req, fmt.Errorf("outputs: %w", err)
		}
		req.ExpectedOutputs = outputs
	}
	return req, nil
}

// progressPrinter renders progress updates one per line.
func progressPrinter(w io.Writer) orchestrator.ProgressCallback {
	return func(p orchestrator.Progress) {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", p.Procedure, p.Event, p.Message)
	}
}

// writeResult prints the flat record and converts a non-success status into
// exit code 2.
func writeResult(w io.Writer, resultFile string, res *orchestrator.ProcedureResult) error {
	data, err := json.MarshalIndent(res.FlatRecord(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.Write(data); err != nil {
		return err
	}
	if resultFile != "" {
		if err := os.WriteFile(resultFile, data, 0o600); err != nil {
			return fmt.Errorf("write result file: %w", err)
		}
	}
	if !res.Success() {
		return &exitError{code: 2, err: fmt.Errorf("run %s finished with status %s: %s", res.RunID, res.Status, res.FailureReason())}
	}
	return nil
}
