package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/config"
	"github.com/fyrsmithlabs/voxelops/internal/sanitize"
)

var (
	auditProcedure   string
	auditParticipant string
	auditSession     string
	auditLogDir      string
	auditRunID       string
	auditJSON        bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditRunsCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditCmd.PersistentFlags().StringVar(&auditProcedure, "procedure", "", "procedure of the sink (instead of a file argument)")
	auditCmd.PersistentFlags().StringVar(&auditParticipant, "participant", "", "participant of the sink")
	auditCmd.PersistentFlags().StringVar(&auditSession, "session", "", "session of the sink")
	auditCmd.PersistentFlags().StringVar(&auditLogDir, "log-dir", "", "audit log directory (defaults to audit.log_dir)")

	auditShowCmd.Flags().StringVar(&auditRunID, "run", "", "only show events of this run id")
	auditShowCmd.Flags().BoolVar(&auditJSON, "json", false, "print events as JSON lines")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify audit logs",
	Long: `Inspect and verify the append-only audit sinks written by "voxelops run".

A sink is selected either by file path or by --procedure, --participant and
optionally --session, resolved against --log-dir or audit.log_dir.

Examples:
  voxelops audit show logs/sub-01_qsiprep.jsonl
  voxelops audit runs --procedure qsiprep --participant 01 --log-dir logs
  voxelops audit verify logs/sub-01_ses-baseline_freesurfer.jsonl`,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [sink]",
	Short: "Print the events of a sink",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := loadSink(cmd.ErrOrStderr(), args)
		if err != nil {
			return err
		}
		events := sink.Events
		if auditRunID != "" {
			events = audit.FilterRun(events, auditRunID)
		}
		return showEvents(cmd.OutOrStdout(), events, auditJSON)
	},
}

var auditRunsCmd = &cobra.Command{
	Use:   "runs [sink]",
	Short: "List the runs recorded in a sink",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := loadSink(cmd.ErrOrStderr(), args)
		if err != nil {
			return err
		}
		return listRuns(cmd.OutOrStdout(), sink.Events)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [sink]",
	Short: "Verify the hash chain of a sink",
	Long: `Verify that no record of a sink was edited, dropped or reordered.
Torn records left by an interrupted append are reported and skipped.
Exits 2 when the chain is broken.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := loadSink(cmd.ErrOrStderr(), args)
		if err != nil {
			return err
		}
		return verifySink(cmd.OutOrStdout(), sink)
	},
}

// sinkPath resolves the sink named by args or by the audit flags.
func sinkPath(args []string) (string, error) {
	if len(args) == 1 {
		return sanitize.ValidatePath(args[0], "")
	}
	if auditProcedure == "" || auditParticipant == "" {
		return "", errors.New("give a sink file or --procedure and --participant")
	}
	if err := sanitize.ValidateLabel(auditParticipant, "participant"); err != nil {
		return "", err
	}
	if err := sanitize.ValidateOptionalLabel(auditSession, "session"); err != nil {
		return "", err
	}

	dir := auditLogDir
	if dir == "" {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return "", err
		}
		dir = cfg.Audit.LogDir
	}
	if dir == "" {
		return "", errors.New("no audit directory: pass --log-dir or set audit.log_dir")
	}
	return audit.SinkPath(dir, auditProcedure, auditParticipant, auditSession), nil
}

// loadSink reads the selected sink and warns on stderr about torn records.
func loadSink(stderr io.Writer, args []string) (*audit.Sink, error) {
	path, err := sinkPath(args)
	if err != nil {
		return nil, err
	}
	sink, err := audit.ReadSink(path)
	if err != nil {
		return nil, err
	}
	reportTorn(stderr, sink)
	return sink, nil
}

func reportTorn(w io.Writer, sink *audit.Sink) {
	for _, tr := range sink.Torn {
		_, _ = fmt.Fprintf(w, "warning: %s:%d (offset %d): skipped torn record: %s\n", sink.Path, tr.Line, tr.Offset, tr.Error)
	}
}

func showEvents(out io.Writer, events []audit.Event, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIMESTAMP\tRUN\tEVENT\tDETAIL")
	for _, ev := range events {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.Timestamp, ev.RunID, ev.EventType, eventDetail(ev))
	}
	return w.Flush()
}

// eventDetail picks the most telling data field of an event.
func eventDetail(ev audit.Event) string {
	for _, key := range []string{"failure_reason", "status", "error"} {
		if v, ok := ev.Data[key]; ok && v != nil && v != "" {
			return fmt.Sprint(v)
		}
	}
	if passed, ok := ev.Data["passed"]; ok {
		return fmt.Sprintf("passed=%v", passed)
	}
	return ""
}

func listRuns(out io.Writer, events []audit.Event) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTARTED\tEVENTS\tSTATUS")
	for _, runID := range audit.RunIDs(events) {
		run := audit.FilterRun(events, runID)
		status := "incomplete"
		for _, ev := range run {
			if ev.EventType == audit.EventProcedureComplete {
				status = fmt.Sprint(ev.Data["status"])
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", runID, run[0].Timestamp, len(run), status)
	}
	return w.Flush()
}

func verifySink(out io.Writer, sink *audit.Sink) error {
	events := sink.Events
	if err := audit.VerifyChain(events); err != nil {
		return &exitError{code: 2, err: err}
	}
	msg := fmt.Sprintf("ok: %d events in %d runs, chain intact", len(events), len(audit.RunIDs(events)))
	if n := len(sink.Torn); n > 0 {
		msg += fmt.Sprintf(" (%d torn records skipped)", n)
	}
	_, err := fmt.Fprintln(out, msg)
	return err
}
