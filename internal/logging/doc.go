// Package logging provides structured diagnostic logging for voxelops.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - stdout or stderr output, plus optional OpenTelemetry output
//   - Automatic run correlation fields (run.id, procedure, participant, session)
//   - Secret redaction at the encoder level
//   - Level-aware sampling (warnings and errors are never sampled)
//
// Diagnostic logs are separate from the audit trail written by package audit:
// the audit trail is the durable record of a run, these logs are for operators.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRun(ctx, logging.Run{ID: runID, Procedure: "qsiprep", Participant: "01"})
//	logger.Info(ctx, "pre-validation complete", zap.Bool("passed", true))
//
// Output:
//
//	{
//	  "ts": "2025-11-24T10:15:30Z",
//	  "level": "info",
//	  "msg": "pre-validation complete",
//	  "run.id": "3f0c...",
//	  "procedure": "qsiprep",
//	  "participant": "01",
//	  "passed": true
//	}
//
// # Testing
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "audit write failed")
//	tl.AssertLogged(t, zapcore.WarnLevel, "audit write failed")
package logging
