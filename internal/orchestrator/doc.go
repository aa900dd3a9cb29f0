// Package orchestrator runs one procedure through validation, execution and
// audit as a single state machine.
//
// # Overview
//
// Every external caller goes through Orchestrator.Run. The collaborator that
// performs the procedure's side effects is never invoked without a completed,
// passing pre-validation, and a run is never reported as successful without a
// completed, passing post-validation.
//
// # State Machine
//
//	start
//	  → pre-validation
//	      any error-severity rule fails → pre_validation_failed
//	      pass                          → execution
//	          error / unsuccessful record → execution_failed
//	          success                     → post-validation
//	              fail → post_validation_failed
//	              pass → success
//
// Each transition appends one audit event to the run's sink. The order for a
// successful run is procedure_start, pre_validation, execution_start,
// execution_success, post_validation, procedure_complete. procedure_complete
// is always written last and carries the terminal status.
//
// # Errors
//
// Run returns an error only for configuration problems: an unregistered
// procedure or an unusable participant or session label. Those are reported
// before any audit event is written. Every other outcome, including a failed
// execution, is a *ProcedureResult with the corresponding Status.
//
// Audit write failures are logged at warn level and counted, and never
// change the status of a run.
//
// # Usage Example
//
//	registry := procedures.DefaultRegistry()
//	orch := orchestrator.New(registry, execution.NewCommandExecutor(),
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithMetrics(metrics.NewMetrics()),
//	)
//	res, err := orch.Run(ctx, orchestrator.Request{
//	    Procedure: procedures.QSIPrep,
//	    Inputs:    inputs,
//	    Config:    cfg,
//	})
//	if err != nil {
//	    return err // configuration error, nothing was run
//	}
//	if !res.Success() {
//	    log.Println(res.FailureReason())
//	}
//
// # Design Decisions
//
// 1. No retries: one call is one pass through the state machine.
//
// 2. No timeouts: cancellation of ctx is honored by the execution
// collaborator and observed as an execution failure.
//
// 3. Durations come from the monotonic clock reading of time.Now.
package orchestrator
