package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// PreValidate runs only the pre-validation rules of req. Nothing is
// executed and no audit event is written, so it is safe to call before
// committing to a run. Configuration problems are returned as errors
// exactly as Run would return them.
func (o *Orchestrator) PreValidate(ctx context.Context, req Request) (*validation.Report, error) {
	validator, err := o.registry.Lookup(req.Procedure)
	if err != nil {
		return nil, err
	}
	participant, session, err := resolveSubject(req)
	if err != nil {
		return nil, &validation.ConfigError{Procedure: req.Procedure, Err: err}
	}

	ctx = logging.WithRun(ctx, logging.Run{
		Procedure:   req.Procedure,
		Participant: participant,
		Session:     session,
	})
	ctx, span := o.tracer.Start(ctx, "voxelops.dry_run", trace.WithAttributes(
		attribute.String("voxelops.procedure", req.Procedure),
		attribute.String("voxelops.participant", participant),
	))
	defer span.End()

	vc := validation.NewPreContext(req.Procedure, participant, session, req.Inputs, req.Config)
	return o.validatePhase(ctx, "voxelops.pre_validation", func(ctx context.Context) *validation.Report {
		return validator.ValidatePre(ctx, vc)
	}), nil
}
