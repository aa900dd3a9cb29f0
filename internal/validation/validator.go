package validation

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/logging"
)

// Validator binds ordered pre and post rules to a procedure.
// It holds no per-run state and is safe for concurrent use.
type Validator struct {
	procedure string
	pre       []Rule
	post      []Rule
}

// NewValidator checks that every rule declares the phase it is registered
// under, has a known severity, and that names are unique within a phase.
func NewValidator(procedure string, pre, post []Rule) (*Validator, error) {
	if procedure == "" {
		return nil, configErrorf(procedure, ErrInvalidValidator, "procedure name is empty")
	}
	if err := checkRules(procedure, PhasePre, pre); err != nil {
		return nil, err
	}
	if err := checkRules(procedure, PhasePost, post); err != nil {
		return nil, err
	}
	return &Validator{
		procedure: procedure,
		pre:       append([]Rule(nil), pre...),
		post:      append([]Rule(nil), post...),
	}, nil
}

// Must panics if err is non-nil. Used for validators declared at package level.
func Must(v *Validator, err error) *Validator {
	if err != nil {
		panic(err)
	}
	return v
}

func checkRules(procedure string, phase Phase, rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r == nil {
			return configErrorf(procedure, ErrInvalidValidator, "%s rule %d is nil", phase, i)
		}
		if r.Phase() != phase {
			return configErrorf(procedure, ErrInvalidValidator,
				"rule %q declares phase %q but is registered as a %s rule", r.Name(), r.Phase(), phase)
		}
		if !r.Severity().Valid() {
			return configErrorf(procedure, ErrInvalidValidator, "rule %q has unknown severity %q", r.Name(), r.Severity())
		}
		if r.Name() == "" {
			return configErrorf(procedure, ErrInvalidValidator, "%s rule %d has no name", phase, i)
		}
		if _, dup := seen[r.Name()]; dup {
			return configErrorf(procedure, ErrInvalidValidator, "duplicate %s rule name %q", phase, r.Name())
		}
		seen[r.Name()] = struct{}{}
	}
	return nil
}

// Procedure returns the procedure name the validator is registered under.
func (v *Validator) Procedure() string { return v.procedure }

// PreRules returns a copy of the pre-phase rules.
func (v *Validator) PreRules() []Rule { return append([]Rule(nil), v.pre...) }

// PostRules returns a copy of the post-phase rules.
func (v *Validator) PostRules() []Rule { return append([]Rule(nil), v.post...) }

// ValidatePre runs every pre rule, in declared order.
func (v *Validator) ValidatePre(ctx context.Context, vc Context) *Report {
	return v.run(ctx, PhasePre, v.pre, vc)
}

// ValidatePost runs every post rule, in declared order. vc must come from
// Context.ForPost.
func (v *Validator) ValidatePost(ctx context.Context, vc Context) (*Report, error) {
	if !vc.IsPost() {
		return nil, ErrPostContextRequired
	}
	return v.run(ctx, PhasePost, v.post, vc), nil
}

func (v *Validator) run(ctx context.Context, phase Phase, rules []Rule, vc Context) *Report {
	logger := logging.FromContext(ctx)
	report := &Report{
		Phase:       phase,
		Procedure:   v.procedure,
		Participant: vc.Participant(),
		Session:     vc.Session(),
		Timestamp:   time.Now(),
		Results:     make([]Result, 0, len(rules)),
	}

	for _, rule := range rules {
		start := time.Now()
		res := check(ctx, rule, vc)
		report.Results = append(report.Results, res)

		logger.Trace(ctx, "rule checked",
			zap.String("phase", string(phase)),
			zap.String("rule", res.RuleName),
			zap.Bool("passed", res.Passed),
			zap.String("severity", string(res.Severity)),
			zap.Duration("duration", time.Since(start)),
		)
	}

	logger.Debug(ctx, "validation phase complete",
		zap.String("phase", string(phase)),
		zap.Bool("passed", report.Passed()),
		zap.Int("errors", len(report.Errors())),
		zap.Int("warnings", len(report.Warnings())),
	)
	return report
}

// check runs one rule, converting errors and panics into a failed
// error-severity result.
func check(ctx context.Context, rule Rule, vc Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			logging.FromContext(ctx).Error(ctx, "rule panicked",
				zap.String("rule", rule.Name()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			res = internalFailure(rule, fmt.Errorf("panic: %v", p))
		}
	}()

	res, err := rule.Check(ctx, vc)
	if err != nil {
		return internalFailure(rule, err)
	}

	res.RuleName = rule.Name()
	if res.RuleDescription == "" {
		res.RuleDescription = rule.Description()
	}
	if res.Severity == "" {
		res.Severity = rule.Severity()
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res
}

func internalFailure(rule Rule, err error) Result {
	return Result{
		RuleName:        rule.Name(),
		RuleDescription: rule.Description(),
		Passed:          false,
		Severity:        SeverityError,
		Message:         fmt.Sprintf("rule %s failed unexpectedly: %v", rule.Name(), err),
		Details:         map[string]any{"error": err.Error()},
		Timestamp:       time.Now(),
	}
}
