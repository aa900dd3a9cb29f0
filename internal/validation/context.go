package validation

import (
	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
)

// InputDirAttrs are the input attributes tried, in order, for the primary
// input directory of a procedure.
var InputDirAttrs = []string{"bids_dir", "dicom_dir", "qsiprep_dir", "qsirecon_dir"}

// Context is the immutable snapshot handed to every rule.
// Expected outputs and the execution record are only present in the post phase.
type Context struct {
	procedure   string
	participant string
	session     string
	inputs      attrs.Attributes
	config      attrs.Attributes

	post            bool
	expectedOutputs attrs.Attributes
	execution       *execution.Record
}

// NewPreContext builds the context for the pre phase.
func NewPreContext(procedure, participant, session string, inputs, config attrs.Attributes) Context {
	return Context{
		procedure:   procedure,
		participant: participant,
		session:     session,
		inputs:      inputs,
		config:      config,
	}
}

// ForPost returns a copy of c carrying the execution outcome.
func (c Context) ForPost(outputs attrs.Attributes, record *execution.Record) Context {
	c.post = true
	c.expectedOutputs = outputs
	c.execution = record
	return c
}

func (c Context) Procedure() string                 { return c.procedure }
func (c Context) Participant() string               { return c.participant }
func (c Context) Session() string                   { return c.session }
func (c Context) Inputs() attrs.Attributes          { return c.inputs }
func (c Context) Config() attrs.Attributes          { return c.config }
func (c Context) ExpectedOutputs() attrs.Attributes { return c.expectedOutputs }
func (c Context) Execution() *execution.Record      { return c.execution }

// IsPost reports whether the context was built for the post phase.
func (c Context) IsPost() bool { return c.post }

// ParticipantLabel returns the participant with its "sub-" prefix.
func (c Context) ParticipantLabel() string {
	return "sub-" + c.participant
}

// SessionLabel returns the session with its "ses-" prefix, or "" without a session.
func (c Context) SessionLabel() string {
	if c.session == "" {
		return ""
	}
	return "ses-" + c.session
}

// InputDir returns the first present InputDirAttrs value, or the first of
// names when given.
func (c Context) InputDir(names ...string) (string, bool) {
	if c.inputs == nil {
		return "", false
	}
	if len(names) == 0 {
		names = InputDirAttrs
	}
	for _, name := range names {
		v, ok := c.inputs.Get(name)
		if !ok {
			continue
		}
		if p, present, err := attrs.Path(v); err == nil && present {
			return p, true
		}
	}
	return "", false
}
