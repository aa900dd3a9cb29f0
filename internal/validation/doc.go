// Package validation provides the rule and validator abstractions that gate
// every orchestrated procedure.
//
// A Rule is a single named, read-only check. A Validator binds an ordered set
// of pre-phase and post-phase rules to a procedure name and runs them against
// an immutable Context, producing a Report. Every rule always runs: a failing
// or misbehaving rule never prevents the remaining rules from reporting.
//
// Validation failures are data, not errors. The only errors this package
// returns are configuration errors (*ConfigError), raised when a validator is
// malformed or a procedure is not registered.
//
// # Usage
//
//	v, err := validation.NewValidator("qsiprep",
//	    []validation.Rule{rules.DirectoryExists("bids_dir", "BIDS directory")},
//	    []validation.Rule{rules.OutputDirectoryExists("qsiprep_dir", "QSIPrep output directory")},
//	)
//	report := v.ValidatePre(ctx, validation.NewPreContext("qsiprep", "01", "", inputs, nil))
//	if !report.Passed() {
//	    fmt.Println(report.Summary())
//	}
package validation
