// Package rules is the library of reusable validation rules that procedure
// validators are composed from.
//
// Every rule fails closed: a missing attribute, an unreadable value or an
// unexpected filesystem error produces a failed Result with the underlying
// error captured in its details, never an aborted validation run.
package rules
