// Package audit records the append-only event trail of procedure runs.
//
// Each (procedure, participant, session) key owns one JSON Lines sink under
// the log directory. Repeated runs accumulate in the same sink and are told
// apart by run_id. Every line is written with a single O_APPEND write under a
// lock file and fsynced before LogEvent returns.
//
// Events are hash chained: each record carries the sequence number and hash
// of the record before it in the sink, and its own hash over the RFC 8785
// canonical form of the record. VerifyChain detects edited, dropped or
// reordered lines.
package audit
