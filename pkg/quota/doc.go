// Package quota implements multi-window token accounting for metered
// model calls.
//
// Each authenticated identity is tracked across three windows: a rolling
// accounting session (fixed duration from first request, renewed in place
// on expiry), a calendar week, and a calendar month. Admission is a
// pure-read pre-flight check against an estimated cost; the actual
// provider-reported cost is committed post-flight without re-validation.
// The monthly window is informational and never denies a request.
package quota
