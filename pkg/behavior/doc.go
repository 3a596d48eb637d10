// Package behavior watches per-device traffic for abuse patterns:
// IP hopping, request bursts, machine-regular timing, user-agent
// churn, session manipulation, and failure storms. Signals are advisory
// and deduplicated per device and pattern; nothing here rejects traffic.
package behavior
