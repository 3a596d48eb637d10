// Package admission is the facade the request-handling layer calls for
// every metered operation: pre-flight quota checks against estimated
// cost, guest throttling, the guarded upstream call, post-flight usage
// commits from actual provider-reported tokens, and advisory abuse
// signals.
package admission
