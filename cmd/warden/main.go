// Warden is the quota, admission-control, and abuse-detection core for a
// study-assistant backend.
//
// It meters model-provider usage per identity across three token windows
// (rolling session, calendar week, calendar month), guards upstream calls
// with a concurrency limit, timeout, and circuit breaker, throttles
// anonymous trial devices, and raises advisory abuse signals from traffic
// patterns.
//
// Usage:
//
//	# Start server with default configuration
//	warden run
//
//	# Start with custom configuration file
//	warden run --config /path/to/warden.yaml
//
//	# Validate a configuration file
//	warden validate --config /path/to/warden.yaml
//
//	# Show version information
//	warden version
package main

func main() {
	Execute()
}
