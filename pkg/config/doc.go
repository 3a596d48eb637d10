// Package config provides configuration loading, defaults, validation,
// and environment variable overrides for Warden.
//
// Configuration is loaded from YAML files with a three-layer precedence:
// defaults < file < environment variables (WARDEN_SECTION_FIELD).
// The per-identity limit overrides file can additionally be hot-reloaded
// at runtime via OverridesWatcher.
package config
