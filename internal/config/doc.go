// Package config loads and validates the watcher's YAML configuration.
//
// Loading expands ${VAR} environment references, applies defaults for
// optional fields, and validates required ones. The database section is
// only required when tick persistence is enabled.
package config
