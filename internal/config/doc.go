// Package config loads the sentinel YAML configuration.
//
// ${VAR} and ${VAR:-default} references are expanded from the environment
// before parsing. Secrets are never stored in the file: fields ending in
// _env name the environment variable that holds the value.
package config
