// Package config handles configuration loading for vouch-ledger.
//
// # Overview
//
// Configuration is optional. Without a file every field takes its default,
// and the database lives at data/vouches.db.
//
// # Configuration File
//
// The file is chosen in order:
//
//  1. The --config flag of vouch-admin
//  2. Path from VOUCH_CONFIG environment variable
//
// Files ending in .toml are parsed as TOML, anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${STATE_DIR}/vouches.db"
//
// Syntax: ${VAR_NAME}
//
// VOUCH_DB_PATH, when set, overrides database.path regardless of source.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	database:
//	  busy_timeout: "30s"
//
// # Example
//
//	database:
//	  path: "/var/lib/vouch-ledger/vouches.db"
//	  busy_timeout: "10s"
//	  legacy_namespace: "0"
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
package config
