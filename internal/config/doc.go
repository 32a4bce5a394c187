// Package config handles configuration loading for coven-joinlink.
//
// # Overview
//
// Configuration is loaded from a TOML file, or a YAML file when the name
// ends in .yaml or .yml. Environment variables are expanded before parsing,
// a few JOINLINK_* variables override file values, and the result is
// checked with struct validation tags.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from JOINLINK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/joinlink.toml
//  3. ~/.config/coven/joinlink.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[bot]
//	encryption_key = "${JOINLINK_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Overrides
//
// These variables replace the matching file value when set:
//
//	JOINLINK_ENCRYPTION_KEY  bot.encryption_key
//	JOINLINK_DATA_DIR        data.directory
//	JOINLINK_LOG_LEVEL       logging.level
//
// # Example
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "joinbot"
//	password = "${JOINLINK_PASSWORD}"
//	request_timeout = "30s"
//
//	[bot]
//	prefix = "join"
//	encryption_key = "${JOINLINK_SECRET}"
//	users = [":example.org"]
//	admins = ["@admin:example.org"]
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[metrics]
//	enabled = true
//	addr = ":9090"
//	path = "/metrics"
//
// # Validation
//
// The homeserver must be a URL, username and password are required, the
// encryption key needs at least 8 characters and the prefix must be
// alphanumeric. Validation errors name the offending key, e.g.
// "bot.encryption_key failed min=8".
//
// Changing bot.encryption_key breaks every existing link: the stored
// pointers no longer decrypt.
package config
