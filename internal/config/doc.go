// Package config handles configuration loading for huddle-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file name ends
// in .toml) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HUDDLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/huddle/gateway.yaml
//  3. ~/.config/huddle/gateway.yaml
//
// A .env file in the working directory is loaded into the environment by the
// binary before the config file is read.
//
// # Environment Variable Expansion
//
//	bot:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3000"   # WebSocket and REST
//
//	database:
//	  path: "/var/lib/huddle/huddle.db"
//	  driver: "sqlite"            # sqlite (pure Go) or sqlite3 (cgo)
//
//	auth:
//	  jwt_secret: "${HUDDLE_JWT_SECRET}"   # empty disables token checks
//
//	delivery:
//	  buffer_size: 64             # per-connection outbound queue
//	  dedupe_ttl: "5m"            # window for resent clientMessageId
//
//	bot:
//	  enabled: true
//	  trigger: "@chatBot"
//	  username: "chatBot"
//	  base_url: "https://openrouter.ai/api/v1"
//	  api_key: "${OPENROUTER_API_KEY}"
//	  model: "google/gemini-2.0-flash-lite-preview-02-05:free"
//	  timeout: "30s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "huddle"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() rejects a missing http_addr (unless tailscale is enabled), a missing
// database path, an unknown driver, and an enabled bot without an API key.
package config
