// Package config handles configuration loading for the couples-chat client.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path given with the -config flag
//  2. Path from COUPLES_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/couples-chat/config.yaml (or ~/.config/couples-chat/config.yaml)
//
// Files ending in .toml are read as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  token: "${COUPLES_CHAT_TOKEN}"
//
// After parsing, COUPLES_* variables override individual fields:
// COUPLES_SERVER_URL, COUPLES_MODE, COUPLES_SESSION_ID,
// COUPLES_RELATIONSHIP_ID, COUPLES_USER_ID, COUPLES_TOKEN,
// COUPLES_TOKEN_ENDPOINT, COUPLES_DATABASE_PATH, COUPLES_LOG_LEVEL and
// COUPLES_METRICS_ADDR.
//
// # Example
//
//	server:
//	  url: "wss://chat.example.com/socket"
//
//	session:
//	  mode: "shared"            # single or shared
//	  relationship_id: "rel-42"
//	  user_id: "user-a"
//
//	auth:
//	  token_endpoint: "https://auth.example.com/token"
//	  refresh_skew: "30s"
//
//	timeouts:
//	  ack: "5s"
//	  finalize: "5s"
//	  connect: "20s"
//	  reconnect_initial: "1s"
//	  reconnect_max: "30s"
//	  typing_ttl: "6s"
//	  typing_interval: "2s"
//
//	database:
//	  path: "/home/sam/.local/share/couples-chat/backlog.db"
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text or json
//
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9100"
//
//	admins:
//	  - "ops-1"
//
// Durations use time.ParseDuration syntax.
package config
