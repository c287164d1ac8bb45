// Package config handles configuration loading for the passkey popup gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults for popup timing.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	endpoints:
//	  rpc: "${RPC_ENDPOINT}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	popup:
//	  heartbeat_interval: "2s"
//	  redirect_delay: "1s"
//	  countdown_tick: "1s"
//
// # Configuration Sections
//
// Relying party identity (required):
//
//	relying_party:
//	  id: "popup.example.com"
//	  name: "Example Wallet"
//
// Collaborator endpoints (all required; boot fails fast on any absence):
//
//	endpoints:
//	  rpc: "https://rpc.example.com"
//	  passkey_db: "https://db.example.com/passkeys"
//	  payers: "https://payers.example.com"
//	  image_proxy: "https://img.example.com/proxy"
//	  frame_ancestor: "https://app.example.com"
//
// Server and logging:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
