// Package config handles configuration loading for scheme-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	schemes:
//	  api_key: "${SCHEME_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	upstream:
//	  timeout: "90s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:12000"
//
// Answer provider:
//
//	upstream:
//	  host: "discoveryengine.googleapis.com"
//	  project_id: "my-project"
//	  engine_id: "my-engine"
//	  model_version: "stable"
//	  language_code: "en"
//	  timeout: "90s"
//
// Scheme registry:
//
//	schemes:
//	  token_url: "https://registry.example/token"
//	  list_url: "https://registry.example/list"
//	  details_url: "https://registry.example/details"
//	  api_key: "${SCHEME_API_KEY}"
//	  secret_key: "${SCHEME_SECRET_KEY}"
//	  state_code: "${SCHEME_STATE_CODE}"
//
// Hierarchy sync:
//
//	sync:
//	  max_in_flight: 50
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "scheme-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// # Validation
//
// Load() validates required fields (listen address, upstream project and
// engine, database path) and duration syntax before returning.
package config
