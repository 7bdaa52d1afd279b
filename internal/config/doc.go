// Package config handles configuration loading for the gateway client.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a missing file means
// "local unauthenticated gateway on the default port".
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	gateway:
//	  token: "${OPENCLAW_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Gateway connection:
//
//	gateway:
//	  host: "127.0.0.1"
//	  port: 18789
//	  token: "${OPENCLAW_TOKEN}"
//	  use_tls: false
//
// Agent session:
//
//	session:
//	  key: "main"
//	  model: ""        # optional model override
//	  thinking: ""     # optional thinking-mode override
//	  timeout: "30s"   # overall bound per agent request
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/openclaw/client.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
