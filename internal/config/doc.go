// Package config loads relay configuration.
//
// Configuration comes from, in increasing precedence: built-in defaults, a
// YAML file, YRELAY_* environment variables, and command-line flags. Nested
// keys map to environment variables by replacing dots with underscores, so
// session.send_queue_size is YRELAY_SESSION_SEND_QUEUE_SIZE.
//
// # Configuration File Structure
//
//	server:
//	  address: ":1234"
//	  allowed_origins: ["https://app.example.com"]
//	  max_connections: 10000
//	  shutdown_timeout: 30s
//	session:
//	  read_timeout: 60s
//	  heartbeat_interval: 30s
//	  max_message_size: 1048576
//	  send_queue_size: 256
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  enabled: true
//	  path: /metrics
//	tracing:
//	  enabled: false
//
// An allowed_origins entry of "*" disables the origin check.
package config
