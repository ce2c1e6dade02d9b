package config

// DevProfile returns a starter cliniguard.yaml for local development:
// in-memory audit store, a static actor directory with generous grants, text
// logs at debug level.
func DevProfile() string {
	return `# cliniguard configuration — dev profile
listen:
  host: 127.0.0.1
  port: 8080

identity:
  mode: static
  static:
    actors:
      - id: dev-admin
        role: admin
        organization: dev
        permissions: ["*:*"]
      - id: dev-physician
        role: physician
        organization: dev
        permissions: ["patient:read", "patient:write", "observation:read"]

audit:
  backend: memory
  log_successes: true
  success_sampling_rate: 1.0

rate_limit:
  enabled: false
  per_actor_per_minute: 600
  burst: 100

logging:
  level: debug
  format: text
`
}

// ProdProfile returns a starter cliniguard.yaml for production: durable
// SQLite audit store, token-protected actors, JSON logs, rate limiting on.
func ProdProfile() string {
	return `# cliniguard configuration — prod profile
listen:
  host: 0.0.0.0
  port: 8080
  max_connections: 1000
  max_body_size: 1048576
  # trusted_proxies: ["10.0.0.0/8"]

identity:
  mode: static
  static:
    actors:
      - id: agent-service
        role: agent_service
        organization: example-health
        token: change-me
        permissions: ["patient:read", "observation:read"]
    # directory: /etc/cliniguard/actors.yaml

audit:
  backend: sqlite
  sqlite:
    path: /var/lib/cliniguard/audit.db
  log_successes: true
  success_sampling_rate: 0.1

rate_limit:
  enabled: true
  per_actor_per_minute: 120
  burst: 20
  cleanup_interval: 5m

logging:
  level: info
  format: json

health:
  readiness_mode: all_checks

shutdown:
  timeout: 30s
  drain_timeout: 15s

reload:
  enabled: true
  watch_file: true
  debounce: 2s
`
}
