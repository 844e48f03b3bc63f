package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. Request timeout must exceed the remote signer
// request timeout so sign calls are not cut short by the router.
const (
	ServerRequestTimeout  = 90 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Ping timeout for backing services at startup
const DBPingTimeout = 5 * time.Second

// Relay connection
const (
	RelayDialTimeout    = 10 * time.Second
	RelayRedialInterval = 5 * time.Second
	RelayWriteTimeout   = 10 * time.Second
)

// Server-sent events heartbeat
const SSEHeartbeatInterval = 30 * time.Second

// Flush budget for pending session writes on shutdown
const SessionFlushTimeout = 5 * time.Second
