package storage

import "time"

const (
	defaultMaxConns          = 10
	defaultMinConns          = 2
	defaultMaxConnIdleTime   = 30 * time.Second
	defaultMaxConnLifetime   = 30 * time.Minute
	defaultHealthCheckPeriod = time.Minute

	maxConnectionRetries = 10
	// ConnectionRetrySleep is the pause between connection attempts.
	ConnectionRetrySleep = 2 * time.Second
)
