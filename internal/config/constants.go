package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval      = 5 * time.Minute
	CleanupTimeout          = 30 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
)

// Default rate limiting
const (
	DefaultRateLimitPerMin    = 60
	VerificationResendLimit   = 3
	VerificationResendWindow  = time.Hour
	RegisterLimitPerIP        = 10
	RegisterLimitWindow       = time.Hour
	VerificationTokenLifetime = 24 * time.Hour
)

// Orchestration timeouts
const (
	FinalizerTimeout       = 15 * time.Second
	SupervisorStopTimeout  = 10 * time.Second
	ListenerConnectTimeout = 20 * time.Second
	MailSendTimeout        = 20 * time.Second
	GenerationTimeout      = 90 * time.Second
)

// Away summaries generated concurrently per request
const SummaryConcurrency = 4
