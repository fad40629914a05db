package sphinx

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pior/sphinx/mux"
)

// Default connection settings of searchd clients.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 3312
	DefaultConnectTimeout = 5000 * time.Millisecond
	DefaultReadTimeout    = 3000 * time.Millisecond
	DefaultWriteTimeout   = 3000 * time.Millisecond
)

// Config holds configuration for the searchd client.
type Config struct {
	// Host and Port of the searchd server.
	Host string
	Port int

	// KeepAlive enables SO_KEEPALIVE on every connection.
	KeepAlive bool

	// ConnectTimeout, ReadTimeout and WriteTimeout bound each state of a
	// connection. Every progress restarts the timeout of the current state.
	// Zero means DefaultConnectTimeout, DefaultReadTimeout and
	// DefaultWriteTimeout respectively.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ConnectRetries is the number of reconnections after a connect timeout.
	// RetryDelay is the pause before each of them. No other failure is retried.
	ConnectRetries int
	RetryDelay     time.Duration

	// MaxConcurrentCalls is the maximum number of calls running at once.
	// Each running call owns one engine from the pool.
	// Zero means 4.
	MaxConcurrentCalls int32

	// MaxEngineLifetime is the maximum duration an engine is reused. Engines
	// keep the server addresses they resolved, so this also bounds how long
	// a DNS answer is used. Zero means no limit.
	MaxEngineLifetime time.Duration

	// MaxEngineIdleTime is the maximum duration an engine can stay idle.
	// Zero means no limit.
	MaxEngineIdleTime time.Duration

	// HealthCheckInterval is how often idle engines are checked against
	// MaxEngineLifetime and MaxEngineIdleTime. Zero disables the checks.
	HealthCheckInterval time.Duration

	// Pool is the engine pool factory function.
	// If nil, uses the channel-based pool.
	Pool func(constructor func(ctx context.Context) (*mux.Multiplexer, error), maxSize int32) (Pool, error)

	// NewCircuitBreaker creates the circuit breaker guarding the server.
	// Only connection and server errors count as failures.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) CircuitBreaker

	// QueriesPerSecond limits the rate of calls. Calls wait for their turn
	// until their context is done. Zero means no limit.
	QueriesPerSecond float64

	// Burst is the number of calls allowed at once above QueriesPerSecond.
	// Zero means 1.
	Burst int

	// Logger receives connection state changes at debug level and searchd
	// warnings at warn level. If nil, nothing is logged.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration: localhost:3312,
// keepalive, 5s connect timeout, 3s read and write timeouts, no retry.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		KeepAlive:      true,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

func (c Config) validate() error {
	if c.Host == "" {
		return errors.New("sphinx: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("sphinx: port must be in [1, 65535]")
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.RetryDelay < 0 {
		return errors.New("sphinx: timeouts must not be negative")
	}
	if c.ConnectRetries < 0 {
		return errors.New("sphinx: connect retries must not be negative")
	}
	if c.MaxConcurrentCalls < 0 {
		return errors.New("sphinx: max concurrent calls must not be negative")
	}
	return nil
}

func (c Config) muxConfig() mux.Config {
	return mux.Config{
		Host:           c.Host,
		Port:           c.Port,
		KeepAlive:      c.KeepAlive,
		ConnectTimeout: cmp.Or(c.ConnectTimeout, DefaultConnectTimeout),
		ReadTimeout:    cmp.Or(c.ReadTimeout, DefaultReadTimeout),
		WriteTimeout:   cmp.Or(c.WriteTimeout, DefaultWriteTimeout),
		ConnectRetries: c.ConnectRetries,
		RetryDelay:     c.RetryDelay,
	}
}
