package health

import "context"

// Checker reports whether a dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger checks key-value store availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to a Checker.
type PingChecker struct {
	Pinger Pinger
}

// HealthCheck pings the store.
func (p PingChecker) HealthCheck(ctx context.Context) error {
	return p.Pinger.Ping(ctx) //nolint:wrapcheck // transparent adapter
}
