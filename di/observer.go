package di

import (
	"time"
)

// Observer receives engine events. Implementations must be safe for concurrent use;
// the metrics package provides a Prometheus-backed one.
type Observer interface {
	// BuildFinished is called once per compiled graph (root, each tenant, each child).
	BuildFinished(tenant string, models int, elapsed time.Duration, err error)

	// Resolved is called for every top-level resolution through a Resolver.
	Resolved(key ServiceKey, lifetime Lifetime, elapsed time.Duration, err error)

	// ScopeDisposed is called when a scope or provider root finishes disposal.
	ScopeDisposed(tracked int, err error)
}

type nopObserver struct{}

func (nopObserver) BuildFinished(string, int, time.Duration, error) {}
func (nopObserver) Resolved(ServiceKey, Lifetime, time.Duration, error) {}
func (nopObserver) ScopeDisposed(int, error) {}
