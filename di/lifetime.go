package di

import (
	"strconv"
	"strings"
)

// Lifetime controls how long a constructed instance is cached.
type Lifetime int

const (
	// Singleton instances are built once per provider and shared by every scope.
	Singleton Lifetime = iota

	// Scoped instances are built once per scope.
	Scoped

	// Transient instances are built on every resolution.
	Transient

	// lifetimeUnknown is reported to observers when a key has no registration.
	lifetimeUnknown Lifetime = -1
)

// String returns the manifest spelling of the lifetime.
func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	case lifetimeUnknown:
		return "unknown"
	default:
		return "lifetime(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLifetime accepts "singleton", "scoped" or "transient" (case-insensitive).
func ParseLifetime(s string) (Lifetime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singleton":
		return Singleton, nil
	case "scoped":
		return Scoped, nil
	case "transient":
		return Transient, nil
	}
	return 0, InvalidBindingError{Reason: "unknown lifetime " + strconv.Quote(s)}
}

// Strategy is the construction strategy the planner assigns to a model.
type Strategy int

const (
	// NewEachTime constructs a fresh instance on every resolution.
	NewEachTime Strategy = iota

	// CacheInScope constructs once per scope.
	CacheInScope

	// CacheInRoot constructs once per provider.
	CacheInRoot
)

func (s Strategy) String() string {
	switch s {
	case NewEachTime:
		return "new-each-time"
	case CacheInScope:
		return "cache-in-scope"
	case CacheInRoot:
		return "cache-in-root"
	default:
		return "strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

func strategyFor(l Lifetime) Strategy {
	switch l {
	case Singleton:
		return CacheInRoot
	case Scoped:
		return CacheInScope
	default:
		return NewEachTime
	}
}
