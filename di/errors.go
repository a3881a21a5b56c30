package di

import (
	"errors"
	"strconv"
	"strings"
)

// ErrorCode is the stable, machine-readable code carried by every engine error.
type ErrorCode string

// Codes carried by the errors of this package; see CodeOf.
const (
	CodeConflictCycle            ErrorCode = "CONFLICT_CYCLE"
	CodeUnresolvedDependency     ErrorCode = "UNRESOLVED_DEPENDENCY"
	CodeAmbiguousConstructor     ErrorCode = "AMBIGUOUS_CONSTRUCTOR"
	CodeMissingRegistration      ErrorCode = "MISSING_REGISTRATION"
	CodeDisposalAggregateFailure ErrorCode = "DISPOSAL_AGGREGATE_FAILURE"
	CodeInvalidBinding           ErrorCode = "INVALID_BINDING"
	CodeUnknownTenant            ErrorCode = "UNKNOWN_TENANT"
	CodeScopeDisposed            ErrorCode = "SCOPE_DISPOSED"
	CodeInitializationFailed     ErrorCode = "INITIALIZATION_FAILED"
	CodeConstructionFailed       ErrorCode = "CONSTRUCTION_FAILED"
	CodeNilResolver              ErrorCode = "NIL_RESOLVER"
)

// CodedError is implemented by every error type in this package.
type CodedError interface {
	error
	Code() ErrorCode
}

// CodeOf returns the code of the first CodedError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code(), true
	}
	return "", false
}

type sentinelError struct {
	code ErrorCode
	msg  string
}

func (e *sentinelError) Error() string   { return e.msg }
func (e *sentinelError) Code() ErrorCode { return e.code }

var (
	// ErrScopeDisposed is returned when a disposed scope or provider is asked to resolve.
	ErrScopeDisposed error = &sentinelError{code: CodeScopeDisposed, msg: "di: scope is disposed"}

	// ErrNilResolver is returned by the generic helpers when given a nil Resolver,
	// and by Lazy and Func values that were not built by the engine.
	ErrNilResolver error = &sentinelError{code: CodeNilResolver, msg: "di: nil resolver"}
)

// CircularDependencyError reports a dependency chain that returns to itself.
//
// Path starts and ends with the same key: A -> B -> A.
type CircularDependencyError struct {
	Path []ServiceKey
}

func (e CircularDependencyError) Code() ErrorCode { return CodeConflictCycle }

func (e CircularDependencyError) Error() string {
	// Example: di: circular dependency: app.A -> app.B -> app.A
	return "di: circular dependency: " + joinKeys(e.Path, " -> ")
}

// UnresolvedDependencyError reports a required parameter with no registration in the merged graph.
//
// A Parameter.Index of -1 marks a key recorded with Use rather than a constructor argument.
type UnresolvedDependencyError struct {
	Service   ServiceKey
	Parameter Parameter
	Tenant    string
}

func (e UnresolvedDependencyError) Code() ErrorCode { return CodeUnresolvedDependency }

func (e UnresolvedDependencyError) Error() string {
	// Example: di: app.Handler parameter #0 requires app.Store, which has no registration
	var msg string
	if e.Parameter.Index < 0 {
		msg = "di: " + e.Service.String() + " is requested by the host but has no registration"
	} else {
		msg = "di: " + e.Service.String() + " parameter #" + strconv.Itoa(e.Parameter.Index) +
			" requires " + e.Parameter.ServiceKey().String() + ", which has no registration"
	}
	if e.Tenant != "" {
		msg += " (tenant " + strconv.Quote(e.Tenant) + ")"
	}
	return msg
}

// AmbiguousConstructorError reports an implementation with several candidate
// constructors, none of which can be fully satisfied.
type AmbiguousConstructorError struct {
	Service    ServiceKey
	Candidates []string
	Missing    []ServiceKey
}

func (e AmbiguousConstructorError) Code() ErrorCode { return CodeAmbiguousConstructor }

func (e AmbiguousConstructorError) Error() string {
	return "di: no satisfiable constructor for " + e.Service.String() +
		" among " + strconv.Itoa(len(e.Candidates)) + " candidates [" + strings.Join(e.Candidates, ", ") +
		"]; missing " + joinKeys(e.Missing, ", ")
}

// MissingRegistrationError is returned at resolution time when no model matches the key.
//
// FromRoot is true when the caller resolved directly from a provider: only
// Singleton services are reachable there.
type MissingRegistrationError struct {
	Key      ServiceKey
	FromRoot bool

	// Registered is true when the key exists but its lifetime is not reachable from the root.
	Registered bool
}

func (e MissingRegistrationError) Code() ErrorCode { return CodeMissingRegistration }

func (e MissingRegistrationError) Error() string {
	if e.FromRoot {
		if e.Registered {
			return "di: " + e.Key.String() + " is not a singleton; only singleton services can be resolved from the root provider, create a scope first"
		}
		return "di: no singleton registration for " + e.Key.String() + " in the root provider"
	}
	return "di: no registration for " + e.Key.String()
}

// InvalidBindingError reports a malformed declaration (bad constructor shape,
// decorator without an inner argument, unknown lifetime, ...).
type InvalidBindingError struct {
	Service ServiceKey
	Reason  string
}

func (e InvalidBindingError) Code() ErrorCode { return CodeInvalidBinding }

func (e InvalidBindingError) Error() string {
	if e.Service.Type == nil {
		return "di: invalid binding: " + e.Reason
	}
	return "di: invalid binding for " + e.Service.String() + ": " + e.Reason
}

// UnknownTenantError is returned by GetTenant for an undeclared tenant.
type UnknownTenantError struct{ Tenant string }

func (e UnknownTenantError) Code() ErrorCode { return CodeUnknownTenant }

func (e UnknownTenantError) Error() string {
	return "di: unknown tenant " + strconv.Quote(e.Tenant)
}

// ConstructionError wraps a constructor, factory or decorator failure (error or panic).
type ConstructionError struct {
	Key   ServiceKey
	Err   error
	Panic any
}

func (e ConstructionError) Code() ErrorCode { return CodeConstructionFailed }

func (e ConstructionError) Error() string {
	if e.Panic != nil && e.Err == nil {
		return "di: constructing " + e.Key.String() + " panicked"
	}
	return "di: constructing " + e.Key.String() + ": " + e.Err.Error()
}

func (e ConstructionError) Unwrap() error { return e.Err }

// InitializationError wraps an Initializer failure during Build.
type InitializationError struct {
	Key ServiceKey
	Err error
}

func (e InitializationError) Code() ErrorCode { return CodeInitializationFailed }

func (e InitializationError) Error() string {
	return "di: initializing " + e.Key.String() + ": " + e.Err.Error()
}

func (e InitializationError) Unwrap() error { return e.Err }

// BuildError aggregates every problem found while compiling a graph.
//
// errors.As finds each individual problem through Unwrap.
type BuildError struct {
	Tenant   string
	Problems []error
}

// Code is the code of the first problem.
func (e *BuildError) Code() ErrorCode {
	if len(e.Problems) == 0 {
		return CodeInvalidBinding
	}
	if c, ok := CodeOf(e.Problems[0]); ok {
		return c
	}
	return CodeInvalidBinding
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	sb.WriteString("di: build failed")
	if e.Tenant != "" {
		sb.WriteString(" for tenant " + strconv.Quote(e.Tenant))
	}
	sb.WriteString(" (" + strconv.Itoa(len(e.Problems)) + " problem")
	if len(e.Problems) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(")")
	for _, p := range e.Problems {
		sb.WriteString("\n  - ")
		sb.WriteString(p.Error())
	}
	return sb.String()
}

func (e *BuildError) Unwrap() []error { return e.Problems }

// DisposalError aggregates every failure seen while disposing a scope or provider.
// All tracked instances are attempted before it is returned.
type DisposalError struct {
	Errors []error
}

func (e *DisposalError) Code() ErrorCode { return CodeDisposalAggregateFailure }

func (e *DisposalError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "di: " + strconv.Itoa(len(e.Errors)) + " disposal failure(s): " + strings.Join(parts, "; ")
}

func (e *DisposalError) Unwrap() []error { return e.Errors }

func joinKeys(keys []ServiceKey, sep string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, sep)
}
