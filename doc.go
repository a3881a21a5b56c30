// Package odigraph is a compile-then-resolve dependency injection engine.
//
// Services are declared up front, compiled into a validated graph by Build and
// resolved at run time from a Provider or a Scope. Cycles, missing
// dependencies and ambiguous constructors are all reported before anything is
// constructed.
//
// Packages:
//   - di: registry, graph builder, planner and scope runtime
//   - manifest: YAML binding manifests applied through a host Catalog, plus a
//     file watcher
//   - metrics: a prometheus di.Observer
//   - diagnostics: a chi router exposing the compiled graphs and metrics
//   - config: environment configuration for hosts
//   - cmd/digen: generates registration code from a manifest
//   - examples/tenants: a runnable multi-tenant host
package odigraph
