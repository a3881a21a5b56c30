package di_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// recorder collects events from fixtures in the order they happen.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// counter is a distinct, non-zero-sized instance per construction.
type counter struct{ n int64 }

var counterSeq atomic.Int64

func newCounter() *counter { return &counter{n: counterSeq.Add(1)} }

// Config / Store / Handler form a small application graph.
type Config struct{ DSN string }

func newConfig() *Config { return &Config{DSN: "mem://"} }

type Store interface{ Name() string }

type namedStore struct {
	name string
	cfg  *Config
}

func (s *namedStore) Name() string { return s.name }

func newRootStore(cfg *Config) Store   { return &namedStore{name: "root", cfg: cfg} }
func newTenantStore(cfg *Config) Store { return &namedStore{name: "acme", cfg: cfg} }

type Handler struct{ Store Store }

func newHandler(s Store) *Handler { return &Handler{Store: s} }

// Greeter exercises decorators and composites.
type Greeter interface{ Greet() string }

type textGreeter string

func (g textGreeter) Greet() string { return string(g) }

type taggedGreeter struct {
	inner Greeter
	tag   string
}

func (g taggedGreeter) Greet() string { return g.tag + "(" + g.inner.Greet() + ")" }

func tagWith(tag string) func(Greeter) Greeter {
	return func(inner Greeter) Greeter { return taggedGreeter{inner: inner, tag: tag} }
}

type chorus struct{ members []Greeter }

func (c *chorus) Greet() string {
	parts := make([]string, len(c.members))
	for i, m := range c.members {
		parts[i] = m.Greet()
	}
	return strings.Join(parts, "+")
}

func newChorus(members []Greeter) Greeter { return &chorus{members: members} }

// resource records its disposal.
type resource struct {
	name string
	rec  *recorder
	fail error
}

func (r *resource) Dispose() error {
	r.rec.add("dispose " + r.name)
	return r.fail
}

type closer struct {
	name string
	rec  *recorder
}

func (c *closer) Close() error {
	c.rec.add("close " + c.name)
	return nil
}

type asyncResource struct {
	name string
	rec  *recorder
}

func (a *asyncResource) DisposeAsync(ctx context.Context) error {
	a.rec.add("dispose-async " + a.name)
	return ctx.Err()
}

// Cycle fixtures.
type cycA struct{ b *cycB }
type cycB struct{ a *cycA }

func newCycA(b *cycB) *cycA { return &cycA{b: b} }
func newCycB(a *cycA) *cycB { return &cycB{a: a} }

// Open-generic fixtures.
type User struct{ ID int }
type Order struct{ ID int }
type Invoice struct{ ID int }

type Repo[T any] interface{ Item() *T }

type memRepo[T any] struct{ item *T }

func (r *memRepo[T]) Item() *T { return r.item }

func newMemRepo[T any](item *T) *memRepo[T] { return &memRepo[T]{item: item} }

type loggedRepo[T any] struct{ Repo[T] }

func wrapRepo[T any](inner Repo[T]) Repo[T] { return loggedRepo[T]{Repo: inner} }

type UserService struct{ Users Repo[User] }

func newUserService(r Repo[User]) *UserService { return &UserService{Users: r} }

// Initializer fixtures.
type warmCache struct {
	name string
	rec  *recorder
	fail error
}

func (w *warmCache) Initialize(context.Context) error {
	w.rec.add("init " + w.name)
	return w.fail
}

var errBoom = errors.New("boom")
