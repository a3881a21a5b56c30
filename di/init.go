package di

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// initialize builds every singleton whose implementation is an Initializer and
// runs Initialize on the undecorated instance. Groups run in ascending InitOrder;
// the members of a group run concurrently and all must succeed before the next
// group starts.
func (p *Provider) initialize(ctx context.Context) error {
	var pending []*planEntry
	for _, e := range p.plan.entries {
		if e.initializer && e.delegate == nil {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	slices.SortStableFunc(pending, func(a, b *planEntry) int { return cmp.Compare(a.initOrder, b.initOrder) })

	for len(pending) > 0 {
		order := pending[0].initOrder
		n := 1
		for n < len(pending) && pending[n].initOrder == order {
			n++
		}
		group := pending[:n]
		pending = pending[n:]

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range group {
			g.Go(func() error { return p.initializeOne(gctx, e) })
		}
		if err := g.Wait(); err != nil {
			p.logger.Error("initialization failed", zap.Int("order", order), zap.Error(err))
			return err
		}
		p.logger.Debug("initialization group done", zap.Int("order", order), zap.Int("services", len(group)))
	}
	return nil
}

// initializeAll initializes p, then each tenant in name order.
func (p *Provider) initializeAll(ctx context.Context) error {
	if err := p.initialize(ctx); err != nil {
		return err
	}
	for _, name := range p.Tenants() {
		if err := p.tenants[name].initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) initializeOne(ctx context.Context, e *planEntry) error {
	if _, err := p.root.get(e, &resolution{}); err != nil {
		return InitializationError{Key: e.key, Err: err}
	}
	init, ok := p.root.cellFor(e).base.(Initializer)
	if !ok {
		return nil
	}
	if err := init.Initialize(ctx); err != nil {
		return InitializationError{Key: e.key, Err: err}
	}
	return nil
}
