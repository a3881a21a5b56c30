package di

import (
	"cmp"
	"reflect"
	"slices"
	"strconv"
)

// DecoratorModel is a validated decorator: one wrapping layer for every
// registration under ServiceKey.
type DecoratorModel struct {
	ServiceKey

	// Decorator is the constructor's result type.
	Decorator reflect.Type

	// Order sorts the chain ascending; lower orders sit closer to the implementation.
	Order int

	// Inner is the index of the argument that receives the wrapped instance.
	Inner int

	Parameters []Parameter
	Tenant     string

	seq int
	sig *signature
}

// CompositeModel is a validated composite: the singular winner for ServiceKey,
// built from every registration under that key.
type CompositeModel struct {
	ServiceKey

	Implementation reflect.Type
	Lifetime       Lifetime
	Parameters     []Parameter

	// Members is the index of the []S argument that receives every registration.
	Members int
	Tenant  string

	seq         int
	sig         *signature
	hasLifetime bool
}

// edges returns the decorator's dependencies, the inner argument excluded.
func (d *DecoratorModel) edges() []Parameter {
	out := make([]Parameter, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Index != d.Inner {
			out = append(out, p)
		}
	}
	return out
}

func newDecoratorModel(bc *BuildContext, d *DecoratorBinding, has func(ServiceKey) bool) (*DecoratorModel, []error) {
	key := ServiceKey{Type: d.ServiceType, Key: d.Key}
	if d.ServiceType == nil {
		return nil, []error{InvalidBindingError{Reason: "decorator without a service type"}}
	}
	sig, err := bc.analyze(d.Constructor)
	if err != nil {
		return nil, []error{withService(err, key)}
	}
	if !sig.out.AssignableTo(d.ServiceType) {
		return nil, []error{InvalidBindingError{Service: key,
			Reason: "decorator result " + sig.out.String() + " is not assignable to " + d.ServiceType.String()}}
	}
	params, err := applyParamOptions(sig.params, d.Params)
	if err != nil {
		return nil, []error{withService(err, key)}
	}

	inner := -1
	innerCount := 0
	for _, p := range params {
		if p.Type == d.ServiceType && p.Deferred == NotDeferred {
			inner = p.Index
			innerCount++
		}
	}
	if innerCount != 1 {
		return nil, []error{InvalidBindingError{Service: key,
			Reason: "decorator must take exactly one " + d.ServiceType.String() +
				" argument (the decorated instance), found " + strconv.Itoa(innerCount)}}
	}

	m := &DecoratorModel{
		ServiceKey: key,
		Decorator:  sig.out,
		Order:      d.Order,
		Inner:      inner,
		Tenant:     d.Tenant,
		seq:        d.seq,
		sig:        sig,
	}
	m.Parameters = classifyParams(params, has)
	var problems []error
	for _, p := range m.edges() {
		if p.required() && !has(p.ServiceKey()) {
			problems = append(problems, UnresolvedDependencyError{Service: key, Parameter: p, Tenant: d.Tenant})
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return m, nil
}

func newCompositeModel(bc *BuildContext, c *CompositeBinding, has func(ServiceKey) bool) (*CompositeModel, []error) {
	key := ServiceKey{Type: c.ServiceType, Key: c.Key}
	if c.ServiceType == nil {
		return nil, []error{InvalidBindingError{Reason: "composite without a service type"}}
	}
	sig, err := bc.analyze(c.Constructor)
	if err != nil {
		return nil, []error{withService(err, key)}
	}
	if !sig.out.AssignableTo(c.ServiceType) {
		return nil, []error{InvalidBindingError{Service: key,
			Reason: "composite result " + sig.out.String() + " is not assignable to " + c.ServiceType.String()}}
	}
	params, err := applyParamOptions(sig.params, c.Params)
	if err != nil {
		return nil, []error{withService(err, key)}
	}

	members := -1
	want := reflect.SliceOf(c.ServiceType)
	for i, p := range params {
		if p.Type == want && p.Deferred == NotDeferred {
			members = i
			break
		}
	}
	if members < 0 {
		return nil, []error{InvalidBindingError{Service: key,
			Reason: "composite must take a " + want.String() + " argument"}}
	}

	m := &CompositeModel{
		ServiceKey:     key,
		Implementation: sig.out,
		Lifetime:       c.Lifetime,
		Members:        members,
		Tenant:         c.Tenant,
		seq:            c.seq,
		sig:            sig,
		hasLifetime:    c.hasLifetime,
	}
	params[members].Enumerable = true
	params[members].Service = c.ServiceType
	if params[members].Key == "" {
		params[members].Key = c.Key
	}
	m.Parameters = classifyParams(params, has)

	var problems []error
	for _, p := range m.Parameters {
		if p.required() && !has(p.ServiceKey()) {
			problems = append(problems, UnresolvedDependencyError{Service: key, Parameter: p, Tenant: c.Tenant})
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return m, nil
}

// sortChain orders a decorator chain innermost-first.
func sortChain(chain []*DecoratorModel) {
	slices.SortStableFunc(chain, func(a, b *DecoratorModel) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

func withService(err error, key ServiceKey) error {
	if ib, ok := err.(InvalidBindingError); ok && ib.Service.Type == nil {
		ib.Service = key
		return ib
	}
	return err
}
