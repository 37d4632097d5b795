package gateway

import "context"

// Strategy selects one provider from an eligible set. Returning a nil
// provider without an error means no candidate fits; the caller maps that
// to ProviderUnavailable.
type Strategy interface {
	Select(ctx context.Context, req *Request, providers []Provider) (Provider, error)
}

// roundRobinNamespace is the service-locals scope holding per-provider call
// counts.
const roundRobinNamespace = "round_robin_calls"

// RoundRobin balances calls by picking the least-used provider, breaking
// ties in declaration order. Counts live in the service locals, so every
// pipeline worker shares them.
type RoundRobin struct{}

func (RoundRobin) Select(_ context.Context, req *Request, providers []Provider) (Provider, error) {
	if len(providers) == 0 {
		return nil, nil
	}
	if req == nil || req.Service == nil || req.Service.Locals() == nil {
		return nil, NewInternalError("Impossible to use RoundRobinStrategy due to unavailable `locals`")
	}

	var chosen Provider
	req.Service.Locals().WithNamespace(roundRobinNamespace, func(scope map[string]interface{}) {
		best := -1
		for _, p := range providers {
			count, _ := scope[p.Name()].(int)
			if best == -1 || count < best {
				best = count
				chosen = p
			}
		}
		count, _ := scope[chosen.Name()].(int)
		scope[chosen.Name()] = count + 1
	})
	return chosen, nil
}
