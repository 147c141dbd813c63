// Package loadbalance picks one server among those that expose the same resource name.
//
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers with different capacity, by registered weight
package loadbalance

import (
	"crm-rpc/registry"

	"github.com/pkg/errors"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() when resolving a resource name to an address.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Strategy names accepted by New.
const (
	StrategyRoundRobin     = "round-robin"
	StrategyWeightedRandom = "weighted-random"
)

// New returns the balancer for a strategy name.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case StrategyRoundRobin, "":
		return &RoundRobinBalancer{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	}
	return nil, errors.Errorf("unknown load balancing strategy %q", strategy)
}
