package fleet

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/fablepress/pressroom/internal/compliance"
)

type Strategy int

const (
	StrategyRoundRobin Strategy = iota
	StrategyLeastConnections
	StrategyWeighted
)

func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "round_robin":
		return StrategyRoundRobin, nil
	case "least_connections":
		return StrategyLeastConnections, nil
	case "weighted":
		return StrategyWeighted, nil
	}
	return 0, fmt.Errorf("unknown load-balancing strategy: %s", name)
}

func (s Strategy) String() string {
	switch s {
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyLeastConnections:
		return "least_connections"
	case StrategyWeighted:
		return "weighted"
	}
	return "unknown"
}

// Balancer picks one printer from a non-empty eligible set. Candidates arrive
// in registration order.
type Balancer interface {
	Pick(region string, candidates []*Printer, spec compliance.QualitySpec) *Printer
}

func NewBalancer(strategy Strategy) Balancer {
	switch strategy {
	case StrategyRoundRobin:
		return &roundRobinBalancer{cursors: make(map[string]int)}
	case StrategyWeighted:
		return &weightedBalancer{}
	default:
		return &leastConnectionsBalancer{}
	}
}

// roundRobinBalancer rotates through the eligible set per region.
type roundRobinBalancer struct {
	mu      sync.Mutex
	cursors map[string]int
}

func (b *roundRobinBalancer) Pick(region string, candidates []*Printer, _ compliance.QualitySpec) *Printer {
	if len(candidates) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cursor := b.cursors[region] % len(candidates)
	b.cursors[region] = cursor + 1

	return candidates[cursor]
}

// leastConnectionsBalancer picks the printer with the lowest in-flight job
// count; ties fall to the earlier registration.
type leastConnectionsBalancer struct{}

func (b *leastConnectionsBalancer) Pick(_ string, candidates []*Printer, _ compliance.QualitySpec) *Printer {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.CurrentLoad < best.CurrentLoad {
			best = p
		}
	}
	return best
}

// weightedBalancer picks probabilistically, weighting each printer by color
// accuracy times resolution headroom over the job's requirement. Jobs with
// stricter specs therefore drift toward the higher-quality printers.
type weightedBalancer struct {
	mu sync.Mutex
}

func (b *weightedBalancer) Pick(_ string, candidates []*Printer, spec compliance.QualitySpec) *Printer {
	if len(candidates) == 0 {
		return nil
	}

	required := spec.ResolutionDPI
	if required <= 0 {
		required = compliance.MinResolutionDPI
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, p := range candidates {
		headroom := float64(p.Capabilities.Metrics.MeasuredDPI) / float64(required)
		if headroom < 1 {
			headroom = 1
		}
		w := p.Capabilities.Metrics.ColorAccuracy * headroom
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	b.mu.Lock()
	target := rand.Float64() * total
	b.mu.Unlock()

	for i, w := range weights {
		target -= w
		if target <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}
