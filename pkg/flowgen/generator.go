package flowgen

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Generator turns a canonical graph into program text.
// Implementations must be safe for concurrent use and must not mutate g.
type Generator interface {
	// Name identifies the strategy in logs, metrics, and cache keys.
	Name() string

	// Generate produces the program for a validated graph.
	Generate(ctx context.Context, g *Graph) (string, error)
}

// Strategy names of the built-in generators.
const (
	StrategyCompiler = "compiler"
	StrategyDelegate = "delegate"
)

// Generators is a thread-safe set of generators keyed by strategy name.
type Generators struct {
	mu   sync.RWMutex
	gens map[string]Generator
}

// NewGenerators creates a set holding the given generators.
func NewGenerators(gens ...Generator) *Generators {
	g := &Generators{gens: make(map[string]Generator, len(gens))}
	for _, gen := range gens {
		g.Register(gen)
	}
	return g
}

// Register adds or replaces a generator under its own name.
func (g *Generators) Register(gen Generator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gens[gen.Name()] = gen
}

// Get returns the generator for a strategy name.
func (g *Generators) Get(name string) (Generator, error) {
	g.mu.RLock()
	gen, ok := g.gens[name]
	g.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Setting: "strategy",
			Msg:     fmt.Sprintf("%v: %q (available: %v)", ErrUnknownStrategy, name, g.Names()),
		}
	}
	return gen, nil
}

// Names returns the registered strategy names, sorted.
func (g *Generators) Names() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.gens))
	for name := range g.gens {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)
	return names
}
