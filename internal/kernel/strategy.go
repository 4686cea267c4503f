// Package kernel maps a logical operator onto one of many interchangeable
// leaf strategies and defines the contract those strategies implement.
//
// Strategies are registered once, before first use. The first Select seals
// the registry; after that lookups take no locks.
package kernel

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// Runner executes a prepared strategy over one window of the output.
type Runner func(e *Exec, w window.Window) error

// Strategy is one registered implementation of an operator.
type Strategy struct {
	Name   string
	Op     OpKind
	DType  tensor.DataType
	Layout tensor.Layout // LayoutUnknown accepts any layout
	// Requires must be a non-empty subset of the host capabilities.
	Requires cpuinfo.Set
	// Tile is the output block computed per call, aligned to the trailing
	// output dimensions.
	Tile []int

	Validate func(s *Strategy, c *Config) error
	Prepare  func(s *Strategy, c *Config) (any, error)
	Run      Runner
}

// TrailingTile returns the innermost tile extent.
func (s *Strategy) TrailingTile() int {
	if len(s.Tile) == 0 {
		return 1
	}
	return s.Tile[len(s.Tile)-1]
}

func (s *Strategy) String() string {
	return fmt.Sprintf("%s(%s %s %s tile=%v)", s.Name, s.Op, s.DType, s.Requires, s.Tile)
}

// Query describes the operator a caller needs.
type Query struct {
	Op     OpKind
	DType  tensor.DataType
	Layout tensor.Layout
	Caps   cpuinfo.Set
	Shape  tensor.Shape // output shape; only the trailing dim is consulted
}

func (q Query) String() string {
	return fmt.Sprintf("%s %s %s caps=%s shape=%s", q.Op, q.DType, q.Layout, q.Caps, q.Shape)
}

type registryKey struct {
	op OpKind
	dt tensor.DataType
}

// Registry holds the strategies of one backend.
type Registry struct {
	name string

	mu         sync.Mutex
	strategies []*Strategy
	names      map[string]struct{}

	sealed atomic.Bool
	index  map[registryKey][]*Strategy // built once at seal, read-only after
}

// NewRegistry returns an empty registry. name labels it in messages.
func NewRegistry(name string) *Registry {
	return &Registry{name: name, names: map[string]struct{}{}}
}

// Name returns the registry label.
func (r *Registry) Name() string { return r.name }

// Register adds s. Registering after the registry has been sealed, a
// duplicate name or a strategy without a runner is a programming error and
// panics.
func (r *Registry) Register(s *Strategy) {
	if s == nil || s.Name == "" || s.Run == nil {
		panic("kernel: Register needs a named strategy with a runner")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		panic(fmt.Sprintf("kernel: registry %s sealed, cannot register %s", r.name, s.Name))
	}
	if _, dup := r.names[s.Name]; dup {
		panic(fmt.Sprintf("kernel: duplicate strategy %s in registry %s", s.Name, r.name))
	}
	r.names[s.Name] = struct{}{}
	r.strategies = append(r.strategies, s)
}

// Seal freezes the registry. It is called implicitly by the first lookup.
func (r *Registry) Seal() {
	if r.sealed.Load() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return
	}
	index := make(map[registryKey][]*Strategy)
	for _, s := range r.strategies {
		k := registryKey{s.Op, s.DType}
		index[k] = append(index[k], s)
	}
	r.index = index
	r.sealed.Store(true)
}

// Sealed reports whether Register is still allowed.
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Select returns the best strategy for q. Precedence: exact op and dtype,
// then the most specific capability requirement the host satisfies, then
// the tile leaving the smallest remainder on the trailing output dim, then
// the larger trailing tile and finally the name.
func (r *Registry) Select(q Query) (*Strategy, error) {
	r.Seal()
	var best *Strategy
	trailing := q.Shape.Last()
	for _, s := range r.index[registryKey{q.Op, q.DType}] {
		if !eligible(s, q) {
			continue
		}
		if best == nil || precedes(s, best, trailing) {
			best = s
		}
	}
	if best == nil {
		return nil, status.Unsupported("%s: no strategy for %s", r.name, q)
	}
	return best, nil
}

// Candidates lists every eligible strategy for q in precedence order.
func (r *Registry) Candidates(q Query) []*Strategy {
	r.Seal()
	var out []*Strategy
	for _, s := range r.index[registryKey{q.Op, q.DType}] {
		if eligible(s, q) {
			out = append(out, s)
		}
	}
	trailing := q.Shape.Last()
	slices.SortStableFunc(out, func(a, b *Strategy) int {
		switch {
		case precedes(a, b, trailing):
			return -1
		case precedes(b, a, trailing):
			return 1
		}
		return 0
	})
	return out
}

// Resolve walks the candidates for q in precedence order and returns the
// first one accept does not reject. Specialised strategies with fixed
// geometry thereby fall through to more general ones. When every candidate
// is rejected the error of the lowest ranked, most general one is returned.
func (r *Registry) Resolve(q Query, accept func(*Strategy) error) (*Strategy, error) {
	cands := r.Candidates(q)
	if len(cands) == 0 {
		return nil, status.Unsupported("%s: no strategy for %s", r.name, q)
	}
	var last error
	for _, s := range cands {
		if last = accept(s); last == nil {
			return s, nil
		}
	}
	return nil, last
}

// Lookup finds a strategy by name.
func (r *Registry) Lookup(name string) (*Strategy, bool) {
	r.Seal()
	for _, s := range r.strategies {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Strategies returns everything registered, ordered by op, dtype and name.
func (r *Registry) Strategies() []*Strategy {
	r.mu.Lock()
	out := slices.Clone(r.strategies)
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *Strategy) int {
		return cmp.Or(
			cmp.Compare(a.Op, b.Op),
			cmp.Compare(a.DType, b.DType),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return out
}

func eligible(s *Strategy, q Query) bool {
	if s.Op != q.Op || s.DType != q.DType {
		return false
	}
	if s.Layout != tensor.LayoutUnknown && s.Layout != q.Layout {
		return false
	}
	return s.Requires != 0 && q.Caps.ContainsAll(s.Requires)
}

// precedes reports whether a ranks strictly before b.
func precedes(a, b *Strategy, trailing int) bool {
	if ca, cb := a.Requires.Count(), b.Requires.Count(); ca != cb {
		return ca > cb
	}
	ta, tb := a.TrailingTile(), b.TrailingTile()
	if ra, rb := remainder(trailing, ta), remainder(trailing, tb); ra != rb {
		return ra < rb
	}
	if ta != tb {
		return ta > tb
	}
	return a.Name < b.Name
}

func remainder(n, tile int) int {
	if tile <= 0 {
		return n
	}
	return n % tile
}

// Default is the process-wide CPU registry. Leaf strategies add themselves
// from init functions.
var Default = NewRegistry("cpu")
