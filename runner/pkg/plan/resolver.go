package plan

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/malbeclabs/questrunner/utils/pkg/random"
)

// DefaultMaxDepth bounds named-list nesting during expansion.
const DefaultMaxDepth = 64

var (
	ErrUnknownRoot = errors.New("unknown task list")
	ErrUnknownTask = errors.New("unknown task")
	ErrCycle       = errors.New("cyclic task list reference")
	ErrTooDeep     = errors.New("task list nesting too deep")
)

type ResolverConfig struct {
	Registry Registry
	MaxDepth int
	// Rand drives shuffles and choices. Nil uses a randomly seeded source.
	Rand *rand.Rand
}

func (cfg *ResolverConfig) Validate() error {
	if cfg.Registry == nil {
		return errors.New("registry is required")
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxDepth < 0 {
		return errors.New("max depth must be positive")
	}
	if cfg.Rand == nil {
		cfg.Rand = random.NewSource(0)
	}
	return nil
}

// Resolver expands task trees into flat plans. Each call draws fresh
// shuffles and choices, so two resolutions of the same root may differ.
type Resolver struct {
	cfg ResolverConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg, rng: cfg.Rand}, nil
}

// Resolve expands the registry entry named root.
func (r *Resolver) Resolve(root string) ([]string, error) {
	if _, ok := r.cfg.Registry.Lookup(root); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoot, root)
	}
	return r.ResolveNode(Leaf(root))
}

// ResolveNode expands an arbitrary node against the registry.
func (r *Resolver) ResolveNode(node Node) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if err := r.expand(node, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) expand(node Node, stack []string, out *[]string) error {
	switch node.Kind {
	case KindLeaf:
		name := NormalizeName(node.Name)
		ref, ok := r.cfg.Registry.Lookup(name)
		if !ok {
			*out = append(*out, name)
			return nil
		}
		if slices.Contains(stack, name) {
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(stack, name), " -> "))
		}
		if len(stack) >= r.cfg.MaxDepth {
			return fmt.Errorf("%w: more than %d levels at %q", ErrTooDeep, r.cfg.MaxDepth, name)
		}
		return r.expand(ref, append(stack, name), out)

	case KindSequential:
		for _, c := range node.Children {
			if err := r.expand(c, stack, out); err != nil {
				return err
			}
		}
		return nil

	case KindUnordered:
		children := slices.Clone(node.Children)
		random.Shuffle(r.rng, children)
		for _, c := range children {
			if err := r.expand(c, stack, out); err != nil {
				return err
			}
		}
		return nil

	case KindRandomChoice:
		if len(node.Children) == 0 {
			return nil
		}
		return r.expand(node.Children[r.rng.IntN(len(node.Children))], stack, out)

	default:
		return fmt.Errorf("unsupported node kind %v", node.Kind)
	}
}

// Check walks every branch of every registry entry, independent of random
// choices, and reports cycles, excessive nesting, and terminal names that known
// rejects. A nil known accepts every terminal name.
func Check(reg Registry, maxDepth int, known func(string) bool) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := check(reg, Leaf(name), nil, maxDepth, known); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckNode is Check for a single node, typically the top-level flow.
func CheckNode(reg Registry, node Node, maxDepth int, known func(string) bool) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return check(reg, node, nil, maxDepth, known)
}

func check(reg Registry, node Node, stack []string, maxDepth int, known func(string) bool) error {
	if node.Kind != KindLeaf {
		for _, c := range node.Children {
			if err := check(reg, c, stack, maxDepth, known); err != nil {
				return err
			}
		}
		return nil
	}

	name := NormalizeName(node.Name)
	ref, ok := reg.Lookup(name)
	if !ok {
		if name != SkipTask && known != nil && !known(name) {
			return fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
		return nil
	}
	if slices.Contains(stack, name) {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(stack, name), " -> "))
	}
	if len(stack) >= maxDepth {
		return fmt.Errorf("%w: more than %d levels at %q", ErrTooDeep, maxDepth, name)
	}
	return check(reg, ref, append(slices.Clone(stack), name), maxDepth, known)
}
