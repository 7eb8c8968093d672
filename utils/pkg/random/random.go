// Package random holds inclusive integer ranges as they appear in runner config
// ("[5, 10]" seconds, "[1, 3]" swaps) and helpers to draw from them.
package random

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gopkg.in/yaml.v3"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min int
	Max int
}

func Fixed(n int) Range { return Range{Min: n, Max: n} }

func (r Range) Validate() error {
	if r.Min < 0 {
		return errors.New("range minimum must not be negative")
	}
	if r.Max < r.Min {
		return fmt.Errorf("range maximum %d is below minimum %d", r.Max, r.Min)
	}
	return nil
}

func (r Range) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// Int draws uniformly from the range. A nil source uses the global one.
func (r Range) Int(src *rand.Rand) int {
	if r.Max <= r.Min {
		return r.Min
	}
	n := r.Max - r.Min + 1
	if src == nil {
		return r.Min + rand.IntN(n)
	}
	return r.Min + src.IntN(n)
}

// Seconds draws a duration from the range interpreted as whole seconds.
func (r Range) Seconds(src *rand.Rand) time.Duration {
	return time.Duration(r.Int(src)) * time.Second
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// UnmarshalYAML accepts "[min, max]", a single scalar, or {min: x, max: y}.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = Fixed(n)
	case yaml.SequenceNode:
		var pair []int
		if err := node.Decode(&pair); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: range needs exactly two values, got %d", node.Line, len(pair))
		}
		*r = Range{Min: pair[0], Max: pair[1]}
	case yaml.MappingNode:
		var m struct {
			Min int `yaml:"min"`
			Max int `yaml:"max"`
		}
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = Range{Min: m.Min, Max: m.Max}
	default:
		return fmt.Errorf("line %d: unsupported range value", node.Line)
	}
	return r.Validate()
}

func (r Range) MarshalYAML() (any, error) {
	return []int{r.Min, r.Max}, nil
}

// Shuffle permutes s in place.
func Shuffle[T any](src *rand.Rand, s []T) {
	swap := func(i, j int) { s[i], s[j] = s[j], s[i] }
	if src == nil {
		rand.Shuffle(len(s), swap)
		return
	}
	src.Shuffle(len(s), swap)
}

// Float draws uniformly from [lo, hi].
func Float(src *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	if src == nil {
		return lo + rand.Float64()*(hi-lo)
	}
	return lo + src.Float64()*(hi-lo)
}

// NewSource returns a seeded source; seed 0 picks a random seed.
func NewSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
