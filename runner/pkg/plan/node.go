package plan

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindLeaf Kind = iota
	KindSequential
	KindUnordered
	KindRandomChoice
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindSequential:
		return "sequential"
	case KindUnordered:
		return "random_order"
	case KindRandomChoice:
		return "one_of"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is one element of a task tree. Leaf nodes carry a Name, which
// is either a registry key (another list) or a terminal task name.
type Node struct {
	Kind     Kind
	Name     string
	Children []Node
}

// SkipTask is the terminal no-op task.
const SkipTask = "skip"

func Leaf(name string) Node { return Node{Kind: KindLeaf, Name: NormalizeName(name)} }

func Sequential(children ...Node) Node {
	return Node{Kind: KindSequential, Children: children}
}

func Unordered(children ...Node) Node {
	return Node{Kind: KindUnordered, Children: children}
}

func OneOf(children ...Node) Node {
	return Node{Kind: KindRandomChoice, Children: children}
}

// Leaves builds a Sequential of leaves.
func Leaves(names ...string) Node {
	children := make([]Node, len(names))
	for i, n := range names {
		children[i] = Leaf(n)
	}
	return Sequential(children...)
}

func (n Node) String() string {
	if n.Kind == KindLeaf {
		return n.Name
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = c.String()
	}
	return n.Kind.String() + "(" + strings.Join(parts, ", ") + ")"
}

// NormalizeName folds task names so lookups are case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry maps list names to the node they stand for. Keys are normalized.
type Registry map[string]Node

func NewRegistry(entries map[string]Node) Registry {
	r := make(Registry, len(entries))
	for k, v := range entries {
		r[NormalizeName(k)] = v
	}
	return r
}

func (r Registry) Lookup(name string) (Node, bool) {
	n, ok := r[NormalizeName(name)]
	return n, ok
}
