package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes the task registry notation:
//
//	faucet                      # leaf
//	[faucet, swaps]             # sequential
//	{random_order: [a, b]}      # all children, shuffled
//	{one_of: [a, b]}            # exactly one child
func (n *Node) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		if NormalizeName(name) == "" {
			return fmt.Errorf("line %d: empty task name", node.Line)
		}
		*n = Leaf(name)
		return nil

	case yaml.SequenceNode:
		children, err := decodeChildren(node)
		if err != nil {
			return err
		}
		*n = Sequential(children...)
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: group must have exactly one key (random_order, one_of or sequence)", node.Line)
		}
		key, value := node.Content[0].Value, node.Content[1]
		if value.Kind != yaml.SequenceNode {
			return fmt.Errorf("line %d: %s must be a list", value.Line, key)
		}
		children, err := decodeChildren(value)
		if err != nil {
			return err
		}
		switch key {
		case "random_order":
			*n = Unordered(children...)
		case "one_of":
			*n = OneOf(children...)
		case "sequence":
			*n = Sequential(children...)
		default:
			return fmt.Errorf("line %d: unknown group %q", node.Line, key)
		}
		return nil

	case yaml.AliasNode:
		return n.UnmarshalYAML(node.Alias)

	default:
		return fmt.Errorf("line %d: unsupported task node", node.Line)
	}
}

func decodeChildren(node *yaml.Node) ([]Node, error) {
	children := make([]Node, 0, len(node.Content))
	for _, c := range node.Content {
		var child Node
		if err := child.UnmarshalYAML(c); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (n Node) MarshalYAML() (any, error) {
	switch n.Kind {
	case KindLeaf:
		return n.Name, nil
	case KindSequential:
		return n.Children, nil
	case KindUnordered:
		return map[string][]Node{"random_order": n.Children}, nil
	case KindRandomChoice:
		return map[string][]Node{"one_of": n.Children}, nil
	default:
		return nil, fmt.Errorf("unsupported node kind %v", n.Kind)
	}
}
