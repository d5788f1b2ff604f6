package extract

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Spec describes what to pull out of a document. It is an ordered mapping from
// result key to an extraction Node; insertion order is preserved all the way
// into the serialized output.
type Spec struct {
	Entries []Entry
}

// Entry is one key of a Spec.
type Entry struct {
	Key  string
	Node *Node
}

// Node is a single extraction descriptor. A leaf node sets exactly one of
// Selector, XPath or Regex. A node with Children is structural: its Selector
// or XPath picks the parent elements and its other extraction fields are
// ignored.
type Node struct {
	Selector  string `yaml:"selector,omitempty"`
	XPath     string `yaml:"xpath,omitempty"`
	Regex     string `yaml:"regex,omitempty"`
	Attribute string `yaml:"attribute,omitempty"`
	Children  *Spec  `yaml:"children,omitempty"`

	re *regexp.Regexp
}

// UnmarshalYAML decodes a mapping whose values are either a bare selector
// string or a full node descriptor. Works for JSON documents too, since YAML
// is a superset.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("extraction spec must be a mapping, got %s", kindName(value.Kind))
	}
	s.Entries = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return fmt.Errorf("extraction spec key: %w", err)
		}
		node := &Node{}
		if valNode.Kind == yaml.ScalarNode {
			// Bare string shorthand: a selector extracting the default
			// attribute (element text).
			if err := valNode.Decode(&node.Selector); err != nil {
				return fmt.Errorf("extraction spec %q: %w", key, err)
			}
		} else {
			type plain Node
			if err := valNode.Decode((*plain)(node)); err != nil {
				return fmt.Errorf("extraction spec %q: %w", key, err)
			}
		}
		s.Entries = append(s.Entries, Entry{Key: key, Node: node})
	}
	return nil
}

// Validate checks the one-of invariant on every node and compiles regex
// patterns. Called at config load, before any browser is launched.
func (s *Spec) Validate() error {
	for _, ent := range s.Entries {
		if err := ent.Node.validate(ent.Key); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) validate(key string) error {
	if n.Children != nil {
		if n.Selector == "" && n.XPath == "" {
			return fmt.Errorf("extraction key %q: a node with children needs a selector or xpath", key)
		}
		if len(n.Children.Entries) == 0 {
			return fmt.Errorf("extraction key %q: children must not be empty", key)
		}
		return n.Children.Validate()
	}
	set := 0
	for _, v := range []string{n.Selector, n.XPath, n.Regex} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("extraction key %q: exactly one of selector, xpath or regex must be set", key)
	}
	if n.Regex != "" {
		re, err := regexp.Compile("(?i)" + n.Regex)
		if err != nil {
			return fmt.Errorf("extraction key %q: invalid regex: %w", key, err)
		}
		n.re = re
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
