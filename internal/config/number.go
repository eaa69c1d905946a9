package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Number is a numeric generation parameter. Configuration sometimes carries
// a one-element sequence where a scalar is meant ("[0.95]", "(0.95,)"); the
// first element is used and Coerced records that it happened.
type Number struct {
	Value   float64
	Set     bool
	Coerced bool
}

// NumberOf returns a set Number.
func NumberOf(v float64) Number { return Number{Value: v, Set: true} }

// ParseNumber reads a scalar or a bracketed sequence. The empty string is an
// unset Number.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}, nil
	}
	coerced := false
	if strings.HasPrefix(s, "(") || strings.HasPrefix(s, "[") {
		raw := s
		first, _, _ := strings.Cut(strings.Trim(s, "()[] "), ",")
		s = strings.TrimSpace(first)
		coerced = true
		if s == "" {
			return Number{}, fmt.Errorf("empty sequence %q", raw)
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, fmt.Errorf("parse number %q: %w", s, err)
	}
	return Number{Value: v, Set: true, Coerced: coerced}, nil
}

func (n *Number) UnmarshalText(text []byte) error {
	parsed, err := ParseNumber(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return n.UnmarshalText([]byte(node.Value))
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return fmt.Errorf("line %d: empty sequence for a numeric parameter", node.Line)
		}
		first := node.Content[0]
		if first.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: sequence element is not a number", first.Line)
		}
		if err := n.UnmarshalText([]byte(first.Value)); err != nil {
			return err
		}
		n.Coerced = true
		return nil
	default:
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
}

// Float returns the value as a pointer for request parameters, nil if unset.
func (n Number) Float() *float64 {
	if !n.Set {
		return nil
	}
	v := n.Value
	return &v
}

// Int returns the value truncated to an int pointer, nil if unset.
func (n Number) Int() *int {
	if !n.Set {
		return nil
	}
	v := int(n.Value)
	return &v
}
