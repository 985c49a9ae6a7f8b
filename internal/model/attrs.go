package model

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// Attr is one passthrough field of a node, group or provider. Values are kept
// as parsed YAML nodes so protocol details survive the merge untouched.
type Attr struct {
	Key   string
	Value *yaml.Node
}

// Attrs is an ordered mapping. Order is the order of first appearance in the
// source document.
type Attrs []Attr

func (a Attrs) Get(key string) (*yaml.Node, bool) {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// String returns the scalar value stored under key, or "" when the key is
// absent or not a scalar.
func (a Attrs) String(key string) string {
	v, ok := a.Get(key)
	if !ok || v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

// Set replaces the value of an existing key in place or appends a new one.
func (a Attrs) Set(key string, v *yaml.Node) Attrs {
	for i := range a {
		if a[i].Key == key {
			out := a.Clone()
			out[i].Value = v
			return out
		}
	}
	out := make(Attrs, 0, len(a)+1)
	out = append(out, a...)
	return append(out, Attr{Key: key, Value: v})
}

// Without returns a copy of a with the given keys removed.
func (a Attrs) Without(keys ...string) Attrs {
	out := make(Attrs, 0, len(a))
	for _, kv := range a {
		drop := false
		for _, k := range keys {
			if kv.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, kv)
		}
	}
	return out
}

func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	copy(out, a)
	return out
}

// AttrsFromMapping converts a YAML mapping node into Attrs, skipping the keys
// listed in skip.
func AttrsFromMapping(n *yaml.Node, skip ...string) Attrs {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	out := make(Attrs, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		skipped := false
		for _, s := range skip {
			if k == s {
				skipped = true
				break
			}
		}
		if skipped {
			continue
		}
		out = append(out, Attr{Key: k, Value: n.Content[i+1]})
	}
	return out
}

// MappingNode builds a YAML mapping from Attrs.
func (a Attrs) MappingNode() *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kv := range a {
		m.Content = append(m.Content, StringNode(kv.Key), kv.Value)
	}
	return m
}

func StringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func IntNode(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)}
}

func BoolNode(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}

func StringSeqNode(items ...string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, s := range items {
		seq.Content = append(seq.Content, StringNode(s))
	}
	return seq
}
