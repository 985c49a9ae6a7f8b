// Package graph holds the group reference graph: group ID → IDs of the groups
// it lists as members. Nodes, policies and providers are not vertices.
package graph

import (
	"github.com/John-Robertt/submerge/internal/model"
)

// MixedPolicy decides how a group listing both groups and nodes is classified.
type MixedPolicy string

const (
	// MixedLeaf: any concrete member makes a group leaf.
	MixedLeaf MixedPolicy = "leaf"
	// MixedNonLeaf: any group reference makes a group non-leaf.
	MixedNonLeaf MixedPolicy = "non-leaf"
)

func (p MixedPolicy) Valid() bool { return p == MixedLeaf || p == MixedNonLeaf }

type Graph struct {
	order  []string
	edges  map[string][]string
	groups map[string]model.Group
}

// Build indexes groups by ID. Later duplicates replace earlier ones; callers
// that care about duplicates check them before building.
func Build(groups []model.Group) *Graph {
	g := &Graph{
		order:  make([]string, 0, len(groups)),
		edges:  make(map[string][]string, len(groups)),
		groups: make(map[string]model.Group, len(groups)),
	}
	for _, grp := range groups {
		if _, ok := g.groups[grp.ID]; !ok {
			g.order = append(g.order, grp.ID)
		}
		g.groups[grp.ID] = grp
		var out []string
		for _, m := range grp.Members {
			if m.Kind == model.MemberGroup {
				out = append(out, m.Name)
			}
		}
		g.edges[grp.ID] = out
	}
	return g
}

func (g *Graph) Len() int { return len(g.order) }

func (g *Graph) Has(id string) bool {
	_, ok := g.groups[id]
	return ok
}

// Edges returns the group IDs id refers to, in member order.
func (g *Graph) Edges(id string) []string { return g.edges[id] }

const (
	white = iota
	gray
	black
)

// DetectCycle runs a three-color DFS from every group in insertion order and
// returns a *model.CycleError for the first back edge found. The error path
// starts and ends at the same group. References to unknown groups are
// ignored here.
func (g *Graph) DetectCycle(ns string) error {
	color := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.edges[id] {
			if !g.Has(next) {
				continue
			}
			switch color[next] {
			case gray:
				start := 0
				for i := range stack {
					if stack[i] == next {
						start = i
						break
					}
				}
				path := append([]string(nil), stack[start:]...)
				return append(path, next)
			case white:
				if p := visit(next); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] != white {
			continue
		}
		if path := visit(id); path != nil {
			return model.NewCycleError(model.StageClassify, ns, path)
		}
	}
	return nil
}

// Classify returns the groups in insertion order with Class set. Only each
// group's own member list is inspected.
func (g *Graph) Classify(mixed MixedPolicy) []model.Group {
	out := make([]model.Group, 0, len(g.order))
	for _, id := range g.order {
		grp := g.groups[id].Clone()
		grp.Class = ClassOf(grp, mixed)
		out = append(out, grp)
	}
	return out
}

// ClassOf classifies a single group.
func ClassOf(grp model.Group, mixed MixedPolicy) model.Class {
	concrete, refs := false, false
	for _, m := range grp.Members {
		switch m.Kind {
		case model.MemberNode, model.MemberProvider, model.MemberPlaceholder:
			concrete = true
		case model.MemberGroup:
			refs = true
		}
	}
	if !concrete {
		return model.ClassNonLeaf
	}
	if refs && mixed == MixedNonLeaf {
		return model.ClassNonLeaf
	}
	return model.ClassLeaf
}
