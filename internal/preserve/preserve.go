// Package preserve keeps a fragment's own groups and rules (Mode A) while
// making non-leaf groups independent of the subscription's node set.
package preserve

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

const (
	DefaultSuffix = "default"

	// EntryGroup names the select group created for the representative when
	// the namespace has no non-leaf group to hold it.
	EntryGroup = "entry"
)

type Options struct {
	// Suffix names the representative node: ns/<Suffix>.
	Suffix string
	Mixed  graph.MixedPolicy

	// AttachEntry makes the namespace's own groups reference the
	// representative. Set it when no aggregate namespace will.
	AttachEntry bool
}

// Apply turns a rewritten fragment into a Unit.
//
// Non-leaf groups lose their node members; the representative node takes
// their place when anything was removed or nothing usable is left, and remote
// namespaces get use: [ns] appended. Leaf groups pass through unchanged.
func Apply(res *namespace.Result, opts Options) (*model.Unit, error) {
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.Mixed == "" {
		opts.Mixed = graph.MixedLeaf
	}
	ns := res.Namespace

	g := graph.Build(res.Groups)
	if err := g.DetectCycle(ns.Name); err != nil {
		return nil, err
	}
	classified := g.Classify(opts.Mixed)

	rep := Representative(ns, opts.Suffix)
	for _, n := range res.Nodes {
		if n.ID == rep.ID {
			return nil, collision(ns, rep.ID, "节点")
		}
	}
	for _, grp := range classified {
		if grp.ID == rep.ID {
			return nil, collision(ns, rep.ID, "策略组")
		}
	}

	groups := make([]model.Group, 0, len(classified))
	for _, grp := range classified {
		if grp.Class == model.ClassNonLeaf {
			grp = normalize(grp, ns, rep.ID)
		}
		groups = append(groups, grp)
	}
	if opts.AttachEntry && !references(groups, rep.ID) {
		var err error
		if groups, err = attachEntry(groups, res.Nodes, ns, rep.ID); err != nil {
			return nil, err
		}
	}

	nodes := make([]model.Node, 0, len(res.Nodes)+1)
	nodes = append(nodes, res.Nodes...)
	nodes = append(nodes, rep)

	return &model.Unit{
		Namespace:     ns,
		Nodes:         nodes,
		Groups:        groups,
		RuleProviders: res.RuleProviders,
		RuleSet: model.RuleSet{
			Name:      namespace.RuleSetName(ns.Name),
			Namespace: ns.Name,
			Rules:     WithFallback(res.Rules, ns, rep.ID),
		},
		Entry: rep.ID,
	}, nil
}

// Representative is the synthetic entry node of ns. It stands for the whole
// namespace: the provider for remote sources, every local node otherwise.
func Representative(ns model.Namespace, suffix string) model.Node {
	return model.Node{
		ID:             namespace.ID(ns.Name, suffix),
		Namespace:      ns.Name,
		Name:           suffix,
		Representative: true,
	}
}

func normalize(grp model.Group, ns model.Namespace, repID string) model.Group {
	kept := make([]model.Member, 0, len(grp.Members)+2)
	for _, m := range grp.Members {
		if m.Kind == model.MemberGroup || m.Kind == model.MemberPolicy {
			kept = append(kept, m)
		}
	}
	stripped := len(kept) < len(grp.Members)
	if stripped || len(kept) == 0 {
		kept = append([]model.Member{model.NodeRef(repID)}, kept...)
	}
	if ns.IsRemote() {
		kept = append(kept, model.Use(ns.Name))
	}
	grp.Members = kept
	return grp
}

func references(groups []model.Group, id string) bool {
	for _, g := range groups {
		for _, m := range g.Members {
			if m.Kind == model.MemberNode && m.Name == id {
				return true
			}
		}
	}
	return false
}

// attachEntry adds repID to the first non-leaf group no other group refers
// to. Without one, a select group ns/entry holding repID is appended.
func attachEntry(groups []model.Group, nodes []model.Node, ns model.Namespace, repID string) ([]model.Group, error) {
	referenced := make(map[string]bool)
	for _, g := range groups {
		for _, m := range g.Members {
			if m.Kind == model.MemberGroup {
				referenced[m.Name] = true
			}
		}
	}
	for i, g := range groups {
		if g.Class != model.ClassNonLeaf || referenced[g.ID] {
			continue
		}
		out := append([]model.Group(nil), groups...)
		out[i].Members = insertBeforeUse(g.Members, model.NodeRef(repID))
		return out, nil
	}

	id := namespace.ID(ns.Name, EntryGroup)
	for _, n := range nodes {
		if n.ID == id {
			return nil, collision(ns, id, "节点")
		}
	}
	for _, g := range groups {
		if g.ID == id {
			return nil, collision(ns, id, "策略组")
		}
	}
	entry := model.Group{
		ID:        id,
		Namespace: ns.Name,
		Name:      EntryGroup,
		Attrs:     model.Attrs{{Key: "type", Value: model.StringNode("select")}},
		Members:   []model.Member{model.NodeRef(repID), model.Policy(model.PolicyDirect)},
		Class:     model.ClassNonLeaf,
	}
	if ns.IsRemote() {
		entry.Members = append(entry.Members, model.Use(ns.Name))
	}
	return append(groups, entry), nil
}

// insertBeforeUse keeps a trailing use: [ns] last.
func insertBeforeUse(members []model.Member, m model.Member) []model.Member {
	out := make([]model.Member, 0, len(members)+1)
	n := len(members)
	if n > 0 && members[n-1].Kind == model.MemberProvider {
		out = append(out, members[:n-1]...)
		out = append(out, m, members[n-1])
		return out
	}
	return append(append(out, members...), m)
}

// WithFallback returns rules with a trailing MATCH appended when none exists:
// the representative for remote namespaces, DIRECT for local ones.
func WithFallback(rules []model.Rule, ns model.Namespace, repID string) []model.Rule {
	out := make([]model.Rule, 0, len(rules)+1)
	out = append(out, rules...)
	for _, r := range rules {
		if r.Type == "MATCH" {
			return out
		}
	}
	target := model.PolicyDirect
	if ns.IsRemote() {
		target = repID
	}
	return append(out, model.Rule{Type: "MATCH", Target: target})
}

func collision(ns model.Namespace, id, kind string) error {
	return model.NewCollisionError(model.StagePreserve, id,
		fmt.Sprintf("保留名 %s 与已有%s重名", id, kind), ns.Name)
}
