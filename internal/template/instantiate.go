package template

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

// Instantiate clones t into namespace ns (Mode B).
//
// LEAF becomes use: [ns] for a remote namespace and the namespace's node list
// for a local one; nodes must already be namespaced. A local namespace with
// no nodes cannot fill LEAF and fails with *model.PlaceholderError.
func Instantiate(t *Template, ns model.Namespace, nodes []model.Node) (*model.Unit, error) {
	var leaf []model.Member
	if ns.IsRemote() {
		leaf = []model.Member{model.Use(ns.Name)}
	} else {
		for _, n := range nodes {
			leaf = append(leaf, model.NodeRef(n.ID))
		}
	}

	u, err := InstantiateWith(t, ns, leaf)
	if err != nil {
		return nil, err
	}
	u.Nodes = append([]model.Node(nil), nodes...)
	return u, nil
}

// InstantiateWith clones t into ns, substituting leaf for every LEAF member.
// The aggregate namespace uses it with the other namespaces' entries.
func InstantiateWith(t *Template, ns model.Namespace, leaf []model.Member) (*model.Unit, error) {
	groups := make([]model.Group, 0, len(t.Groups))
	ids := make(map[string]struct{}, len(t.Groups))

	for _, tg := range t.Groups {
		g := tg.Clone()
		g.ID = namespace.ID(ns.Name, tg.Name)
		g.Namespace = ns.Name
		g.Members = make([]model.Member, 0, len(tg.Members)+len(leaf))
		for _, m := range tg.Members {
			switch m.Kind {
			case model.MemberPlaceholder:
				if len(leaf) == 0 {
					return nil, model.NewPlaceholderError(model.StageInstantiate, ns.Name, g.ID,
						fmt.Sprintf("策略组 %s 的 %s 没有可填充的节点", g.ID, model.LeafToken))
				}
				g.Members = append(g.Members, leaf...)
			case model.MemberGroup:
				g.Members = append(g.Members, model.GroupRef(namespace.ID(ns.Name, m.Name)))
			default:
				g.Members = append(g.Members, m)
			}
		}
		g.Class = graph.ClassOf(g, graph.MixedLeaf)
		groups = append(groups, g)
		ids[g.ID] = struct{}{}
	}

	// Template rule-providers are shared, so RULE-SET payloads stay as written.
	rules := make([]model.Rule, 0, len(t.Rules)+1)
	hasMatch := false
	for _, r := range t.Rules {
		nr := namespace.RewriteRule(r, ns.Name, nil)
		if !model.IsPolicyToken(nr.Target) {
			if _, ok := ids[nr.Target]; !ok {
				return nil, model.NewUnresolvedReferenceError(model.StageInstantiate, ns.Name, nr.Target,
					fmt.Sprintf("规则 %s 指向的策略组没有对应的实例", r.String()))
			}
		}
		if nr.Type == "MATCH" {
			hasMatch = true
		}
		rules = append(rules, nr)
	}

	entry := namespace.ID(ns.Name, t.Entry)
	if !hasMatch {
		rules = append(rules, model.Rule{Type: "MATCH", Target: entry})
	}

	return &model.Unit{
		Namespace: ns,
		Groups:    groups,
		RuleSet: model.RuleSet{
			Name:      namespace.RuleSetName(ns.Name),
			Namespace: ns.Name,
			Rules:     rules,
		},
		Entry: entry,
	}, nil
}
