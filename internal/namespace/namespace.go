// Package namespace maps a fragment's local names into one subscription's
// global scope.
package namespace

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/rules"
)

const (
	idSep           = "/"
	ruleProviderSep = "__"
	ruleSetPrefix   = "rules_"
)

// ID returns the global identifier of name inside namespace ns.
func ID(ns, name string) string { return ns + idSep + name }

func RuleProviderID(ns, key string) string { return ns + ruleProviderSep + key }

func RuleSetName(ns string) string { return ruleSetPrefix + ns }

// Sanitize normalizes a user supplied namespace name: surrounding space is
// trimmed and "/" becomes "_".
func Sanitize(name string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(name), idSep, "_")
	if s == "" {
		return "", fmt.Errorf("namespace name is empty")
	}
	for _, r := range s {
		if r == ',' || unicode.IsControl(r) {
			return "", fmt.Errorf("namespace name %q contains %q", s, r)
		}
	}
	return s, nil
}

// Result is a fragment after rewriting. Every identifier is global.
type Result struct {
	Namespace     model.Namespace
	Nodes         []model.Node
	Groups        []model.Group
	Rules         []model.Rule
	RuleProviders []model.RuleProvider
}

// Rewrite applies the ns/name mapping to every node, group, member, rule
// target and rule-provider key of f. f must already be valid for ns.
func Rewrite(f *fragment.Fragment, ns model.Namespace) (*Result, error) {
	kinds := make(map[string]model.MemberKind, len(f.Nodes)+len(f.Groups))
	for _, n := range f.Nodes {
		kinds[n.Name] = model.MemberNode
	}
	for _, g := range f.Groups {
		kinds[g.Name] = model.MemberGroup
	}

	out := &Result{Namespace: ns, Nodes: RewriteNodes(f.Nodes, ns)}

	out.Groups = make([]model.Group, 0, len(f.Groups))
	for _, g := range f.Groups {
		mg := model.Group{
			ID:        ID(ns.Name, g.Name),
			Namespace: ns.Name,
			Name:      g.Name,
			Attrs:     g.Attrs.Clone(),
		}
		for _, m := range g.Proxies {
			switch {
			case model.IsPolicyToken(m):
				mg.Members = append(mg.Members, model.Policy(m))
			case kinds[m] == model.MemberNode:
				mg.Members = append(mg.Members, model.NodeRef(ID(ns.Name, m)))
			case kinds[m] == model.MemberGroup:
				mg.Members = append(mg.Members, model.GroupRef(ID(ns.Name, m)))
			default:
				return nil, model.NewStructuralError(model.StageNamespace, ns.Name, g.Name,
					fmt.Sprintf("策略组 %s 引用了未声明的成员：%s", g.Name, m), nil)
			}
		}
		if len(g.Use) > 0 {
			mg.Members = append(mg.Members, model.Use(ns.Name))
		}
		out.Groups = append(out.Groups, mg)
	}

	keys := make(map[string]string, len(f.RuleProviders))
	out.RuleProviders = make([]model.RuleProvider, 0, len(f.RuleProviders))
	for _, rp := range f.RuleProviders {
		id := RuleProviderID(ns.Name, rp.ID)
		keys[rp.ID] = id
		out.RuleProviders = append(out.RuleProviders, model.RuleProvider{
			ID:        id,
			Namespace: ns.Name,
			Attrs:     rp.Attrs.Clone(),
		})
	}

	out.Rules = make([]model.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		out.Rules = append(out.Rules, RewriteRule(r, ns.Name, keys))
	}
	return out, nil
}

// RewriteNodes namespaces a node list. Nodes of a remote namespace are
// delivered by its provider and marked Provided.
func RewriteNodes(nodes []model.Node, ns model.Namespace) []model.Node {
	out := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.Node{
			ID:        ID(ns.Name, n.Name),
			Namespace: ns.Name,
			Name:      n.Name,
			Attrs:     n.Attrs.Clone(),
			Provided:  ns.IsRemote(),
		})
	}
	return out
}

// RewriteRule namespaces the target of r and every rule-provider it names,
// nested RULE-SET conditions included. ruleProviders maps local
// rule-provider keys to their global IDs; keys not in the map are left
// untouched.
func RewriteRule(r model.Rule, ns string, ruleProviders map[string]string) model.Rule {
	out := rules.MapRuleSets(r, func(key string) string {
		if id, ok := ruleProviders[key]; ok {
			return id
		}
		return key
	})
	if !model.IsPolicyToken(out.Target) {
		out.Target = ID(ns, out.Target)
	}
	return out
}
