package compiler

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/rules"
)

const stage = model.StageAssemble

// Check verifies the assembled document as a whole and returns the first
// violation:
//
//  1. node and group IDs are globally unique (so are providers,
//     rule-providers, rule sets and listeners);
//  2. every member and rule target resolves;
//  3. no LEAF placeholder is left;
//  4. listener ports and names are unique and not reserved;
//  5. the combined group graph is acyclic;
//  6. every representative is referenced by some group;
//
// plus the leaf / non-leaf shape of every group.
func Check(doc *model.Document, opts Options) error {
	owners := make(map[string]string, len(doc.Nodes)+len(doc.Groups))
	nodes := make(map[string]model.Node, len(doc.Nodes))
	groups := make(map[string]model.Group, len(doc.Groups))

	claim := func(id, ns string) error {
		if prev, ok := owners[id]; ok {
			return model.NewCollisionError(stage, id, fmt.Sprintf("标识重复：%s", id), prev, ns)
		}
		owners[id] = ns
		return nil
	}
	for _, n := range doc.Nodes {
		if err := claim(n.ID, n.Namespace); err != nil {
			return err
		}
		nodes[n.ID] = n
	}
	for _, g := range doc.Groups {
		if model.IsPolicyToken(g.ID) {
			return model.NewCollisionError(stage, g.ID, fmt.Sprintf("策略组与保留名冲突：%s", g.ID), g.Namespace)
		}
		if err := claim(g.ID, g.Namespace); err != nil {
			return err
		}
		groups[g.ID] = g
	}

	providers := make(map[string]struct{}, len(doc.Providers))
	for _, p := range doc.Providers {
		if _, ok := providers[p.ID]; ok {
			return model.NewCollisionError(stage, p.ID, fmt.Sprintf("proxy-provider 重复：%s", p.ID), p.ID)
		}
		providers[p.ID] = struct{}{}
	}
	ruleProviders := make(map[string]struct{}, len(doc.RuleProviders))
	for _, rp := range doc.RuleProviders {
		if _, ok := ruleProviders[rp.ID]; ok {
			return model.NewCollisionError(stage, rp.ID, fmt.Sprintf("rule-provider 重复：%s", rp.ID), rp.Namespace)
		}
		ruleProviders[rp.ID] = struct{}{}
	}
	ruleSets := make(map[string]struct{}, len(doc.RuleSets))
	for _, rs := range doc.RuleSets {
		if _, ok := ruleSets[rs.Name]; ok {
			return model.NewCollisionError(stage, rs.Name, fmt.Sprintf("sub-rules 重复：%s", rs.Name), rs.Namespace)
		}
		ruleSets[rs.Name] = struct{}{}
	}

	for _, g := range doc.Groups {
		for _, m := range g.Members {
			switch m.Kind {
			case model.MemberPlaceholder:
				return model.NewPlaceholderError(stage, g.Namespace, g.ID, fmt.Sprintf("策略组 %s 仍含有 %s", g.ID, model.LeafToken))
			case model.MemberNode:
				if _, ok := nodes[m.Name]; !ok {
					return unresolved(g.Namespace, m.Name, fmt.Sprintf("策略组 %s 引用了不存在的节点：%s", g.ID, m.Name))
				}
			case model.MemberGroup:
				if _, ok := groups[m.Name]; !ok {
					return unresolved(g.Namespace, m.Name, fmt.Sprintf("策略组 %s 引用了不存在的策略组：%s", g.ID, m.Name))
				}
			case model.MemberProvider:
				if _, ok := providers[m.Name]; !ok {
					return unresolved(g.Namespace, m.Name, fmt.Sprintf("策略组 %s 引用了不存在的 provider：%s", g.ID, m.Name))
				}
			case model.MemberPolicy:
				if !model.IsPolicyToken(m.Name) {
					return unresolved(g.Namespace, m.Name, fmt.Sprintf("策略组 %s 含有未知策略：%s", g.ID, m.Name))
				}
			default:
				return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("策略组 %s 含有未知成员类型", g.ID), nil)
			}
		}
		if err := checkShape(g, nodes, opts); err != nil {
			return err
		}
	}

	reached := make(map[string]bool, len(doc.Nodes))
	for _, g := range doc.Groups {
		for _, m := range g.Members {
			if m.Kind == model.MemberNode {
				reached[m.Name] = true
			}
		}
	}
	for _, n := range doc.Nodes {
		if n.Representative && !reached[n.ID] {
			e := model.NewStructuralError(stage, n.Namespace, n.ID, fmt.Sprintf("代表节点 %s 没有被任何策略组引用", n.ID), nil)
			e.AppError.Hint = "enable the aggregate namespace or reference it from a group"
			return e
		}
	}

	checkRules := func(ns string, list []model.Rule) error {
		for _, r := range list {
			for _, name := range rules.RuleSetNames(r) {
				if _, declared := ruleProviders[name]; !declared {
					return unresolved(ns, name, fmt.Sprintf("规则 %s 引用了不存在的 rule-provider", r.String()))
				}
			}
			if model.IsPolicyToken(r.Target) {
				continue
			}
			if _, ok := groups[r.Target]; ok {
				continue
			}
			if n, ok := nodes[r.Target]; ok {
				// Representatives render as select groups.
				if n.Representative {
					continue
				}
				e := unresolved(ns, r.Target, fmt.Sprintf("规则 %s 不能直接指向节点", r.String()))
				e.AppError.Hint = "wrap the node in a select group"
				return e
			}
			return unresolved(ns, r.Target, fmt.Sprintf("规则 %s 指向不存在的策略组", r.String()))
		}
		return nil
	}
	for _, rs := range doc.RuleSets {
		if err := checkRules(rs.Namespace, rs.Rules); err != nil {
			return err
		}
	}
	if err := checkRules(opts.Aggregate, doc.DefaultRules); err != nil {
		return err
	}

	if err := checkListeners(doc, ruleSets, opts); err != nil {
		return err
	}

	return graph.Build(doc.Groups).DetectCycle("")
}

// checkShape enforces the classification a group was given: a leaf group has
// at least one concrete member; a preserve-mode non-leaf group only holds
// group references, policies, at most one representative and at most one
// use of its own provider.
func checkShape(g model.Group, nodes map[string]model.Node, opts Options) error {
	switch g.Class {
	case model.ClassLeaf:
		if g.ConcreteCount() == 0 {
			return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("叶子策略组 %s 没有任何节点", g.ID), nil)
		}
	case model.ClassNonLeaf:
		if opts.Mode != ModePreserve || g.Namespace == opts.Aggregate {
			if g.ConcreteCount() > 0 {
				return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("非叶子策略组 %s 含有节点", g.ID), nil)
			}
			return nil
		}
		reps, uses := 0, 0
		for _, m := range g.Members {
			switch m.Kind {
			case model.MemberNode:
				if n := nodes[m.Name]; !n.Representative || n.Namespace != g.Namespace {
					return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("非叶子策略组 %s 含有节点：%s", g.ID, m.Name), nil)
				}
				reps++
			case model.MemberProvider:
				if m.Name != g.Namespace {
					return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("非叶子策略组 %s 使用了其他订阅的 provider：%s", g.ID, m.Name), nil)
				}
				uses++
			}
		}
		if reps > 1 || uses > 1 {
			return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("非叶子策略组 %s 的代表节点或 use 重复", g.ID), nil)
		}
	default:
		return model.NewStructuralError(stage, g.Namespace, g.ID, fmt.Sprintf("策略组 %s 未分类", g.ID), nil)
	}
	return nil
}

func checkListeners(doc *model.Document, ruleSets map[string]struct{}, opts Options) error {
	taken := make(map[int]string, len(doc.Listeners)+len(opts.ReservedPorts))
	for _, p := range opts.ReservedPorts {
		taken[p] = "base"
	}
	names := make(map[string]string, len(doc.Listeners)+len(opts.ReservedListeners))
	for _, name := range opts.ReservedListeners {
		names[name] = "base"
	}
	for _, l := range doc.Listeners {
		if l.Port < 1 || l.Port > 65535 {
			return model.NewStructuralError(stage, l.Namespace, l.Name, fmt.Sprintf("端口不合法：%d", l.Port), nil)
		}
		if prev, ok := taken[l.Port]; ok {
			return model.NewCollisionError(stage, l.Name, fmt.Sprintf("端口 %d 已被 %s 使用", l.Port, prev), prev, l.Namespace)
		}
		taken[l.Port] = l.Namespace
		if prev, ok := names[l.Name]; ok {
			return model.NewCollisionError(stage, l.Name, fmt.Sprintf("listener %s 已被 %s 使用", l.Name, prev), prev, l.Namespace)
		}
		names[l.Name] = l.Namespace
		if l.RuleSet != "" {
			if _, ok := ruleSets[l.RuleSet]; !ok {
				return unresolved(l.Namespace, l.RuleSet, fmt.Sprintf("listener %s 绑定了不存在的 sub-rules：%s", l.Name, l.RuleSet))
			}
		}
	}
	return nil
}

func unresolved(ns, ref, msg string) *model.UnresolvedReferenceError {
	return model.NewUnresolvedReferenceError(stage, ns, ref, msg)
}
