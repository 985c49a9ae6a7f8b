package fragment

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/rules"
)

// Validate checks that f is a well-formed fragment for namespace ns. It
// reports the first problem found and never modifies f.
func Validate(f *Fragment, ns model.Namespace) error {
	if f == nil {
		return invalid(ns, "", "fragment 为空", "")
	}
	if !f.HasNodes {
		return invalid(ns, "", "fragment 缺少 proxies", "expected: proxies: [...]")
	}
	if !f.HasGroups {
		return invalid(ns, "", "fragment 缺少 proxy-groups", "expected: proxy-groups: [...]")
	}
	if !f.HasRules {
		return invalid(ns, "", "fragment 缺少 rules", "expected: rules: [...]")
	}
	if len(f.Groups) == 0 {
		return invalid(ns, "", "proxy-groups 不能为空", "")
	}

	if err := ValidateNodes(f.Nodes, ns); err != nil {
		return err
	}

	// Nodes and groups share one name scope.
	kinds := make(map[string]model.MemberKind, len(f.Nodes)+len(f.Groups))
	for _, n := range f.Nodes {
		kinds[n.Name] = model.MemberNode
	}
	for _, g := range f.Groups {
		if g.Name == "" {
			return invalid(ns, "", "策略组名不能为空", "")
		}
		if model.IsPolicyToken(g.Name) {
			return invalid(ns, g.Name, fmt.Sprintf("策略组名不能使用保留名 %s", g.Name), "")
		}
		if prev, ok := kinds[g.Name]; ok {
			return invalid(ns, g.Name, fmt.Sprintf("名称重复（已被%s使用）：%s", kindLabel(prev), g.Name), "")
		}
		kinds[g.Name] = model.MemberGroup
	}

	for _, g := range f.Groups {
		if len(g.Proxies) == 0 && len(g.Use) == 0 {
			if _, ok := g.Attrs.Get("include-all"); !ok {
				return invalid(ns, g.Name, fmt.Sprintf("策略组 %s 没有任何成员", g.Name), "")
			}
		}
		for _, m := range g.Proxies {
			if model.IsPolicyToken(m) {
				continue
			}
			if _, ok := kinds[m]; !ok {
				return invalid(ns, g.Name, fmt.Sprintf("策略组 %s 引用了未声明的节点或策略组：%s", g.Name, m), "")
			}
		}
		for _, u := range g.Use {
			if !ns.IsRemote() {
				return invalid(ns, g.Name, fmt.Sprintf("本地订阅的策略组 %s 不能使用 use", g.Name), "")
			}
			if !model.IsProviderPlaceholder(u) && u != ns.Name {
				return invalid(ns, g.Name, fmt.Sprintf("策略组 %s 的 use 引用了未知的 provider：%s", g.Name, u), "expected: use: [PROVIDER]")
			}
		}
	}

	providers := make(map[string]struct{}, len(f.RuleProviders))
	for _, rp := range f.RuleProviders {
		if rp.ID == "" {
			return invalid(ns, "", "rule-provider 名称不能为空", "")
		}
		if _, ok := providers[rp.ID]; ok {
			return invalid(ns, rp.ID, fmt.Sprintf("rule-provider 名称重复：%s", rp.ID), "")
		}
		providers[rp.ID] = struct{}{}
	}

	for _, r := range f.Rules {
		for _, name := range rules.RuleSetNames(r) {
			if _, declared := providers[name]; !declared {
				return invalid(ns, name, fmt.Sprintf("RULE-SET 引用了未声明的 rule-provider：%s", name), "")
			}
		}
		if model.IsPolicyToken(r.Target) {
			continue
		}
		switch kinds[r.Target] {
		case model.MemberGroup:
		case model.MemberNode:
			return invalid(ns, r.Target, fmt.Sprintf("规则不能直接指向节点：%s", r.String()), "wrap the node in a select group")
		default:
			return invalid(ns, r.Target, fmt.Sprintf("规则指向未声明的策略组：%s", r.String()), "")
		}
	}
	return nil
}

// ValidateNodes checks node names only. Local sources without a fragment
// (ss:// lists) go through this alone.
func ValidateNodes(nodes []model.Node, ns model.Namespace) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return invalid(ns, "", "节点名不能为空", "")
		}
		if model.IsPolicyToken(n.Name) {
			return invalid(ns, n.Name, fmt.Sprintf("节点名不能使用保留名 %s", n.Name), "")
		}
		if _, ok := seen[n.Name]; ok {
			return invalid(ns, n.Name, fmt.Sprintf("节点名重复：%s", n.Name), "")
		}
		seen[n.Name] = struct{}{}
	}
	return nil
}

func invalid(ns model.Namespace, id, msg, hint string) error {
	e := model.NewStructuralError(stage, ns.Name, id, msg, nil)
	e.AppError.Hint = hint
	return e
}

func kindLabel(k model.MemberKind) string {
	if k == model.MemberNode {
		return "节点"
	}
	return "策略组"
}
