package render

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/model"
)

// Keys written by Render. listeners from the base are kept and ours appended.
var managedKeys = []string{
	"proxies",
	"proxy-providers",
	"proxy-groups",
	"rule-providers",
	"sub-rules",
	"rules",
	"listeners",
}

func buildMihomo(doc *model.Document, base *Base) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var baseListeners []*yaml.Node

	for i := 0; i+1 < len(base.root.Content); i += 2 {
		k, v := base.root.Content[i], base.root.Content[i+1]
		if k.Value == "listeners" && v.Kind == yaml.SequenceNode {
			baseListeners = v.Content
			continue
		}
		if isManaged(k.Value) {
			continue
		}
		root.Content = append(root.Content, k, v)
	}

	nodes := make(map[string]model.Node, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.ID] = n
	}

	listeners := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	listeners.Content = append(listeners.Content, baseListeners...)
	listeners.Content = append(listeners.Content, renderListeners(doc.Listeners).Content...)

	sections := []struct {
		key  string
		node *yaml.Node
	}{
		{"proxies", renderProxies(doc.Nodes)},
		{"proxy-providers", renderProviders(doc.Providers)},
		{"proxy-groups", renderGroups(doc, nodes)},
		{"rule-providers", renderRuleProviders(doc.RuleProviders)},
		{"sub-rules", renderSubRules(doc.RuleSets)},
		{"rules", renderRules(doc.DefaultRules)},
		{"listeners", listeners},
	}
	for _, s := range sections {
		if s.node.Kind == yaml.MappingNode && len(s.node.Content) == 0 {
			continue
		}
		root.Content = append(root.Content, model.StringNode(s.key), s.node)
	}
	return root
}

func isManaged(key string) bool {
	for _, k := range managedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// renderProxies emits local nodes only; provider nodes and representatives
// are not top-level proxies.
func renderProxies(nodes []model.Node) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, n := range nodes {
		if n.Provided || n.Representative {
			continue
		}
		m := (model.Attrs{{Key: "name", Value: model.StringNode(n.ID)}}).MappingNode()
		m.Content = append(m.Content, n.Attrs.Without("name").MappingNode().Content...)
		seq.Content = append(seq.Content, m)
	}
	return seq
}

func renderProviders(providers []model.Provider) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range providers {
		typ := p.Attrs.String("type")
		if typ == "" {
			typ = "http"
		}
		attrs := model.Attrs{
			{Key: "type", Value: model.StringNode(typ)},
			{Key: "url", Value: model.StringNode(p.URL)},
		}
		attrs = append(attrs, p.Attrs.Without("type", "url")...)
		m.Content = append(m.Content, model.StringNode(p.ID), attrs.MappingNode())
	}
	return m
}

func renderGroups(doc *model.Document, nodes map[string]model.Node) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}

	// Representatives first: they stand for a whole namespace.
	for _, n := range doc.Nodes {
		if !n.Representative {
			continue
		}
		attrs := model.Attrs{
			{Key: "name", Value: model.StringNode(n.ID)},
			{Key: "type", Value: model.StringNode("select")},
		}
		if provider, ok := providerOf(doc, n.Namespace); ok {
			attrs = append(attrs, model.Attr{Key: "use", Value: model.StringSeqNode(provider)})
		} else {
			var members []string
			for _, other := range doc.Nodes {
				if other.Namespace == n.Namespace && !other.Representative {
					members = append(members, other.ID)
				}
			}
			members = append(members, model.PolicyDirect)
			attrs = append(attrs, model.Attr{Key: "proxies", Value: model.StringSeqNode(members...)})
		}
		seq.Content = append(seq.Content, attrs.MappingNode())
	}

	for _, g := range doc.Groups {
		seq.Content = append(seq.Content, renderGroup(g, nodes).MappingNode())
	}
	return seq
}

func providerOf(doc *model.Document, ns string) (string, bool) {
	for _, p := range doc.Providers {
		if p.ID == ns {
			return p.ID, true
		}
	}
	return "", false
}

// renderGroup writes one proxy-group. Provider-delivered nodes cannot be
// listed under proxies, so they become use: [ns] plus an exact-match filter,
// unless the group already uses the whole provider.
func renderGroup(g model.Group, nodes map[string]model.Node) model.Attrs {
	var proxies, use, provided []string
	usesProvider := map[string]bool{}
	for _, m := range g.Members {
		if m.Kind == model.MemberProvider {
			usesProvider[m.Name] = true
		}
	}
	for _, m := range g.Members {
		switch m.Kind {
		case model.MemberProvider:
			use = appendUnique(use, m.Name)
		case model.MemberNode:
			n := nodes[m.Name]
			if n.Provided {
				if !usesProvider[n.Namespace] {
					use = appendUnique(use, n.Namespace)
					provided = append(provided, n.ID)
				}
				continue
			}
			proxies = append(proxies, m.Name)
		default:
			proxies = append(proxies, m.Name)
		}
	}

	typ := g.Attrs.String("type")
	if typ == "" {
		typ = "select"
	}
	attrs := model.Attrs{
		{Key: "name", Value: model.StringNode(g.ID)},
		{Key: "type", Value: model.StringNode(typ)},
	}
	if len(proxies) > 0 {
		attrs = append(attrs, model.Attr{Key: "proxies", Value: model.StringSeqNode(proxies...)})
	}
	if len(use) > 0 {
		attrs = append(attrs, model.Attr{Key: "use", Value: model.StringSeqNode(use...)})
	}
	rest := g.Attrs.Without("name", "type", "proxies", "use")
	if len(provided) > 0 {
		rest = rest.Set("filter", model.StringNode(ExactFilter(provided)))
	}
	return append(attrs, rest...)
}

// ExactFilter builds a provider filter matching exactly the given names.
func ExactFilter(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	return "^(?:" + strings.Join(quoted, "|") + ")$"
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func renderRuleProviders(rps []model.RuleProvider) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, rp := range rps {
		m.Content = append(m.Content, model.StringNode(rp.ID), rp.Attrs.MappingNode())
	}
	return m
}

func renderSubRules(sets []model.RuleSet) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, rs := range sets {
		m.Content = append(m.Content, model.StringNode(rs.Name), renderRules(rs.Rules))
	}
	return m
}

func renderRules(rules []model.Rule) *yaml.Node {
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		lines = append(lines, r.String())
	}
	return model.StringSeqNode(lines...)
}

func renderListeners(ls []model.Listener) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, l := range ls {
		attrs := model.Attrs{
			{Key: "name", Value: model.StringNode(l.Name)},
			{Key: "type", Value: model.StringNode("mixed")},
			{Key: "listen", Value: model.StringNode(l.Listen)},
			{Key: "port", Value: model.IntNode(l.Port)},
			{Key: "udp", Value: model.BoolNode(true)},
		}
		if l.RuleSet != "" {
			attrs = append(attrs, model.Attr{Key: "rule", Value: model.StringNode(l.RuleSet)})
		}
		seq.Content = append(seq.Content, attrs.MappingNode())
	}
	return seq
}
