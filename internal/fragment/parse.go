package fragment

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/rules"
)

// Fragment is one subscription's parsed proxies / proxy-groups / rules, still
// in its own local name scope.
type Fragment struct {
	Source string

	Nodes         []model.Node
	Groups        []GroupDecl
	Rules         []model.Rule
	RuleProviders []model.RuleProvider

	// Key presence; an empty list and a missing key are different failures.
	HasNodes  bool
	HasGroups bool
	HasRules  bool
}

// GroupDecl is a proxy-group as written in the fragment. Member kinds are not
// known until the whole fragment has been read, so the raw names are kept.
type GroupDecl struct {
	Name    string
	Proxies []string
	Use     []string
	Attrs   model.Attrs
	Line    int
}

func (f *Fragment) NodeNames() []string {
	out := make([]string, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		out = append(out, n.Name)
	}
	return out
}

const stage = model.StageValidateFragment

// Parse decodes a YAML fragment. Unknown top-level keys are ignored; proxies
// and groups keep every field besides name/proxies/use as opaque Attrs.
func Parse(source string, content []byte) (*Fragment, error) {
	doc, err := decodeSingleDocument(content)
	if err != nil {
		e := model.NewStructuralError(stage, "", "", "fragment YAML 解析失败", err)
		e.AppError.URL = source
		e.AppError.Snippet = truncateSnippet(string(content), 200)
		return nil, e
	}

	f := &Fragment{Source: source}
	if doc == nil {
		return f, nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, structuralAt(source, doc, "", "fragment 顶层必须是 mapping", nil)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		switch key.Value {
		case "proxies":
			f.HasNodes = true
			if f.Nodes, err = parseNodes(source, val); err != nil {
				return nil, err
			}
		case "proxy-groups":
			f.HasGroups = true
			if f.Groups, err = parseGroups(source, val); err != nil {
				return nil, err
			}
		case "rules":
			f.HasRules = true
			if f.Rules, err = parseRules(source, val); err != nil {
				return nil, err
			}
		case "rule-providers":
			if f.RuleProviders, err = parseRuleProviders(source, val); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func decodeSingleDocument(content []byte) (*yaml.Node, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(content)))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		return root.Content[0], nil
	}
	return &root, nil
}

func parseNodes(source string, n *yaml.Node) ([]model.Node, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, structuralAt(source, n, "", "proxies 必须是列表", nil)
	}
	out := make([]model.Node, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, structuralAt(source, item, "", "proxies 的每一项必须是 mapping", nil)
		}
		name, ok := scalarField(item, "name")
		if !ok {
			return nil, structuralAt(source, item, "", "节点缺少 name", nil)
		}
		out = append(out, model.Node{
			ID:    name,
			Name:  name,
			Attrs: model.AttrsFromMapping(item, "name"),
		})
	}
	return out, nil
}

func parseGroups(source string, n *yaml.Node) ([]GroupDecl, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, structuralAt(source, n, "", "proxy-groups 必须是列表", nil)
	}
	out := make([]GroupDecl, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, structuralAt(source, item, "", "proxy-groups 的每一项必须是 mapping", nil)
		}
		name, ok := scalarField(item, "name")
		if !ok {
			return nil, structuralAt(source, item, "", "策略组缺少 name", nil)
		}
		g := GroupDecl{
			Name:  name,
			Attrs: model.AttrsFromMapping(item, "name", "proxies", "use"),
			Line:  item.Line,
		}
		var err error
		if g.Proxies, err = stringList(source, item, "proxies", name); err != nil {
			return nil, err
		}
		if g.Use, err = stringList(source, item, "use", name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func parseRules(source string, n *yaml.Node) ([]model.Rule, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, structuralAt(source, n, "", "rules 必须是列表", nil)
	}
	out := make([]model.Rule, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, structuralAt(source, item, "", "rules 的每一项必须是字符串", nil)
		}
		line := strings.TrimSpace(item.Value)
		if line == "" {
			continue
		}
		r, err := rules.ParseRule(line)
		if err != nil {
			e := structuralAt(source, item, "", "规则解析失败", err)
			e.AppError.Snippet = truncateSnippet(line, 200)
			var re *rules.RuleError
			if errors.As(err, &re) {
				e.AppError.Hint = re.Hint
			}
			return nil, e
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRuleProviders(source string, n *yaml.Node) ([]model.RuleProvider, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, structuralAt(source, n, "", "rule-providers 必须是 mapping", nil)
	}
	out := make([]model.RuleProvider, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil, structuralAt(source, val, key.Value, fmt.Sprintf("rule-provider %q 必须是 mapping", key.Value), nil)
		}
		out = append(out, model.RuleProvider{ID: key.Value, Attrs: model.AttrsFromMapping(val)})
	}
	return out, nil
}

func stringList(source string, item *yaml.Node, key, owner string) ([]string, error) {
	v, ok := model.AttrsFromMapping(item).Get(key)
	if !ok || isNull(v) {
		return nil, nil
	}
	if v.Kind != yaml.SequenceNode {
		return nil, structuralAt(source, v, owner, fmt.Sprintf("%s 必须是列表", key), nil)
	}
	out := make([]string, 0, len(v.Content))
	for _, s := range v.Content {
		if s.Kind != yaml.ScalarNode {
			return nil, structuralAt(source, s, owner, fmt.Sprintf("%s 的每一项必须是字符串", key), nil)
		}
		out = append(out, strings.TrimSpace(s.Value))
	}
	return out, nil
}

func scalarField(m *yaml.Node, key string) (string, bool) {
	v, ok := model.AttrsFromMapping(m).Get(key)
	if !ok || v.Kind != yaml.ScalarNode {
		return "", false
	}
	s := strings.TrimSpace(v.Value)
	return s, s != ""
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func structuralAt(source string, n *yaml.Node, id, msg string, cause error) *model.StructuralError {
	e := model.NewStructuralError(stage, "", id, msg, cause)
	e.AppError.URL = source
	if n != nil {
		e.AppError.Line = n.Line
	}
	return e
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
