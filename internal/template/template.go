package template

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
)

// Template is a policy-group / rule skeleton shared by every namespace. It is
// never modified after Parse; Instantiate works on clones.
type Template struct {
	Source string

	// Groups use local names. LEAF members are model.MemberPlaceholder.
	Groups        []model.Group
	Rules         []model.Rule
	RuleProviders []model.RuleProvider

	// Entry is the group the aggregate namespace points at.
	Entry string
}

type templateMeta struct {
	Entry string `yaml:"entry"`
}

// Parse reads a template document: proxy-groups, rules, optional
// rule-providers and entry. Members must be LEAF, a policy token or another
// template group; the group graph must be acyclic.
func Parse(source string, content []byte) (*Template, error) {
	f, err := fragment.Parse(source, content)
	if err != nil {
		return nil, &TemplateError{
			AppError: model.AppError{
				Code:    "TEMPLATE_PARSE_ERROR",
				Message: "模板解析失败",
				Stage:   "parse_template",
				URL:     source,
			},
			Cause: err,
		}
	}
	var meta templateMeta
	if err := yaml.Unmarshal(content, &meta); err != nil {
		return nil, validateError(source, "", "模板 entry 解析失败", err)
	}

	if len(f.Groups) == 0 {
		return nil, validateError(source, "", "模板 proxy-groups 不能为空", nil)
	}
	if len(f.Nodes) > 0 {
		return nil, validateError(source, f.Nodes[0].Name, "模板不能包含 proxies", nil)
	}

	names := make(map[string]struct{}, len(f.Groups))
	for _, g := range f.Groups {
		if model.IsPolicyToken(g.Name) || g.Name == model.LeafToken {
			return nil, validateError(source, g.Name, fmt.Sprintf("策略组名不能使用保留名 %s", g.Name), nil)
		}
		if _, ok := names[g.Name]; ok {
			return nil, validateError(source, g.Name, fmt.Sprintf("策略组名重复：%s", g.Name), nil)
		}
		names[g.Name] = struct{}{}
	}

	t := &Template{Source: source, RuleProviders: f.RuleProviders, Entry: meta.Entry}
	for _, g := range f.Groups {
		if len(g.Use) > 0 {
			return nil, validateError(source, g.Name, fmt.Sprintf("模板策略组 %s 不能使用 use，请使用 %s", g.Name, model.LeafToken), nil)
		}
		mg := model.Group{ID: g.Name, Name: g.Name, Attrs: g.Attrs}
		for _, m := range g.Proxies {
			switch {
			case m == model.LeafToken:
				mg.Members = append(mg.Members, model.LeafPlaceholder())
			case model.IsPolicyToken(m):
				mg.Members = append(mg.Members, model.Policy(m))
			default:
				if _, ok := names[m]; !ok {
					return nil, validateError(source, g.Name, fmt.Sprintf("模板策略组 %s 引用了未声明的成员：%s", g.Name, m), nil)
				}
				mg.Members = append(mg.Members, model.GroupRef(m))
			}
		}
		if len(mg.Members) == 0 {
			return nil, validateError(source, g.Name, fmt.Sprintf("模板策略组 %s 没有任何成员", g.Name), nil)
		}
		t.Groups = append(t.Groups, mg)
	}

	if err := graph.Build(t.Groups).DetectCycle(""); err != nil {
		return nil, validateError(source, "", "模板策略组引用存在环", err)
	}

	providers := make(map[string]struct{}, len(t.RuleProviders))
	for _, rp := range t.RuleProviders {
		providers[rp.ID] = struct{}{}
	}
	for _, r := range f.Rules {
		if name, ok := r.RuleSetName(); ok {
			if _, declared := providers[name]; !declared {
				return nil, validateError(source, name, fmt.Sprintf("RULE-SET 引用了未声明的 rule-provider：%s", name), nil)
			}
		}
		if !model.IsPolicyToken(r.Target) {
			if _, ok := names[r.Target]; !ok {
				return nil, validateError(source, r.Target, fmt.Sprintf("规则指向未声明的策略组：%s", r.String()), nil)
			}
		}
	}
	t.Rules = f.Rules

	if t.Entry == "" {
		t.Entry = t.Groups[0].Name
	} else if _, ok := names[t.Entry]; !ok {
		return nil, validateError(source, t.Entry, fmt.Sprintf("entry 指向未声明的策略组：%s", t.Entry), nil)
	}
	return t, nil
}

//go:embed builtin.yaml
var builtinYAML []byte

var (
	builtinOnce sync.Once
	builtinTpl  *Template
	builtinErr  error
)

// Builtin returns the embedded ACL4SSR-style template: 默认 / 直连 / 拦截
// groups, the ACL4SSR rule-providers and their rules.
func Builtin() (*Template, error) {
	builtinOnce.Do(func() {
		builtinTpl, builtinErr = Parse("builtin", builtinYAML)
	})
	if builtinErr != nil {
		return nil, errors.Join(errors.New("builtin template is invalid"), builtinErr)
	}
	return builtinTpl, nil
}

// BuiltinSource returns the raw embedded template document.
func BuiltinSource() []byte { return append([]byte(nil), builtinYAML...) }
