package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

const selectTemplate = `
proxy-groups:
  - name: Select
    type: select
    proxies: [LEAF, DIRECT]
rules:
  - MATCH,Select
`

func mustParse(t *testing.T, s string) *Template {
	t.Helper()
	tpl, err := Parse("t.yaml", []byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tpl
}

func TestInstantiate_LocalFillsNodes(t *testing.T) {
	tpl := mustParse(t, selectTemplate)
	ns := model.Namespace{Name: "b", Kind: model.SourceLocal, Port: 10002}
	nodes := namespace.RewriteNodes([]model.Node{{Name: "p1"}, {Name: "p2"}}, ns)

	u, err := Instantiate(tpl, ns, nodes)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if got := u.Groups[0].ID; got != "b/Select" {
		t.Fatalf("id=%q, want=%q", got, "b/Select")
	}
	want := []model.Member{model.NodeRef("b/p1"), model.NodeRef("b/p2"), model.Policy("DIRECT")}
	if diff := cmp.Diff(want, u.Groups[0].Members); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
	if u.Groups[0].Class != model.ClassLeaf {
		t.Fatalf("class=%s, want=leaf", u.Groups[0].Class)
	}
	if got := u.RuleSet.Rules[0].String(); got != "MATCH,b/Select" {
		t.Fatalf("rule=%q, want=%q", got, "MATCH,b/Select")
	}
	if len(u.Nodes) != 2 {
		t.Fatalf("nodes=%d, want=2", len(u.Nodes))
	}

	// The template itself is untouched.
	if tpl.Groups[0].Members[0].Kind != model.MemberPlaceholder {
		t.Fatalf("template was modified: %+v", tpl.Groups[0].Members)
	}
}

func TestInstantiate_RemoteUsesProvider(t *testing.T) {
	tpl := mustParse(t, selectTemplate)
	u, err := Instantiate(tpl, model.Namespace{Name: "a", Kind: model.SourceRemote}, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	want := []model.Member{model.Use("a"), model.Policy("DIRECT")}
	if diff := cmp.Diff(want, u.Groups[0].Members); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestInstantiate_EmptyLocalIsPlaceholderError(t *testing.T) {
	tpl := mustParse(t, selectTemplate)
	_, err := Instantiate(tpl, model.Namespace{Name: "b", Kind: model.SourceLocal}, nil)
	var pe *model.PlaceholderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PlaceholderError, got %T: %v", err, err)
	}
	if pe.AppError.Identifier != "b/Select" {
		t.Fatalf("identifier=%q, want=%q", pe.AppError.Identifier, "b/Select")
	}
}

func TestInstantiate_AddsMatchToEntry(t *testing.T) {
	tpl := mustParse(t, `
entry: Main
proxy-groups:
  - {name: Main, type: select, proxies: [Auto, DIRECT]}
  - {name: Auto, type: url-test, proxies: [LEAF]}
rules:
  - DOMAIN,a.com,Auto
`)
	u, err := Instantiate(tpl, model.Namespace{Name: "a", Kind: model.SourceRemote}, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if u.Entry != "a/Main" {
		t.Fatalf("entry=%q, want=%q", u.Entry, "a/Main")
	}
	rules := u.RuleSet.Rules
	if got := rules[len(rules)-1].String(); got != "MATCH,a/Main" {
		t.Fatalf("fallback=%q, want=%q", got, "MATCH,a/Main")
	}
	if u.Groups[0].Class != model.ClassNonLeaf {
		t.Fatalf("a/Main class=%s, want=non-leaf", u.Groups[0].Class)
	}
}

func TestInstantiateWith_Aggregate(t *testing.T) {
	tpl, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	leaf := []model.Member{model.NodeRef("a/default"), model.NodeRef("b/default"), model.Policy("DIRECT")}
	u, err := InstantiateWith(tpl, model.Namespace{Name: "ALL", Kind: model.SourceLocal}, leaf)
	if err != nil {
		t.Fatalf("InstantiateWith: %v", err)
	}
	if diff := cmp.Diff(leaf, u.Groups[0].Members); diff != "" {
		t.Fatalf("ALL/默认 members mismatch (-want +got):\n%s", diff)
	}
	if got := u.Groups[1].Members[1]; got != model.GroupRef("ALL/默认") {
		t.Fatalf("ALL/直连 second member=%+v", got)
	}
	rules := u.RuleSet.Rules
	if got := rules[0].String(); got != "RULE-SET,LocalAreaNetwork,ALL/直连" {
		t.Fatalf("first rule=%q", got)
	}
	if got := rules[len(rules)-1].String(); got != "MATCH,ALL/默认" {
		t.Fatalf("last rule=%q", got)
	}
}

func TestBuiltin(t *testing.T) {
	tpl, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if tpl.Entry != "默认" {
		t.Fatalf("entry=%q, want=%q", tpl.Entry, "默认")
	}
	if len(tpl.RuleProviders) != 10 {
		t.Fatalf("rule-providers=%d, want=10", len(tpl.RuleProviders))
	}
	if len(tpl.Rules) != 12 {
		t.Fatalf("rules=%d, want=12", len(tpl.Rules))
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown member", "proxy-groups: [{name: A, proxies: [B]}]\nrules: []\n", "未声明的成员"},
		{"cycle", "proxy-groups: [{name: A, proxies: [B]}, {name: B, proxies: [A]}]\nrules: []\n", "环"},
		{"use", "proxy-groups: [{name: A, use: [PROVIDER]}]\nrules: []\n", "不能使用 use"},
		{"rule target", "proxy-groups: [{name: A, proxies: [LEAF]}]\nrules: ['MATCH,B']\n", "未声明的策略组"},
		{"entry", "entry: Z\nproxy-groups: [{name: A, proxies: [LEAF]}]\nrules: []\n", "entry"},
		{"nodes", "proxies: [{name: n}]\nproxy-groups: [{name: A, proxies: [LEAF]}]\nrules: []\n", "proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("t.yaml", []byte(tt.doc))
			var te *TemplateError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TemplateError, got %T: %v", err, err)
			}
			if !strings.Contains(te.AppError.Message, tt.want) {
				t.Fatalf("message=%q, want contains %q", te.AppError.Message, tt.want)
			}
		})
	}
}

func TestParse_CycleKeepsPath(t *testing.T) {
	_, err := Parse("t.yaml", []byte("proxy-groups: [{name: A, proxies: [B]}, {name: B, proxies: [A]}]\nrules: []\n"))
	var ce *model.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CycleError in chain, got %T: %v", err, err)
	}
	if diff := cmp.Diff([]string{"A", "B", "A"}, ce.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}
