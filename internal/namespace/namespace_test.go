package namespace

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/model"
)

const doc = `
proxies:
  - {name: n1, type: ss, server: 1.1.1.1, port: 1, cipher: aes-128-gcm, password: x}
  - {name: n2, type: ss, server: 2.2.2.2, port: 2, cipher: aes-128-gcm, password: x}
proxy-groups:
  - {name: Proxy, type: select, proxies: [n1, n2], use: [PROVIDER]}
  - {name: Auto, type: select, proxies: [Proxy, DIRECT]}
rule-providers:
  ads: {type: http, behavior: domain, url: https://example.com/ads.yaml}
rules:
  - RULE-SET,ads,REJECT
  - AND,((RULE-SET,ads),(NETWORK,UDP)),Auto
  - MATCH,Auto
`

func rewrite(t *testing.T, ns model.Namespace) *Result {
	t.Helper()
	f, err := fragment.Parse("a.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := fragment.Validate(f, ns); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := Rewrite(f, ns)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	return res
}

func TestRewrite_Identifiers(t *testing.T) {
	res := rewrite(t, model.Namespace{Name: "a", Kind: model.SourceRemote, Port: 10001})

	if got, want := res.Nodes[1].ID, "a/n2"; got != want {
		t.Fatalf("node id=%q, want=%q", got, want)
	}
	if !res.Nodes[0].Provided {
		t.Fatalf("remote nodes must be marked Provided")
	}

	wantProxy := []model.Member{model.NodeRef("a/n1"), model.NodeRef("a/n2"), model.Use("a")}
	if diff := cmp.Diff(wantProxy, res.Groups[0].Members); diff != "" {
		t.Fatalf("Proxy members mismatch (-want +got):\n%s", diff)
	}
	wantAuto := []model.Member{model.GroupRef("a/Proxy"), model.Policy("DIRECT")}
	if diff := cmp.Diff(wantAuto, res.Groups[1].Members); diff != "" {
		t.Fatalf("Auto members mismatch (-want +got):\n%s", diff)
	}

	var lines []string
	for _, r := range res.Rules {
		lines = append(lines, r.String())
	}
	wantRules := []string{
		"RULE-SET,a__ads,REJECT",
		"AND,((RULE-SET,a__ads),(NETWORK,UDP)),a/Auto",
		"MATCH,a/Auto",
	}
	if diff := cmp.Diff(wantRules, lines); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	if got := res.RuleProviders[0].ID; got != "a__ads" {
		t.Fatalf("rule-provider id=%q, want=%q", got, "a__ads")
	}
}

func TestRewrite_DoesNotMutateInput(t *testing.T) {
	f, err := fragment.Parse("a.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ns := model.Namespace{Name: "x", Kind: model.SourceRemote}
	if _, err := Rewrite(f, ns); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if f.Rules[0].Payload[0] != "ads" || f.Rules[2].Target != "Auto" {
		t.Fatalf("input rules were modified: %v", f.Rules)
	}
}

func TestRewrite_LocalNodesNotProvided(t *testing.T) {
	nodes := RewriteNodes([]model.Node{{ID: "p1", Name: "p1"}}, model.Namespace{Name: "b", Kind: model.SourceLocal})
	if nodes[0].Provided {
		t.Fatalf("local nodes must not be Provided")
	}
	if nodes[0].ID != "b/p1" || nodes[0].Namespace != "b" {
		t.Fatalf("node=%+v", nodes[0])
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: " a ", want: "a"},
		{in: "x/y", want: "x_y"},
		{in: "  ", wantErr: true},
		{in: "a,b", wantErr: true},
		{in: "a\tb", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Sanitize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Sanitize(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Sanitize(%q) unexpected err: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Sanitize(%q)=%q, want=%q", tt.in, got, tt.want)
		}
	}
}

// A key that already looks namespaced must still be mapped exactly once.
func TestRewriteRule_NestedKeysMappedOnce(t *testing.T) {
	keys := map[string]string{"x": "a__x", "a__x": "a__a__x"}
	r := model.Rule{Type: "AND", Payload: []string{"((RULE-SET,x),(OR,((RULE-SET,a__x),(NETWORK,UDP))))"}, Target: "G"}

	want := "AND,((RULE-SET,a__x),(OR,((RULE-SET,a__a__x),(NETWORK,UDP)))),a/G"
	for i := 0; i < 100; i++ {
		if got := RewriteRule(r, "a", keys).String(); got != want {
			t.Fatalf("run %d: rule=%q, want=%q", i, got, want)
		}
	}
	if r.Payload[0] != "((RULE-SET,x),(OR,((RULE-SET,a__x),(NETWORK,UDP))))" {
		t.Fatalf("input payload modified: %q", r.Payload[0])
	}
}
