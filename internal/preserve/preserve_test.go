package preserve

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

func load(t *testing.T, ns model.Namespace, doc string) *namespace.Result {
	t.Helper()
	f, err := fragment.Parse(ns.Name+".yaml", []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := fragment.Validate(f, ns); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := namespace.Rewrite(f, ns)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	return res
}

func groupByID(t *testing.T, u *model.Unit, id string) model.Group {
	t.Helper()
	for _, g := range u.Groups {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("group %q not found", id)
	return model.Group{}
}

func TestApply_RemoteLeafAndNonLeaf(t *testing.T) {
	ns := model.Namespace{Name: "a", Kind: model.SourceRemote, Port: 10001}
	res := load(t, ns, `
proxies: [{name: n1}, {name: n2}, {name: n3}]
proxy-groups:
  - {name: Proxy, type: select, proxies: [n1, n2, n3]}
  - {name: Auto, type: select, proxies: [Proxy, DIRECT]}
rules: ['MATCH,Auto']
`)
	u, err := Apply(res, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	proxy := groupByID(t, u, "a/Proxy")
	if proxy.Class != model.ClassLeaf {
		t.Fatalf("a/Proxy class=%s, want=leaf", proxy.Class)
	}
	wantProxy := []model.Member{model.NodeRef("a/n1"), model.NodeRef("a/n2"), model.NodeRef("a/n3")}
	if diff := cmp.Diff(wantProxy, proxy.Members); diff != "" {
		t.Fatalf("a/Proxy members mismatch (-want +got):\n%s", diff)
	}

	auto := groupByID(t, u, "a/Auto")
	wantAuto := []model.Member{model.GroupRef("a/Proxy"), model.Policy("DIRECT"), model.Use("a")}
	if diff := cmp.Diff(wantAuto, auto.Members); diff != "" {
		t.Fatalf("a/Auto members mismatch (-want +got):\n%s", diff)
	}

	last := u.Nodes[len(u.Nodes)-1]
	if last.ID != "a/default" || !last.Representative {
		t.Fatalf("representative=%+v", last)
	}
	if u.Entry != "a/default" {
		t.Fatalf("entry=%q, want=%q", u.Entry, "a/default")
	}
	if u.RuleSet.Name != "rules_a" || len(u.RuleSet.Rules) != 1 {
		t.Fatalf("rule set=%+v", u.RuleSet)
	}
}

func TestApply_MixedNonLeafStripsNodes(t *testing.T) {
	ns := model.Namespace{Name: "a", Kind: model.SourceRemote}
	res := load(t, ns, `
proxies: [{name: n1}, {name: n2}]
proxy-groups:
  - {name: Proxy, type: select, proxies: [n1, n2]}
  - {name: Mixed, type: select, proxies: [Proxy, n1, REJECT]}
rules: []
`)
	u, err := Apply(res, Options{Mixed: graph.MixedNonLeaf})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []model.Member{model.NodeRef("a/default"), model.GroupRef("a/Proxy"), model.Policy("REJECT"), model.Use("a")}
	if diff := cmp.Diff(want, groupByID(t, u, "a/Mixed").Members); diff != "" {
		t.Fatalf("a/Mixed members mismatch (-want +got):\n%s", diff)
	}

	u, err = Apply(res, Options{Mixed: graph.MixedLeaf})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want = []model.Member{model.GroupRef("a/Proxy"), model.NodeRef("a/n1"), model.Policy("REJECT")}
	if diff := cmp.Diff(want, groupByID(t, u, "a/Mixed").Members); diff != "" {
		t.Fatalf("leaf a/Mixed members mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_FallbackRule(t *testing.T) {
	doc := `
proxies: [{name: p1}]
proxy-groups:
  - {name: Sel, type: select, proxies: [p1]}
rules: ['DOMAIN,a.com,Sel']
`
	tests := []struct {
		ns   model.Namespace
		want string
	}{
		{model.Namespace{Name: "r", Kind: model.SourceRemote}, "MATCH,r/default"},
		{model.Namespace{Name: "l", Kind: model.SourceLocal}, "MATCH,DIRECT"},
	}
	for _, tt := range tests {
		u, err := Apply(load(t, tt.ns, doc), Options{})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		rules := u.RuleSet.Rules
		if got := rules[len(rules)-1].String(); got != tt.want {
			t.Fatalf("fallback=%q, want=%q", got, tt.want)
		}
	}
}

func TestApply_RepresentativeCollision(t *testing.T) {
	ns := model.Namespace{Name: "a", Kind: model.SourceLocal}
	res := load(t, ns, `
proxies: [{name: default}]
proxy-groups:
  - {name: Sel, type: select, proxies: [default]}
rules: []
`)
	_, err := Apply(res, Options{})
	var ce *model.CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CollisionError, got %T: %v", err, err)
	}
	if ce.AppError.Identifier != "a/default" {
		t.Fatalf("identifier=%q, want=%q", ce.AppError.Identifier, "a/default")
	}

	if _, err := Apply(res, Options{Suffix: "entry"}); err != nil {
		t.Fatalf("custom suffix: unexpected err: %v", err)
	}
}

func TestApply_Cycle(t *testing.T) {
	ns := model.Namespace{Name: "c", Kind: model.SourceLocal}
	res := load(t, ns, `
proxies: []
proxy-groups:
  - {name: X, type: select, proxies: [Y]}
  - {name: Y, type: select, proxies: [X]}
rules: []
`)
	_, err := Apply(res, Options{})
	var ce *model.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if diff := cmp.Diff([]string{"c/X", "c/Y", "c/X"}, ce.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_AttachEntry(t *testing.T) {
	tests := []struct {
		name  string
		ns    model.Namespace
		doc   string
		group string
		want  []model.Member
	}{
		{
			name: "root non-leaf group",
			ns:   model.Namespace{Name: "a", Kind: model.SourceRemote},
			doc: `
proxies: [{name: n1}]
proxy-groups:
  - {name: Proxy, type: select, proxies: [n1]}
  - {name: Auto, type: select, proxies: [Proxy, DIRECT]}
rules: []
`,
			group: "a/Auto",
			want:  []model.Member{model.GroupRef("a/Proxy"), model.Policy("DIRECT"), model.NodeRef("a/default"), model.Use("a")},
		},
		{
			name: "leaf groups only",
			ns:   model.Namespace{Name: "b", Kind: model.SourceLocal},
			doc: `
proxies: [{name: p1}]
proxy-groups:
  - {name: Sel, type: select, proxies: [p1, DIRECT]}
rules: ['MATCH,Sel']
`,
			group: "b/entry",
			want:  []model.Member{model.NodeRef("b/default"), model.Policy("DIRECT")},
		},
		{
			name:  "remote leaf groups only",
			ns:    model.Namespace{Name: "c", Kind: model.SourceRemote},
			doc:   "proxies: [{name: n1}]\nproxy-groups:\n  - {name: Sel, type: select, proxies: [n1]}\nrules: []\n",
			group: "c/entry",
			want:  []model.Member{model.NodeRef("c/default"), model.Policy("DIRECT"), model.Use("c")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := load(t, tt.ns, tt.doc)
			u, err := Apply(res, Options{AttachEntry: true})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if diff := cmp.Diff(tt.want, groupByID(t, u, tt.group).Members); diff != "" {
				t.Fatalf("%s members mismatch (-want +got):\n%s", tt.group, diff)
			}

			u, err = Apply(res, Options{})
			if err != nil {
				t.Fatalf("Apply without AttachEntry: %v", err)
			}
			for _, g := range u.Groups {
				if g.Name == EntryGroup {
					t.Fatalf("unexpected %s group without AttachEntry", g.ID)
				}
			}
		})
	}
}

// A group already holding the representative is left alone.
func TestApply_AttachEntryKeepsStrippedGroup(t *testing.T) {
	ns := model.Namespace{Name: "a", Kind: model.SourceRemote}
	res := load(t, ns, `
proxies: [{name: n1}, {name: n2}]
proxy-groups:
  - {name: Proxy, type: select, proxies: [n1, n2]}
  - {name: Mixed, type: select, proxies: [Proxy, n1]}
rules: []
`)
	u, err := Apply(res, Options{Mixed: graph.MixedNonLeaf, AttachEntry: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []model.Member{model.NodeRef("a/default"), model.GroupRef("a/Proxy"), model.Use("a")}
	if diff := cmp.Diff(want, groupByID(t, u, "a/Mixed").Members); diff != "" {
		t.Fatalf("a/Mixed members mismatch (-want +got):\n%s", diff)
	}
	if len(u.Groups) != 2 {
		t.Fatalf("groups=%d, want=2", len(u.Groups))
	}
}

func TestApply_AttachEntryCollision(t *testing.T) {
	ns := model.Namespace{Name: "a", Kind: model.SourceLocal}
	res := load(t, ns, `
proxies: [{name: entry}]
proxy-groups:
  - {name: Sel, type: select, proxies: [entry]}
rules: []
`)
	_, err := Apply(res, Options{AttachEntry: true})
	var ce *model.CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CollisionError, got %T: %v", err, err)
	}
	if ce.AppError.Identifier != "a/entry" {
		t.Fatalf("identifier=%q, want=%q", ce.AppError.Identifier, "a/entry")
	}
}
