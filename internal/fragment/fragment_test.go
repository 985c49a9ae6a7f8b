package fragment

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/submerge/internal/model"
)

const sampleFragment = `
port: 7890
proxies:
  - name: n1
    type: ss
    server: 1.1.1.1
    port: 443
    cipher: aes-128-gcm
    password: p
  - name: n2
    type: trojan
    server: 2.2.2.2
    port: 443
    password: p
proxy-groups:
  - name: Proxy
    type: select
    proxies: [n1, n2]
  - name: Auto
    type: url-test
    url: https://www.gstatic.com/generate_204
    interval: 300
    proxies: [Proxy, DIRECT]
rule-providers:
  ads:
    type: http
    behavior: domain
    url: https://example.com/ads.yaml
rules:
  - RULE-SET,ads,REJECT
  - DOMAIN-SUFFIX,google.com,Auto
  - MATCH,Proxy
`

var remoteA = model.Namespace{Name: "a", Kind: model.SourceRemote, Port: 10001}
var localB = model.Namespace{Name: "b", Kind: model.SourceLocal, Port: 10002}

func mustParse(t *testing.T, s string) *Fragment {
	t.Helper()
	f, err := Parse("test.yaml", []byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestParse_Sample(t *testing.T) {
	f := mustParse(t, sampleFragment)

	if diff := cmp.Diff([]string{"n1", "n2"}, f.NodeNames()); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
	if got := f.Nodes[0].Attrs.String("server"); got != "1.1.1.1" {
		t.Fatalf("server=%q, want=%q", got, "1.1.1.1")
	}
	if _, ok := f.Nodes[0].Attrs.Get("name"); ok {
		t.Fatalf("name must not be kept in attrs")
	}
	if len(f.Groups) != 2 {
		t.Fatalf("groups=%d, want=2", len(f.Groups))
	}
	if diff := cmp.Diff([]string{"Proxy", "DIRECT"}, f.Groups[1].Proxies); diff != "" {
		t.Fatalf("Auto members mismatch (-want +got):\n%s", diff)
	}
	if got := f.Groups[1].Attrs.String("type"); got != "url-test" {
		t.Fatalf("type=%q, want=%q", got, "url-test")
	}
	if len(f.Rules) != 3 || f.Rules[2].Type != "MATCH" {
		t.Fatalf("rules=%v", f.Rules)
	}
	if len(f.RuleProviders) != 1 || f.RuleProviders[0].ID != "ads" {
		t.Fatalf("rule-providers=%v", f.RuleProviders)
	}
	if err := Validate(f, remoteA); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParse_RejectsMultiDocument(t *testing.T) {
	_, err := Parse("x.yaml", []byte("proxies: []\n---\nproxies: []\n"))
	var se *model.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StructuralError, got %T: %v", err, err)
	}
}

func TestParse_BadRuleCarriesLine(t *testing.T) {
	_, err := Parse("x.yaml", []byte("proxies: []\nproxy-groups: []\nrules:\n  - DOMAIN,a.com\n"))
	var se *model.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StructuralError, got %T: %v", err, err)
	}
	if se.AppError.Line != 4 {
		t.Fatalf("line=%d, want=4", se.AppError.Line)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name string
		ns   model.Namespace
		doc  string
		want string
	}{
		{
			name: "missing proxies",
			ns:   remoteA,
			doc:  "proxy-groups: [{name: G, proxies: [DIRECT]}]\nrules: []\n",
			want: "缺少 proxies",
		},
		{
			name: "missing rules",
			ns:   remoteA,
			doc:  "proxies: []\nproxy-groups: [{name: G, proxies: [DIRECT]}]\n",
			want: "缺少 rules",
		},
		{
			name: "empty groups",
			ns:   remoteA,
			doc:  "proxies: []\nproxy-groups: []\nrules: []\n",
			want: "不能为空",
		},
		{
			name: "duplicate node",
			ns:   remoteA,
			doc:  "proxies: [{name: n}, {name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\nrules: []\n",
			want: "节点名重复",
		},
		{
			name: "group shadows node",
			ns:   remoteA,
			doc:  "proxies: [{name: n}]\nproxy-groups: [{name: n, proxies: [DIRECT]}]\nrules: []\n",
			want: "名称重复",
		},
		{
			name: "unknown member",
			ns:   remoteA,
			doc:  "proxies: []\nproxy-groups: [{name: G, proxies: [ghost]}]\nrules: []\n",
			want: "ghost",
		},
		{
			name: "local use",
			ns:   localB,
			doc:  "proxies: []\nproxy-groups: [{name: G, use: [PROVIDER]}]\nrules: []\n",
			want: "不能使用 use",
		},
		{
			name: "foreign provider",
			ns:   remoteA,
			doc:  "proxies: []\nproxy-groups: [{name: G, use: [other]}]\nrules: []\n",
			want: "未知的 provider",
		},
		{
			name: "rule to node",
			ns:   remoteA,
			doc:  "proxies: [{name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\nrules: ['MATCH,n']\n",
			want: "不能直接指向节点",
		},
		{
			name: "rule to unknown group",
			ns:   remoteA,
			doc:  "proxies: [{name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\nrules: ['MATCH,Nope']\n",
			want: "未声明的策略组",
		},
		{
			name: "undeclared rule-set",
			ns:   remoteA,
			doc:  "proxies: [{name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\nrules: ['RULE-SET,ads,G']\n",
			want: "rule-provider",
		},
		{
			name: "undeclared rule-set inside AND",
			ns:   remoteA,
			doc:  "proxies: [{name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\nrules: ['AND,((RULE-SET,missing),(NETWORK,UDP)),G']\n",
			want: "missing",
		},
		{
			name: "undeclared rule-set nested twice",
			ns:   remoteA,
			doc: "proxies: [{name: n}]\nproxy-groups: [{name: G, proxies: [n]}]\n" +
				"rule-providers: {ads: {type: http, behavior: domain, url: 'https://r.example.com/ads.yaml'}}\n" +
				"rules: ['OR,((RULE-SET,ads),(NOT,((RULE-SET,deep)))),G']\n",
			want: "deep",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, tt.doc)
			err := Validate(f, tt.ns)
			var se *model.StructuralError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StructuralError, got %T: %v", err, err)
			}
			if se.AppError.Stage != model.StageValidateFragment {
				t.Fatalf("stage=%q, want=%q", se.AppError.Stage, model.StageValidateFragment)
			}
			if !strings.Contains(se.AppError.Message, tt.want) {
				t.Fatalf("message=%q, want contains %q", se.AppError.Message, tt.want)
			}
		})
	}
}

func TestValidate_ProviderPlaceholders(t *testing.T) {
	for _, p := range []string{"PROVIDER", "__PROVIDER__", "{PROVIDER}", "{provider}", "${PROVIDER}", "a"} {
		doc := "proxies: []\nproxy-groups: [{name: G, use: ['" + p + "']}]\nrules: []\n"
		if err := Validate(mustParse(t, doc), remoteA); err != nil {
			t.Fatalf("use=%q: unexpected err: %v", p, err)
		}
	}
}
