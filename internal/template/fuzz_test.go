package template

import (
	"testing"

	"github.com/John-Robertt/submerge/internal/model"
)

func FuzzParseInstantiate(f *testing.F) {
	f.Add([]byte(selectTemplate))
	f.Add(BuiltinSource())
	f.Add([]byte("proxy-groups: [{name: A, proxies: [B]}, {name: B, proxies: [LEAF]}]\nrules: []\n"))
	f.Add([]byte("entry: X\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		tpl, err := Parse("fuzz.yaml", data)
		if err != nil {
			return
		}
		ns := model.Namespace{Name: "z", Kind: model.SourceRemote}
		u, err := Instantiate(tpl, ns, nil)
		if err != nil {
			t.Fatalf("Instantiate on a parsed template: %v", err)
		}
		for _, g := range u.Groups {
			if g.HasPlaceholder() {
				t.Fatalf("LEAF survived in %s", g.ID)
			}
		}
	})
}
