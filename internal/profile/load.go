package profile

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/submerge/internal/compiler"
	"github.com/John-Robertt/submerge/internal/fetch"
	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/render"
	"github.com/John-Robertt/submerge/internal/sub/ss"
	"github.com/John-Robertt/submerge/internal/template"
)

type LoadOptions struct {
	// AllowLocalFiles permits file references. The HTTP server disables it.
	AllowLocalFiles bool

	Fetch fetch.Options

	// Parallelism bounds concurrent source loads. <=0 means GOMAXPROCS.
	Parallelism int
}

// Loaded is everything a merge needs, with every reference resolved.
type Loaded struct {
	Inputs  []compiler.Input
	Options compiler.Options
	Base    *render.Base
}

// ReadManifest loads and parses the manifest at ref and returns the base
// against which its relative references resolve.
func ReadManifest(ctx context.Context, ref string, opt LoadOptions) (*Manifest, string, error) {
	text, err := fetch.Load(ctx, fetch.KindManifest, ref, "", opt.Fetch)
	if err != nil {
		return nil, "", err
	}
	m, err := ParseManifestYAML(ref, []byte(text))
	if err != nil {
		return nil, "", err
	}
	base := ref
	if !fetch.IsURL(ref) {
		base = filepath.Dir(ref)
	}
	return m, base, nil
}

// Load resolves every template, base, fragment and node reference of m.
// base is a directory or the manifest URL. Sources load concurrently; the
// first failing source in manifest order is reported.
func Load(ctx context.Context, m *Manifest, base string, opt LoadOptions) (*Loaded, error) {
	l := &loader{base: base, opt: opt}

	tpl, err := l.template(ctx, m.Template)
	if err != nil {
		return nil, err
	}
	b := render.DefaultBase()
	if m.Base != "" {
		text, ref, err := l.load(ctx, fetch.KindBase, m.Base)
		if err != nil {
			return nil, err
		}
		if b, err = render.ParseBase(ref, []byte(text)); err != nil {
			return nil, err
		}
	}

	inputs := make([]compiler.Input, len(m.Sources))
	errs := make([]error, len(m.Sources))
	g, gctx := errgroup.WithContext(ctx)
	limit := opt.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i := range m.Sources {
		g.Go(func() error {
			inputs[i], errs[i] = l.source(gctx, m.Sources[i], i)
			return errs[i]
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return &Loaded{
		Inputs: inputs,
		Options: compiler.Options{
			Mode:              compiler.Mode(m.Mode),
			Template:          tpl,
			Aggregate:         m.AggregateName(),
			DefaultSuffix:     m.DefaultSuffix,
			MixedGroups:       graph.MixedPolicy(m.MixedGroups),
			Listen:            m.Listen,
			ReservedPorts:     b.ReservedPorts(),
			ReservedListeners: b.ReservedListeners(),
			Parallelism:       opt.Parallelism,
		},
		Base: b,
	}, nil
}

type loader struct {
	base string
	opt  LoadOptions
}

func (l *loader) template(ctx context.Context, ref string) (*template.Template, error) {
	if ref == "" || ref == BuiltinTemplate {
		return template.Builtin()
	}
	text, resolved, err := l.load(ctx, fetch.KindTemplate, ref)
	if err != nil {
		return nil, err
	}
	return template.Parse(resolved, []byte(text))
}

func (l *loader) source(ctx context.Context, s Source, idx int) (compiler.Input, error) {
	in := compiler.Input{
		Namespace: s.Namespace(),
		Bind:      compiler.Bind(s.Rules),
	}

	fragText, fragSource := s.FragmentInline, fmt.Sprintf("sources[%d].fragment_inline", idx)
	if s.Fragment != "" {
		var err error
		if fragText, fragSource, err = l.load(ctx, fetch.KindFragment, s.Fragment); err != nil {
			return in, err
		}
	}
	if fragText != "" {
		f, err := fragment.Parse(fragSource, []byte(fragText))
		if err != nil {
			return in, err
		}
		in.Fragment = f
	}

	nodesText, nodesSource := s.NodesInline, fmt.Sprintf("sources[%d].nodes_inline", idx)
	if s.Nodes != "" {
		var err error
		if nodesText, nodesSource, err = l.load(ctx, fetch.KindNodes, s.Nodes); err != nil {
			return in, err
		}
	}
	if strings.TrimSpace(nodesText) != "" {
		nodes, err := ss.ParseSubscriptionText(nodesSource, nodesText)
		if err != nil {
			return in, err
		}
		in.Nodes = nodes
	}

	if s.IsRemote() {
		attrs, err := s.Provider.Attrs(s.Name)
		if err != nil {
			return in, &ParseError{
				AppError: model.AppError{Code: "MANIFEST_VALIDATE_ERROR", Message: "provider 配置无效", Stage: "load_manifest", Namespace: s.Name},
				Cause:    err,
			}
		}
		in.ProviderURL = s.URL
		in.ProviderAttrs = attrs
	}
	return in, nil
}

// load returns the text behind ref and the resolved reference it came from.
func (l *loader) load(ctx context.Context, kind fetch.Kind, ref string) (string, string, error) {
	resolved := resolveRef(ref, l.base)
	if !fetch.IsURL(resolved) && !l.opt.AllowLocalFiles {
		return "", resolved, &ParseError{AppError: model.AppError{
			Code:    "LOCAL_FILE_FORBIDDEN",
			Message: fmt.Sprintf("%s 不允许引用本地文件", kind),
			Stage:   "load_manifest",
			Snippet: ref,
			Hint:    "use an http(s) URL or the *_inline field",
		}}
	}
	text, err := fetch.Load(ctx, kind, resolved, "", l.opt.Fetch)
	return text, resolved, err
}

// resolveRef resolves ref against a manifest URL or directory.
func resolveRef(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if fetch.IsURL(ref) || base == "" {
		return ref
	}
	if fetch.IsURL(base) {
		b, err := url.Parse(base)
		if err != nil {
			return ref
		}
		r, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	return fetch.ResolvePath(ref, base)
}

// LocalFiles lists every file m reads, resolved against base. URLs and
// inline content are skipped.
func LocalFiles(m *Manifest, base string) []string {
	var out []string
	add := func(ref string) {
		if ref == "" || ref == BuiltinTemplate {
			return
		}
		if r := resolveRef(ref, base); !fetch.IsURL(r) {
			out = append(out, r)
		}
	}
	add(m.Template)
	add(m.Base)
	for _, s := range m.Sources {
		add(s.Fragment)
		add(s.Nodes)
	}
	return out
}
