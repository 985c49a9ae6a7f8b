package compiler

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/submerge/internal/fragment"
	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
	"github.com/John-Robertt/submerge/internal/preserve"
	"github.com/John-Robertt/submerge/internal/template"
)

type Mode string

const (
	// ModePreserve keeps each source's own groups and rules.
	ModePreserve Mode = "preserve"
	// ModeTemplate replaces them with a per-namespace copy of a template.
	ModeTemplate Mode = "template"
)

// Bind selects which rule set a namespace's listener uses.
type Bind string

const (
	BindOwn     Bind = "own"
	BindDefault Bind = "default"
)

const DefaultAggregate = "ALL"

// Input is one source to merge.
type Input struct {
	Namespace model.Namespace

	// Fragment is required in preserve mode. In template mode only its
	// proxies are used.
	Fragment *fragment.Fragment

	// Nodes are extra local nodes (e.g. imported ss:// links), not yet
	// namespaced.
	Nodes []model.Node

	// ProviderURL and ProviderAttrs describe the proxy-provider of a remote
	// namespace. ProviderAttrs must not contain url.
	ProviderURL   string
	ProviderAttrs model.Attrs

	Bind Bind
}

type Options struct {
	Mode Mode

	// Template drives template mode and the aggregate namespace. Nil means
	// template.Builtin().
	Template *template.Template

	// Aggregate names the namespace that joins every source's entry and owns
	// the shared default rules. Empty disables it.
	Aggregate string

	DefaultSuffix string
	MixedGroups   graph.MixedPolicy

	// Listen is the listener address, e.g. 127.0.0.1.
	Listen string

	// ReservedPorts and ReservedListeners are already taken by the base
	// config.
	ReservedPorts     []int
	ReservedListeners []string

	// Parallelism bounds the per-namespace fan-out. <=0 means GOMAXPROCS.
	Parallelism int
}

type CompileError struct {
	AppError model.AppError
	Cause    error
}

func (e *CompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }
func (e *CompileError) App() model.AppError { return e.AppError }

// run is the per-merge context: the registered namespaces in input order.
type run struct {
	opts       Options
	tpl        *template.Template
	namespaces map[string]int
}

// Merge validates, rewrites and transforms every input, then assembles and
// checks the combined document. Nothing is returned unless every stage
// succeeds.
func Merge(inputs []Input, opts Options) (*model.Document, error) {
	opts, err := applyDefaults(opts)
	if err != nil {
		return nil, err
	}
	r := &run{opts: opts, tpl: opts.Template, namespaces: make(map[string]int, len(inputs))}
	if err := r.register(inputs); err != nil {
		return nil, err
	}

	units := make([]*model.Unit, len(inputs))
	errs := make([]error, len(inputs))
	var g errgroup.Group
	g.SetLimit(opts.Parallelism)
	for i := range inputs {
		g.Go(func() error {
			units[i], errs[i] = r.buildUnit(inputs[i])
			return errs[i]
		})
	}
	_ = g.Wait()
	// Report the first failure in input order, not completion order.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	binds := make([]Bind, len(inputs))
	for i, in := range inputs {
		binds[i] = in.Bind
	}
	doc, err := Assemble(units, binds, opts)
	if err != nil {
		return nil, err
	}
	if err := Check(doc, opts); err != nil {
		return nil, err
	}
	return doc, nil
}

func applyDefaults(opts Options) (Options, error) {
	if opts.Mode == "" {
		opts.Mode = ModePreserve
	}
	if opts.Mode != ModePreserve && opts.Mode != ModeTemplate {
		return opts, optionsError(fmt.Sprintf("未知的 mode：%s", opts.Mode), "expected: preserve | template")
	}
	if opts.DefaultSuffix == "" {
		opts.DefaultSuffix = preserve.DefaultSuffix
	}
	if opts.MixedGroups == "" {
		opts.MixedGroups = graph.MixedLeaf
	}
	if !opts.MixedGroups.Valid() {
		return opts, optionsError(fmt.Sprintf("未知的 mixed_groups：%s", opts.MixedGroups), "expected: leaf | non-leaf")
	}
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1"
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opts.Template == nil && (opts.Mode == ModeTemplate || opts.Aggregate != "") {
		tpl, err := template.Builtin()
		if err != nil {
			return opts, &CompileError{
				AppError: model.AppError{Code: "TEMPLATE_VALIDATE_ERROR", Message: "内置模板不可用", Stage: "compile"},
				Cause:    err,
			}
		}
		opts.Template = tpl
	}
	if opts.Aggregate != "" {
		agg, err := namespace.Sanitize(opts.Aggregate)
		if err != nil || agg != opts.Aggregate {
			return opts, optionsError(fmt.Sprintf("aggregate 名称不合法：%q", opts.Aggregate), "")
		}
	}
	return opts, nil
}

func optionsError(msg, hint string) *CompileError {
	return &CompileError{AppError: model.AppError{Code: "MERGE_OPTIONS_ERROR", Message: msg, Stage: "compile", Hint: hint}}
}

// register records every namespace before any transform runs.
func (r *run) register(inputs []Input) error {
	if len(inputs) == 0 {
		return model.NewStructuralError(model.StageRegister, "", "", "没有任何订阅", nil)
	}
	for i, in := range inputs {
		ns := in.Namespace
		clean, err := namespace.Sanitize(ns.Name)
		if err != nil || clean != ns.Name {
			return model.NewStructuralError(model.StageRegister, ns.Name, ns.Name, fmt.Sprintf("订阅名不合法：%q", ns.Name), err)
		}
		if ns.Name == r.opts.Aggregate {
			return model.NewCollisionError(model.StageRegister, ns.Name,
				fmt.Sprintf("订阅名与聚合命名空间重名：%s", ns.Name), ns.Name, r.opts.Aggregate)
		}
		if prev, ok := r.namespaces[ns.Name]; ok {
			return model.NewCollisionError(model.StageRegister, ns.Name,
				fmt.Sprintf("订阅名重复：%s（第 %d 项与第 %d 项）", ns.Name, prev+1, i+1), ns.Name, ns.Name)
		}
		switch ns.Kind {
		case model.SourceRemote:
			if in.ProviderURL == "" {
				return model.NewStructuralError(model.StageRegister, ns.Name, ns.Name, "远程订阅缺少 url", nil)
			}
		case model.SourceLocal:
		default:
			return model.NewStructuralError(model.StageRegister, ns.Name, ns.Name, fmt.Sprintf("未知的订阅类型：%s", ns.Kind), nil)
		}
		if r.opts.Mode == ModePreserve && in.Fragment == nil {
			return model.NewStructuralError(model.StageRegister, ns.Name, ns.Name, "preserve 模式下每个订阅都需要 fragment", nil)
		}
		switch in.Bind {
		case "", BindOwn, BindDefault:
		default:
			return model.NewStructuralError(model.StageRegister, ns.Name, ns.Name, fmt.Sprintf("未知的 rules 绑定：%s", in.Bind), nil)
		}
		r.namespaces[ns.Name] = i
	}
	return nil
}

// buildUnit runs the per-namespace stages. It only reads shared state.
func (r *run) buildUnit(in Input) (*model.Unit, error) {
	ns := in.Namespace

	var u *model.Unit
	switch r.opts.Mode {
	case ModePreserve:
		frag := in.Fragment
		if len(in.Nodes) > 0 {
			cp := *frag
			cp.Nodes = append(append([]model.Node(nil), frag.Nodes...), in.Nodes...)
			cp.HasNodes = true
			frag = &cp
		}
		if err := fragment.Validate(frag, ns); err != nil {
			return nil, err
		}
		res, err := namespace.Rewrite(frag, ns)
		if err != nil {
			return nil, err
		}
		u, err = preserve.Apply(res, preserve.Options{
			Suffix:      r.opts.DefaultSuffix,
			Mixed:       r.opts.MixedGroups,
			AttachEntry: r.opts.Aggregate == "",
		})
		if err != nil {
			return nil, err
		}
	case ModeTemplate:
		var nodes []model.Node
		if in.Fragment != nil {
			nodes = append(nodes, in.Fragment.Nodes...)
		}
		nodes = append(nodes, in.Nodes...)
		if err := fragment.ValidateNodes(nodes, ns); err != nil {
			return nil, err
		}
		var err error
		u, err = template.Instantiate(r.tpl, ns, namespace.RewriteNodes(nodes, ns))
		if err != nil {
			return nil, err
		}
	}

	if ns.IsRemote() {
		u.Provider = &model.Provider{ID: ns.Name, URL: in.ProviderURL, Attrs: in.ProviderAttrs.Clone()}
	}
	return u, nil
}
