package compiler

import (
	"fmt"

	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/template"
)

const listenerPrefix = "in-"

// Assemble concatenates per-namespace units in input order, adds the
// aggregate namespace and binds one listener per namespace. binds[i] belongs
// to units[i]. Units are not modified.
func Assemble(units []*model.Unit, binds []Bind, opts Options) (*model.Document, error) {
	if len(binds) != len(units) {
		return nil, &CompileError{AppError: model.AppError{
			Code:    "MERGE_OPTIONS_ERROR",
			Message: fmt.Sprintf("binds=%d 与 units=%d 数量不一致", len(binds), len(units)),
			Stage:   model.StageAssemble,
		}}
	}
	listen := opts.Listen
	if listen == "" {
		listen = "127.0.0.1"
	}

	doc := &model.Document{}
	for _, u := range units {
		doc.Nodes = append(doc.Nodes, u.Nodes...)
		doc.Groups = append(doc.Groups, u.Groups...)
		doc.RuleProviders = append(doc.RuleProviders, u.RuleProviders...)
		doc.RuleSets = append(doc.RuleSets, u.RuleSet)
		if u.Provider != nil {
			doc.Providers = append(doc.Providers, *u.Provider)
		}
	}

	// Template rule-providers are shared by every instance and the aggregate.
	if opts.Template != nil && (opts.Mode == ModeTemplate || opts.Aggregate != "") {
		doc.RuleProviders = append(doc.RuleProviders, opts.Template.RuleProviders...)
	}

	if opts.Aggregate != "" {
		agg, err := aggregate(units, opts)
		if err != nil {
			return nil, err
		}
		doc.Groups = append(doc.Groups, agg.Groups...)
		doc.DefaultRules = agg.RuleSet.Rules
	} else {
		doc.DefaultRules = []model.Rule{{Type: "MATCH", Target: model.PolicyDirect}}
	}

	for i, u := range units {
		l := model.Listener{
			Name:      listenerPrefix + u.Namespace.Name,
			Namespace: u.Namespace.Name,
			Port:      u.Namespace.Port,
			Listen:    listen,
		}
		if binds[i] != BindDefault {
			l.RuleSet = u.RuleSet.Name
		}
		doc.Listeners = append(doc.Listeners, l)
	}
	return doc, nil
}

// aggregate instantiates the template once more with LEAF set to every
// namespace's entry plus DIRECT.
func aggregate(units []*model.Unit, opts Options) (*model.Unit, error) {
	leaf := make([]model.Member, 0, len(units)+1)
	for _, u := range units {
		if isNodeEntry(u) {
			leaf = append(leaf, model.NodeRef(u.Entry))
		} else {
			leaf = append(leaf, model.GroupRef(u.Entry))
		}
	}
	leaf = append(leaf, model.Policy(model.PolicyDirect))
	ns := model.Namespace{Name: opts.Aggregate, Kind: model.SourceLocal}
	return template.InstantiateWith(opts.Template, ns, leaf)
}

func isNodeEntry(u *model.Unit) bool {
	for _, n := range u.Nodes {
		if n.ID == u.Entry {
			return true
		}
	}
	return false
}
