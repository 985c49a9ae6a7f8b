package model

type SourceKind string

const (
	SourceRemote SourceKind = "remote-provider"
	SourceLocal  SourceKind = "local"
)

// Namespace identifies one subscription. Immutable once created.
type Namespace struct {
	Name string
	Kind SourceKind
	Port int
}

func (n Namespace) IsRemote() bool { return n.Kind == SourceRemote }

// Provider is a remote namespace's live node set. ID always equals the
// namespace name.
type Provider struct {
	ID    string
	URL   string
	Attrs Attrs
}

type RuleProvider struct {
	ID        string
	Namespace string // empty for shared template providers
	Attrs     Attrs
}

type RuleSet struct {
	Name      string
	Namespace string
	Rules     []Rule
}

// Listener binds one port to one namespace's rule set. An empty RuleSet binds
// the shared default rule set.
type Listener struct {
	Name      string
	Namespace string
	Port      int
	Listen    string
	RuleSet   string
}

// Document is the merged result handed to the renderer.
type Document struct {
	Nodes         []Node
	Providers     []Provider
	Groups        []Group
	RuleProviders []RuleProvider
	RuleSets      []RuleSet
	DefaultRules  []Rule
	Listeners     []Listener
}

func (d *Document) Group(id string) (Group, bool) {
	for _, g := range d.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

func (d *Document) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Unit is one namespace's finished artifacts, ready for assembly.
type Unit struct {
	Namespace     Namespace
	Provider      *Provider
	Nodes         []Node
	Groups        []Group
	RuleProviders []RuleProvider
	RuleSet       RuleSet

	// Entry is the identifier the aggregate namespace uses to reach this
	// namespace: the representative node or the template's entry group.
	Entry string
}
