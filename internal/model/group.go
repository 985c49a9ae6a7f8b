package model

type MemberKind int

const (
	MemberNode MemberKind = iota + 1
	MemberGroup
	MemberPolicy
	MemberPlaceholder
	MemberProvider
)

func (k MemberKind) String() string {
	switch k {
	case MemberNode:
		return "node"
	case MemberGroup:
		return "group"
	case MemberPolicy:
		return "policy"
	case MemberPlaceholder:
		return "placeholder"
	case MemberProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Member is one entry of a group's member list.
//
// A Provider member with an empty Name is the "this namespace's provider"
// placeholder; the namespace rewriter fills it in.
type Member struct {
	Kind MemberKind
	Name string
}

func NodeRef(id string) Member { return Member{Kind: MemberNode, Name: id} }
func GroupRef(id string) Member { return Member{Kind: MemberGroup, Name: id} }
func Policy(token string) Member { return Member{Kind: MemberPolicy, Name: token} }
func Use(provider string) Member { return Member{Kind: MemberProvider, Name: provider} }
func LeafPlaceholder() Member { return Member{Kind: MemberPlaceholder, Name: LeafToken} }
func (m Member) IsConcrete() bool { return m.Kind == MemberNode || m.Kind == MemberProvider }
func (m Member) IsReference() bool { return m.Kind == MemberGroup }

// LeafToken marks "inject this namespace's nodes here" inside template groups.
const LeafToken = "LEAF"

// Policy tokens are shared by every namespace and never prefixed.
const (
	PolicyDirect = "DIRECT"
	PolicyReject = "REJECT"
	PolicyPass   = "PASS"
)

func IsPolicyToken(s string) bool {
	switch s {
	case PolicyDirect, PolicyReject, PolicyPass:
		return true
	}
	return false
}

// IsProviderPlaceholder reports whether s, found in a fragment's use list,
// means "the provider of the namespace this fragment belongs to".
func IsProviderPlaceholder(s string) bool {
	switch s {
	case "PROVIDER", "__PROVIDER__", "{PROVIDER}", "{provider}", "${PROVIDER}":
		return true
	}
	return false
}

type Class int

const (
	ClassUnknown Class = iota
	ClassLeaf
	ClassNonLeaf
)

func (c Class) String() string {
	switch c {
	case ClassLeaf:
		return "leaf"
	case ClassNonLeaf:
		return "non-leaf"
	default:
		return "unknown"
	}
}

type Group struct {
	ID        string
	Namespace string
	Name      string

	Members []Member

	// Attrs holds everything except name/proxies/use (type, url, interval,
	// filter, ...).
	Attrs Attrs

	Class Class
}

func (g Group) Clone() Group {
	out := g
	out.Members = append([]Member(nil), g.Members...)
	out.Attrs = g.Attrs.Clone()
	return out
}

// ConcreteCount is the number of concrete node sources among the members.
func (g Group) ConcreteCount() int {
	n := 0
	for _, m := range g.Members {
		if m.IsConcrete() {
			n++
		}
	}
	return n
}

func (g Group) HasPlaceholder() bool {
	for _, m := range g.Members {
		if m.Kind == MemberPlaceholder {
			return true
		}
	}
	return false
}
