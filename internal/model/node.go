package model

// Node is a concrete proxy endpoint. Protocol parameters live in Attrs and are
// never interpreted by the merge engine.
type Node struct {
	// ID is the global identifier. Before namespacing it equals Name.
	ID        string
	Namespace string
	Name      string

	Attrs Attrs

	// Provided marks nodes that reach the running proxy through the
	// namespace's provider rather than the top-level proxies list.
	Provided bool

	// Representative marks the synthetic per-namespace entry node.
	Representative bool
}
