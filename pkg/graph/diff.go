package graph

import "reflect"

// Diff compares two observations of the same filter and returns the patch that
// transforms prev into curr. Entities are matched by ID; an entity present in
// both observations is reported as updated only when its properties differ.
// Meta is left for the caller to fill in.
func Diff(prev, curr State) *Patch {
	patch := &Patch{
		Nodes: NodeChanges{Added: []Node{}, Updated: []Node{}, Removed: []Node{}},
		Edges: EdgeChanges{Added: []Edge{}, Updated: []Edge{}, Removed: []Edge{}},
	}

	prevNodes := make(map[string]Node, len(prev.Nodes))
	for _, n := range prev.Nodes {
		prevNodes[n.ID] = n
	}
	for _, n := range curr.Nodes {
		old, existed := prevNodes[n.ID]
		if !existed {
			patch.Nodes.Added = append(patch.Nodes.Added, n)
			continue
		}
		delete(prevNodes, n.ID)
		if nodeChanged(old, n) {
			patch.Nodes.Updated = append(patch.Nodes.Updated, n)
		}
	}
	for _, n := range prev.Nodes {
		if _, still := prevNodes[n.ID]; still {
			patch.Nodes.Removed = append(patch.Nodes.Removed, n)
		}
	}

	prevEdges := make(map[string]Edge, len(prev.Edges))
	for _, e := range prev.Edges {
		prevEdges[e.ID] = e
	}
	for _, e := range curr.Edges {
		old, existed := prevEdges[e.ID]
		if !existed {
			patch.Edges.Added = append(patch.Edges.Added, e)
			continue
		}
		delete(prevEdges, e.ID)
		if edgeChanged(old, e) {
			patch.Edges.Updated = append(patch.Edges.Updated, e)
		}
	}
	for _, e := range prev.Edges {
		if _, still := prevEdges[e.ID]; still {
			patch.Edges.Removed = append(patch.Edges.Removed, e)
		}
	}

	patch.Meta.TotalChanges = patch.TotalChanges()
	return patch
}

// Merge folds a newer patch into an accumulated one, keeping the newest view
// of every entity. An add followed by an update stays an add; an add followed
// by a remove cancels out entirely.
func Merge(acc, next *Patch) *Patch {
	nodes := newNodeMerger(acc.Nodes)
	nodes.apply(next.Nodes)

	edges := newEdgeMerger(acc.Edges)
	edges.apply(next.Edges)

	out := &Patch{
		Nodes: nodes.result(),
		Edges: edges.result(),
		Meta:  acc.Meta,
	}
	if out.Meta.Timestamp.Before(next.Meta.Timestamp) {
		out.Meta.Timestamp = next.Meta.Timestamp
	}
	out.Meta.TotalChanges = out.TotalChanges()
	return out
}

func nodeChanged(old, cur Node) bool {
	return old.Type != cur.Type ||
		old.Label != cur.Label ||
		!reflect.DeepEqual(old.Properties, cur.Properties)
}

func edgeChanged(old, cur Edge) bool {
	return old.Source != cur.Source ||
		old.Target != cur.Target ||
		old.Type != cur.Type ||
		!reflect.DeepEqual(old.Properties, cur.Properties)
}

type changeKind int

const (
	kindAdded changeKind = iota
	kindUpdated
	kindRemoved
)

type nodeMerger struct {
	kinds map[string]changeKind
	items map[string]Node
	order []string
}

func newNodeMerger(c NodeChanges) *nodeMerger {
	m := &nodeMerger{kinds: make(map[string]changeKind), items: make(map[string]Node)}
	for _, n := range c.Added {
		m.set(n.ID, kindAdded, n)
	}
	for _, n := range c.Updated {
		m.set(n.ID, kindUpdated, n)
	}
	for _, n := range c.Removed {
		m.set(n.ID, kindRemoved, n)
	}
	return m
}

func (m *nodeMerger) set(id string, kind changeKind, n Node) {
	if _, seen := m.kinds[id]; !seen {
		m.order = append(m.order, id)
	}
	m.kinds[id] = kind
	m.items[id] = n
}

func (m *nodeMerger) apply(c NodeChanges) {
	for _, n := range c.Added {
		m.set(n.ID, kindAdded, n)
	}
	for _, n := range c.Updated {
		// An entity that was added earlier in the window and updated since is
		// still an add from the receiver's point of view.
		if prev, seen := m.kinds[n.ID]; seen && prev == kindAdded {
			m.set(n.ID, kindAdded, n)
		} else {
			m.set(n.ID, kindUpdated, n)
		}
	}
	for _, n := range c.Removed {
		if prev, seen := m.kinds[n.ID]; seen && prev == kindAdded {
			// Added and removed within one window: invisible to the receiver.
			delete(m.kinds, n.ID)
			delete(m.items, n.ID)
			continue
		}
		m.set(n.ID, kindRemoved, n)
	}
}

func (m *nodeMerger) result() NodeChanges {
	out := NodeChanges{Added: []Node{}, Updated: []Node{}, Removed: []Node{}}
	for _, id := range m.order {
		kind, ok := m.kinds[id]
		if !ok {
			continue
		}
		switch kind {
		case kindAdded:
			out.Added = append(out.Added, m.items[id])
		case kindUpdated:
			out.Updated = append(out.Updated, m.items[id])
		case kindRemoved:
			out.Removed = append(out.Removed, m.items[id])
		}
	}
	return out
}

type edgeMerger struct {
	kinds map[string]changeKind
	items map[string]Edge
	order []string
}

func newEdgeMerger(c EdgeChanges) *edgeMerger {
	m := &edgeMerger{kinds: make(map[string]changeKind), items: make(map[string]Edge)}
	for _, e := range c.Added {
		m.set(e.ID, kindAdded, e)
	}
	for _, e := range c.Updated {
		m.set(e.ID, kindUpdated, e)
	}
	for _, e := range c.Removed {
		m.set(e.ID, kindRemoved, e)
	}
	return m
}

func (m *edgeMerger) set(id string, kind changeKind, e Edge) {
	if _, seen := m.kinds[id]; !seen {
		m.order = append(m.order, id)
	}
	m.kinds[id] = kind
	m.items[id] = e
}

func (m *edgeMerger) apply(c EdgeChanges) {
	for _, e := range c.Added {
		m.set(e.ID, kindAdded, e)
	}
	for _, e := range c.Updated {
		if prev, seen := m.kinds[e.ID]; seen && prev == kindAdded {
			m.set(e.ID, kindAdded, e)
		} else {
			m.set(e.ID, kindUpdated, e)
		}
	}
	for _, e := range c.Removed {
		if prev, seen := m.kinds[e.ID]; seen && prev == kindAdded {
			delete(m.kinds, e.ID)
			delete(m.items, e.ID)
			continue
		}
		m.set(e.ID, kindRemoved, e)
	}
}

func (m *edgeMerger) result() EdgeChanges {
	out := EdgeChanges{Added: []Edge{}, Updated: []Edge{}, Removed: []Edge{}}
	for _, id := range m.order {
		kind, ok := m.kinds[id]
		if !ok {
			continue
		}
		switch kind {
		case kindAdded:
			out.Added = append(out.Added, m.items[id])
		case kindUpdated:
			out.Updated = append(out.Updated, m.items[id])
		case kindRemoved:
			out.Removed = append(out.Removed, m.items[id])
		}
	}
	return out
}
