package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/regtech-io/pulse/pkg/graph"
)

// Memory is an in-process graph source. It backs local development and tests;
// production deployments wire a real graph backend behind the Querier
// interface instead.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
	edges map[string]graph.Edge
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]graph.Node),
		edges: make(map[string]graph.Edge),
	}
}

// PutNode inserts or replaces a node, stamping its update time.
func (m *Memory) PutNode(n graph.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.UpdatedAt = time.Now()
	m.nodes[n.ID] = n
}

// RemoveNode deletes a node and every edge touching it.
func (m *Memory) RemoveNode(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, id)
	for eid, e := range m.edges {
		if e.Source == id || e.Target == id {
			delete(m.edges, eid)
		}
	}
}

// PutEdge inserts or replaces an edge, stamping its update time.
func (m *Memory) PutEdge(e graph.Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.UpdatedAt = time.Now()
	m.edges[e.ID] = e
}

// RemoveEdge deletes an edge.
func (m *Memory) RemoveEdge(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.edges, id)
}

// QueryByFilter returns the full state matching the filter.
func (m *Memory) QueryByFilter(_ context.Context, filter graph.Filter) (graph.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshot(filter, time.Time{}), nil
}

// QueryByTimestamp returns only entities modified after since.
func (m *Memory) QueryByTimestamp(_ context.Context, filter graph.Filter, since time.Time) (graph.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshot(filter, since), nil
}

func (m *Memory) snapshot(filter graph.Filter, since time.Time) graph.State {
	f := filter.Normalize()
	state := graph.State{Nodes: []graph.Node{}, Edges: []graph.Edge{}}

	matched := make(map[string]struct{})
	for _, n := range m.nodes {
		if !matchesNode(n, f) {
			continue
		}
		matched[n.ID] = struct{}{}
		if since.IsZero() || n.UpdatedAt.After(since) {
			state.Nodes = append(state.Nodes, n)
		}
	}
	for _, e := range m.edges {
		_, srcOK := matched[e.Source]
		_, dstOK := matched[e.Target]
		if !srcOK && !dstOK {
			continue
		}
		if since.IsZero() || e.UpdatedAt.After(since) {
			state.Edges = append(state.Edges, e)
		}
	}
	return state
}

func matchesNode(n graph.Node, f graph.Filter) bool {
	if len(f.Jurisdictions) > 0 {
		j, _ := n.Properties["jurisdiction"].(string)
		j = strings.ToUpper(j)
		found := false
		for _, want := range f.Jurisdictions {
			if j == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProfileType != "" && n.Type != f.ProfileType {
		return false
	}
	if f.Keyword != "" && !strings.Contains(strings.ToLower(n.Label), f.Keyword) {
		return false
	}
	return true
}
