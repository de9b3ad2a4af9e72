package graph

import "time"

// Node is a single entity in the regulatory profile graph.
type Node struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Label      string                 `json:"label,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID         string                 `json:"id"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
}

// State is one observation of the graph for a filter: every node and edge
// currently matching it.
type State struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeChanges groups node-level deltas by kind.
type NodeChanges struct {
	Added   []Node `json:"added"`
	Updated []Node `json:"updated"`
	Removed []Node `json:"removed"`
}

// EdgeChanges groups edge-level deltas by kind.
type EdgeChanges struct {
	Added   []Edge `json:"added"`
	Updated []Edge `json:"updated"`
	Removed []Edge `json:"removed"`
}

// PatchMeta carries bookkeeping for a patch.
type PatchMeta struct {
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Truncated    bool      `json:"truncated"`
	TotalChanges int       `json:"total_changes"`
}

// Patch is a bounded description of everything that changed for a filter since
// the previous observation. TotalChanges always equals the sum of the six
// change-list lengths; Truncated marks a patch whose raw diff exceeded the
// configured caps.
type Patch struct {
	Nodes NodeChanges `json:"nodes"`
	Edges EdgeChanges `json:"edges"`
	Meta  PatchMeta   `json:"meta"`
}

// TotalChanges returns the sum of all six change-list lengths.
func (p *Patch) TotalChanges() int {
	return len(p.Nodes.Added) + len(p.Nodes.Updated) + len(p.Nodes.Removed) +
		len(p.Edges.Added) + len(p.Edges.Updated) + len(p.Edges.Removed)
}

// IsEmpty reports whether the patch carries no changes at all.
func (p *Patch) IsEmpty() bool {
	return p.TotalChanges() == 0
}
