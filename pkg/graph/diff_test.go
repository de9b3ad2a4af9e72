package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_AddedAndRemoved(t *testing.T) {
	prev := State{Nodes: []Node{
		{ID: "A", Type: "entity"},
		{ID: "B", Type: "entity"},
	}}
	curr := State{Nodes: []Node{
		{ID: "A", Type: "entity"},
		{ID: "C", Type: "entity"},
	}}

	patch := Diff(prev, curr)

	require.Len(t, patch.Nodes.Added, 1)
	assert.Equal(t, "C", patch.Nodes.Added[0].ID)
	require.Len(t, patch.Nodes.Removed, 1)
	assert.Equal(t, "B", patch.Nodes.Removed[0].ID)
	assert.Empty(t, patch.Nodes.Updated)
	assert.Equal(t, 2, patch.Meta.TotalChanges)
}

func TestDiff_UpdatedOnPropertyChange(t *testing.T) {
	prev := State{Nodes: []Node{
		{ID: "A", Type: "entity", Properties: map[string]interface{}{"status": "active"}},
	}}
	curr := State{Nodes: []Node{
		{ID: "A", Type: "entity", Properties: map[string]interface{}{"status": "dissolved"}},
	}}

	patch := Diff(prev, curr)

	require.Len(t, patch.Nodes.Updated, 1)
	assert.Equal(t, "A", patch.Nodes.Updated[0].ID)
	assert.Equal(t, "dissolved", patch.Nodes.Updated[0].Properties["status"])
	assert.Empty(t, patch.Nodes.Added)
	assert.Empty(t, patch.Nodes.Removed)
}

func TestDiff_UnchangedNodeNotReported(t *testing.T) {
	state := State{Nodes: []Node{
		{ID: "A", Type: "entity", Properties: map[string]interface{}{"status": "active"}},
	}}

	patch := Diff(state, state)

	assert.True(t, patch.IsEmpty())
	assert.Zero(t, patch.Meta.TotalChanges)
}

func TestDiff_Edges(t *testing.T) {
	prev := State{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{{ID: "e1", Source: "A", Target: "B", Type: "owns"}},
	}
	curr := State{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{
			{ID: "e1", Source: "A", Target: "B", Type: "controls"},
			{ID: "e2", Source: "B", Target: "A", Type: "owns"},
		},
	}

	patch := Diff(prev, curr)

	require.Len(t, patch.Edges.Added, 1)
	assert.Equal(t, "e2", patch.Edges.Added[0].ID)
	require.Len(t, patch.Edges.Updated, 1)
	assert.Equal(t, "controls", patch.Edges.Updated[0].Type)
	assert.Empty(t, patch.Edges.Removed)
	assert.Equal(t, 2, patch.TotalChanges())
}

func TestMerge_AddThenUpdateStaysAdd(t *testing.T) {
	first := Diff(State{}, State{Nodes: []Node{{ID: "A", Label: "v1"}}})
	second := Diff(
		State{Nodes: []Node{{ID: "A", Label: "v1"}}},
		State{Nodes: []Node{{ID: "A", Label: "v2"}}},
	)

	merged := Merge(first, second)

	require.Len(t, merged.Nodes.Added, 1)
	assert.Equal(t, "v2", merged.Nodes.Added[0].Label)
	assert.Empty(t, merged.Nodes.Updated)
	assert.Equal(t, 1, merged.Meta.TotalChanges)
}

func TestMerge_AddThenRemoveCancels(t *testing.T) {
	first := Diff(State{}, State{Nodes: []Node{{ID: "A"}}})
	second := Diff(State{Nodes: []Node{{ID: "A"}}}, State{})

	merged := Merge(first, second)

	assert.True(t, merged.IsEmpty())
}

func TestMerge_KeepsNewestTimestamp(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	first := Diff(State{}, State{Nodes: []Node{{ID: "A"}}})
	first.Meta.Timestamp = early
	second := Diff(State{}, State{Nodes: []Node{{ID: "B"}}})
	second.Meta.Timestamp = late

	merged := Merge(first, second)

	assert.Equal(t, late, merged.Meta.Timestamp)
	assert.Equal(t, 2, merged.Meta.TotalChanges)
}
