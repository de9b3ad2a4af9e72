// Package source defines the query contract the change detector polls against.
// The query language itself lives behind these interfaces; the detector only
// ever sees observed graph states.
package source

import (
	"context"
	"time"

	"github.com/regtech-io/pulse/pkg/graph"
)

// Querier returns the full graph state matching a filter.
type Querier interface {
	QueryByFilter(ctx context.Context, filter graph.Filter) (graph.State, error)
}

// TimestampQuerier is an optional optimization: backends that can answer
// "what changed since" queries return only entities modified after since.
// The detector type-asserts for this and falls back to full snapshots when
// the backend does not support it.
type TimestampQuerier interface {
	Querier
	QueryByTimestamp(ctx context.Context, filter graph.Filter, since time.Time) (graph.State, error)
}
