package daemon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/regtech-io/pulse/pkg/graph"
	"github.com/regtech-io/pulse/pkg/source"
)

// seedFile is the on-disk format for pre-populating the in-memory source.
type seedFile struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// seedFromFile loads a JSON graph snapshot into the source.
func seedFromFile(src *source.Memory, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, node := range seed.Nodes {
		if node.ID == "" {
			return fmt.Errorf("seed node without id")
		}
		src.PutNode(node)
	}
	for _, edge := range seed.Edges {
		if edge.ID == "" {
			return fmt.Errorf("seed edge without id")
		}
		src.PutEdge(edge)
	}

	return nil
}
