package gateway

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// subscribeSchema validates subscribe frames before any typed handling runs.
// Graph subscriptions carry a filter object; conversation subscriptions carry
// a non-empty key.
const subscribeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "stream"],
  "properties": {
    "type": {"const": "subscribe"},
    "ref": {"type": "string"},
    "stream": {"enum": ["graph", "conversation", "conversation-list"]},
    "filter": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "jurisdictions": {
          "type": "array",
          "items": {"type": "string", "minLength": 1},
          "maxItems": 64
        },
        "profile_type": {"type": "string"},
        "keyword": {"type": "string", "maxLength": 256}
      }
    },
    "key": {"type": "string", "minLength": 1, "maxLength": 512}
  },
  "oneOf": [
    {
      "properties": {"stream": {"const": "graph"}},
      "required": ["filter"]
    },
    {
      "properties": {"stream": {"enum": ["conversation", "conversation-list"]}},
      "required": ["key"]
    }
  ]
}`

var subscribeSchemaLoader = gojsonschema.NewStringLoader(subscribeSchema)

// validateSubscribe checks a raw subscribe frame against the schema and
// returns a single human-readable error describing every violation.
func validateSubscribe(raw []byte) error {
	result, err := gojsonschema.Validate(subscribeSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("invalid subscribe request: %s", strings.Join(details, "; "))
}
