package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// readAsJSON returns data as JSON bytes. A .yaml/.yml file is converted via
// an intermediate decode so both formats go through the same strict JSON
// decoder; anything else is assumed to be JSON already.
func readAsJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml->json: %w", err)
	}
	return out, nil
}

// stringKeys rewrites every map key to a string so the YAML document can be
// marshaled as JSON.
func stringKeys(v any) any {
	switch doc := v.(type) {
	case map[string]any:
		for k, item := range doc {
			doc[k] = stringKeys(item)
		}
		return doc
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, item := range doc {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range doc {
			doc[i] = stringKeys(item)
		}
		return doc
	default:
		return v
	}
}
