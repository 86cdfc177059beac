package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format int

const (
	formatYAML format = iota
	formatJSON
)

// formatOf picks the codec from the file extension. Anything that is not
// .json is read and written as YAML.
func formatOf(path string) format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return formatJSON
	}
	return formatYAML
}

var errTrailingData = errors.New("invalid config: trailing data")

// decode reads b over Default(). YAML is converted to JSON first so both
// formats go through the same strict decoder and share the json tags.
// A file holds exactly one document.
func decode(path string, b []byte) (*Config, error) {
	jb := b
	if formatOf(path) == formatYAML {
		tree, err := decodeYAML(b)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return Default(), nil
		}
		if jb, err = json.Marshal(stringKeys(tree)); err != nil {
			return nil, fmt.Errorf("yaml to json: %w", err)
		}
	}

	cfg := Default()
	trimmed := bytes.TrimSpace(jb)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	// RawMessage ignores DisallowUnknownFields, so a second object is
	// reported as trailing data rather than as an unknown key.
	var rest json.RawMessage
	switch err := dec.Decode(&rest); {
	case err == io.EOF:
		return cfg, nil
	case err == nil:
		return nil, errTrailingData
	default:
		return nil, fmt.Errorf("%w: %v", errTrailingData, err)
	}
}

func decodeYAML(b []byte) (any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var tree any
	if err := dec.Decode(&tree); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var rest any
	switch err := dec.Decode(&rest); {
	case errors.Is(err, io.EOF):
		return tree, nil
	case err == nil:
		return nil, errTrailingData
	default:
		return nil, fmt.Errorf("yaml: %w", err)
	}
}

func encode(path string, cfg *Config) ([]byte, error) {
	if formatOf(path) == formatYAML {
		return yaml.Marshal(cfg)
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// stringKeys rewrites YAML maps with non-string keys (e.g. `1: x`) so the
// tree can be marshaled to JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	}
	return v
}

// hashConfig fingerprints the committed config; the watcher compares it with
// the file content to skip events caused by our own writes.
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
