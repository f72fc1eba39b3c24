package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a graph definition from YAML and builds it. Unknown keys
// are rejected.
func LoadYAML(r io.Reader) (*Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	return Build(def)
}

// LoadFile reads and builds a graph from a YAML file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}

	g, err := LoadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", path, err)
	}

	return g, nil
}
