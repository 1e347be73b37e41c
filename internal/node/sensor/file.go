package sensor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the layout of the peripherals file.
type File struct {
	Peripherals []Spec `yaml:"peripherals"`
}

// LoadFile reads peripheral specs from a YAML file. An empty path yields no peripherals.
func LoadFile(path string) ([]Spec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peripherals file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a peripherals document. Unknown fields are rejected.
func Parse(data []byte) ([]Spec, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse peripherals file: %w", err)
	}
	return f.Peripherals, nil
}
