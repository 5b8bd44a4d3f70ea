package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads caller options from a YAML file. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadFile(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	return parseFile(b)
}

func parseFile(b []byte) (Options, error) {
	var opts Options
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		if errors.Is(err, io.EOF) {
			return Options{}, nil
		}
		return Options{}, fmt.Errorf("parse config: %w", err)
	}
	return opts, nil
}
