// Package supervisor implements the in-container supervisor's reusable
// logic ("branelet", spec §4.11, C11): container.yml parsing, argument
// marshalling to environment variables, the three stdout capture modes,
// YAML result decoding, and a reconnect-tolerant callback client. The
// process entrypoint that wires this into a running container is
// cmd/branelet.
//
// Grounded on internal/packages' package.yml model (same yaml.v3-decoded,
// two-tier metadata shape); container.yml is the pre-build sibling of
// package.yml spec §6.3 names, so this package mirrors packages.Manifest's
// structure rather than inventing a new one.
package supervisor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CaptureMode names how a function's stdout is post-processed to find its
// structured result (spec §4.11's ECU branch).
type CaptureMode string

const (
	CaptureComplete CaptureMode = "complete"
	CaptureMarked   CaptureMode = "marked"
	CapturePrefixed CaptureMode = "prefixed"
)

// Output is one declared return value of a function: a name and a type,
// used both to validate and to key the YAML result document.
type Output struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FunctionDef is one function's container.yml entry.
type FunctionDef struct {
	Name       string      `yaml:"name"`
	Parameters []Parameter `yaml:"parameters"`
	Outputs    []Output    `yaml:"outputs"`
	Capture    CaptureMode `yaml:"capture"`
}

// Parameter is one declared argument: its name, its type, and for structs
// the field names/types it's made of (needed for the NAME_FIELD
// flattening rule, spec §4.11).
type Parameter struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Fields []Parameter `yaml:"fields,omitempty"`
}

// ContainerManifest is the parsed container.yml alongside a code (ECU)
// package's entrypoint: the function table init.sh and the entrypoint run
// against (spec §4.11 step 4).
type ContainerManifest struct {
	Entrypoint string                 `yaml:"entrypoint"`
	Init       string                 `yaml:"init,omitempty"`
	Functions  map[string]FunctionDef `yaml:"functions"`
}

// LoadContainerManifest reads container.yml from dir.
func LoadContainerManifest(dir string) (*ContainerManifest, error) {
	data, err := os.ReadFile(dir + "/container.yml")
	if err != nil {
		return nil, fmt.Errorf("supervisor: read container.yml: %w", err)
	}
	var m ContainerManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("supervisor: parse container.yml: %w", err)
	}
	return &m, nil
}

// Function looks up name, failing the way spec §4.11 requires ("validates
// that the requested function exists").
func (m *ContainerManifest) Function(name string) (FunctionDef, error) {
	fn, ok := m.Functions[name]
	if !ok {
		return FunctionDef{}, &LetError{Kind: LetPackageInfo, Message: fmt.Sprintf("container.yml declares no function %q", name)}
	}
	return fn, nil
}
