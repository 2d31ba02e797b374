// Package packages models the on-disk package layout of spec §6.3: a
// package directory carrying package.yml (name, version, kind, digest,
// functions, types) plus an image.tar whose embedded manifest.json supplies
// the Docker content digest, and an Index the VM's IMPORT opcode consults
// to resolve a package name to its functions and types.
//
// Grounded on the teacher's own two-tier metadata model (smog's .sg file
// header in pkg/bytecode/format.go separates a versioned header from a
// payload); here the header is package.yml, parsed with yaml.v3 per
// SPEC_FULL's ambient-stack decision, and the payload is the image tar the
// scheduler and local Docker executor hand to the container runtime.
package packages

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Kind is the package kind: "ecu" (code, executed by branelet), "oas"
// (OpenAPI-described REST service), or "noop" (used in tests/pipelines
// that need a function dispatch with no real work).
type Kind string

const (
	KindECU  Kind = "ecu"
	KindOAS  Kind = "oas"
	KindNoop Kind = "noop"
)

// Parameter is one declared argument of a function manifest entry, in
// call order.
type Parameter struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FunctionSpec is one function's manifest entry.
type FunctionSpec struct {
	Name       string      `yaml:"name"`
	Parameters []Parameter `yaml:"parameters"`
	Returns    string      `yaml:"returns"`
}

// Manifest is the parsed package.yml.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Kind        Kind           `yaml:"kind"`
	Created     string         `yaml:"created"`
	ID          string         `yaml:"id"`
	Digest      string         `yaml:"digest"`
	Owners      []string       `yaml:"owners"`
	Description string         `yaml:"description"`
	Detached    bool           `yaml:"detached"`
	Functions   []FunctionSpec `yaml:"functions"`
	Types       []string       `yaml:"types"`
}

// Package is an installed package: its manifest plus the directory it was
// loaded from, which holds image.tar and, for ECU packages, container.yml
// and a wd/ work directory.
type Package struct {
	Manifest Manifest
	Dir      string
}

// ImagePath returns the path to this package's image.tar.
func (p *Package) ImagePath() string { return filepath.Join(p.Dir, "image.tar") }

// ImageRef is the "<name>:<version>" reference the local Docker executor
// and the job scheduler both use to address this package's image.
func (p *Package) ImageRef() string { return fmt.Sprintf("%s:%s", p.Manifest.Name, p.Manifest.Version) }

// Load reads package.yml from dir and returns the resulting Package.
func Load(dir string) (*Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.yml"))
	if err != nil {
		return nil, fmt.Errorf("packages: read package.yml: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("packages: parse package.yml: %w", err)
	}
	if m.Digest == "" {
		return nil, fmt.Errorf("packages: %s has no digest", m.Name)
	}
	return &Package{Manifest: m, Dir: dir}, nil
}

// Index resolves a package name to its installed Package. The VM's IMPORT
// opcode is the only consumer; package discovery/installation (registry
// pull, build pipeline) is out of scope per spec §1.
type Index interface {
	Lookup(name string) (*Package, bool)
}

// DirIndex is an Index backed by a flat directory of installed packages,
// one subdirectory per package name — the layout `brane import` (out of
// scope) would produce on disk.
type DirIndex struct {
	Root string
}

func (idx DirIndex) Lookup(name string) (*Package, bool) {
	pkg, err := Load(filepath.Join(idx.Root, name))
	if err != nil {
		return nil, false
	}
	return pkg, true
}

// MapIndex is an in-memory Index, primarily useful for tests.
type MapIndex map[string]*Package

func (idx MapIndex) Lookup(name string) (*Package, bool) {
	pkg, ok := idx[name]
	return pkg, ok
}
