// Package infra decodes the infrastructure file (spec §6.4): a mapping of
// location id to one of four backend kinds, plus the credential shapes
// each backend needs and the `s$<name>` secret-indirection convention the
// original resolves against a separate secret store.
//
// Grounded on internal/packages' two-tier "versioned header, yaml.v3
// payload" convention (itself grounded on smog's .sg file header in
// pkg/bytecode/format.go); this file is the other yaml.v3 consumer
// SPEC_FULL's ambient-stack section calls for.
package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the infrastructure backend a Location runs jobs on.
type Kind string

const (
	KindKubernetes Kind = "kubernetes"
	KindLocal      Kind = "local"
	KindVM         Kind = "vm"
	KindSlurm      Kind = "slurm"
)

// Runtime names the container runtime a VM/SLURM location launches jobs
// with on its remote host (spec §4.9 step 5, "Docker or Singularity").
type Runtime string

const (
	RuntimeDocker     Runtime = "docker"
	RuntimeSingularity Runtime = "singularity"
)

// Credentials is one of the three credential shapes spec §6.4 allows:
// a kubeconfig file path, an SSH certificate, or an SSH password. Exactly
// one of the typed fields is populated, selected by Kind.
type Credentials struct {
	Kind CredentialsKind `yaml:"kind"`

	// CredentialsKubeconfig
	KubeconfigPath string `yaml:"kubeconfig,omitempty"`

	// CredentialsCertificate
	Username       string `yaml:"username,omitempty"`
	CertificatePath string `yaml:"certificate,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty"`

	// CredentialsPassword
	Password string `yaml:"password,omitempty"`
}

type CredentialsKind string

const (
	CredentialsKubeconfig  CredentialsKind = "kubeconfig"
	CredentialsCertificate CredentialsKind = "certificate"
	CredentialsPassword    CredentialsKind = "password"
)

// Location is one entry of the infrastructure file: a named site the job
// scheduler (internal/scheduler) can dispatch a Create command to.
type Location struct {
	ID      string      `yaml:"-"`
	Kind    Kind        `yaml:"kind"`
	Address string      `yaml:"address,omitempty"`

	// KindKubernetes
	Namespace string `yaml:"namespace,omitempty"`

	// KindLocal
	Network string `yaml:"network,omitempty"`

	// KindVM / KindSlurm
	Runtime Runtime `yaml:"runtime,omitempty"`

	Credentials Credentials `yaml:"credentials,omitempty"`
}

// File is the parsed infrastructure file: a map of location id to Location.
type File struct {
	Locations map[string]Location
}

// rawFile mirrors the on-disk shape (a plain map), decoded first so Load
// can stamp each Location.ID from its map key before handing it back.
type rawFile map[string]Location

// Load reads and parses the infrastructure file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("infra: read %s: %w", path, err)
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("infra: parse %s: %w", path, err)
	}
	locs := make(map[string]Location, len(raw))
	for id, loc := range raw {
		loc.ID = id
		locs[id] = loc
	}
	return &File{Locations: locs}, nil
}

// Lookup resolves a location id, the only operation the job scheduler
// needs (spec §4.9 step 2, "resolve the target location from the
// infrastructure catalog").
func (f *File) Lookup(id string) (Location, bool) {
	loc, ok := f.Locations[id]
	return loc, ok
}

// secretPrefix marks a `s$<name>` indirection: a credential string field
// that names a secret resolved from a separate store.
const secretPrefix = "s$"

// IsSecretRef reports whether s is a `s$<name>` indirection rather than a
// literal value.
func IsSecretRef(s string) bool { return strings.HasPrefix(s, secretPrefix) }

// SecretName extracts <name> from a `s$<name>` reference. ok is false if s
// is not a secret reference.
func SecretName(s string) (string, bool) {
	if !IsSecretRef(s) {
		return "", false
	}
	return strings.TrimPrefix(s, secretPrefix), true
}

// SecretStore resolves a secret name to its value. [EXPANSION]: spec §6.4
// describes the indirection but leaves the backing store's shape
// unspecified; this repo adds the interface plus one concrete,
// file-backed implementation so the indirection is actually exercised
// (grounded on brane-cfg/src/infrastructure.rs in original_source/, which
// resolves these against a real secret backend).
type SecretStore interface {
	Resolve(name string) (string, error)
}

// FileSecretStore resolves secret names to files under a directory, one
// file per secret named after it — the simplest backing store that still
// round-trips the indirection end to end.
type FileSecretStore struct {
	Dir string
}

func (s FileSecretStore) Resolve(name string) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%s", s.Dir, name))
	if err != nil {
		return "", fmt.Errorf("infra: resolve secret %q: %w", name, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// Resolve replaces a `s$<name>` value in c's Passphrase, Password or
// KubeconfigPath field with the secret store's value, leaving literal
// values untouched; Username and CertificatePath are not resolved. It
// mutates nothing in place; it returns a resolved copy.
func Resolve(c Credentials, store SecretStore) (Credentials, error) {
	resolve := func(v string) (string, error) {
		name, ok := SecretName(v)
		if !ok {
			return v, nil
		}
		if store == nil {
			return "", fmt.Errorf("infra: %q is a secret reference but no secret store is configured", v)
		}
		return store.Resolve(name)
	}

	out := c
	var err error
	if out.Passphrase, err = resolve(out.Passphrase); err != nil {
		return Credentials{}, err
	}
	if out.Password, err = resolve(out.Password); err != nil {
		return Credentials{}, err
	}
	if out.KubeconfigPath, err = resolve(out.KubeconfigPath); err != nil {
		return Credentials{}, err
	}
	return out, nil
}
