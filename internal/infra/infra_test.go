package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadStampsLocationID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "infra.yml", `
cluster-a:
  kind: kubernetes
  address: https://k8s.example.com
  namespace: brane
  credentials:
    kind: kubeconfig
    kubeconfig: /etc/brane/kubeconfig

site-b:
  kind: slurm
  address: login.example.com
  runtime: singularity
  credentials:
    kind: password
    password: s$site-b-password
`)

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Locations, 2)

	a, ok := f.Lookup("cluster-a")
	require.True(t, ok)
	require.Equal(t, "cluster-a", a.ID)
	require.Equal(t, KindKubernetes, a.Kind)
	require.Equal(t, "brane", a.Namespace)

	b, ok := f.Lookup("site-b")
	require.True(t, ok)
	require.Equal(t, KindSlurm, b.Kind)
	require.Equal(t, RuntimeSingularity, b.Runtime)
	require.True(t, IsSecretRef(b.Credentials.Password))
}

func TestLookupUnknownLocation(t *testing.T) {
	f := &File{Locations: map[string]Location{}}
	_, ok := f.Lookup("nope")
	require.False(t, ok)
}

func TestResolveSecretIndirection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "site-b-password", "hunter2\n")
	store := FileSecretStore{Dir: dir}

	resolved, err := Resolve(Credentials{Kind: CredentialsPassword, Password: "s$site-b-password"}, store)
	require.NoError(t, err)
	require.Equal(t, "hunter2", resolved.Password)
}

func TestResolveLiteralPassesThrough(t *testing.T) {
	resolved, err := Resolve(Credentials{Kind: CredentialsPassword, Password: "literal"}, nil)
	require.NoError(t, err)
	require.Equal(t, "literal", resolved.Password)
}

func TestResolveMissingStoreErrors(t *testing.T) {
	_, err := Resolve(Credentials{Kind: CredentialsPassword, Password: "s$foo"}, nil)
	require.Error(t, err)
}
