package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadContainerManifest(t *testing.T) {
	dir := t.TempDir()
	doc := `
entrypoint: /opt/wd/run.sh
init: /opt/wd/init.sh
functions:
  hello:
    name: hello
    parameters:
      - name: name
        type: string
    outputs:
      - name: greeting
        type: string
    capture: marked
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.yml"), []byte(doc), 0o644))

	m, err := LoadContainerManifest(dir)
	require.NoError(t, err)
	require.Equal(t, "/opt/wd/run.sh", m.Entrypoint)

	fn, err := m.Function("hello")
	require.NoError(t, err)
	require.Equal(t, CaptureMarked, fn.Capture)
	require.Len(t, fn.Parameters, 1)
}

func TestContainerManifestFunctionMissing(t *testing.T) {
	m := &ContainerManifest{Functions: map[string]FunctionDef{}}
	_, err := m.Function("nope")
	require.Error(t, err)
	require.Equal(t, LetPackageInfo, err.(*LetError).Kind)
}
