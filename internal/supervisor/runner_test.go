package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/bus"
	"github.com/brane-lang/brane/internal/packages"
)

// recordingCallback captures every bus.Callback sent through it, standing
// in for a live NATS connection in tests.
type recordingCallback struct {
	sent []bus.Callback
}

func newRecordingRunner() (*Runner, *recordingCallback) {
	rc := &recordingCallback{}
	cb := NewCallback(nil, "job-1", nil)
	r := NewRunner(cb, "corr-1", nil)
	r.onEmit = func(c bus.Callback) { rc.sent = append(rc.sent, c) }
	return r, rc
}

func TestDispatchNoop(t *testing.T) {
	r, rc := newRecordingRunner()
	pkg := &packages.Package{Manifest: packages.Manifest{Kind: packages.KindNoop}}

	result, err := r.Dispatch(context.Background(), pkg, "ignored", "")
	require.NoError(t, err)
	require.Equal(t, json.RawMessage("null"), result)
	require.Equal(t, []string{bus.StateInitialized, bus.StateStarted, bus.StateCompleted, bus.StateFinished}, rc.kinds())
}

func TestDispatchECUSuccess(t *testing.T) {
	dir := t.TempDir()
	manifest := `
entrypoint: run.sh
functions:
  greet:
    name: greet
    parameters:
      - name: name
        type: string
    outputs:
      - name: greeting
        type: string
    capture: complete
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.yml"), []byte(manifest), 0o644))

	pkg := &packages.Package{Manifest: packages.Manifest{Kind: packages.KindECU}, Dir: dir}
	r, rc := newRecordingRunner()
	r.run = func(ctx context.Context, dir, entrypoint string, env []string) (string, string, error) {
		return "greeting: hello world\n", "", nil
	}

	argsB64 := base64.StdEncoding.EncodeToString([]byte(`{"name": "world"}`))
	result, err := r.Dispatch(context.Background(), pkg, "greet", argsB64)
	require.NoError(t, err)

	var decoded string
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, "hello world", decoded)
	require.Contains(t, rc.kinds(), bus.StateFinished)
	require.Contains(t, rc.kinds(), bus.StateStarted)
}

func TestDispatchECUMissingArgument(t *testing.T) {
	dir := t.TempDir()
	manifest := `
entrypoint: run.sh
functions:
  greet:
    name: greet
    parameters:
      - name: name
        type: string
    outputs: []
    capture: complete
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.yml"), []byte(manifest), 0o644))

	pkg := &packages.Package{Manifest: packages.Manifest{Kind: packages.KindECU}, Dir: dir}
	r, _ := newRecordingRunner()

	argsB64 := base64.StdEncoding.EncodeToString([]byte(`{}`))
	_, err := r.Dispatch(context.Background(), pkg, "greet", argsB64)
	require.Error(t, err)
	require.Equal(t, LetArgumentsJSON, err.(*LetError).Kind)
}

func (rc *recordingCallback) kinds() []string {
	out := make([]string, len(rc.sent))
	for i, cb := range rc.sent {
		out[i] = cb.Kind
	}
	return out
}
