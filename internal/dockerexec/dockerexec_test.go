package dockerexec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/executor"
)

func TestBuildCommand(t *testing.T) {
	cmd, err := buildCommand(executor.CallRequest{
		Kind:       "ecu",
		Function:   "greet",
		Parameters: []string{"name", "count"},
		Args: []executor.Value{
			{Kind: executor.ValueString, Str: "world"},
			{Kind: executor.ValueInt, Int: 3},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"-d",
		"--application-id", "test",
		"--location-id", "localhost",
		"--job-id", "1",
		"ecu", "greet", cmd[len(cmd)-1],
	}, cmd)

	raw, err := base64.StdEncoding.DecodeString(cmd[len(cmd)-1])
	require.NoError(t, err)
	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &args))
	require.Equal(t, "world", args["name"])
	require.Equal(t, float64(3), args["count"])
}

func TestBuildCommandDetached(t *testing.T) {
	cmd, err := buildCommand(executor.CallRequest{Kind: "noop", Function: "f", Detached: true})
	require.NoError(t, err)
	require.Equal(t, "-d", cmd[0])
}

func TestDecodeResult(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte(`"hello world"`))
	v, err := decodeResult("some log line\n" + b64 + "\n")
	require.NoError(t, err)
	require.Equal(t, executor.ValueString, v.Kind)
	require.Equal(t, "hello world", v.Str)
}

func TestDecodeResultEmptyStdout(t *testing.T) {
	v, err := decodeResult("")
	require.NoError(t, err)
	require.Equal(t, executor.ValueUnit, v.Kind)
}

func TestRandomContainerNameIsEightLowercaseChars(t *testing.T) {
	name := randomContainerName()
	require.Len(t, name, 8)
	require.Equal(t, strings.ToLower(name), name)
}

func TestHostConfigAlwaysBindsDockerSocket(t *testing.T) {
	e := &Executor{cfg: Config{}}
	hc := e.hostConfig("greet")
	require.Contains(t, hc.Binds, "/var/run/docker.sock:/var/run/docker.sock")
}

func TestHostConfigAppliesDataDirAndPrivileged(t *testing.T) {
	e := &Executor{cfg: Config{DataDir: "/srv/data", Privileged: true, Network: "bridge"}}
	hc := e.hostConfig("greet")
	require.Contains(t, hc.Binds, "/srv/data:/data:rw")
	require.True(t, hc.Privileged)
	require.Equal(t, container.NetworkMode("bridge"), hc.NetworkMode)
}

func TestDemuxLogs(t *testing.T) {
	var raw bytes.Buffer
	writeFrame(&raw, 1, "hello-stdout")
	writeFrame(&raw, 2, "oops-stderr")

	var stdout, stderr bytes.Buffer
	demuxLogs(&raw, &stdout, &stderr)
	require.Equal(t, "hello-stdout", stdout.String())
	require.Equal(t, "oops-stderr", stderr.String())
}

func writeFrame(buf *bytes.Buffer, stream byte, payload string) {
	header := make([]byte, 8)
	header[0] = stream
	size := len(payload)
	header[4] = byte(size >> 24)
	header[5] = byte(size >> 16)
	header[6] = byte(size >> 8)
	header[7] = byte(size)
	buf.Write(header)
	buf.WriteString(payload)
}
