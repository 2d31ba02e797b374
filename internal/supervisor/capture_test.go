package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCaptureComplete(t *testing.T) {
	out, err := ExtractCapture(CaptureComplete, "result: 42\n")
	require.NoError(t, err)
	require.Equal(t, "result: 42\n", out)
}

func TestExtractCaptureMarked(t *testing.T) {
	stdout := "noise\n--> START CAPTURE\nresult: 42\n--> END CAPTURE\nmore noise\n"
	out, err := ExtractCapture(CaptureMarked, stdout)
	require.NoError(t, err)
	require.Equal(t, "result: 42", out)
}

func TestExtractCaptureMarkedMissingEnd(t *testing.T) {
	_, err := ExtractCapture(CaptureMarked, "--> START CAPTURE\nresult: 42\n")
	require.Error(t, err)
	require.Equal(t, LetDecode, err.(*LetError).Kind)
}

func TestExtractCapturePrefixed(t *testing.T) {
	stdout := "building...\n~~>result: 42\nsome log line\n~~>done: true\n"
	out, err := ExtractCapture(CapturePrefixed, stdout)
	require.NoError(t, err)
	require.Equal(t, "result: 42\ndone: true", out)
}

func TestExtractCaptureUnknownMode(t *testing.T) {
	_, err := ExtractCapture("bogus", "x")
	require.Error(t, err)
	require.Equal(t, LetDecode, err.(*LetError).Kind)
}

func TestDecodeResultValidatesOutputs(t *testing.T) {
	result, err := DecodeResult("result: 42\nname: ada\n", []Output{{Name: "result", Type: "integer"}})
	require.NoError(t, err)
	require.Equal(t, 42, result["result"])
	require.NotContains(t, result, "name")
}

func TestDecodeResultMissingOutput(t *testing.T) {
	_, err := DecodeResult("other: 1\n", []Output{{Name: "result", Type: "integer"}})
	require.Error(t, err)
	require.Equal(t, LetResultJSON, err.(*LetError).Kind)
}
