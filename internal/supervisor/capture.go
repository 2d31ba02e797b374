// Stdout capture modes (spec §4.11, §9): the three textual conventions a
// function's entrypoint uses to mark where its structured YAML result
// lives within otherwise-unstructured program output.
package supervisor

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	captureStartMarker = "--> START CAPTURE"
	captureEndMarker   = "--> END CAPTURE"
	capturePrefix      = "~~>"
)

// ExtractCapture pulls the result document out of stdout according to
// mode (spec §4.11's ECU branch, §9 "all three are required for backward
// compatibility with existing packages").
func ExtractCapture(mode CaptureMode, stdout string) (string, error) {
	switch mode {
	case CaptureMarked:
		return extractMarked(stdout)
	case CapturePrefixed:
		return extractPrefixed(stdout), nil
	case CaptureComplete, "":
		return stdout, nil
	default:
		return "", &LetError{Kind: LetDecode, Message: fmt.Sprintf("unknown capture mode %q", mode)}
	}
}

func extractMarked(stdout string) (string, error) {
	lines := strings.Split(stdout, "\n")
	start, end := -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case captureStartMarker:
			start = i
		case captureEndMarker:
			end = i
		}
	}
	if start == -1 || end == -1 || end <= start {
		return "", &LetError{Kind: LetDecode, Message: "marked capture requires a START CAPTURE/END CAPTURE pair"}
	}
	return strings.Join(lines[start+1:end], "\n"), nil
}

func extractPrefixed(stdout string) string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(line, capturePrefix) {
			out = append(out, strings.TrimPrefix(line, capturePrefix))
		}
	}
	return strings.Join(out, "\n")
}

// DecodeResult parses a capture document as YAML keyed by outputs'
// declared names, validating each value's presence and returning it as a
// generic value tree ready for JSON re-encoding into the Finished event
// payload (spec §4.11's ECU branch: "parse the result as YAML keyed by
// the function's declared outputs").
func DecodeResult(document string, outputs []Output) (map[string]interface{}, error) {
	var decoded map[string]interface{}
	if err := yaml.Unmarshal([]byte(document), &decoded); err != nil {
		return nil, &LetError{Kind: LetResultJSON, Message: fmt.Sprintf("parse capture as YAML: %s", err)}
	}
	if decoded == nil {
		decoded = map[string]interface{}{}
	}
	result := make(map[string]interface{}, len(outputs))
	for _, out := range outputs {
		v, ok := decoded[out.Name]
		if !ok {
			return nil, &LetError{Kind: LetResultJSON, Message: fmt.Sprintf("declared output %q missing from result", out.Name)}
		}
		result[out.Name] = v
	}
	return result, nil
}
