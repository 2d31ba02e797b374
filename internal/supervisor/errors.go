package supervisor

import "fmt"

// LetErrorKind enumerates spec §7's LetError variants (the supervisor's
// own error taxonomy — "Let" is the original's name for this process).
type LetErrorKind int

const (
	LetJuiceFS LetErrorKind = iota
	LetRedirector
	LetCallbackConnect
	LetArgumentsBase64
	LetArgumentsUTF8
	LetArgumentsJSON
	LetContainerInfo
	LetPackageInfo
	LetWorkdir
	LetEntrypoint
	LetDuplicateArgument
	LetUnsupportedType
	LetPackageLaunch
	LetPackageRun
	LetClosedStdout
	LetClosedStderr
	LetDecode
	LetResultJSON
)

// LetError is the supervisor's runtime error type (spec §7).
type LetError struct {
	Kind    LetErrorKind
	Message string
}

func (e *LetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("supervisor error (kind %d)", e.Kind)
}
