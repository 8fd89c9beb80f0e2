package apperrors

import (
	"github.com/cockroachdb/errors"
)

// Exit codes.
const (
	ExitSuccess                = 0
	ExitNoValidInput           = 1
	ExitDestinationUnavailable = 2
	ExitDestinationPermission  = 3
	ExitSyncTool               = 4
	ExitSSHConnection          = 5
	ExitConfiguration          = 6
	ExitInternal               = 7
	ExitInterrupted            = 130
)

// Kind classifies a failure.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindConfiguration
	KindNoValidInput
	KindDestinationUnavailable
	KindDestinationPermission
	KindSyncTool
	KindSSHConnection
	KindInterrupted
)

var kindNames = map[Kind]string{
	KindInternal:               "internal error",
	KindConfiguration:          "configuration error",
	KindNoValidInput:           "no valid input",
	KindDestinationUnavailable: "destination unavailable",
	KindDestinationPermission:  "destination permission denied",
	KindSyncTool:               "sync tool error",
	KindSSHConnection:          "ssh connection error",
	KindInterrupted:            "interrupted",
}

var kindExitCodes = map[Kind]int{
	KindInternal:               ExitInternal,
	KindConfiguration:          ExitConfiguration,
	KindNoValidInput:           ExitNoValidInput,
	KindDestinationUnavailable: ExitDestinationUnavailable,
	KindDestinationPermission:  ExitDestinationPermission,
	KindSyncTool:               ExitSyncTool,
	KindSSHConnection:          ExitSSHConnection,
	KindInterrupted:            ExitInterrupted,
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	if code, ok := kindExitCodes[k]; ok {
		return code
	}
	return ExitInternal
}

// Error wraps an underlying error with its kind.
type Error struct {
	Kind Kind
	Err  error
}

// New wraps err with kind. A nil err gets the kind's name as message.
func New(kind Kind, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Err: err}
}

// Newf creates an error of the given kind from a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: errors.Newf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return KindOf(err).ExitCode()
}
