package cmd

import "fmt"

// Exit codes for hitwire CLI
const (
	// ExitSuccess indicates every exchange loaded and passed its checks
	ExitSuccess = 0

	// ExitCheckFailure indicates a response failed its schema or thresholds
	ExitCheckFailure = 1

	// ExitParseError indicates a request descriptor could not be parsed
	ExitParseError = 2

	// ExitConfigError indicates invalid options or a request that could not be prepared
	ExitConfigError = 3

	// ExitNetworkError indicates a transport error (connect, timeout, protocol)
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries the process exit code of a failed command. A nil err
// means the failure was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}
