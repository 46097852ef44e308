package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for ledgerctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and was rejected
	ExitCommandError = 2 // the store could not be opened or the input could not be read
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that carry no code.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// writeResult prints data as a JSON envelope or as the given text lines.
func writeResult(w io.Writer, format string, data any, lines []string) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(response{Status: "ok", Data: data})
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
