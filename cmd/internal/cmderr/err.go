// Package cmderr wraps errors with the process exit code they should
// produce when the command exits.
package cmderr

// ExitError pairs an error with the process exit code its category
// assigns: 1 config error, 2 capture error, 3 fatal RPC init error.
type ExitError struct {
	Err  error
	Code int
}

func (e ExitError) Error() string { return e.Err.Error() }

// Cause supports github.com/pkg/errors' Causer interface.
func (e ExitError) Cause() error { return e.Err }

// Unwrap supports errors.Is/As.
func (e ExitError) Unwrap() error { return e.Err }

// Config wraps a configuration-loading failure: exit code 1.
func Config(err error) error {
	if err == nil {
		return nil
	}
	return ExitError{Err: err, Code: 1}
}

// Capture wraps a packet-source failure: exit code 2.
func Capture(err error) error {
	if err == nil {
		return nil
	}
	return ExitError{Err: err, Code: 2}
}

// RPCInit wraps a fatal RPC-initialization failure: exit code 3.
func RPCInit(err error) error {
	if err == nil {
		return nil
	}
	return ExitError{Err: err, Code: 3}
}
