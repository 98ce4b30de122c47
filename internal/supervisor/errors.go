package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is wrapped by every StartupError.
var ErrNotReady = errors.New("gateway did not become ready")

// StartupError reports that the child exited or stayed silent before
// announcing its listener. The child has been killed when it is returned.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("startup failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("startup failed: %s", e.Reason)
}

func (e *StartupError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotReady}
	}
	return []error{ErrNotReady, e.Err}
}

// ReadinessMismatchError reports a listener banner for a different
// protocol or port than the one requested.
type ReadinessMismatchError struct {
	WantProto string
	WantPort  string
	GotProto  string
	GotPort   string
	Line      string
}

func (e *ReadinessMismatchError) Error() string {
	return fmt.Sprintf("listener mismatch: want %s on port %s, got %s on port %s (%q)",
		e.WantProto, e.WantPort, e.GotProto, e.GotPort, e.Line)
}

// TimeoutError is returned when a blocking read on the child did not
// complete within its timeout.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no result within %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ShutdownTimeoutError reports a child that ignored the interrupt signal
// for the whole exit timeout and had to be killed.
type ShutdownTimeoutError struct {
	Pid     int
	Timeout time.Duration
	KillErr error
}

func (e *ShutdownTimeoutError) Error() string {
	msg := fmt.Sprintf("process %d did not exit within %s after interrupt, killed", e.Pid, e.Timeout)
	if e.KillErr != nil {
		msg += fmt.Sprintf(" (kill failed: %v)", e.KillErr)
	}
	return msg
}

func (e *ShutdownTimeoutError) Unwrap() error { return e.KillErr }

// UnexpectedExitError reports a child that terminated on its own with a
// failure status before Stop was requested.
type UnexpectedExitError struct {
	Pid int
	Err error
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("process %d exited before stop was requested: %v", e.Pid, e.Err)
}

func (e *UnexpectedExitError) Unwrap() error { return e.Err }
