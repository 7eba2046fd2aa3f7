package task

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a task attempt failed.
type FailureKind int

const (
	FailureUnspecified         FailureKind = iota // Generic non-timeout failure
	FailureTimedOut                               // Exceeded the configured deadline
	FailureRaisedException                        // Spawn, wait or marshalling error
	FailureFailedWithStderr                       // Process exited non-zero
	FailureCannotProcessOutput                    // Output function failed after a successful run
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnspecified:
		return "Unspecified"
	case FailureTimedOut:
		return "TimedOut"
	case FailureRaisedException:
		return "RaisedException"
	case FailureFailedWithStderr:
		return "FailedWithStderr"
	case FailureCannotProcessOutput:
		return "CannotProcessOutput"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Describer is anything that can render itself for a failure message.
type Describer interface {
	Format() string
}

// Failure describes how a task failed. Its message embeds the task's
// Format() text so it can be diagnosed without the task itself.
type Failure struct {
	kind       FailureKind
	message    string
	cause      error
	returnCode int
	hasCode    bool
}

func (f *Failure) Error() string { return f.message }

// Unwrap exposes the underlying cause, if any.
func (f *Failure) Unwrap() error { return f.cause }

// Kind returns the failure classification.
func (f *Failure) Kind() FailureKind { return f.kind }

// ReturnCode returns the process return code, if one was attached.
func (f *Failure) ReturnCode() (int, bool) { return f.returnCode, f.hasCode }

// WithReturnCode attaches a return code and returns the same failure.
func (f *Failure) WithReturnCode(code int) *Failure {
	f.returnCode = code
	f.hasCode = true
	return f
}

// FromTask reports that t failed or, with isTimeout, that it timed out.
func FromTask(t Describer, isTimeout bool) *Failure {
	if !isTimeout {
		return &Failure{
			kind:    FailureUnspecified,
			message: fmt.Sprintf("External task fails to run.\n%s", t.Format()),
		}
	}
	return &Failure{
		kind:    FailureTimedOut,
		message: fmt.Sprintf("External task times out.\n%s", t.Format()),
		cause:   context.DeadlineExceeded,
	}
}

// FromTaskAndError reports an error raised while running t.
func FromTaskAndError(t Describer, err error) *Failure {
	return &Failure{
		kind:    FailureRaisedException,
		message: fmt.Sprintf("External task fails to run.\n%s\nError ==> %v", t.Format(), err),
		cause:   err,
	}
}

// FromTaskAndStderr reports a non-zero exit of t along with its stderr.
func FromTaskAndStderr(t Describer, stderr string) *Failure {
	return &Failure{
		kind:    FailureFailedWithStderr,
		message: fmt.Sprintf("External task fails to run.\n%s\nError Message ==> %s", t.Format(), stderr),
	}
}

// CannotProcessOutput reports that the output function of t failed.
func CannotProcessOutput(t Describer, err error) *Failure {
	return &Failure{
		kind:    FailureCannotProcessOutput,
		message: fmt.Sprintf("Cannot process output of external task.\n%s\nError ==> %v", t.Format(), err),
		cause:   err,
	}
}

// KindOf extracts the failure kind from err. ok is false when err does not
// wrap a *Failure.
func KindOf(err error) (kind FailureKind, ok bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.kind, true
	}
	return FailureUnspecified, false
}
