package cipherscore

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Error is the error of one step of a submission or of a runtime request.
// It remembers the step and the frame where it was reported, and stays
// transparent for xerrors.Is and xerrors.As.
type Error struct {
	Step  string
	err   error
	frame xerrors.Frame
}

// StepError returns err tagged with step and the frame of the caller, or
// nil if err is nil.
func StepError(step string, err error) error {
	return stepErrorSkip(step, err, 2)
}

func stepErrorSkip(step string, err error, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{
		Step:  step,
		err:   err,
		frame: xerrors.Caller(skip),
	}
}

// StepOf returns the step of the first Error in the chain of err, or an
// empty string if there is none.
func StepOf(err error) string {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Step
	}
	return ""
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %v", e.Step, e.err)
	}
	return fmt.Sprintf("%v", e.err)
}

// Unwrap returns the next error in the chain.
func (e *Error) Unwrap() error {
	return e.err
}

// Format prints the error to the formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError prints the error to the printer. With "%+v" the frame of the
// step is printed, followed by the details of the wrapped error.
func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	if p.Detail() {
		e.frame.Format(p)
		p.Printf("%+v", e.err)
	}
	return nil
}
