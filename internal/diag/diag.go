// Package diag implements the three-tier error model: fatal, recoverable,
// and silently-propagated SFINAE failures.
package diag

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Severity classifies a diagnostic per the error-tier model.
type Severity int

const (
	Warning Severity = iota
	Recoverable
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Recoverable:
		return "error"
	case Fatal:
		return "error"
	default:
		return "unknown"
	}
}

// Pos is a 1-based source location.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Error is one diagnostic: a location, a severity, and a message.
type Error struct {
	Pos      Pos
	Severity Severity
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Severity, e.Message)
}

// New builds a fatal diagnostic.
func New(pos Pos, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Severity: Fatal, Message: fmt.Sprintf(format, args...)}
}

// Recoverablef builds a recoverable diagnostic.
func Recoverablef(pos Pos, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Severity: Recoverable, Message: fmt.Sprintf(format, args...)}
}

// Warningf builds a warning diagnostic.
func Warningf(pos Pos, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Severity: Warning, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a stack-bearing context to an internal invariant violation.
// Used only for bugs in the front-end (assertion failures, codegen lookups
// that must always succeed); never for user-facing diagnostics.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// Sink accumulates recoverable diagnostics and warnings across a TU so that
// parsing can continue past a malformed declaration, per spec tier 2. Fatal
// errors are returned directly by the producing call and never placed here.
type Sink struct {
	errors   []*Error
	warnings []*Error
}

func (s *Sink) Report(e *Error) {
	switch e.Severity {
	case Warning:
		s.warnings = append(s.warnings, e)
	default:
		s.errors = append(s.errors, e)
	}
}

func (s *Sink) HasErrors() bool { return len(s.errors) > 0 }

func (s *Sink) Errors() []*Error   { return s.errors }
func (s *Sink) Warnings() []*Error { return s.warnings }

// ExitCode mirrors the CLI contract in spec §6: 0 only if no errors were
// accumulated and no fatal error aborted the TU.
func (s *Sink) ExitCode() int {
	if s.HasErrors() {
		return 1
	}
	return 0
}

// Print writes all accumulated diagnostics to w in `file:line:col: error|warning:
// message` form.
func (s *Sink) Print(w io.Writer) {
	for _, e := range s.errors {
		fmt.Fprintln(w, e.Error())
	}
	for _, e := range s.warnings {
		fmt.Fprintln(w, e.Error())
	}
}

// Result is the explicit result type spec §9 calls for: a value on success,
// or an *Error describing the failure; IsOk reports which. No parse,
// instantiation or constexpr-evaluation path returns it.
type Result[T any] struct {
	Value T
	Err   *Error
	ok    bool
}

func Ok[T any](v T) Result[T] { return Result[T]{Value: v, ok: true} }

func Err[T any](e *Error) Result[T] { return Result[T]{Err: e} }

func (r Result[T]) IsOk() bool { return r.ok }

// InstantiationFailure is returned by template substitution paths that
// participate in SFINAE (spec §4.3/§7 tier 3): the failure is never
// user-visible unless the candidate it prunes was required.
type InstantiationFailure struct {
	Reason string
}

func (f *InstantiationFailure) Error() string {
	return fmt.Sprintf("instantiation failed: %s", f.Reason)
}
