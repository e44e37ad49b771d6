package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the sandbox lifecycle the error occurred
type Phase string

const (
	PhaseRegion      Phase = "region"      // region acquire/release
	PhaseLoad        Phase = "load"        // module loading
	PhaseInstantiate Phase = "instantiate" // binding a module to a region
	PhaseRun         Phase = "run"         // entering guest code
	PhaseResume      Phase = "resume"      // re-entering after a host call
	PhaseReset       Phase = "reset"       // restoring the initial image
	PhaseSchedule    Phase = "schedule"    // batch execution
	PhaseHost        Phase = "host"        // host-call table and dispatch
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseParse       Phase = "parse"       // wasm/WIT parsing
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfMemory   Kind = "out_of_memory"
	KindInvalidResume Kind = "invalid_resume"
	KindInvalidState  Kind = "invalid_state"
	KindHostCall      Kind = "host_call"
	KindNotOwned      Kind = "not_owned"
	KindClosed        Kind = "closed"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidData   Kind = "invalid_data"
	KindUnsupported   Kind = "unsupported"
	KindInstantiation Kind = "instantiation"
	KindRegistration  Kind = "registration"
	KindMissingImport Kind = "missing_import"
)

// Sentinels for errors.Is checks. ErrInvalidState and ErrClosed carry no
// phase and match any error of their kind.
var (
	ErrOutOfMemory   = &Error{Phase: PhaseRegion, Kind: KindOutOfMemory}
	ErrNotOwned      = &Error{Phase: PhaseRegion, Kind: KindNotOwned}
	ErrInvalidResume = &Error{Phase: PhaseResume, Kind: KindInvalidResume}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrClosed        = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the sandbox
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// IsKind reports whether err carries an *Error of the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the component path (e.g. instance id, call name)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfMemory reports a region acquisition the host could not satisfy.
func OutOfMemory(size uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseRegion,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("cannot map isolated region of %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// NotOwned reports a release of a region that is not currently claimed.
func NotOwned(generation uint64) *Error {
	return &Error{
		Phase:  PhaseRegion,
		Kind:   KindNotOwned,
		Detail: fmt.Sprintf("region generation %d is not claimed", generation),
		Value:  generation,
	}
}

// InvalidResume reports a resume outside the yielded state.
func InvalidResume(state string) *Error {
	return &Error{
		Phase:  PhaseResume,
		Kind:   KindInvalidResume,
		Detail: fmt.Sprintf("resume requires a pending host call, instance is %s", state),
		Value:  state,
	}
}

// InvalidState reports an operation the instance state machine forbids.
func InvalidState(phase Phase, op, state string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("cannot %s while %s", op, state),
		Value:  state,
	}
}

// HostCall wraps a failure raised by a host-call handler.
func HostCall(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHostCall,
		Path:   []string{name},
		Detail: "host call failed",
		Cause:  cause,
	}
}

// Closed reports use of a closed resource.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "sandbox"
	Function  string // e.g., "echo"
}

// MissingImportsError is returned when a module imports functions the host-call table does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[load] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
