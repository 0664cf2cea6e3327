// Package fault defines the error kinds the runtime distinguishes, each
// with a stable code suitable for test assertions and exit-code mapping.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Severity orders error kinds for the engine's overall exit status. Higher
// is worse.
type Severity int

const (
	SeverityNone     Severity = iota
	SeverityPipeline          // exit code 1
	SeveritySecurity          // exit code 2
	SeverityConfig            // exit code 3
)

// ExitCode maps a severity to the process exit code contract.
func (s Severity) ExitCode() int {
	switch s {
	case SeverityPipeline:
		return 1
	case SeveritySecurity:
		return 2
	case SeverityConfig:
		return 3
	}
	return 0
}

// Error is the common shape of every classified runtime error.
type Error struct {
	Code     string
	Severity Severity
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two faults by code, so errors.Is(err, &Error{Code: "cycle"})
// style sentinels work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the stable code of err, or "" if err carries no fault.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// SeverityOf returns the fault's own severity, SeverityPipeline for any
// other non-nil error, and SeverityNone for nil.
func SeverityOf(err error) Severity {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity
	}
	if err != nil {
		return SeverityPipeline
	}
	return SeverityNone
}

// Worst returns the higher-severity of a and b.
func Worst(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// Configuration-time errors. Fatal for the affected pipeline, surfaced
// before any module runs.

func BadManifest(path string, cause error) *Error {
	return &Error{Code: "bad_manifest", Severity: SeverityConfig, Msg: fmt.Sprintf("manifest %s is invalid", path), Cause: cause}
}

func BadPipeline(name, detail string) *Error {
	return &Error{Code: "bad_pipeline", Severity: SeverityConfig, Msg: fmt.Sprintf("pipeline %s: %s", name, detail)}
}

// Cycle reports a dependency cycle among the named slots.
func Cycle(nodes []string) *Error {
	return &Error{Code: "cycle", Severity: SeverityConfig, Msg: fmt.Sprintf("dependency cycle among slots [%s]", strings.Join(nodes, ", "))}
}

// CycleNodes recovers the offending slot list from a cycle error.
func CycleNodes(err error) []string {
	var e *Error
	if !errors.As(err, &e) || e.Code != "cycle" {
		return nil
	}
	start := strings.Index(e.Msg, "[")
	end := strings.LastIndex(e.Msg, "]")
	if start < 0 || end < start {
		return nil
	}
	return strings.Split(e.Msg[start+1:end], ", ")
}

func UnknownModule(slot, name string) *Error {
	return &Error{Code: "unknown_module", Severity: SeverityConfig, Msg: fmt.Sprintf("slot %s references unknown module %q", slot, name)}
}

func UnknownOutput(slot, srcSlot, output string) *Error {
	return &Error{Code: "unknown_output", Severity: SeverityConfig, Msg: fmt.Sprintf("slot %s wires input to %s.%s, which is not a declared output", slot, srcSlot, output)}
}

func TypeIncompatible(slot, input, src, dst string) *Error {
	return &Error{Code: "type_incompatible", Severity: SeverityConfig, Msg: fmt.Sprintf("slot %s input %s: output type %s is not compatible with %s", slot, input, src, dst)}
}

// SecurityRejected marks a slot excluded by the admission policy.
func SecurityRejected(slot, verdict, signer string) *Error {
	msg := fmt.Sprintf("slot %s rejected by security policy (verdict %s", slot, verdict)
	if signer != "" {
		msg += ", signer " + signer
	}
	msg += ")"
	return &Error{Code: "security_rejected", Severity: SeveritySecurity, Msg: msg}
}

// TranslationFailure is a per-delivery error; it never propagates past the
// subscriber boundary.
func TranslationFailure(src, dst, reason string) *Error {
	return &Error{Code: "translation_failure", Severity: SeverityPipeline, Msg: fmt.Sprintf("cannot translate %s to %s: %s", src, dst, reason)}
}

// ModuleFault classifies an error escaping a module lifecycle hook.
func ModuleFault(slot, phase string, cause error) *Error {
	return &Error{Code: "module_fault", Severity: SeverityPipeline, Msg: fmt.Sprintf("slot %s failed during %s", slot, phase), Cause: cause}
}

func MailboxOverflow(slot, input, policy string) *Error {
	return &Error{Code: "mailbox_overflow", Severity: SeverityPipeline, Msg: fmt.Sprintf("slot %s input %s overflowed mailbox under policy %s", slot, input, policy)}
}

func ShutdownTimeout(slot string) *Error {
	return &Error{Code: "shutdown_timeout", Severity: SeverityPipeline, Msg: fmt.Sprintf("slot %s exceeded shutdown grace period", slot)}
}
