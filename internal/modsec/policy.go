package modsec

import (
	"fmt"
	"sync"
)

// SecurityMode selects how strictly the admission policy treats
// less-than-fully-verified modules.
type SecurityMode string

const (
	ModeParanoid   SecurityMode = "paranoid"
	ModeDefault    SecurityMode = "default"
	ModePermissive SecurityMode = "permissive"
)

// ParseSecurityMode validates a mode string, defaulting to ModeDefault
// for the empty string.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch SecurityMode(s) {
	case "":
		return ModeDefault, nil
	case ModeParanoid, ModeDefault, ModePermissive:
		return SecurityMode(s), nil
	}
	return "", fmt.Errorf("invalid security mode %q (want paranoid, default or permissive)", s)
}

// PromptResult is a user's answer to an admission prompt.
type PromptResult int

const (
	Deny PromptResult = iota
	AllowOnce
	AllowAlways
)

// Prompter asks the operator whether a module that failed verification
// may run anyway. Injected so the policy is testable without a terminal.
type Prompter func(moduleName, reason string) PromptResult

// Decision is the admission outcome for one module.
type Decision struct {
	Admit bool
	// Warn is set whenever a module without a trusted signature is admitted:
	// in permissive mode, through a prompt answer or a remembered
	// AllowAlways, or through AllowUnverified.
	Warn bool
	// Reason explains a rejection or a warning.
	Reason string
}

// Policy evaluates the (verdict, mode) admission matrix. AllowAlways
// answers are remembered for the lifetime of the policy, which the engine
// scopes to one run.
type Policy struct {
	Mode            SecurityMode
	AllowUnverified bool
	Prompter        Prompter

	mu     sync.Mutex
	always map[string]bool
}

// NewPolicy builds an admission policy. A nil prompter denies every
// prompt unless AllowUnverified is set.
func NewPolicy(mode SecurityMode, allowUnverified bool, prompter Prompter) *Policy {
	return &Policy{
		Mode:            mode,
		AllowUnverified: allowUnverified,
		Prompter:        prompter,
		always:          make(map[string]bool),
	}
}

// Admit applies the admission matrix to one module's verdict.
func (p *Policy) Admit(moduleName string, v Verdict) Decision {
	switch v.Kind {
	case VerifiedByTrusted:
		return Decision{Admit: true}

	case SignedUntrusted, Unsigned:
		reason := "module is unsigned"
		if v.Kind == SignedUntrusted {
			reason = "module is signed by an untrusted signer"
		}
		switch p.Mode {
		case ModeParanoid:
			return Decision{Reason: reason}
		case ModePermissive:
			return Decision{Admit: true, Warn: true, Reason: reason}
		default:
			return p.prompt(moduleName, reason)
		}

	default: // Invalid
		reason := "module signature is invalid"
		if p.Mode == ModePermissive {
			return Decision{Admit: true, Warn: true, Reason: reason}
		}
		return Decision{Reason: reason}
	}
}

func (p *Policy) prompt(moduleName, reason string) Decision {
	p.mu.Lock()
	remembered, ok := p.always[moduleName]
	p.mu.Unlock()
	if ok {
		return Decision{Admit: remembered, Warn: remembered, Reason: reason}
	}

	if p.AllowUnverified {
		return Decision{Admit: true, Warn: true, Reason: reason}
	}
	if p.Prompter == nil {
		return Decision{Reason: reason + " (no prompter available)"}
	}

	switch p.Prompter(moduleName, reason) {
	case AllowOnce:
		return Decision{Admit: true, Warn: true, Reason: reason}
	case AllowAlways:
		p.mu.Lock()
		p.always[moduleName] = true
		p.mu.Unlock()
		return Decision{Admit: true, Warn: true, Reason: reason}
	default:
		return Decision{Reason: reason}
	}
}
