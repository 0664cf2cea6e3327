package modsec

import (
	"os"
	"path/filepath"
)

// VerdictKind classifies the outcome of verifying one module.
type VerdictKind string

const (
	// VerifiedByTrusted means the signature checks out against a signer
	// in the trusted registry.
	VerifiedByTrusted VerdictKind = "verified"
	// SignedUntrusted means a well-formed signature is present but no
	// trusted signer produced it.
	SignedUntrusted VerdictKind = "signed_untrusted"
	// Unsigned means the module carries no signature file.
	Unsigned VerdictKind = "unsigned"
	// Invalid means the signature file exists but is unusable.
	Invalid VerdictKind = "invalid"
)

// Verdict is the result of verifying one module directory.
type Verdict struct {
	Kind   VerdictKind
	Signer string // set when Kind is VerifiedByTrusted
	Digest string // canonical digest, lowercase hex
}

// minSignatureLen is the smallest raw RSA signature we consider
// syntactically plausible (a 1024-bit modulus). Raw PSS signatures carry
// no internal structure, so length is the only syntactic check available.
const minSignatureLen = 128

// Verify computes the module's canonical digest and checks the detached
// module.sig against every trusted signer.
func Verify(moduleDir string, signers *TrustedSigners) (Verdict, error) {
	digest, err := HashModuleDir(moduleDir)
	if err != nil {
		return Verdict{Kind: Invalid}, err
	}
	v := Verdict{Digest: digest}

	sigPath := filepath.Join(moduleDir, SignatureFileName)
	signature, err := os.ReadFile(sigPath)
	if err != nil {
		if os.IsNotExist(err) {
			v.Kind = Unsigned
			return v, nil
		}
		return v, err
	}

	for _, id := range signers.IDs() {
		key, ok := signers.Key(id)
		if !ok {
			continue
		}
		if VerifyWith(key, digest, signature) == nil {
			v.Kind = VerifiedByTrusted
			v.Signer = id
			return v, nil
		}
	}

	if len(signature) >= minSignatureLen {
		v.Kind = SignedUntrusted
	} else {
		v.Kind = Invalid
	}
	return v, nil
}
