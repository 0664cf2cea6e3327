// Package modsec implements module integrity: deterministic directory
// hashing, detached RSA-PSS signatures, the trusted-signer registry and
// the admission policy that decides whether a module may run.
package modsec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SignatureFileName is the detached signature sibling inside a module
// directory. It is never part of the module's own digest.
const SignatureFileName = "module.sig"

// skippedDirs are cache artefacts excluded from hashing wherever they
// appear in the tree.
var skippedDirs = map[string]struct{}{
	"__pycache__": {},
	".git":        {},
}

// HashModuleDir computes the canonical digest of a module directory: all
// regular files (excluding *.sig and cache directories), sorted by
// slash-separated relative path, each streamed as `path NUL bytes NUL`
// into a single SHA-256. The result is the lowercase hex digest.
//
// The definition is byte-exact: two directories with identical contents
// hash identically regardless of enumeration order.
func HashModuleDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("hash module: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("hash module: %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".sig") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash module %s: %w", dir, err)
	}

	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("hash module %s: %w", dir, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash module %s: read %s: %w", dir, rel, err)
		}
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
