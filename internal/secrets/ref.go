// Package secrets resolves credentials that should not live in the
// Subwarmfile itself.
//
// Supported references:
//
//	env:NAME            value of an environment variable
//	file:/path/secret   trimmed file content (docker/k8s secrets)
//	raw:literal         the literal, for tests and local dev
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretRef = errors.New("invalid secret reference")

var schemes = []string{"env:", "file:", "raw:"}

// IsRef reports whether v uses one of the reference schemes. Anything else
// is a literal value.
func IsRef(v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range schemes {
		if strings.HasPrefix(v, s) {
			return true
		}
	}
	return false
}

// ValidateRef checks the reference format without loading it.
func ValidateRef(ref string) error {
	scheme, rest, err := split(ref)
	if err != nil {
		return err
	}
	if rest == "" {
		return fmt.Errorf("%w: %s reference is empty", ErrSecretRef, strings.TrimSuffix(scheme, ":"))
	}
	return nil
}

// LoadRef loads the value behind ref.
func LoadRef(ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	scheme, rest, _ := split(ref)

	switch scheme {
	case "env:":
		val := os.Getenv(rest)
		if val == "" {
			return "", fmt.Errorf("%w: env var %q is empty or missing", ErrSecretRef, rest)
		}
		return val, nil
	case "file:":
		b, err := os.ReadFile(rest)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		val := strings.TrimSpace(string(b))
		if val == "" {
			return "", fmt.Errorf("%w: file %q is empty", ErrSecretRef, rest)
		}
		return val, nil
	default:
		return rest, nil
	}
}

// Resolve returns literals unchanged and loads references.
func Resolve(v string) (string, error) {
	if !IsRef(v) {
		return v, nil
	}
	return LoadRef(v)
}

func split(ref string) (scheme, rest string, err error) {
	ref = strings.TrimSpace(ref)
	for _, s := range schemes {
		if after, ok := strings.CutPrefix(ref, s); ok {
			if s != "raw:" {
				after = strings.TrimSpace(after)
			}
			return s, after, nil
		}
	}
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty", ErrSecretRef)
	}
	return "", "", fmt.Errorf("%w: unsupported scheme (use env:, file:, or raw:)", ErrSecretRef)
}
