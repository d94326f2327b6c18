package session

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/errors"
)

// maxNameLen keeps container names and socket paths within system limits.
const maxNameLen = 100

// Name is a normalized session name. It is safe to use as a tmux session
// name, a file name and part of a container name. The zero value is
// invalid; construct one with NewName.
type Name string

// NewName normalizes raw: slashes become dashes, characters other than
// ASCII letters, digits, '-' and '_' are dropped, letters are lowercased,
// and leading dashes are trimmed. An empty result is rejected.
//
// Normalization is lossy but consistent: NewName(NewName(x)) == NewName(x),
// so a name typed by an operator resolves to the session created from the
// same input at spawn time.
func NewName(raw string) (Name, error) {
	var sb strings.Builder
	for _, r := range raw {
		switch {
		case r == '/':
			sb.WriteByte('-')
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}

	name := strings.TrimLeft(sb.String(), "-")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	if name == "" {
		return "", errors.NewValidationError("session name is empty after normalization").
			WithField("name").WithValue(raw)
	}
	return Name(name), nil
}

// MustName is NewName for constants and tests. It panics on invalid input.
func MustName(raw string) Name {
	n, err := NewName(raw)
	if err != nil {
		panic(err)
	}
	return n
}

// NameForProject derives a stable name from a project directory: its base
// name plus the first 8 hex digits of the SHA-256 of its absolute path, so
// two checkouts with the same base name never collide.
func NameForProject(path string) (Name, error) {
	if path == "" {
		return "", errors.NewValidationError("project path is required").WithField("project")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve project path")
	}
	sum := sha256.Sum256([]byte(abs))
	return NewName(filepath.Base(abs) + "-" + hex.EncodeToString(sum[:4]))
}

// String returns the name as a string.
func (n Name) String() string { return string(n) }
