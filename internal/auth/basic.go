// Package auth provides basic-auth credential generation, hashing, and
// comparison used by the config resolver and the local listener.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultUser is the user name assigned to generated credentials.
const DefaultUser = "webhook"

// ErrInvalidBasicAuth is returned for a "user:pass" value that has an empty
// user or password.
var ErrInvalidBasicAuth = errors.New(`basic auth must be "user:pass"`)

// GenerateSecret returns a cryptographically random, URL-safe string built
// from n random bytes.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = 24
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParseBasicAuth splits a "user:pass" value. The password may contain
// colons; only the first one separates the fields.
func ParseBasicAuth(v string) (user, pass string, err error) {
	user, pass, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || strings.TrimSpace(user) == "" || pass == "" {
		return "", "", ErrInvalidBasicAuth
	}
	return strings.TrimSpace(user), pass, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verifier checks basic-auth credentials presented by the remote platform.
// The password is kept only as a bcrypt hash.
type Verifier struct {
	user string
	hash []byte
}

// NewVerifier hashes password and returns a verifier for user.
func NewVerifier(user, password string) (*Verifier, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Verifier{user: user, hash: []byte(hash)}, nil
}

// Verify reports whether user and password match.
func (v *Verifier) Verify(user, password string) bool {
	if v == nil {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(v.user)) == 1
	passOK := bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	return userOK && passOK
}
