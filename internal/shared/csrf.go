package shared

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
)

const (
	// CSRFSessionKey is the key used to persist tokens in the session store.
	CSRFSessionKey = "csrf_token"
	// CSRFHeader carries the token on login responses and on guarded requests.
	CSRFHeader = "X-Csrf-Token"
	// DefaultCSRFTokenLength is the token length used when none is configured.
	DefaultCSRFTokenLength = 128
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateToken returns length characters drawn uniformly from [a-zA-Z0-9].
func GenerateToken(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("%w: token length %d", ErrInvalidArgument, length)
	}
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("csrf: random source: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CSRFManager issues and verifies CSRF tokens bound to a session.
type CSRFManager struct {
	length int
}

// NewCSRFManager returns a CSRFManager producing tokens of the given length.
// A non-positive length selects DefaultCSRFTokenLength.
func NewCSRFManager(length int) *CSRFManager {
	if length < 1 {
		length = DefaultCSRFTokenLength
	}
	return &CSRFManager{length: length}
}

// TokenLength reports the configured token length.
func (m *CSRFManager) TokenLength() int {
	return m.length
}

// Issue generates a new token, stores it in the session and mirrors it on the
// response header. Any previous token of the session is replaced.
func (m *CSRFManager) Issue(sess Attributes, w http.ResponseWriter) (string, error) {
	if sess == nil || w == nil {
		return "", fmt.Errorf("%w: session and response required", ErrInvalidArgument)
	}
	token, err := GenerateToken(m.length)
	if err != nil {
		return "", err
	}
	sess.Set(CSRFSessionKey, token)
	w.Header().Set(CSRFHeader, token)
	return token, nil
}

// Token returns the token stored in the session, or "" when none was issued.
func (m *CSRFManager) Token(sess Attributes) string {
	if sess == nil {
		return ""
	}
	return sess.Get(CSRFSessionKey)
}

// Revoke removes the session token.
func (m *CSRFManager) Revoke(sess Attributes) {
	if sess != nil {
		sess.Delete(CSRFSessionKey)
	}
}

// Verify compares the request header with the session token.
func (m *CSRFManager) Verify(r *http.Request, sess Attributes) error {
	expected := m.Token(sess)
	if expected == "" {
		return ErrCSRFTokenMissing
	}
	token := ""
	if r != nil {
		token = r.Header.Get(CSRFHeader)
	}
	if token == "" {
		return ErrCSRFTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// Validate reports whether the request carries the session token.
func (m *CSRFManager) Validate(r *http.Request, sess Attributes) bool {
	return m.Verify(r, sess) == nil
}
