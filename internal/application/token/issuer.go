// Package token mints approval action tokens and the short-lived tickets
// that protect the confirmation form.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
)

// DefaultSize is the number of random bytes in a token (64 hex characters)
const DefaultSize = 32

// Issuer generates unguessable action tokens
type Issuer struct {
	size   int
	source io.Reader
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithSize overrides the number of random bytes per token
func WithSize(n int) IssuerOption {
	return func(i *Issuer) {
		if n > 0 {
			i.size = n
		}
	}
}

// WithSource replaces the randomness source. Tests only.
func WithSource(r io.Reader) IssuerOption {
	return func(i *Issuer) {
		i.source = r
	}
}

// NewIssuer creates a token issuer backed by crypto/rand
func NewIssuer(opts ...IssuerOption) *Issuer {
	i := &Issuer{size: DefaultSize, source: rand.Reader}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns a new hex encoded token
func (i *Issuer) Issue() (string, error) {
	buf := make([]byte, i.size)
	if _, err := io.ReadFull(i.source, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var _ port.TokenIssuer = (*Issuer)(nil)
