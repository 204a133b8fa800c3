package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Ticket errors
var (
	ErrTicketMalformed = errors.New("form ticket is malformed")
	ErrTicketExpired   = errors.New("form ticket has expired")
	ErrTicketInvalid   = errors.New("form ticket signature mismatch")
)

// DefaultTicketTTL is how long a confirmation page stays submittable
const DefaultTicketTTL = 5 * time.Minute

// TicketSigner binds a confirmation form to the token it was rendered for.
// A ticket has the form "<unix-expiry>.<hex hmac>".
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketSigner returns nil when secret is empty, which disables tickets
func NewTicketSigner(secret string, ttl time.Duration) *TicketSigner {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether tickets are required
func (s *TicketSigner) Enabled() bool {
	return s != nil
}

// Sign returns a ticket for token valid for the signer's TTL
func (s *TicketSigner) Sign(token string) string {
	if s == nil {
		return ""
	}
	exp := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	return exp + "." + s.mac(token, exp)
}

// Verify checks a ticket produced by Sign for the same token
func (s *TicketSigner) Verify(token, ticket string) error {
	if s == nil {
		return nil
	}

	exp, sig, ok := strings.Cut(ticket, ".")
	if !ok || exp == "" || sig == "" {
		return ErrTicketMalformed
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrTicketMalformed
	}

	if !hmac.Equal([]byte(sig), []byte(s.mac(token, exp))) {
		return ErrTicketInvalid
	}
	if s.now().After(time.Unix(unix, 0)) {
		return ErrTicketExpired
	}
	return nil
}

func (s *TicketSigner) mac(token, exp string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(token))
	h.Write([]byte{'|'})
	h.Write([]byte(exp))
	return hex.EncodeToString(h.Sum(nil))
}
