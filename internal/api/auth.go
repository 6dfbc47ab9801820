package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32

	// tokenIssuer is the iss claim on every token this service signs.
	tokenIssuer = "irrigationd"
)

// ErrInvalidToken is returned by ParseToken for any token that does not verify.
var ErrInvalidToken = errors.New("api: invalid token")

// IssueToken signs an HS256 access token for subject, valid for ttl.
//
// Parameters:
//   - secret: HMAC key from security.jwt.secret; empty is an error
//   - subject: Caller identity recorded in audit entries (e.g. "dashboard")
//   - ttl: Lifetime of the token
//
// Returns:
//   - string: Compact JWS suitable for an Authorization: Bearer header
//   - error: If no secret is configured or signing fails
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("api: jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and returns its subject. Tokens
// without an expiry are rejected.
//
// Parameters:
//   - secret: HMAC key the token was signed with
//   - raw: Compact token, without the "Bearer " prefix
//
// Returns:
//   - string: The sub claim
//   - error: ErrInvalidToken wrapping the verification failure
func ParseToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// subjectFrom returns the authenticated subject, or "anonymous" when
// authentication is off.
func subjectFrom(ctx context.Context) string {
	if sub, ok := ctx.Value(ctxKeySubject).(string); ok && sub != "" {
		return sub
	}
	return "anonymous"
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]time.Time
	mu      sync.Mutex
	now     func() time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]time.Time),
		now:     time.Now,
	}
}

// issue creates and records a new ticket.
func (ts *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = ts.now().Add(ticketTTL)
	ts.mu.Unlock()
	return ticket
}

// redeem checks a ticket and consumes it.
func (ts *ticketStore) redeem(ticket string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	expiresAt, ok := ts.tickets[ticket]
	if !ok {
		return false
	}
	delete(ts.tickets, ticket)
	return ts.now().Before(expiresAt)
}

// cleanExpired removes expired tickets.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for ticket, expiresAt := range ts.tickets {
		if now.After(expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// cleanLoop runs cleanExpired periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.cleanExpired()
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}
