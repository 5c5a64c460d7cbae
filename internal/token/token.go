// Package token parses and verifies the QR credential presented at the
// gate. The credential is a compact JWT signed with HMAC-SHA-256; the claim
// set carries the ticket, event and organization identifiers plus a
// single-use nonce and an expiry.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification outcomes. Callers dispatch on these two variants; the
// underlying parse error is never surfaced to clients.
var (
	ErrInvalid = errors.New("token: invalid")
	ErrExpired = errors.New("token: expired")
)

// Claims is the verified claim set. All five fields are required; a token
// missing any of them does not verify.
type Claims struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	OrgID    string `json:"org_id"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Verifier checks credentials against the process-wide signing secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a credential. It returns ErrExpired when the
// token is past (or missing) its expiry, and ErrInvalid for every other
// failure: malformed envelope, wrong algorithm, bad signature, or a missing
// required claim.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrInvalid
		case errors.Is(err, jwt.ErrTokenExpired),
			errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, ErrExpired
		default:
			return nil, ErrInvalid
		}
	}

	if claims.TicketID == "" || claims.EventID == "" || claims.OrgID == "" || claims.Nonce == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Mint signs a fresh credential for the given ticket. Each mint embeds a
// new random nonce, so two tokens for the same ticket are never replays of
// each other at the nonce guard.
func Mint(secret []byte, ticketID, eventID, orgID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		TicketID: ticketID,
		EventID:  eventID,
		OrgID:    orgID,
		Nonce:    uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl).Truncate(time.Second)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
