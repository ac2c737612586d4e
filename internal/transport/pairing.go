package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const pairingIssuer = "cbnote-host"

// PairingClaims identifies a paired companion.
type PairingClaims struct {
	Companion string `json:"companion"`
	jwt.RegisteredClaims
}

// Pairing issues and validates the tokens a companion presents when it
// opens the link.
type Pairing struct {
	secret []byte
}

// NewPairing creates a Pairing keyed by secret.
func NewPairing(secret string) *Pairing {
	return &Pairing{secret: []byte(secret)}
}

// IssueToken signs a token for companion. A zero ttl issues a token that
// does not expire.
func (p *Pairing) IssueToken(companion string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PairingClaims{
		Companion: companion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   pairingIssuer,
			Subject:  companion,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign pairing token: %w", err)
	}
	return signed, nil
}

// Validate checks a token's signature, issuer and expiry.
func (p *Pairing) Validate(tokenStr string) (*PairingClaims, error) {
	claims := &PairingClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(pairingIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
