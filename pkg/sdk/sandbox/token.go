package sandbox

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the validated claims of a sandbox id token.
type IDTokenClaims struct {
	Issuer    string
	Audience  []string
	Subject   string
	Email     string
	Verifier  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JWTID     string
}

// idTokenClaims is the wire claims type used for signing and parsing.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Verifier string `json:"verifier"`
}

var (
	ErrTokenInvalid = errors.New("id token is invalid")
	ErrTokenExpired = errors.New("id token is expired")
)

func signIDToken(key ed25519.PrivateKey, claims idTokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return signed, nil
}

// VerifyIDToken checks the signature and audience of raw and returns its claims.
func VerifyIDToken(raw string, key ed25519.PublicKey, audience string, now time.Time) (IDTokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: empty", ErrTokenInvalid)
	}
	if len(key) != ed25519.PublicKeySize {
		return IDTokenClaims{}, errors.New("id token verifier is not configured")
	}

	var parsed idTokenClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return IDTokenClaims{}, mapJWTError(err)
	}

	if audience != "" && !audienceContains(parsed.Audience, audience) {
		return IDTokenClaims{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	if parsed.ExpiresAt == nil {
		return IDTokenClaims{}, fmt.Errorf("%w: exp is required", ErrTokenInvalid)
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now.UTC()) {
		return IDTokenClaims{}, ErrTokenExpired
	}

	claims := IDTokenClaims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		Subject:   parsed.Subject,
		Email:     parsed.Email,
		Verifier:  parsed.Verifier,
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return fmt.Errorf("%w: signature", ErrTokenInvalid)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return fmt.Errorf("%w: alg", ErrTokenInvalid)
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
