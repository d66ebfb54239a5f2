package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
)

// streamGrantEnv holds raw env values before post-parse validation.
type streamGrantEnv struct {
	Issuer    string `env:"COURIER_SPACE_STREAM_GRANT_ISSUER"`
	Audience  string `env:"COURIER_SPACE_STREAM_GRANT_AUDIENCE"`
	PublicKey string `env:"COURIER_SPACE_STREAM_GRANT_PUBLIC_KEY"`
}

// streamGrantVerifier validates short-lived stream tokens minted by the
// identity provider. A nil verifier disables grant checks and falls back to
// the user_id query parameter.
type streamGrantVerifier struct {
	issuer   string
	audience string
	key      ed25519.PublicKey
	now      func() time.Time
}

type streamGrantClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// loadStreamGrantVerifier reads grant verification config from the
// environment. An unset public key disables verification.
func loadStreamGrantVerifier() (*streamGrantVerifier, error) {
	var raw streamGrantEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse stream grant env: %w", err)
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return nil, nil
	}

	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return nil, fmt.Errorf("COURIER_SPACE_STREAM_GRANT_ISSUER is required")
	}
	if audience == "" {
		return nil, fmt.Errorf("COURIER_SPACE_STREAM_GRANT_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return nil, fmt.Errorf("decode stream grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("stream grant public key must be %d bytes", ed25519.PublicKeySize)
	}

	return &streamGrantVerifier{
		issuer:   issuer,
		audience: audience,
		key:      ed25519.PublicKey(keyBytes),
		now:      time.Now,
	}, nil
}

// Verify checks the grant signature and claims and returns the user id.
func (v *streamGrantVerifier) Verify(grant string) (string, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant is required")
	}

	var parsed streamGrantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(_ *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnauthenticated, "stream grant is invalid", err)
	}

	if parsed.Issuer != v.issuer {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant issuer mismatch")
	}
	if !audienceContains(parsed.Audience, v.audience) {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant audience mismatch")
	}
	if parsed.ExpiresAt == nil {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant exp is required")
	}
	if !parsed.ExpiresAt.Time.UTC().After(v.now().UTC()) {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant is expired")
	}

	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "stream grant user id is required")
	}
	return userID, nil
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, entry := range audience {
		if entry == expected {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
