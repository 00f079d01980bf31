// Package token implements the two-pass JWT handling of §4.6: an unsigned
// pre-parse that extracts sessionId to select the verification key, and an
// authoritative HMAC-SHA256 verification against that session's secret.
//
// The unsigned pass must never influence a trust decision — it only locates
// the key. Validate is the sole authoritative check.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sessiongate/gateway/internal/apperr"
)

// unsignedClaims is the minimal shape read out of the unverified payload.
type unsignedClaims struct {
	SessionID string `json:"sessionId"`
	Partner   string `json:"partner,omitempty"`
}

// ExtractSessionId strips an optional "Bearer " prefix, splits the compact
// JWT form into its three parts, base64url-decodes the payload, and reads
// sessionId. Any malformed input is SessionInvalid. This does not verify
// the signature.
func ExtractSessionId(authHeader string) (sessionID string, err error) {
	claims, err := extractClaims(authHeader)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// ExtractPartnerClaim returns the partner claim embedded in the token, if
// any, without verifying the signature. Used only by the defensive
// partner-in-token check (§9); an empty return means the token carries no
// partner claim, in which case the caller must not treat that as a
// mismatch.
func ExtractPartnerClaim(authHeader string) (string, error) {
	claims, err := extractClaims(authHeader)
	if err != nil {
		return "", err
	}
	return claims.Partner, nil
}

func extractClaims(authHeader string) (*unsignedClaims, error) {
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, apperr.New(apperr.SessionInvalid, "malformed token: expected 3 parts")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperr.Wrap(apperr.SessionInvalid, "malformed token: bad base64url payload", err)
	}
	var claims unsignedClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, apperr.Wrap(apperr.SessionInvalid, "malformed token: bad json payload", err)
	}
	if claims.SessionID == "" {
		return nil, apperr.New(apperr.SessionInvalid, "malformed token: missing sessionId")
	}
	return &claims, nil
}

// Validate performs the authoritative HMAC-SHA256 signature check of
// authHeader using sessionSecret as the key. It returns false for any
// verification failure: bad signature, malformed structure, wrong
// algorithm, or expired claims. The secret must never be logged; Validate
// reports only a bool, so neither the secret nor the raw token leaves it
// inside an error.
func Validate(authHeader, sessionSecret string) bool {
	raw := strings.TrimPrefix(authHeader, "Bearer ")

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	_, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(sessionSecret), nil
	})
	return err == nil
}
