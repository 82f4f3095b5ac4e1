package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding and decoding functions
	"errors"
	"fmt"
	"strconv"
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// Token purposes.  The "typ" claim keeps an OAuth state token from being
// replayed as an access token.
const (
	purposeAccess = "access"
	purposeState  = "strava_state"
)

// ErrInvalidToken is returned for tokens that fail to parse, are expired,
// are signed with another key or carry the wrong purpose.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp.  Access tokens are short-lived and sent in the Authorization
// header when calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived token used to obtain new access tokens.
// The Raw field contains the raw token string returned to the client.  In the
// database only a SHA-256 hash of the raw string is stored.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT for a member.  Admin rights
// are not encoded in the token; they are looked up on each admin request.
func NewAccessToken(secret string, memberID uint64, email string, ttlMin int) (AccessToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":   strconv.FormatUint(memberID, 10),
		"email": email,
		"typ":   purposeAccess,
		"exp":   exp.Unix(),
		"iat":   time.Now().UTC().Unix(),
	}
	signed, err := sign(secret, claims)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw and returns the member id and email it
// was issued for.
func ParseAccessToken(secret, raw string) (uint64, string, error) {
	claims, err := parse(secret, raw, purposeAccess)
	if err != nil {
		return 0, "", err
	}
	id, err := subject(claims)
	if err != nil {
		return 0, "", err
	}
	email, _ := claims["email"].(string)
	return id, email, nil
}

// NewStateToken signs the OAuth state parameter for a member's Strava
// connection.  It expires after ttl.
func NewStateToken(secret string, memberID uint64, ttl time.Duration) (string, error) {
	nonce, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return sign(secret, jwt.MapClaims{
		"sub":   strconv.FormatUint(memberID, 10),
		"typ":   purposeState,
		"nonce": nonce,
		"exp":   time.Now().UTC().Add(ttl).Unix(),
	})
}

// ParseStateToken returns the member id carried by a state token.
func ParseStateToken(secret, raw string) (uint64, error) {
	claims, err := parse(secret, raw, purposeState)
	if err != nil {
		return 0, err
	}
	return subject(claims)
}

func sign(secret string, claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parse(secret, raw, purpose string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		// reject anything not signed with HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != purpose {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func subject(claims jwt.MapClaims) (uint64, error) {
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// NewRefreshToken returns a cryptographically secure random token (raw) and
// its expiration time.  The ttlDays parameter controls how many days the
// refresh token is valid.
func NewRefreshToken(ttlDays int) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw: raw,
		Exp: time.Now().UTC().Add(time.Duration(ttlDays) * 24 * time.Hour),
	}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string.  Only this hash is stored.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
