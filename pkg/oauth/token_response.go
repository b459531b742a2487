package oauth

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshLifetime is assumed for refresh tokens when neither the token
// response nor the refresh token itself carries an expiry.
const DefaultRefreshLifetime = 7 * 24 * time.Hour

// Field aliases accepted in token endpoint responses, in lookup order.
var (
	subjectFields       = []string{"subject", "username"}
	accessTokenFields   = []string{"accessToken", "access_token", "token"}
	refreshTokenFields  = []string{"refreshToken", "refresh_token"}
	accessInstantFields = []string{"accessExpiry", "expiresAt", "expires"}
	accessLifeFields    = []string{"expiresIn", "expires_in"}
	refreshInstFields   = []string{"refreshExpiry", "refreshTokenExpiresAt", "refreshTokenExpiration"}
	refreshLifeFields   = []string{"refreshTokenExpiresIn", "refresh_expires_in"}
)

// DecodeTokenResponse converts a token endpoint response body into a
// Credential. Relative lifetimes are converted to absolute instants using
// receivedAt, the time the response arrived.
//
// Missing fields fall back, in order, to the alternative spellings above, to
// the claims of the tokens themselves (sub, exp) and, for the refresh expiry
// only, to defaultRefreshLifetime. A non-positive defaultRefreshLifetime
// selects DefaultRefreshLifetime.
func DecodeTokenResponse(body []byte, receivedAt time.Time, defaultRefreshLifetime time.Duration) (*Credential, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &BackendError{Message: "failed to parse token response", Err: err}
	}

	if defaultRefreshLifetime <= 0 {
		defaultRefreshLifetime = DefaultRefreshLifetime
	}

	cred := &Credential{
		Subject:      firstString(fields, subjectFields),
		AccessToken:  firstString(fields, accessTokenFields),
		RefreshToken: firstString(fields, refreshTokenFields),
	}
	if cred.AccessToken == "" {
		return nil, &BackendError{Message: "token response has no access token"}
	}

	accessClaims := unverifiedClaims(cred.AccessToken)
	if cred.Subject == "" && accessClaims != nil {
		if sub, err := accessClaims.GetSubject(); err == nil {
			cred.Subject = sub
		}
	}

	expiry, ok := resolveExpiry(fields, accessInstantFields, accessLifeFields, receivedAt)
	if !ok {
		expiry, ok = claimExpiry(accessClaims)
	}
	if !ok {
		return nil, &BackendError{Message: "token response has no access token expiry"}
	}
	cred.AccessExpiry = expiry

	expiry, ok = resolveExpiry(fields, refreshInstFields, refreshLifeFields, receivedAt)
	if !ok {
		expiry, ok = claimExpiry(unverifiedClaims(cred.RefreshToken))
	}
	if !ok {
		expiry = receivedAt.Add(defaultRefreshLifetime)
	}
	cred.RefreshExpiry = expiry

	return cred, nil
}

func firstString(fields map[string]json.RawMessage, names []string) string {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func resolveExpiry(fields map[string]json.RawMessage, instants, lifetimes []string, receivedAt time.Time) (time.Time, bool) {
	for _, name := range instants {
		if raw, ok := fields[name]; ok {
			if t, ok := parseInstant(raw); ok {
				return t, true
			}
		}
	}
	for _, name := range lifetimes {
		if raw, ok := fields[name]; ok {
			if d, ok := parseLifetime(raw); ok {
				return receivedAt.Add(d), true
			}
		}
	}
	return time.Time{}, false
}

// parseInstant accepts an RFC 3339 string or epoch milliseconds.
func parseInstant(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 && !math.IsInf(n, 0) {
		return time.UnixMilli(int64(n)), true
	}
	return time.Time{}, false
}

// parseLifetime accepts a number of seconds, as a JSON number or string.
func parseLifetime(raw json.RawMessage) (time.Duration, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if n, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

// unverifiedClaims reads the claims of a JWT without verifying its signature.
// Non-JWT tokens yield nil.
func unverifiedClaims(token string) jwt.MapClaims {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func claimExpiry(claims jwt.MapClaims) (time.Time, bool) {
	if claims == nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// EncodeRefreshRequest builds the JSON body sent to the refresh endpoint.
func EncodeRefreshRequest(subject, refreshToken string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"subject":      subject,
		"refreshToken": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}
	return body, nil
}
