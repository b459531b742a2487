package oauth

import (
	"net/http"
	"strings"
)

// Challenge error codes carried in the error parameter of a Bearer
// WWW-Authenticate header.
const (
	// ErrorCodeInvalidToken means the access token was rejected and a
	// refresh may recover.
	ErrorCodeInvalidToken = "invalid_token"

	// ErrorCodeExpiredRefreshToken means the refresh token is dead and the
	// user must log in again.
	ErrorCodeExpiredRefreshToken = "expired_refresh_token"
)

const bearerScheme = "bearer"

// AuthChallenge is the parsed form of a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme as sent by the server.
	Scheme string

	// Raw is the header value the challenge was parsed from.
	Raw string

	// Realm is the protection space, if present.
	Realm string

	// Scope is the required scope, if present.
	Scope string

	// Error is the error code, e.g. "invalid_token".
	Error string

	// ErrorDescription is a human-readable explanation of the error.
	ErrorDescription string
}

// IsRefreshTokenExpired reports whether the challenge signals that the
// refresh token has expired.
func (c *AuthChallenge) IsRefreshTokenExpired() bool {
	return c != nil && c.Error == ErrorCodeExpiredRefreshToken
}

// IsInvalidToken reports whether the challenge signals a rejected access token.
func (c *AuthChallenge) IsInvalidToken() bool {
	return c != nil && c.Error == ErrorCodeInvalidToken
}

// ParseChallenge parses a WWW-Authenticate header value.
//
// Example headers:
//
//	Bearer
//	Bearer error="invalid_token", error_description="The access token expired"
//	Bearer realm="api", error="expired_refresh_token"
//
// An empty header means no challenge was sent and yields (nil, nil). A
// header whose scheme is not Bearer yields an *UnsupportedSchemeError.
// Unknown parameters and malformed segments are ignored.
func ParseChallenge(header string) (*AuthChallenge, error) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return nil, nil
	}

	scheme, params, _ := strings.Cut(trimmed, " ")
	if !strings.EqualFold(scheme, bearerScheme) {
		// "Bearer,error=..." has no space after the scheme.
		if len(trimmed) > len(bearerScheme) && strings.EqualFold(trimmed[:len(bearerScheme)], bearerScheme) &&
			trimmed[len(bearerScheme)] == ',' {
			scheme, params = trimmed[:len(bearerScheme)], trimmed[len(bearerScheme)+1:]
		} else {
			return nil, &UnsupportedSchemeError{Scheme: scheme, Header: header}
		}
	}

	challenge := &AuthChallenge{
		Scheme: scheme,
		Raw:    header,
	}

	for key, value := range parseAuthParams(params) {
		switch key {
		case "realm":
			challenge.Realm = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		}
	}

	return challenge, nil
}

// parseAuthParams parses the parameter portion of a WWW-Authenticate header.
// Parameters are in the format: key1="value1", key2=value2
// Commas inside quoted values do not split parameters.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)

	for _, segment := range splitOutsideQuotes(paramStr) {
		segment = strings.TrimSpace(segment)
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		params[key] = unquote(strings.TrimSpace(value))
	}

	return params
}

// splitOutsideQuotes splits s on commas that are not inside a quoted string.
func splitOutsideQuotes(s string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		escaped bool
	)

	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	parts = append(parts, current.String())

	return parts
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
		v = strings.ReplaceAll(v, `\"`, `"`)
		v = strings.ReplaceAll(v, `\\`, `\`)
	}
	return v
}

// ChallengeFromResponse parses the WWW-Authenticate header of resp.
// Returns (nil, nil) when resp is nil or carries no challenge.
func ChallengeFromResponse(resp *http.Response) (*AuthChallenge, error) {
	if resp == nil {
		return nil, nil
	}
	return ParseChallenge(resp.Header.Get("WWW-Authenticate"))
}
