package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticator decides which contributor a request speaks for. The name in
// a session request is only a claim; it is accepted when a trusted proxy
// asserts it in header or when it comes with that contributor's token.
type authenticator struct {
	header string
	tokens map[string]string
}

// authError is a refused login with the status to report.
type authError struct {
	status  int
	message string
}

func (a authenticator) configured() bool {
	return a.header != "" || len(a.tokens) > 0
}

// login returns the authenticated name for a session request.
func (a authenticator) login(r *http.Request, req sessionRequest) (string, *authError) {
	if a.header != "" {
		if user := strings.TrimSpace(r.Header.Get(a.header)); user != "" {
			if req.User != "" && req.User != user {
				return "", &authError{http.StatusForbidden, "user does not match the authenticated identity"}
			}
			return user, nil
		}
		if len(a.tokens) == 0 {
			return "", &authError{http.StatusUnauthorized, "missing " + a.header + " header"}
		}
	}

	if req.User == "" || req.Token == "" {
		return "", &authError{http.StatusUnauthorized, "user and token are required"}
	}
	want, ok := a.tokens[req.User]
	if !ok {
		// same work for unknown names
		want = strings.Repeat("\x00", len(req.Token))
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(req.Token)) != 1 || !ok {
		return "", &authError{http.StatusUnauthorized, "invalid credentials"}
	}
	return req.User, nil
}

// still reports whether a request carrying a session cookie for user is
// still vouched for by the proxy. Token sessions rely on the signed cookie.
func (a authenticator) still(r *http.Request, user string) bool {
	if a.header == "" {
		return true
	}
	asserted := strings.TrimSpace(r.Header.Get(a.header))
	if asserted == "" {
		return len(a.tokens) > 0
	}
	return asserted == user
}
