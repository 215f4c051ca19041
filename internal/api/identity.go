package api

import (
	"errors"
	"net/http"
	"strings"
)

const (
	headerIAPEmail  = "X-Goog-Authenticated-User-Email"
	headerUserEmail = "X-User-Email"
	iapEmailPrefix  = "accounts.google.com:"
)

var errNoIdentity = errors.New("Could not retrieve email.")

// usernameFromRequest resolves the caller from the identity-aware proxy
// header. X-User-Email is read only when trustUserHeader is set, for local
// runs without the proxy. The username is the local part of the address.
func usernameFromRequest(r *http.Request, trustUserHeader bool) (string, error) {
	email := strings.TrimSpace(r.Header.Get(headerIAPEmail))
	email = strings.TrimPrefix(email, iapEmailPrefix)
	if email == "" && trustUserHeader {
		email = strings.TrimSpace(r.Header.Get(headerUserEmail))
	}
	local, _, _ := strings.Cut(email, "@")
	local = strings.TrimSpace(local)
	if local == "" {
		return "", errNoIdentity
	}
	return local, nil
}

func (s *Server) username(r *http.Request) (string, error) {
	return usernameFromRequest(r, s.trustUserHeader)
}
