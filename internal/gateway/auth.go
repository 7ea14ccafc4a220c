package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no valid token accompanies a
// request.
var ErrUnauthenticated = errors.New("missing or invalid token")

// authenticate resolves the request to a principal user id. Tokens are
// accepted from the Authorization header (Bearer scheme) or, for
// WebSocket dials where headers are awkward, the token query parameter.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", ErrUnauthenticated
	}

	// Compare against every configured token so lookup time does not
	// depend on which token matched.
	userID := ""
	for candidate, uid := range s.cfg.Server.Auth.Tokens {
		if safeEqual(token, candidate) {
			userID = uid
		}
	}
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// safeEqual performs a constant-time string comparison to prevent
// timing attacks. It avoids early-return on length mismatch to prevent
// leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
