package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"treesync/internal/auth"
)

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiTokenHash == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now().UTC()
		key := clientKey(r)
		if !s.authLimiter.Allow(key, now) {
			s.writeErrorReq(w, r, http.StatusTooManyRequests, apiError{
				status:  http.StatusTooManyRequests,
				code:    "resource_exhausted",
				errCode: ErrCodeResourceExhausted,
				err:     fmt.Errorf("too many failed auth attempts; retry later"),
			})
			return
		}

		token := bearerToken(r)
		if token == "" || !auth.VerifyToken(s.apiTokenHash, token) {
			s.authLimiter.RegisterFailure(key, now)
			s.writeErrorReq(w, r, http.StatusUnauthorized, apiError{
				status:  http.StatusUnauthorized,
				code:    "unauthorized",
				errCode: ErrCodeUnauthorized,
				err:     fmt.Errorf("unauthorized"),
			})
			return
		}
		s.authLimiter.Reset(key)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
