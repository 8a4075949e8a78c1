package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const (
	// CSRFCookieName is readable by page scripts so htmx can echo it in the header.
	CSRFCookieName = "csrf_token"
	// CSRFHeader carries the token on htmx and fetch requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFField carries the token on plain form posts.
	CSRFField = "csrf_token"
)

// CSRF issues a CSRF cookie and verifies modifying requests carry the session's token in a header
// or form field, matching the cookie (double submit).
func CSRF(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r)
			token := s.CSRFToken
			if token == "" {
				token = newCSRFToken()
				s.CSRFToken = token
				s.MarkDirty()
			}

			if c, err := r.Cookie(CSRFCookieName); err != nil || c.Value != token {
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(24 * time.Hour),
				})
			}

			if !isSafeMethod(r.Method) && !hasBearer(r) {
				sent := r.Header.Get(CSRFHeader)
				if sent == "" {
					sent = r.PostFormValue(CSRFField)
				}
				if !tokensEqual(sent, token) {
					writeError(w, r, http.StatusForbidden, "csrf_invalid", "invalid CSRF token")
					return
				}
				if c, err := r.Cookie(CSRFCookieName); err != nil || !tokensEqual(c.Value, token) {
					writeError(w, r, http.StatusForbidden, "csrf_invalid", "invalid CSRF token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFToken returns the token templates embed in forms.
func CSRFToken(r *http.Request) string {
	return GetSession(r).CSRFToken
}

func hasBearer(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ")
}

func tokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
