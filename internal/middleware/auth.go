package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/requestctx"
)

// RedirectParam carries the page to return to after login.
const RedirectParam = "redirectUrl"

// AuthConfig controls the authorization gate.
type AuthConfig struct {
	CookieName string
	LoginPath  string
	Secure     bool
	Now        func() time.Time
}

// Auth forwards the shopper's commerce token and guards account pages.
type Auth struct {
	cfg AuthConfig
	now func() time.Time
}

// NewAuth applies defaults to cfg.
func NewAuth(cfg AuthConfig) *Auth {
	if cfg.CookieName == "" {
		cfg.CookieName = "token"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Auth{cfg: cfg, now: now}
}

// Middleware attaches an unexpired token from the auth cookie to the request context. Expired
// tokens are dropped and the cookie deleted so the backend never sees them.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(a.cfg.CookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		if a.expired(c.Value) {
			requestctx.Logger(r.Context()).Debug("auth: dropping expired token")
			a.Clear(w)
			next.ServeHTTP(w, r)
			return
		}
		ctx := requestctx.WithAuthToken(r.Context(), c.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require redirects anonymous requests to the login page.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestctx.AuthToken(r.Context()) == "" {
			Redirect(w, r, a.LoginURL(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Unauthorized handles a backend authorization failure: the cookie goes and the shopper is sent
// to login, returning to the current page afterwards.
func (a *Auth) Unauthorized(w http.ResponseWriter, r *http.Request) {
	requestctx.Logger(r.Context()).Info("auth: backend rejected token", zap.String("path", r.URL.Path))
	a.Clear(w)
	Redirect(w, r, a.LoginURL(r))
}

// SetToken stores token in the auth cookie, expiring with the token when it carries an exp claim.
func (a *Auth) SetToken(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if exp, ok := tokenExpiry(token); ok {
		cookie.Expires = exp
	}
	http.SetCookie(w, cookie)
}

// Clear deletes the auth cookie.
func (a *Auth) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// LoginURL builds the login link returning to the current page. htmx requests return to the page
// that issued them rather than the fragment endpoint.
func (a *Auth) LoginURL(r *http.Request) string {
	back := r.URL.RequestURI()
	if IsHTMX(r.Context()) {
		if cur, err := url.Parse(r.Header.Get("HX-Current-URL")); err == nil && cur.Path != "" {
			back = cur.RequestURI()
		}
	}
	return a.cfg.LoginPath + "?" + url.Values{RedirectParam: {SafeRedirect(back)}}.Encode()
}

func (a *Auth) expired(token string) bool {
	exp, ok := tokenExpiry(token)
	return ok && !exp.After(a.now())
}

// tokenExpiry reads the exp claim without verifying the signature; the backend verifies. Opaque
// tokens report no expiry.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// SafeRedirect keeps local absolute paths and maps everything else to "/".
func SafeRedirect(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}
