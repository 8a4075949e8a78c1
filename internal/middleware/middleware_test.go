package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/i18n"
	"finitefield.org/storefront/internal/platform/requestctx"
)

func newSessions(t *testing.T) *Sessions {
	t.Helper()
	s, err := NewSessions(SessionConfig{HashKey: []byte(strings.Repeat("k", 32))})
	require.NoError(t, err)
	return s
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	sessions := newSessions(t)
	h := sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := GetSession(r)
		if r.URL.Query().Get("cart") != "" {
			s.CartID = r.URL.Query().Get("cart")
			s.MarkDirty()
		}
		_, _ = w.Write([]byte(s.ID + "|" + s.CartID))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?cart=c1", nil))
	c := cookieNamed(rec, defaultSessionCookie)
	require.NotNil(t, c)
	require.True(t, c.HttpOnly)
	first := rec.Body.String()
	require.True(t, strings.HasSuffix(first, "|c1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, first, rec.Body.String())
	require.Nil(t, cookieNamed(rec, defaultSessionCookie), "unchanged session not rewritten")

	tampered := *c
	tampered.Value = c.Value[:len(c.Value)-2] + "xx"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&tampered)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEqual(t, first, rec.Body.String())
}

func TestNewSessionsRejectsBadBlockKey(t *testing.T) {
	_, err := NewSessions(SessionConfig{BlockKey: []byte("short")})
	require.ErrorIs(t, err, ErrInvalidSessionConfig)
}

func csrfRouter(t *testing.T) http.Handler {
	sessions := newSessions(t)
	inner := HTMX(CSRF(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(CSRFToken(r)))
	})))
	return sessions.Middleware(inner)
}

func TestCSRFDoubleSubmit(t *testing.T) {
	h := csrfRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	token := rec.Body.String()
	session := cookieNamed(rec, defaultSessionCookie)
	csrf := cookieNamed(rec, CSRFCookieName)
	require.NotNil(t, csrf)
	require.Equal(t, token, csrf.Value)
	require.False(t, csrf.HttpOnly)

	post := func(header, field string, withCookie bool) *httptest.ResponseRecorder {
		form := url.Values{}
		if field != "" {
			form.Set(CSRFField, field)
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(session)
		if withCookie {
			req.AddCookie(csrf)
		}
		if header != "" {
			req.Header.Set(CSRFHeader, header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, post(token, "", true).Code)
	require.Equal(t, http.StatusOK, post("", token, true).Code)
	require.Equal(t, http.StatusForbidden, post("", "", true).Code)
	require.Equal(t, http.StatusForbidden, post("nope", "", true).Code)
	require.Equal(t, http.StatusForbidden, post(token, "", false).Code)
}

func TestCSRFJSONForHTMX(t *testing.T) {
	h := csrfRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout/address", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"csrf_invalid"`)
	require.Contains(t, rec.Body.String(), `"path":"/checkout/address"`)
}

func TestCSRFSkipsBearerClients(t *testing.T) {
	h := csrfRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLocaleResolution(t *testing.T) {
	bundle, err := i18n.Default("en", []string{"en", "sv"})
	require.NoError(t, err)
	h := newSessions(t).Middleware(Locale(bundle)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(Lang(r)))
	})))

	cases := []struct {
		name   string
		target string
		accept string
		cookie string
		want   string
	}{
		{name: "default", target: "/", want: "en"},
		{name: "accept language", target: "/", accept: "sv-SE,sv;q=0.9,en;q=0.5", want: "sv"},
		{name: "cookie", target: "/", cookie: "sv", accept: "en", want: "sv"},
		{name: "query wins", target: "/?hl=en", cookie: "sv", accept: "sv", want: "en"},
		{name: "unsupported query ignored", target: "/?hl=xx", accept: "sv", want: "sv"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.accept != "" {
				req.Header.Set("Accept-Language", tc.accept)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LocaleCookie, Value: tc.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Body.String())
			require.Equal(t, tc.want, rec.Header().Get("Content-Language"))
		})
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "cust-1", ExpiresAt: jwt.NewNumericDate(exp)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestAuthGate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	auth := NewAuth(AuthConfig{Now: func() time.Time { return now }})
	protected := HTMX(auth.Middleware(auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestctx.AuthToken(r.Context())))
	}))))

	t.Run("anonymous redirected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/my-pages/addresses?tab=2", nil))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/login?redirectUrl=%2Fmy-pages%2Faddresses%3Ftab%3D2", rec.Header().Get("Location"))
	})

	t.Run("valid token forwarded", func(t *testing.T) {
		token := signedToken(t, now.Add(time.Hour))
		req := httptest.NewRequest(http.MethodGet, "/my-pages", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, token, rec.Body.String())
	})

	t.Run("expired token dropped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/my-pages", nil)
		req.Header.Set("HX-Request", "true")
		req.Header.Set("HX-Current-URL", "https://shop.example/my-pages?x=1")
		req.AddCookie(&http.Cookie{Name: "token", Value: signedToken(t, now.Add(-time.Minute))})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "/login?redirectUrl=%2Fmy-pages%3Fx%3D1", rec.Header().Get("HX-Redirect"))
		c := cookieNamed(rec, "token")
		require.NotNil(t, c)
		require.Equal(t, -1, c.MaxAge)
	})

	t.Run("opaque token kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/my-pages", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: "opaque"})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, "opaque", rec.Body.String())
	})
}

func TestSafeRedirect(t *testing.T) {
	require.Equal(t, "/checkout?step=2", SafeRedirect("/checkout?step=2"))
	for _, bad := range []string{"", "https://evil.example", "//evil.example", "/\\evil", "checkout"} {
		require.Equal(t, "/", SafeRedirect(bad), bad)
	}
}

func TestAssetsWithCacheETag(t *testing.T) {
	fsys := testFS{"app.js": "console.log(1)"}
	h := AssetsWithCache(fsys.FS(), "/assets")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.Equal(t, "console.log(1)", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
}
