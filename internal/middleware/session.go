package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultSessionCookie   = "STOREFRONT_SESSION"
	defaultSessionLifetime = 30 * 24 * time.Hour
)

// ErrInvalidSessionConfig indicates the session manager was initialised with unusable keys.
var ErrInvalidSessionConfig = errors.New("session: invalid config")

// SessionData is the payload persisted in the signed session cookie. Wizard and filter state live
// server-side, keyed by ID.
type SessionData struct {
	ID        string    `json:"id"`
	Locale    string    `json:"locale,omitempty"`
	CartID    string    `json:"cart,omitempty"`
	CSRFToken string    `json:"csrf,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// internal dirty flag; not serialized
	dirty bool
	now   func() time.Time
}

// MarkDirty flags the session for writing at end of request
func (s *SessionData) MarkDirty() {
	s.dirty = true
	if s.now != nil {
		s.UpdatedAt = s.now().UTC()
	} else {
		s.UpdatedAt = time.Now().UTC()
	}
}

// RegenerateID assigns a new session ID and CSRF token to prevent fixation after auth.
func (s *SessionData) RegenerateID() {
	s.ID = randID()
	s.CSRFToken = newCSRFToken()
	s.MarkDirty()
}

// SessionConfig controls cookie encoding and lifetime.
type SessionConfig struct {
	CookieName string
	HashKey    []byte
	BlockKey   []byte
	Lifetime   time.Duration
	Secure     bool
	Now        func() time.Time
}

// Sessions encodes SessionData into a signed, optionally encrypted cookie.
type Sessions struct {
	cfg   SessionConfig
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewSessions builds the cookie codec. An empty hash key yields a process-ephemeral key, which
// only suits local development.
func NewSessions(cfg SessionConfig) (*Sessions, error) {
	if cfg.CookieName == "" {
		cfg.CookieName = defaultSessionCookie
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultSessionLifetime
	}
	if len(cfg.HashKey) == 0 {
		cfg.HashKey = securecookie.GenerateRandomKey(32)
		if cfg.HashKey == nil {
			return nil, fmt.Errorf("%w: unable to generate hash key", ErrInvalidSessionConfig)
		}
	}
	if l := len(cfg.BlockKey); l != 0 && l != 16 && l != 24 && l != 32 {
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidSessionConfig)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))
	return &Sessions{cfg: cfg, codec: codec, now: now}, nil
}

// Middleware loads or initialises the session and writes it back before the first byte of the
// response when it changed.
func (m *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sd, fromCookie := m.load(r)
		ctx := WithSession(r.Context(), sd)
		rw := NewResponseRecorder(w)
		rw.SetBeforeWrite(func(w http.ResponseWriter) {
			if sd.dirty || !fromCookie {
				m.save(w, r, sd)
			}
		})
		next.ServeHTTP(rw, r.WithContext(ctx))
		// If nothing was written yet (e.g., HEAD), persist cookie now
		if !rw.Wrote() && (sd.dirty || !fromCookie) {
			m.save(w, r, sd)
		}
	})
}

func (m *Sessions) load(r *http.Request) (*SessionData, bool) {
	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		var sd SessionData
		if err := m.codec.Decode(m.cfg.CookieName, c.Value, &sd); err == nil && sd.ID != "" {
			sd.now = m.now
			return &sd, true
		}
	}
	now := m.now().UTC()
	return &SessionData{
		ID:        randID(),
		CSRFToken: newCSRFToken(),
		CreatedAt: now,
		UpdatedAt: now,
		dirty:     true,
		now:       m.now,
	}, false
}

func (m *Sessions) save(w http.ResponseWriter, r *http.Request, sd *SessionData) {
	encoded, err := m.codec.Encode(m.cfg.CookieName, sd)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("session: encode failed", zap.Error(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  m.now().Add(m.cfg.Lifetime),
		MaxAge:   int(m.cfg.Lifetime.Seconds()),
	})
	sd.dirty = false
}

// GetSession returns session data from the request context. Requests that bypassed the session
// middleware get an empty, unsaved session.
func GetSession(r *http.Request) *SessionData {
	if sd, ok := SessionFromContext(r.Context()); ok {
		return sd
	}
	return &SessionData{}
}

// helpers
func randID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
