package admin

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/matt-riley/yomu/internal/middleware"
	"github.com/matt-riley/yomu/internal/repository"
)

const (
	sessionCookieName  = "yomu_admin_session"
	csrfCookieName     = "yomu_csrf"
	sessionDuration    = 24 * time.Hour
	csrfTokenLength    = 32
	sessionTokenLength = 32
	maxAPIKeyFlashes   = 1000
	apiKeyFlashTTL     = 5 * time.Minute
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidCSRF  = errors.New("invalid CSRF token")
)

// SessionStore persists admin sessions by token hash.
type SessionStore interface {
	CreateAdminSession(ctx context.Context, session repository.AdminSession) error
	GetAdminSession(ctx context.Context, idHash string) (repository.AdminSession, error)
	DeleteAdminSession(ctx context.Context, idHash string) error
}

type apiKeyFlash struct {
	keyID     string
	secret    string
	expiresAt time.Time
}

type SessionManager struct {
	store         SessionStore
	sessionSecret []byte
	limiter       *middleware.RateLimiter
	now           func() time.Time

	mu            sync.Mutex
	apiKeyFlashes map[string]apiKeyFlash
}

// NewSessionManager returns a manager that stores sessions in store. A nil
// limiter disables login throttling.
func NewSessionManager(store SessionStore, sessionSecret string, limiter *middleware.RateLimiter) *SessionManager {
	return &SessionManager{
		store:         store,
		sessionSecret: []byte(sessionSecret),
		limiter:       limiter,
		now:           time.Now,
		apiKeyFlashes: make(map[string]apiKeyFlash),
	}
}

func (m *SessionManager) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// GenerateSession creates a new session for the user, returning the raw token to be set in the cookie.
func (m *SessionManager) GenerateSession(ctx context.Context, userID string) (string, error) {
	tokenBytes := make([]byte, sessionTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	rawToken := base64.RawURLEncoding.EncodeToString(tokenBytes)

	csrfBytes := make([]byte, csrfTokenLength)
	if _, err := rand.Read(csrfBytes); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}

	now := m.clock()
	session := repository.AdminSession{
		IDHash:      m.hashToken(rawToken),
		AdminUserID: userID,
		CSRFToken:   base64.RawURLEncoding.EncodeToString(csrfBytes),
		CreatedAt:   now,
		ExpiresAt:   now.Add(sessionDuration),
	}

	if err := m.store.CreateAdminSession(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return rawToken, nil
}

// ValidateSession checks the cookie token against the store and returns the
// session if it has not expired.
func (m *SessionManager) ValidateSession(ctx context.Context, rawToken string) (repository.AdminSession, error) {
	if rawToken == "" {
		return repository.AdminSession{}, ErrUnauthorized
	}

	idHash := m.hashToken(rawToken)
	session, err := m.store.GetAdminSession(ctx, idHash)
	if err != nil {
		return repository.AdminSession{}, ErrUnauthorized
	}

	if m.clock().After(session.ExpiresAt) {
		_ = m.store.DeleteAdminSession(ctx, idHash)
		return repository.AdminSession{}, ErrUnauthorized
	}

	return session, nil
}

func (m *SessionManager) InvalidateSession(ctx context.Context, rawToken string) error {
	return m.store.DeleteAdminSession(ctx, m.hashToken(rawToken))
}

// SetSessionCookie writes the session cookie.
func (m *SessionManager) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		// Plain HTTP over the tailnet; WireGuard provides transport encryption.
		Secure:  false,
		Expires: m.clock().Add(sessionDuration),
	})
}

func (m *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// AllowLogin reports whether every key (client IP, username) may attempt
// another login.
func (m *SessionManager) AllowLogin(keys ...string) bool {
	if m.limiter == nil {
		return true
	}
	for _, key := range keys {
		if key != "" && !m.limiter.Allow(key) {
			return false
		}
	}
	return true
}

func (m *SessionManager) RecordLoginFailure(keys ...string) {
	if m.limiter == nil {
		return
	}
	for _, key := range keys {
		if key != "" {
			m.limiter.RecordFailure(key)
		}
	}
}

// ResetLogin clears recorded failures after a successful login.
func (m *SessionManager) ResetLogin(keys ...string) {
	if m.limiter == nil {
		return
	}
	for _, key := range keys {
		if key != "" {
			m.limiter.Reset(key)
		}
	}
}

// SetAPIKeyFlash keeps a freshly created key secret for exactly one page view
// of the session identified by sessionHash.
func (m *SessionManager) SetAPIKeyFlash(sessionHash, keyID, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if len(m.apiKeyFlashes) >= maxAPIKeyFlashes {
		for hash, flash := range m.apiKeyFlashes {
			if now.After(flash.expiresAt) {
				delete(m.apiKeyFlashes, hash)
			}
		}
		if len(m.apiKeyFlashes) >= maxAPIKeyFlashes {
			return
		}
	}

	m.apiKeyFlashes[sessionHash] = apiKeyFlash{keyID: keyID, secret: secret, expiresAt: now.Add(apiKeyFlashTTL)}
}

func (m *SessionManager) PopAPIKeyFlash(sessionHash string) (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flash, ok := m.apiKeyFlashes[sessionHash]
	if !ok {
		return "", "", false
	}
	delete(m.apiKeyFlashes, sessionHash)
	if m.clock().After(flash.expiresAt) {
		return "", "", false
	}
	return flash.keyID, flash.secret, true
}

// hashToken keys stored sessions by an HMAC of the raw cookie token so a
// leaked sessions table cannot be replayed.
func (m *SessionManager) hashToken(token string) string {
	mac := hmac.New(sha256.New, m.sessionSecret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
