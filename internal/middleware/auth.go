// Package middleware содержит HTTP middleware сервиса накоплений.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/shipsavings/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour

	// GatewayKeyHeader передаёт общий ключ шлюза идентификации.
	GatewayKeyHeader = "X-Gateway-Key"
)

// PrincipalResolver восстанавливает актуальные полномочия участника по идентификатору.
type PrincipalResolver interface {
	Principal(ctx context.Context, memberID int64) (model.Principal, error)
}

// AuthMiddleware проверяет подписанный cookie сессии участника.
// Cookie хранит только идентификатор; полномочия читаются из хранилища на каждый запрос.
type AuthMiddleware struct {
	secretKey []byte
	resolver  PrincipalResolver
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Без ключа генерируется случайный, и сессии не переживают перезапуск.
func NewAuthMiddleware(secret string, resolver PrincipalResolver) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		resolver:  resolver,
	}
}

// Middleware проверяет cookie авторизации и добавляет полномочия участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		memberID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, err := a.resolver.Principal(r.Context(), memberID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin пропускает только запросы с полномочиями администратора.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !p.Admin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireGatewayKey проверяет общий ключ шлюза идентификации. Пустой ключ запрещает вход.
func RequireGatewayKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(GatewayKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAuthCookie устанавливает cookie сессии для участника.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, memberID int64) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(strconv.FormatInt(memberID, 10)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearAuthCookie завершает сессию.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) sign(data string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(data))
	return data + "." + hex.EncodeToString(mac.Sum(nil))
}

// parseCookie проверяет подпись "42.<hmac>" и возвращает идентификатор участника.
func (a *AuthMiddleware) parseCookie(value string) (int64, bool) {
	data, signature, found := strings.Cut(value, ".")
	if !found {
		return 0, false
	}

	_, expected, _ := strings.Cut(a.sign(data), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return 0, false
	}

	id, err := strconv.ParseInt(data, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// WithPrincipal кладёт полномочия участника в контекст.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext извлекает полномочия участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}
