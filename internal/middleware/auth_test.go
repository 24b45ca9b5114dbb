package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// members разрешает полномочия по таблице; неизвестный участник даёт ошибку.
type members map[int64]model.Principal

func (m members) Principal(_ context.Context, id int64) (model.Principal, error) {
	p, ok := m[id]
	if !ok {
		return model.Principal{}, errors.New("member not found")
	}
	return p, nil
}

var testMembers = members{
	1:  {MemberID: 1, Name: "Pilot One"},
	7:  {MemberID: 7, Name: "Pilot Seven"},
	42: {MemberID: 42, Name: "Bank Admin", Admin: true},
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", testMembers)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal not in context")
		}
		if p.MemberID != 42 || !p.Admin || p.Name != "Bank Admin" {
			t.Fatalf("principal from context = %+v, want member 42 admin", p)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", testMembers)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_RejectsForgedMemberID(t *testing.T) {
	m := NewAuthMiddleware("test-secret", testMembers)

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, 7)
	cookie := w.Result().Cookies()[0]
	cookie.Value = strings.Replace(cookie.Value, "7.", "42.", 1)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()

	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_OtherSecret(t *testing.T) {
	w := httptest.NewRecorder()
	NewAuthMiddleware("one", testMembers).SetAuthCookie(w, 1)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(w.Result().Cookies()[0])
	rec := httptest.NewRecorder()

	NewAuthMiddleware("two", testMembers).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_AdminFlagComesFromResolver(t *testing.T) {
	resolver := members{42: {MemberID: 42, Name: "Bank Admin", Admin: true}}
	m := NewAuthMiddleware("test-secret", resolver)

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, 42)
	cookie := w.Result().Cookies()[0]

	protected := m.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	serve := func() int {
		r := httptest.NewRequest(http.MethodGet, "/api/admin/settings", nil)
		r.AddCookie(cookie)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		return rec.Code
	}

	if code := serve(); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	resolver[42] = model.Principal{MemberID: 42, Name: "Bank Admin"}
	if code := serve(); code != http.StatusForbidden {
		t.Fatalf("status after demotion = %d, want %d", code, http.StatusForbidden)
	}

	delete(resolver, 42)
	if code := serve(); code != http.StatusUnauthorized {
		t.Fatalf("status for removed member = %d, want %d", code, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		principal  *model.Principal
		wantStatus int
	}{
		{name: "no principal", wantStatus: http.StatusUnauthorized},
		{name: "member", principal: &model.Principal{MemberID: 1}, wantStatus: http.StatusForbidden},
		{name: "admin", principal: &model.Principal{MemberID: 1, Admin: true}, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.principal != nil {
				r = r.WithContext(WithPrincipal(r.Context(), *tt.principal))
			}
			rec := httptest.NewRecorder()

			RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireGatewayKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
	}{
		{name: "match", configured: "k", sent: "k", wantStatus: http.StatusOK},
		{name: "mismatch", configured: "k", sent: "x", wantStatus: http.StatusUnauthorized},
		{name: "not configured", configured: "", sent: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/session", nil)
			r.Header.Set(GatewayKeyHeader, tt.sent)
			rec := httptest.NewRecorder()

			RequireGatewayKey(tt.configured)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
