package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akram-events/apiserver/internal/clock"
	"github.com/akram-events/apiserver/internal/services"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/akram-events/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const testSecret = "test-secret"

type memUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, users: make(map[int]types.User)}
}

func (r *memUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) SetResetToken(_ context.Context, id int, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash = tokenHash
	user.ResetTokenExpiresAt = &expiresAt
	r.users[id] = user
	return nil
}

func (r *memUserRepo) ClearResetToken(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash = ""
	user.ResetTokenExpiresAt = nil
	r.users[id] = user
	return nil
}

func (r *memUserRepo) ConsumeResetToken(_ context.Context, tokenHash, newPasswordHash string, now time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.ResetTokenHash == tokenHash && user.ResetTokenExpiresAt != nil && user.ResetTokenExpiresAt.After(now) {
			user.PasswordHash = newPasswordHash
			user.ResetTokenHash = ""
			user.ResetTokenExpiresAt = nil
			r.users[id] = user
			return user, nil
		}
	}
	return types.User{}, store.ErrInvalidResetToken
}

func (r *memUserRepo) SetPasswordHash(_ context.Context, id int, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	r.users[id] = user
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type chanMailer struct {
	sent chan string
}

func newChanMailer() *chanMailer {
	return &chanMailer{sent: make(chan string, 8)}
}

func (m *chanMailer) SendPasswordReset(_ context.Context, _, _, token string) error {
	m.sent <- token
	return nil
}

func (m *chanMailer) waitForToken(t *testing.T) string {
	t.Helper()
	select {
	case token := <-m.sent:
		return token
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reset mail")
		return ""
	}
}

func newTestAuthRouter(t *testing.T, opts ...AuthHandlerOption) (*chi.Mux, *memUserRepo, *chanMailer) {
	t.Helper()
	repo := newMemUserRepo()
	mail := newChanMailer()
	userService := services.NewUserService(repo)
	resetService := services.NewResetService(repo, mail, clock.NewSystem())
	handler := NewAuthHandler(userService, resetService, testSecret, opts...)

	router := chi.NewRouter()
	router.Route("/api/auth", func(r chi.Router) {
		AuthRouter(r, handler)
	})
	return router, repo, mail
}

func doJSON(t *testing.T, router http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) AuthResponse {
	t.Helper()
	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	user := types.User{ID: 42, Role: types.RoleAdmin}
	token, err := issueToken(user, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	userID, role, err := parseToken(token, []byte(testSecret))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected subject 42, got %d", userID)
	}
	if role != types.RoleAdmin {
		t.Fatalf("expected role %q, got %q", types.RoleAdmin, role)
	}
}

func TestParseTokenFailsClosed(t *testing.T) {
	t.Parallel()

	user := types.User{ID: 1, Role: types.RoleMember}

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := issueToken(user, []byte(testSecret), time.Hour)
		if _, _, err := parseToken(token, []byte("other-secret")); err == nil {
			t.Fatalf("expected error for wrong secret")
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		token, _ := issueToken(user, []byte(testSecret), time.Hour)
		parts := strings.Split(token, ".")
		parts[1] = parts[1][:len(parts[1])-2] + "xx"
		if _, _, err := parseToken(strings.Join(parts, "."), []byte(testSecret)); err == nil {
			t.Fatalf("expected error for tampered token")
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := issueToken(user, []byte(testSecret), -time.Minute)
		if _, _, err := parseToken(token, []byte(testSecret)); err == nil {
			t.Fatalf("expected error for expired token")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, _, err := parseToken("not.a.token", []byte(testSecret)); err == nil {
			t.Fatalf("expected error for malformed token")
		}
	})

	t.Run("unknown role claim", func(t *testing.T) {
		token, _ := issueToken(types.User{ID: 1, Role: "superuser"}, []byte(testSecret), time.Hour)
		if _, _, err := parseToken(token, []byte(testSecret)); err == nil {
			t.Fatalf("expected error for role outside the closed set")
		}
	})
}

func TestRequireAuthAndRole(t *testing.T) {
	t.Parallel()

	seen := struct {
		userID int
		role   string
	}{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.userID, _ = userIDFromContext(r.Context())
		seen.role, _ = roleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	router := chi.NewRouter()
	router.With(RequireAuth(testSecret), RequireRole(types.RoleAdmin)).Get("/admin", inner)
	router.With(RequireAuth(testSecret), RequireRole(types.RoleMember)).Get("/member", inner)

	memberToken, _ := issueToken(types.User{ID: 7, Role: types.RoleMember}, []byte(testSecret), time.Hour)
	adminToken, _ := issueToken(types.User{ID: 9, Role: types.RoleAdmin}, []byte(testSecret), time.Hour)

	t.Run("missing token", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/member", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("member allowed on member route", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/member", memberToken, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if seen.userID != 7 || seen.role != types.RoleMember {
			t.Fatalf("expected identity (7, member), got (%d, %s)", seen.userID, seen.role)
		}
	})

	t.Run("member forbidden on admin route", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/admin", memberToken, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("admin forbidden on member route", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/member", adminToken, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("role check without auth fails closed", func(t *testing.T) {
		bare := chi.NewRouter()
		bare.With(RequireRole(types.RoleAdmin)).Get("/x", inner)
		rec := doJSON(t, bare, http.MethodGet, "/x", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestAuthRouter(t)

	signup := SignupRequest{Name: "Ana", Email: "ana@x.com", Password: "pw1234"}
	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", signup)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeAuth(t, rec)
	if created.User.Role != types.RoleMember {
		t.Fatalf("expected member role, got %q", created.User.Role)
	}
	if userID, role, err := parseToken(created.Token, []byte(testSecret)); err != nil || userID != created.User.ID || role != types.RoleMember {
		t.Fatalf("signup token does not verify: %v", err)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("response leaks password material: %s", rec.Body.String())
	}

	t.Run("duplicate email rejected", func(t *testing.T) {
		dup := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", SignupRequest{Name: "Ana2", Email: "ANA@X.COM", Password: "pw1234"})
		if dup.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", dup.Code)
		}
		if decodeError(t, dup).Code != codeDuplicateEmail {
			t.Fatalf("expected duplicate_email code, got %s", dup.Body.String())
		}
	})

	t.Run("login succeeds with correct password", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ana@x.com", Password: "pw1234"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeAuth(t, rec)
		if _, _, err := parseToken(resp.Token, []byte(testSecret)); err != nil {
			t.Fatalf("login token does not verify: %v", err)
		}
	})

	t.Run("login is case-insensitive on email", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "Ana@X.com", Password: "pw1234"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		wrongPw := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ana@x.com", Password: "nope99"})
		unknown := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ghost@x.com", Password: "pw1234"})
		if wrongPw.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for both, got %d and %d", wrongPw.Code, unknown.Code)
		}
		if wrongPw.Body.String() != unknown.Body.String() {
			t.Fatalf("login failures must be identical: %q vs %q", wrongPw.Body.String(), unknown.Body.String())
		}
	})

	t.Run("me returns the authenticated user", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/auth/me", created.Token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var user types.User
		if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
			t.Fatalf("decode user: %v", err)
		}
		if user.ID != created.User.ID || user.Email != "ana@x.com" {
			t.Fatalf("unexpected user: %+v", user)
		}
	})
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	router, _, mail := newTestAuthRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", SignupRequest{Name: "Ana", Email: "ana@x.com", Password: "oldpw1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}

	t.Run("forgot password responds identically for any email", func(t *testing.T) {
		known := doJSON(t, router, http.MethodPost, "/api/auth/forgotpassword", "", ForgotPasswordRequest{Email: "ana@x.com"})
		unknown := doJSON(t, router, http.MethodPost, "/api/auth/forgotpassword", "", ForgotPasswordRequest{Email: "ghost@x.com"})
		if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
			t.Fatalf("expected 200 for both, got %d and %d", known.Code, unknown.Code)
		}
		if known.Body.String() != unknown.Body.String() {
			t.Fatalf("responses must not reveal account existence")
		}
		mail.waitForToken(t)
	})

	t.Run("reset token is single-use", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/auth/forgotpassword", "", ForgotPasswordRequest{Email: "ana@x.com"})
		if rec.Code != http.StatusOK {
			t.Fatalf("forgot password: %d", rec.Code)
		}
		token := mail.waitForToken(t)

		reset := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/auth/resetpassword/%s", token), "", ResetPasswordRequest{Password: "newpw1"})
		if reset.Code != http.StatusOK {
			t.Fatalf("reset: %d %s", reset.Code, reset.Body.String())
		}

		again := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/auth/resetpassword/%s", token), "", ResetPasswordRequest{Password: "other1"})
		if again.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 on reuse, got %d", again.Code)
		}
		if decodeError(t, again).Code != codeInvalidOrExpiredToken {
			t.Fatalf("expected invalid_or_expired_token, got %s", again.Body.String())
		}

		if rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ana@x.com", Password: "newpw1"}); rec.Code != http.StatusOK {
			t.Fatalf("login with new password: %d", rec.Code)
		}
		if rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ana@x.com", Password: "oldpw1"}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("login with old password should fail, got %d", rec.Code)
		}
	})

	t.Run("bogus token rejected", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/api/auth/resetpassword/deadbeef", "", ResetPasswordRequest{Password: "newpw1"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestLoginClearsPendingReset(t *testing.T) {
	t.Parallel()

	router, repo, mail := newTestAuthRouter(t, WithClearResetOnLogin(true))

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", "", SignupRequest{Name: "Ana", Email: "ana@x.com", Password: "pw1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}
	created := decodeAuth(t, rec)

	if rec := doJSON(t, router, http.MethodPost, "/api/auth/forgotpassword", "", ForgotPasswordRequest{Email: "ana@x.com"}); rec.Code != http.StatusOK {
		t.Fatalf("forgot password: %d", rec.Code)
	}
	token := mail.waitForToken(t)

	if rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ana@x.com", Password: "pw1234"}); rec.Code != http.StatusOK {
		t.Fatalf("login: %d", rec.Code)
	}

	user, err := repo.GetByID(context.Background(), created.User.ID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.ResetTokenHash != "" || user.ResetTokenExpiresAt != nil {
		t.Fatalf("expected pending reset cleared on login")
	}

	if rec := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/auth/resetpassword/%s", token), "", ResetPasswordRequest{Password: "newpw1"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected cleared token to be rejected, got %d", rec.Code)
	}
}
