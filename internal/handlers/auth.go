package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akram-events/apiserver/internal/services"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/akram-events/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 6
)

// AuthHandler provides signup, login and password-reset endpoints.
type AuthHandler struct {
	userService       *services.UserService
	resetService      *services.ResetService
	secret            []byte
	tokenTTL          time.Duration
	clearResetOnLogin bool
}

// AuthHandlerOption customizes an AuthHandler.
type AuthHandlerOption func(*AuthHandler)

// WithTokenTTL overrides the session token lifetime.
func WithTokenTTL(ttl time.Duration) AuthHandlerOption {
	return func(h *AuthHandler) {
		if ttl > 0 {
			h.tokenTTL = ttl
		}
	}
}

// WithClearResetOnLogin invalidates a pending reset token when the user
// logs in with their password.
func WithClearResetOnLogin(clear bool) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.clearResetOnLogin = clear
	}
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, resetService *services.ResetService, jwtSecret string, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{
		userService:  userService,
		resetService: resetService,
		secret:       []byte(jwtSecret),
		tokenTTL:     defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/forgotpassword", handler.ForgotPassword)
	r.Put("/resetpassword/{resetToken}", handler.ResetPassword)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth enforces session authentication and injects the identity
// into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.secret)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret))
}

// RequireRole gates a route on the authenticated identity's role. It must
// run after RequireAuth; a request without an identity fails closed.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolved, err := roleFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
				return
			}
			if resolved != role {
				writeError(w, http.StatusForbidden, codeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
				return
			}

			userID, role, err := parseToken(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, userID)
			ctx = context.WithValue(ctx, contextRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Signup creates a new member account and returns a session token.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "name, email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, codeValidation, "password too short")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create user")
		return
	}

	user, err := h.userService.Create(r.Context(), types.User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         types.RoleMember,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, codeDuplicateEmail, "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create user")
		return
	}

	token, err := issueToken(user, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login verifies credentials and returns a session token. Unknown email and
// wrong password produce the same response so accounts cannot be enumerated.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "missing credentials")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to authenticate")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
		return
	}

	if h.clearResetOnLogin && user.ResetTokenHash != "" {
		if err := h.userService.ClearResetToken(r.Context(), user.ID); err != nil {
			slog.Error("failed to clear pending reset token on login", "user_id", user.ID, "error", err)
		}
	}

	token, err := issueToken(user, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// ForgotPassword issues a password-reset token. The response is identical
// whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "email is required")
		return
	}

	if err := h.resetService.Request(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to process request")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "if that email is registered, a reset link has been sent",
	})
}

// ResetPassword exchanges a valid reset token for a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "resetToken"))
	if token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidOrExpiredToken, "invalid or expired reset token")
		return
	}

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, codeValidation, "password too short")
		return
	}

	if _, err := h.resetService.Consume(r.Context(), token, req.Password); err != nil {
		if errors.Is(err, store.ErrInvalidResetToken) {
			writeError(w, http.StatusBadRequest, codeInvalidOrExpiredToken, "invalid or expired reset token")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// sessionClaims carries the identity and role of a logged-in user. The role
// travels in the token so authorization never needs a store round-trip.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func issueToken(user types.User, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseToken verifies the signature and expiry and extracts the identity.
// It fails closed: malformed, unsigned, tampered or expired tokens are all
// rejected the same way.
func parseToken(tokenString string, secret []byte) (int, string, error) {
	claims := sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return 0, "", errors.New("invalid subject")
	}
	if claims.Role != types.RoleMember && claims.Role != types.RoleAdmin {
		return 0, "", errors.New("invalid role")
	}
	return userID, claims.Role, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
