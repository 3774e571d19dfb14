package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
	"github.com/bengobox/oauth2-provider/internal/httpapi/views"
	"github.com/bengobox/oauth2-provider/internal/services/auth"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

// AuthService describes the auth layer capabilities used by HTTP handlers.
type AuthService interface {
	GoogleEnabled() bool
	Register(ctx context.Context, in auth.RegisterInput) (*store.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.Result, error)
	StartGoogleLogin(returnTo string) (string, error)
	CompleteGoogleLogin(ctx context.Context, in auth.OAuthCallbackInput) (*auth.Result, error)
	Logout(ctx context.Context, sessionID string) error
	ResolveContinuation(token string) string
}

// ClientLister lists the clients a user owns.
type ClientLister interface {
	ListByUser(ctx context.Context, userID string) ([]store.Client, error)
}

// AuthHandler serves the browser login, registration and home pages.
type AuthHandler struct {
	service  AuthService
	clients  ClientLister
	sessions *middleware.Sessions
	views    *views.Renderer
	logger   *zap.Logger
}

// NewAuthHandler constructs a handler.
func NewAuthHandler(service AuthService, clients ClientLister, sessions *middleware.Sessions, renderer *views.Renderer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		clients:  clients,
		sessions: sessions,
		views:    renderer,
		logger:   logger,
	}
}

// Home lists the signed-in user's clients with a form to register more.
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.sessions.RedirectToLogin(w, r)
		return
	}
	clients, err := h.clients.ListByUser(r.Context(), user.ID)
	if err != nil {
		requestLogger(h.logger, r).Error("list clients", zap.String("user_id", user.ID), zap.Error(err))
		h.renderServerError(w)
		return
	}
	h.views.Render(w, http.StatusOK, views.PageHome, views.HomeData{User: user, Clients: clients})
}

// LoginPage renders the sign-in form. A signed-in user goes straight on.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("continue")
	if _, ok := middleware.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, h.service.ResolveContinuation(next), http.StatusFound)
		return
	}
	h.renderLogin(w, http.StatusOK, views.LoginData{Continue: next})
}

// Login handles the sign-in form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, views.LoginData{Error: "Malformed form submission."})
		return
	}
	next := r.PostForm.Get("continue")
	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Username:  r.PostForm.Get("username"),
		Password:  r.PostForm.Get("password"),
		IPAddress: clientIP(r),
		UserAgent: userAgent(r),
	})
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.renderLogin(w, http.StatusUnauthorized, views.LoginData{Continue: next, Error: "Invalid username or password."})
		return
	}
	if err != nil {
		requestLogger(h.logger, r).Error("login failed", zap.Error(err))
		h.renderServerError(w)
		return
	}
	h.replaceSession(w, r, result.Session.ID)
	http.Redirect(w, r, h.service.ResolveContinuation(next), http.StatusSeeOther)
}

// Register handles the registration form. The new user still has to log in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, views.LoginData{Error: "Malformed form submission."})
		return
	}
	next := r.PostForm.Get("continue")
	_, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username:  r.PostForm.Get("username"),
		Password:  r.PostForm.Get("password"),
		IPAddress: clientIP(r),
		UserAgent: userAgent(r),
	})
	switch {
	case err == nil:
		h.renderLogin(w, http.StatusCreated, views.LoginData{Continue: next, Message: "Registration successful. Please log in."})
	case errors.Is(err, auth.ErrDuplicateUsername):
		h.renderLogin(w, http.StatusConflict, views.LoginData{Continue: next, Error: "That username is already taken."})
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrPasswordTooWeak):
		h.renderLogin(w, http.StatusBadRequest, views.LoginData{Continue: next, Error: capitalise(err.Error()) + "."})
	default:
		requestLogger(h.logger, r).Error("register failed", zap.Error(err))
		h.renderServerError(w)
	}
}

// Logout ends the session and returns to the home page.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), h.sessions.SessionID(r)); err != nil {
		requestLogger(h.logger, r).Warn("logout failed", zap.Error(err))
	}
	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GoogleLogin starts federated login.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := h.service.ResolveContinuation(r.URL.Query().Get("continue"))
	target, err := h.service.StartGoogleLogin(returnTo)
	if errors.Is(err, auth.ErrProviderNotEnabled) {
		h.views.Render(w, http.StatusNotFound, views.PageError, views.ErrorData{
			Title:       "Google login unavailable",
			Description: "Google login is not enabled on this server.",
		})
		return
	}
	if err != nil {
		requestLogger(h.logger, r).Error("start google login", zap.Error(err))
		h.renderServerError(w)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// GoogleAuthorize handles the Google callback.
func (h *AuthHandler) GoogleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.CompleteGoogleLogin(r.Context(), auth.OAuthCallbackInput{
		Code:      q.Get("code"),
		State:     q.Get("state"),
		Error:     q.Get("error"),
		IPAddress: clientIP(r),
		UserAgent: userAgent(r),
	})
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrProviderNotEnabled):
		h.views.Render(w, http.StatusNotFound, views.PageError, views.ErrorData{
			Title:       "Google login unavailable",
			Description: "Google login is not enabled on this server.",
		})
		return
	default:
		requestLogger(h.logger, r).Info("google login rejected", zap.Error(err))
		h.renderLogin(w, http.StatusUnauthorized, views.LoginData{Error: "Google sign-in failed."})
		return
	}
	h.replaceSession(w, r, result.Session.ID)
	http.Redirect(w, r, result.ReturnTo, http.StatusFound)
}

// replaceSession ends any session the request already carries and hands the
// browser the new one.
func (h *AuthHandler) replaceSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.service.Logout(r.Context(), h.sessions.SessionID(r)); err != nil {
		requestLogger(h.logger, r).Warn("end superseded session", zap.Error(err))
	}
	h.sessions.SetCookie(w, sessionID)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, status int, data views.LoginData) {
	data.GoogleEnabled = h.service.GoogleEnabled()
	h.views.Render(w, status, views.PageLogin, data)
}

func (h *AuthHandler) renderServerError(w http.ResponseWriter) {
	h.views.Render(w, http.StatusInternalServerError, views.PageError, views.ErrorData{
		Title:       "Something went wrong",
		Code:        "server_error",
		Description: "The server could not complete the request.",
	})
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
