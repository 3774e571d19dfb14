package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/metrics"
	"github.com/bengobox/oauth2-provider/internal/oauth/state"
	"github.com/bengobox/oauth2-provider/internal/password"
	googleprovider "github.com/bengobox/oauth2-provider/internal/providers/google"
	"github.com/bengobox/oauth2-provider/internal/session"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateUsername indicates the username is already registered.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrInvalidCredentials returned when login fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidUsername indicates an empty or oversized username.
	ErrInvalidUsername = errors.New("username must be 1-150 characters")
	// ErrPasswordTooWeak returned when password fails policy validation.
	ErrPasswordTooWeak = errors.New("password too weak")
	// ErrNoSession indicates the request carries no live session.
	ErrNoSession = errors.New("no active session")
	// ErrProviderNotEnabled indicates the requested OAuth provider is disabled.
	ErrProviderNotEnabled = errors.New("oauth provider not enabled")
	// ErrProviderError covers every federated login failure.
	ErrProviderError = errors.New("federated login failed")
	// ErrOAuthStateInvalid indicates malformed or expired state payload.
	ErrOAuthStateInvalid = fmt.Errorf("%w: oauth state invalid", ErrProviderError)
	// ErrEmailNotVerified indicates provider did not verify the email address.
	ErrEmailNotVerified = fmt.Errorf("%w: provider email not verified", ErrProviderError)
	// ErrEmailDomainNotAllowed indicates the email domain is not in the allowed list.
	ErrEmailDomainNotAllowed = fmt.Errorf("%w: email domain not allowed", ErrProviderError)
	// ErrAccountNotLinkable indicates the email belongs to a password account.
	ErrAccountNotLinkable = fmt.Errorf("%w: username is held by a password account", ErrProviderError)
)

const maxUsernameLength = 150

// IdentityProvider is the federated login bridge.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*googleprovider.Identity, error)
}

// Service encapsulates end-user authentication and browser sessions.
type Service struct {
	users    *store.Users
	sessions session.Store
	hasher   *password.Hasher
	cfg      *config.Config
	auditor  *audit.Logger
	metrics  *metrics.Metrics
	logger   *zap.Logger
	google   IdentityProvider
}

// Dependencies aggregates constructor inputs. Google may be nil.
type Dependencies struct {
	Users    *store.Users
	Sessions session.Store
	Hasher   *password.Hasher
	Config   *config.Config
	Auditor  *audit.Logger
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Google   IdentityProvider
}

// New initialises the auth service.
func New(deps Dependencies) *Service {
	s := &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		hasher:   deps.Hasher,
		cfg:      deps.Config,
		auditor:  deps.Auditor,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		google:   deps.Google,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// RegisterInput captures registration payload.
type RegisterInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginInput captures login payload.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// OAuthCallbackInput defines provider callback payload.
type OAuthCallbackInput struct {
	Code      string
	State     string
	Error     string
	IPAddress string
	UserAgent string
}

// Result is a signed-in user with their new session.
type Result struct {
	User    *store.User
	Session *session.Session
	// ReturnTo is where the browser should continue after login.
	ReturnTo string
}

// GoogleEnabled reports whether federated login is configured.
func (s *Service) GoogleEnabled() bool {
	return s.google != nil
}

// Register creates a local account with a password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, ErrInvalidUsername
	}
	if len(in.Password) < s.cfg.Security.PasswordMinLength {
		return nil, ErrPasswordTooWeak
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, username, hash)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrDuplicateUsername
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     audit.ActionUserRegistered,
		Resource:   "user",
		ResourceID: user.ID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})
	return user, nil
}

// Login verifies the password and opens a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Result, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.Logins.WithLabelValues("password", "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !user.HasPassword() {
		s.metrics.Logins.WithLabelValues("password", "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash.String, in.Password); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			s.logger.Warn("stored password hash unusable", zap.String("user_id", user.ID), zap.Error(err))
		}
		s.metrics.Logins.WithLabelValues("password", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	sess, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.metrics.Logins.WithLabelValues("password", "success").Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     audit.ActionUserLogin,
		Resource:   "session",
		ResourceID: user.ID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})
	return &Result{User: user, Session: sess}, nil
}

// StartGoogleLogin returns the Google authorization URL. returnTo is carried
// in the signed state and restored once the callback completes.
func (s *Service) StartGoogleLogin(returnTo string) (string, error) {
	if s.google == nil {
		return "", ErrProviderNotEnabled
	}
	if !state.SafeReturnTo(returnTo) {
		returnTo = "/"
	}
	token, err := state.Encode(s.cfg.Security.StateSecret, state.Payload{Flow: state.FlowGoogle, ReturnTo: returnTo}, s.cfg.Security.ContinuationTTL)
	if err != nil {
		return "", fmt.Errorf("encode oauth state: %w", err)
	}
	return s.google.AuthCodeURL(token), nil
}

// CompleteGoogleLogin finalises the Google callback. The local account is
// keyed by the verified email and created on first use. Password accounts
// are never linked, whoever registered them.
func (s *Service) CompleteGoogleLogin(ctx context.Context, in OAuthCallbackInput) (*Result, error) {
	if s.google == nil {
		return nil, ErrProviderNotEnabled
	}
	res, err := s.completeGoogleLogin(ctx, in)
	if err != nil {
		s.metrics.Logins.WithLabelValues("google", "failure").Inc()
		if !errors.Is(err, ErrProviderError) {
			s.logger.Warn("google login failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
		}
		return nil, err
	}
	s.metrics.Logins.WithLabelValues("google", "success").Inc()
	return res, nil
}

func (s *Service) completeGoogleLogin(ctx context.Context, in OAuthCallbackInput) (*Result, error) {
	if in.Error != "" {
		return nil, fmt.Errorf("%w: provider returned %s", ErrProviderError, in.Error)
	}
	if in.Code == "" || in.State == "" {
		return nil, ErrOAuthStateInvalid
	}
	payload, err := state.Decode(s.cfg.Security.StateSecret, state.FlowGoogle, in.State)
	if err != nil {
		return nil, ErrOAuthStateInvalid
	}

	identity, err := s.google.Exchange(ctx, in.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	if !identity.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if !s.isDomainAllowed(identity.Email) {
		return nil, ErrEmailDomainNotAllowed
	}

	user, created, err := s.users.FindOrCreateByUsername(ctx, normalizeEmail(identity.Email))
	if err != nil {
		return nil, fmt.Errorf("resolve federated user: %w", err)
	}
	if user.HasPassword() {
		s.logger.Warn("google login refused for password account", zap.String("user_id", user.ID))
		return nil, ErrAccountNotLinkable
	}
	if created {
		s.auditor.Record(ctx, audit.Entry{
			UserID:     user.ID,
			Action:     audit.ActionUserRegistered,
			Resource:   "user",
			ResourceID: user.ID,
			IPAddress:  in.IPAddress,
			UserAgent:  in.UserAgent,
			Context:    map[string]any{"provider": "google"},
		})
	}

	sess, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     audit.ActionFederatedLogin,
		Resource:   "user",
		ResourceID: user.ID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Context:    map[string]any{"subject": identity.Subject},
	})

	returnTo := payload.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}
	return &Result{User: user, Session: sess, ReturnTo: returnTo}, nil
}

// Logout deletes the session. Unknown ids are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CurrentUser resolves the user behind a session id.
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*store.User, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	user, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// ContinuationFor signs returnTo so it can travel through the login form.
func (s *Service) ContinuationFor(returnTo string) (string, error) {
	return state.Encode(s.cfg.Security.StateSecret, state.Payload{Flow: state.FlowContinue, ReturnTo: returnTo}, s.cfg.Security.ContinuationTTL)
}

// ResolveContinuation returns the path a continuation token points at, or
// "/" when the token is absent, expired or tampered with.
func (s *Service) ResolveContinuation(token string) string {
	if token == "" {
		return "/"
	}
	payload, err := state.Decode(s.cfg.Security.StateSecret, state.FlowContinue, token)
	if err != nil || payload.ReturnTo == "" {
		return "/"
	}
	return payload.ReturnTo
}

func (s *Service) openSession(ctx context.Context, user *store.User) (*session.Session, error) {
	sess, err := session.New(user.ID, s.cfg.Session.TTL)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

func (s *Service) isDomainAllowed(email string) bool {
	allowed := s.cfg.Providers.Google.AllowedDomains
	if len(allowed) == 0 {
		return true
	}
	_, domain, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok {
		return false
	}
	for _, allowedDomain := range allowed {
		if strings.EqualFold(strings.TrimSpace(domain), strings.TrimSpace(allowedDomain)) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
