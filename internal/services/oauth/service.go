// Package oauth implements the authorization server: client registration,
// the authorization endpoint state machine, the token and revocation
// endpoints, and the bearer guard for protected resources.
package oauth

import (
	"time"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/metrics"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

// Service encapsulates the authorization server flows.
type Service struct {
	store   *store.Store
	cfg     config.TokenConfig
	auditor *audit.Logger
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Store   *store.Store
	Config  config.TokenConfig
	Auditor *audit.Logger
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// New initialises the authorization server.
func New(deps Dependencies) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   deps.Store,
		cfg:     deps.Config,
		auditor: deps.Auditor,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow replaces the clock used for issuance and expiry checks.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// serverError logs err and returns the generic protocol error.
func (s *Service) serverError(op string, err error) error {
	s.logger.Error("oauth store failure", zap.String("op", op), zap.Error(err))
	return ErrServerError
}
