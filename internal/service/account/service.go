// Package account resolves bearer credentials to account identifiers. The
// signup and verification flow lives in another system; this service only
// consumes the credentials it issues.
package account

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/store"
)

// Lookup resolves a credential to an account identifier, or "" when the
// credential is missing or unknown.
type Lookup interface {
	Lookup(ctx context.Context, credential string) (string, error)
}

// Service is the store-backed Lookup.
type Service struct {
	tokens store.TokenStore
	logger *zap.Logger
}

var _ Lookup = (*Service)(nil)

// NewService creates the account lookup service.
func NewService(tokens store.TokenStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tokens: tokens, logger: logger}
}

// Lookup resolves an Authorization header value or bare token. Unknown
// credentials resolve to "" rather than an error; the caller treats the
// request as anonymous.
func (s *Service) Lookup(ctx context.Context, credential string) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if token == "" {
		return "", nil
	}

	accountID, err := s.tokens.AccountIDForToken(ctx, token)
	if err != nil {
		return "", err
	}
	if accountID == "" {
		s.logger.Debug("unknown credential presented")
	}
	return accountID, nil
}

// Register stores a credential for an account, used by the provisioning CLI
// and tests.
func (s *Service) Register(ctx context.Context, token, accountID string) error {
	return s.tokens.SaveAccountToken(ctx, token, accountID)
}
