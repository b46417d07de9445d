package accounts

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/pkg/chain"
)

// Service registers issuer and collector accounts. Every registration
// creates a ledger account so the party can hold tokens and currency.
type Service struct {
	db     *gorm.DB
	chain  chain.Client
	logger *zap.Logger
}

// NewService creates an account service.
func NewService(db *gorm.DB, chainClient chain.Client, logger *zap.Logger) *Service {
	return &Service{db: db, chain: chainClient, logger: logger}
}

// RegisterIssuer creates an issuer with a fresh ledger account.
func (s *Service) RegisterIssuer(ctx context.Context, username string) (*Issuer, error) {
	acct, err := s.chain.CreateAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create ledger account: %w", err)
	}

	issuer := &Issuer{Username: username, Address: acct.Address, PrivateKey: acct.PrivateKey}
	if err := s.db.WithContext(ctx).Create(issuer).Error; err != nil {
		return nil, fmt.Errorf("could not persist issuer: %w", err)
	}

	s.logger.Info("registered issuer",
		zap.Uint("issuer_id", issuer.ID),
		zap.String("address", issuer.Address))
	return issuer, nil
}

// RegisterCollector creates a collector with a fresh ledger account.
func (s *Service) RegisterCollector(ctx context.Context, username string) (*Collector, error) {
	acct, err := s.chain.CreateAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create ledger account: %w", err)
	}

	collector := &Collector{Username: username, Address: acct.Address, PrivateKey: acct.PrivateKey}
	if err := s.db.WithContext(ctx).Create(collector).Error; err != nil {
		return nil, fmt.Errorf("could not persist collector: %w", err)
	}

	s.logger.Info("registered collector",
		zap.Uint("collector_id", collector.ID),
		zap.String("address", collector.Address))
	return collector, nil
}

// GetCollector looks up a collector by id.
func (s *Service) GetCollector(ctx context.Context, id uint) (*Collector, error) {
	var collector Collector
	if err := s.db.WithContext(ctx).First(&collector, id).Error; err != nil {
		return nil, fmt.Errorf("collector %d not found: %w", id, err)
	}
	return &collector, nil
}

// GetIssuer looks up an issuer by id.
func (s *Service) GetIssuer(ctx context.Context, id uint) (*Issuer, error) {
	var issuer Issuer
	if err := s.db.WithContext(ctx).First(&issuer, id).Error; err != nil {
		return nil, fmt.Errorf("issuer %d not found: %w", id, err)
	}
	return &issuer, nil
}
