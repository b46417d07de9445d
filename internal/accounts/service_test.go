package accounts

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/pkg/chain"
)

// mockChainClient stubs the one ledger call registration makes; the
// embedded interface panics on anything else.
type mockChainClient struct {
	chain.Client
	mock.Mock
}

func (m *mockChainClient) CreateAccount(ctx context.Context) (chain.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(chain.Account), args.Error(1)
}

func openTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Issuer{}, &Collector{}))
	return db
}

func TestRegisterIssuer(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := NewService(db, chainClient, zap.NewNop())

	chainClient.On("CreateAccount", mock.Anything).
		Return(chain.Account{Address: "0xacc", PrivateKey: "kacc"}, nil)

	issuer, err := service.RegisterIssuer(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", issuer.Username)
	assert.Equal(t, "0xacc", issuer.Address)

	got, err := service.GetIssuer(context.Background(), issuer.ID)
	require.NoError(t, err)
	assert.Equal(t, issuer.Username, got.Username)
}

func TestRegisterCollector(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := NewService(db, chainClient, zap.NewNop())

	chainClient.On("CreateAccount", mock.Anything).
		Return(chain.Account{Address: "0xc0", PrivateKey: "kc0"}, nil)

	collector, err := service.RegisterCollector(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "0xc0", collector.Address)

	// Usernames are unique.
	_, err = service.RegisterCollector(context.Background(), "alice")
	assert.Error(t, err)
}

func TestRegisterIssuerLedgerFailure(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := NewService(db, chainClient, zap.NewNop())

	chainClient.On("CreateAccount", mock.Anything).
		Return(chain.Account{}, chain.NewError(assert.AnError, "node unreachable"))

	_, err := service.RegisterIssuer(context.Background(), "acme")
	assert.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&Issuer{}).Count(&count).Error)
	assert.Zero(t, count)
}
