package catalog

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/auth"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

type mockChainClient struct {
	mock.Mock
}

func (m *mockChainClient) CreateAccount(ctx context.Context) (chain.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(chain.Account), args.Error(1)
}

func (m *mockChainClient) IssueCollection(ctx context.Context, req chain.IssueRequest) (*chain.IssueResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.IssueResult), args.Error(1)
}

func (m *mockChainClient) CheckDeployment(ctx context.Context, txHash string) (*chain.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.Receipt), args.Error(1)
}

func (m *mockChainClient) ClaimToken(ctx context.Context, req chain.ClaimRequest) (*chain.Submission, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.Submission), args.Error(1)
}

func (m *mockChainClient) CheckClaim(ctx context.Context, txHash string) (*chain.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.Receipt), args.Error(1)
}

func (m *mockChainClient) OwnerOfToken(ctx context.Context, addr, abiJSON string, tokenID int64) (string, error) {
	args := m.Called(ctx, addr, abiJSON, tokenID)
	return args.String(0), args.Error(1)
}

func (m *mockChainClient) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockChainClient) TransferCurrency(ctx context.Context, amount *big.Int, fromAddr, toAddr, fromKey string) error {
	args := m.Called(ctx, amount, fromAddr, toAddr, fromKey)
	return args.Error(0)
}

func (m *mockChainClient) TransferToken(ctx context.Context, req chain.TransferRequest) (*chain.Submission, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.Submission), args.Error(1)
}

func seedIssuer(t *testing.T, db *gorm.DB) *accounts.Issuer {
	issuer := &accounts.Issuer{Username: "acme", Address: "0x15504e4", PrivateKey: "ki"}
	require.NoError(t, db.Create(issuer).Error)
	return issuer
}

func newIssuanceService(t *testing.T, db *gorm.DB, chainClient chain.Client) *IssuanceService {
	tokens := auth.NewManager("test-secret", 0)
	return NewIssuanceService(db, chainClient, tokens, t.TempDir(), zap.NewNop())
}

func TestIssueCollection(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := newIssuanceService(t, db, chainClient)
	issuer := seedIssuer(t, db)

	chainClient.On("IssueCollection", mock.Anything, mock.MatchedBy(func(req chain.IssueRequest) bool {
		return req.IssuerAddress == issuer.Address && req.NumTokens == 3 &&
			len(req.CodeConstraints) == 1 && len(req.DateConstraints) == 2
	})).Return(&chain.IssueResult{
		TxHash:   "0xdeploy",
		ABI:      `[]`,
		GasPrice: big.NewInt(9),
	}, nil)

	collection, err := service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name:        "Launch Drop",
		Description: "first run",
		NumTokens:   3,
		Tradable:    true,
		Constraints: &ConstraintsRequest{
			Codes: []string{"123ABC"},
			Windows: []TimeWindowRequest{{
				Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			}},
		},
	}, issuer.ID)
	require.NoError(t, err)

	assert.Equal(t, CollectionPending, collection.Status)
	assert.Equal(t, "0xdeploy", collection.DeployTxHash)
	assert.EqualValues(t, 9, collection.GasPrice)

	var tokens []Token
	require.NoError(t, db.Where("collection_id = ?", collection.ID).Order("chain_token_id").Find(&tokens).Error)
	require.Len(t, tokens, 3)
	for i, token := range tokens {
		assert.EqualValues(t, i+1, token.ChainTokenID)
		assert.Equal(t, TokenUnclaimed, token.Status)
		assert.Nil(t, token.OwnerID)
	}

	var codeCount, windowCount int64
	require.NoError(t, db.Model(&CodeConstraint{}).Where("collection_id = ?", collection.ID).Count(&codeCount).Error)
	require.NoError(t, db.Model(&TimeConstraint{}).Where("collection_id = ?", collection.ID).Count(&windowCount).Error)
	assert.EqualValues(t, 1, codeCount)
	assert.EqualValues(t, 1, windowCount)
	chainClient.AssertExpectations(t)
}

func TestIssueCollectionQRCodes(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := newIssuanceService(t, db, chainClient)
	issuer := seedIssuer(t, db)

	chainClient.On("IssueCollection", mock.Anything, mock.Anything).Return(&chain.IssueResult{
		TxHash:   "0xdeploy",
		ABI:      `[]`,
		GasPrice: big.NewInt(9),
	}, nil)

	collection, err := service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name:        "Scan Drop",
		Description: "qr run",
		NumTokens:   2,
		QRClaimable: true,
	}, issuer.ID)
	require.NoError(t, err)

	var tokens []Token
	require.NoError(t, db.Where("collection_id = ?", collection.ID).Find(&tokens).Error)
	require.Len(t, tokens, 2)
	for _, token := range tokens {
		require.NotEmpty(t, token.QRCodePath)
		_, err := os.Stat(token.QRCodePath)
		assert.NoError(t, err, "qr png should exist for token %d", token.ID)
	}
}

func TestIssueCollectionValidation(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := newIssuanceService(t, db, chainClient)
	issuer := seedIssuer(t, db)

	_, err := service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name: "too big", Description: "d", NumTokens: MaxTokensPerCollection + 1,
	}, issuer.ID)
	assert.Error(t, err)

	_, err = service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name: "both", Description: "d", NumTokens: 1,
		QRClaimable: true,
		Constraints: &ConstraintsRequest{Codes: []string{"123ABC"}},
	}, issuer.ID)
	assert.Error(t, err)

	_, err = service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name: "bad code", Description: "d", NumTokens: 1,
		Constraints: &ConstraintsRequest{Codes: []string{"not a code"}},
	}, issuer.ID)
	assert.Error(t, err)

	// Validation failures never reach the ledger.
	chainClient.AssertNotCalled(t, "IssueCollection", mock.Anything, mock.Anything)

	var count int64
	require.NoError(t, db.Model(&TokenCollection{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIssueCollectionDeployFailure(t *testing.T) {
	db := openTestDB(t)
	chainClient := new(mockChainClient)
	service := newIssuanceService(t, db, chainClient)
	issuer := seedIssuer(t, db)

	chainClient.On("IssueCollection", mock.Anything, mock.Anything).
		Return(nil, chain.NewError(assert.AnError, "node unreachable"))

	_, err := service.IssueCollection(context.Background(), IssueCollectionRequest{
		Name: "doomed", Description: "d", NumTokens: 1,
	}, issuer.ID)
	assert.Error(t, err)

	// Deploy failure leaves no local rows behind.
	var count int64
	require.NoError(t, db.Model(&TokenCollection{}).Count(&count).Error)
	assert.Zero(t, count)
}
