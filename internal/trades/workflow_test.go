package trades

import (
	"context"
	"math/big"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/catalog"
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

type fixture struct {
	db         *gorm.DB
	chain      *mockChainClient
	workflow   *Workflow
	trader     *accounts.Collector
	tradee     *accounts.Collector
	collection *catalog.TokenCollection
	traderTok  *catalog.Token
	tradeeTok  *catalog.Token
}

func newFixture(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accounts.Issuer{}, &accounts.Collector{},
		&catalog.TokenCollection{}, &catalog.Token{},
		&TradeRequest{}, &TradeItem{},
	))

	f := &fixture{db: db, chain: new(mockChainClient)}
	f.workflow = NewWorkflow(db, f.chain, zap.NewNop())

	f.trader = &accounts.Collector{Username: "alice", Address: "0xa11ce", PrivateKey: "ka"}
	f.tradee = &accounts.Collector{Username: "bob", Address: "0xb0b", PrivateKey: "kb"}
	require.NoError(t, db.Create(f.trader).Error)
	require.NoError(t, db.Create(f.tradee).Error)

	f.collection = &catalog.TokenCollection{
		IssuerID:  1,
		Name:      "Tradables",
		NumMinted: 2,
		Tradable:  true,
		Status:    catalog.CollectionSettled,
		Address:   "0xc011ec710",
		ABI:       datatypes.JSON(`[]`),
	}
	require.NoError(t, db.Create(f.collection).Error)

	f.traderTok = claimedToken(t, db, f.collection.ID, 1, f.trader.ID)
	f.tradeeTok = claimedToken(t, db, f.collection.ID, 2, f.tradee.ID)
	return f
}

func claimedToken(t *testing.T, db *gorm.DB, collectionID uint, chainID int64, ownerID uint) *catalog.Token {
	token := &catalog.Token{
		CollectionID: collectionID,
		ChainTokenID: chainID,
		OwnerID:      &ownerID,
		Status:       catalog.TokenClaimed,
	}
	require.NoError(t, db.Create(token).Error)
	return token
}

func (f *fixture) propose(t *testing.T) *TradeRequest {
	id, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:    f.trader.ID,
		TradeeID:    f.tradee.ID,
		TraderItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.traderTok.ID}},
		TradeeItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.tradeeTok.ID}},
	})
	require.NoError(t, err)
	require.True(t, result.OK, result.Message)

	var trade TradeRequest
	require.NoError(t, f.db.Preload("Items").First(&trade, "id = ?", id).Error)
	return &trade
}

func (f *fixture) ownerOf(t *testing.T, tokenID uint) uint {
	var token catalog.Token
	require.NoError(t, f.db.First(&token, tokenID).Error)
	require.NotNil(t, token.OwnerID)
	return *token.OwnerID
}

func TestProposeRecordsOfferSnapshots(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	assert.Equal(t, TradeRequested, trade.Status)
	require.Len(t, trade.Items, 2)
	assert.Equal(t, f.trader.ID, trade.Items[0].OfferedByID)
	assert.Equal(t, f.tradee.ID, trade.Items[1].OfferedByID)
}

func TestProposeRejectsUnownedToken(t *testing.T) {
	f := newFixture(t)

	_, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:    f.trader.ID,
		TradeeID:    f.tradee.ID,
		TraderItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.tradeeTok.ID}},
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeItemNotOwned, result.Code)
}

func TestProposeRejectsPendingToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&catalog.Token{}).
		Where("id = ?", f.traderTok.ID).
		Update("status", catalog.TokenPendingClaim).Error)

	_, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:    f.trader.ID,
		TradeeID:    f.tradee.ID,
		TraderItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.traderTok.ID}},
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeItemNotOwned, result.Code)
}

func TestProposeRejectsUntradableCollection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&catalog.TokenCollection{}).
		Where("id = ?", f.collection.ID).
		Update("tradable", false).Error)

	_, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:    f.trader.ID,
		TradeeID:    f.tradee.ID,
		TraderItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.traderTok.ID}},
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeCollectionUntradable, result.Code)
}

func TestProposeRejectsTokenInActiveTrade(t *testing.T) {
	f := newFixture(t)
	f.propose(t)

	_, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:    f.trader.ID,
		TradeeID:    f.tradee.ID,
		TraderItems: []ItemRef{{CollectionID: f.collection.ID, TokenID: f.traderTok.ID}},
	})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeItemAlreadyInTrade, result.Code)
}

func TestAcceptFlipsOwnershipAndSettles(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	f.chain.On("OwnerOfToken", mock.Anything, f.collection.Address, mock.Anything, int64(1)).
		Return(f.trader.Address, nil)
	f.chain.On("OwnerOfToken", mock.Anything, f.collection.Address, mock.Anything, int64(2)).
		Return(f.tradee.Address, nil)
	f.chain.On("TransferToken", mock.Anything, mock.MatchedBy(func(req chain.TransferRequest) bool {
		return req.TokenID == 1 && req.FromAddress == f.trader.Address && req.ToAddress == f.tradee.Address
	})).Return(&chain.Submission{TxHash: "0xt1", GasPrice: big.NewInt(1)}, nil)
	f.chain.On("TransferToken", mock.Anything, mock.MatchedBy(func(req chain.TransferRequest) bool {
		return req.TokenID == 2 && req.FromAddress == f.tradee.Address && req.ToAddress == f.trader.Address
	})).Return(&chain.Submission{TxHash: "0xt2", GasPrice: big.NewInt(1)}, nil)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.True(t, result.OK, result.Message)

	var settled TradeRequest
	require.NoError(t, f.db.Preload("Items").First(&settled, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeSettling, settled.Status)
	for _, item := range settled.Items {
		assert.NotEmpty(t, item.TransferTxHash)
	}

	// Local ownership flipped; chain confirmation is the reconciler's job.
	assert.Equal(t, f.tradee.ID, f.ownerOf(t, f.traderTok.ID))
	assert.Equal(t, f.trader.ID, f.ownerOf(t, f.tradeeTok.ID))
	f.chain.AssertExpectations(t)
}

func TestAcceptInvalidatesConflictingTrades(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	// A competing trade over the same token, proposed the other way
	// around, must be swept Invalid when this one settles.
	conflicting := &TradeRequest{
		TraderID: f.tradee.ID,
		TradeeID: f.trader.ID,
		Status:   TradeRequested,
		Items: []TradeItem{{
			CollectionID: f.collection.ID,
			TokenID:      f.traderTok.ID,
			OfferedByID:  f.trader.ID,
		}},
	}
	require.NoError(t, f.db.Create(conflicting).Error)

	f.chain.On("OwnerOfToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(f.trader.Address, nil).Once()
	f.chain.On("OwnerOfToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(f.tradee.Address, nil).Once()
	f.chain.On("TransferToken", mock.Anything, mock.Anything).
		Return(&chain.Submission{TxHash: "0xt", GasPrice: big.NewInt(1)}, nil)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	require.True(t, result.OK, result.Message)

	var swept TradeRequest
	require.NoError(t, f.db.First(&swept, "id = ?", conflicting.ID).Error)
	assert.Equal(t, TradeInvalid, swept.Status)
}

func TestAcceptStaleOwnershipInvalidates(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	// The trader's token changed hands after the proposal.
	require.NoError(t, f.db.Model(&catalog.Token{}).
		Where("id = ?", f.traderTok.ID).
		Update("owner_id", f.tradee.ID).Error)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeStaleOwnership, result.Code)

	var invalid TradeRequest
	require.NoError(t, f.db.First(&invalid, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeInvalid, invalid.Status)

	// No ownership side effects on the untouched token.
	assert.Equal(t, f.tradee.ID, f.ownerOf(t, f.tradeeTok.ID))
}

// A token that left the portal between proposal and acceptance has no
// owner anymore; the trade must invalidate instead of settling.
func TestAcceptAfterExternalTransferInvalidates(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	require.NoError(t, f.db.Model(&catalog.Token{}).
		Where("id = ?", f.traderTok.ID).
		Updates(map[string]interface{}{
			"status":   catalog.TokenExternal,
			"owner_id": nil,
		}).Error)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeStaleOwnership, result.Code)

	var invalid TradeRequest
	require.NoError(t, f.db.First(&invalid, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeInvalid, invalid.Status)
	f.chain.AssertNotCalled(t, "TransferToken", mock.Anything, mock.Anything)
}

func TestAcceptWrongParty(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.trader.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeNotParty, result.Code)
}

func TestAcceptClosedTrade(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)
	require.NoError(t, f.db.Model(&TradeRequest{}).
		Where("id = ?", trade.ID).
		Update("status", TradeDeclined).Error)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeWrongStatus, result.Code)
}

func TestAcceptInsufficientBalanceFailsAndReverts(t *testing.T) {
	f := newFixture(t)

	id, result, err := f.workflow.Propose(context.Background(), ProposeRequest{
		TraderID:       f.trader.ID,
		TradeeID:       f.tradee.ID,
		TraderOfferWei: 100,
		TraderItems:    []ItemRef{{CollectionID: f.collection.ID, TokenID: f.traderTok.ID}},
	})
	require.NoError(t, err)
	require.True(t, result.OK)

	f.chain.On("BalanceOf", mock.Anything, f.trader.Address).Return(big.NewInt(50), nil)

	result, err = f.workflow.Accept(context.Background(), id, f.tradee.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeInsufficientBalance, result.Code)

	var trade TradeRequest
	require.NoError(t, f.db.First(&trade, "id = ?", id).Error)
	assert.Equal(t, TradeFailed, trade.Status)

	// Nothing was submitted, so the provisional flip is undone.
	assert.Equal(t, f.trader.ID, f.ownerOf(t, f.traderTok.ID))
	f.chain.AssertNotCalled(t, "TransferToken", mock.Anything, mock.Anything)
	f.chain.AssertNotCalled(t, "TransferCurrency",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptLedgerOwnershipMismatchFails(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	// The ledger says someone else holds the trader's token.
	f.chain.On("OwnerOfToken", mock.Anything, f.collection.Address, mock.Anything, int64(1)).
		Return("0xstranger", nil)

	result, err := f.workflow.Accept(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeStaleOwnership, result.Code)

	var failed TradeRequest
	require.NoError(t, f.db.First(&failed, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeFailed, failed.Status)
	assert.Equal(t, f.trader.ID, f.ownerOf(t, f.traderTok.ID))
	assert.Equal(t, f.tradee.ID, f.ownerOf(t, f.tradeeTok.ID))
}

func TestDeclineAndCancelGuards(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	// Only the tradee can decline.
	result, err := f.workflow.Decline(context.Background(), trade.ID, f.trader.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeWrongStatus, result.Code)

	result, err = f.workflow.Decline(context.Background(), trade.ID, f.tradee.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)

	var declined TradeRequest
	require.NoError(t, f.db.First(&declined, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeDeclined, declined.Status)

	// Closed trades accept no further actions.
	result, err = f.workflow.Cancel(context.Background(), trade.ID, f.trader.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeWrongStatus, result.Code)
}

func TestCancelByTrader(t *testing.T) {
	f := newFixture(t)
	trade := f.propose(t)

	result, err := f.workflow.Cancel(context.Background(), trade.ID, f.trader.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)

	var canceled TradeRequest
	require.NoError(t, f.db.First(&canceled, "id = ?", trade.ID).Error)
	assert.Equal(t, TradeCanceled, canceled.Status)

	// Tokens were never touched.
	assert.Equal(t, f.trader.ID, f.ownerOf(t, f.traderTok.ID))
	assert.Equal(t, f.tradee.ID, f.ownerOf(t, f.tradeeTok.ID))
}
