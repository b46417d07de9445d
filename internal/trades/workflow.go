package trades

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

// Error codes returned to clients for rejected trade operations.
const (
	CodeItemNotOwned         = 201
	CodeCollectionUntradable = 202
	CodeItemAlreadyInTrade   = 203
	CodeNotParty             = 204
	CodeWrongStatus          = 205
	CodeStaleOwnership       = 206
	CodeInsufficientBalance  = 207
	CodeChainSubmitFailed    = 208
)

// Result is the caller-visible outcome of a trade operation.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// ItemRef identifies one offered token.
type ItemRef struct {
	CollectionID uint `json:"collection_id" binding:"required"`
	TokenID      uint `json:"token_id" binding:"required"`
}

// ProposeRequest is a new trade proposal. Offer amounts are wei.
type ProposeRequest struct {
	TraderID       uint
	TradeeID       uint
	TraderOfferWei int64
	TradeeOfferWei int64
	TraderItems    []ItemRef
	TradeeItems    []ItemRef
}

// Workflow drives the two-party trade negotiation and settlement state
// machine.
type Workflow struct {
	db     *gorm.DB
	chain  chain.Client
	logger *zap.Logger
}

// NewWorkflow creates a trade workflow over the given session and chain
// client.
func NewWorkflow(db *gorm.DB, chainClient chain.Client, logger *zap.Logger) *Workflow {
	return &Workflow{db: db, chain: chainClient, logger: logger}
}

func rejected(message string, code int) Result {
	return Result{OK: false, Message: message, Code: code}
}

// Propose validates and persists a new trade request. Every offered
// token must currently be owned by its offering party, its collection
// must be tradable, and it must not be committed to another active
// trade.
func (w *Workflow) Propose(ctx context.Context, req ProposeRequest) (uuid.UUID, Result, error) {
	if len(req.TraderItems)+len(req.TradeeItems) == 0 {
		return uuid.Nil, rejected("A trade must contain at least one item.", CodeItemNotOwned), nil
	}

	items := make([]TradeItem, 0, len(req.TraderItems)+len(req.TradeeItems))
	for _, ref := range req.TraderItems {
		item, result, err := w.validateOffer(ctx, ref, req.TraderID)
		if err != nil || !result.OK {
			return uuid.Nil, result, err
		}
		items = append(items, *item)
	}
	for _, ref := range req.TradeeItems {
		item, result, err := w.validateOffer(ctx, ref, req.TradeeID)
		if err != nil || !result.OK {
			return uuid.Nil, result, err
		}
		items = append(items, *item)
	}

	trade := &TradeRequest{
		TraderID:       req.TraderID,
		TradeeID:       req.TradeeID,
		TraderOfferWei: req.TraderOfferWei,
		TradeeOfferWei: req.TradeeOfferWei,
		Status:         TradeRequested,
		Items:          items,
	}
	if err := w.db.WithContext(ctx).Create(trade).Error; err != nil {
		return uuid.Nil, Result{}, fmt.Errorf("could not persist trade request: %w", err)
	}

	w.logger.Info("trade proposed",
		zap.String("trade_id", trade.ID.String()),
		zap.Uint("trader_id", req.TraderID),
		zap.Uint("tradee_id", req.TradeeID),
		zap.Int("num_items", len(items)))
	return trade.ID, Result{OK: true, Message: "Trade request sent."}, nil
}

// validateOffer checks one offered token for the proposing party.
func (w *Workflow) validateOffer(ctx context.Context, ref ItemRef, offeredBy uint) (*TradeItem, Result, error) {
	var token catalog.Token
	err := w.db.WithContext(ctx).
		Where("id = ? AND collection_id = ?", ref.TokenID, ref.CollectionID).
		First(&token).Error
	if err == gorm.ErrRecordNotFound {
		return nil, rejected("Offered token is not owned by the offering party.", CodeItemNotOwned), nil
	}
	if err != nil {
		return nil, Result{}, fmt.Errorf("could not load token %d: %w", ref.TokenID, err)
	}
	if token.OwnerID == nil || *token.OwnerID != offeredBy || token.Status != catalog.TokenClaimed {
		return nil, rejected("Offered token is not owned by the offering party.", CodeItemNotOwned), nil
	}

	var collection catalog.TokenCollection
	if err := w.db.WithContext(ctx).First(&collection, ref.CollectionID).Error; err != nil {
		return nil, Result{}, fmt.Errorf("could not load collection %d: %w", ref.CollectionID, err)
	}
	if !collection.Tradable {
		return nil, rejected("Offered token's collection is not tradable.", CodeCollectionUntradable), nil
	}

	var count int64
	err = w.db.WithContext(ctx).Model(&TradeItem{}).
		Joins("JOIN trade_requests ON trade_requests.id = trade_items.trade_request_id").
		Where("trade_items.token_id = ? AND trade_requests.status IN ?", ref.TokenID, activeStatuses).
		Count(&count).Error
	if err != nil {
		return nil, Result{}, fmt.Errorf("could not check active trades for token %d: %w", ref.TokenID, err)
	}
	if count > 0 {
		return nil, rejected("Offered token is already part of an active trade.", CodeItemAlreadyInTrade), nil
	}

	return &TradeItem{
		CollectionID: ref.CollectionID,
		TokenID:      ref.TokenID,
		OfferedByID:  offeredBy,
	}, Result{OK: true}, nil
}

// Accept settles a trade. Ownership of every item is re-validated
// against current state; any mismatch invalidates the whole trade with
// no side effects. On success, conflicting trades are invalidated and
// local ownership flips inside one transaction before the chain
// transfers are submitted; the trade then stays Settling until the
// reconciliation job confirms every transfer.
func (w *Workflow) Accept(ctx context.Context, tradeID uuid.UUID, tradeeID uint) (Result, error) {
	var trade TradeRequest
	err := w.db.WithContext(ctx).Preload("Items").First(&trade, "id = ?", tradeID).Error
	if err == gorm.ErrRecordNotFound {
		return rejected("Trade request not found.", CodeWrongStatus), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("could not load trade %s: %w", tradeID, err)
	}
	if trade.TradeeID != tradeeID {
		return rejected("Not allowed to accept this trade request.", CodeNotParty), nil
	}
	if !canTransition(trade.Status, TradeSettling) {
		return rejected("Trade request is no longer open.", CodeWrongStatus), nil
	}

	// All-or-nothing ownership re-validation against current state, not
	// the snapshot taken at proposal time.
	for i := range trade.Items {
		var token catalog.Token
		if err := w.db.WithContext(ctx).First(&token, trade.Items[i].TokenID).Error; err != nil {
			return Result{}, fmt.Errorf("could not load token %d: %w", trade.Items[i].TokenID, err)
		}
		if token.OwnerID == nil || *token.OwnerID != trade.Items[i].OfferedByID {
			if err := w.markInvalid(ctx, &trade); err != nil {
				return Result{}, err
			}
			return rejected("Trade is no longer valid; token ownership has changed.", CodeStaleOwnership), nil
		}
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Invalidate every other active trade sharing a token before the
		// ownership flip; token commitment is exclusive.
		if err := invalidateConflicting(tx, &trade); err != nil {
			return err
		}
		if err := applyOwnership(tx, &trade); err != nil {
			return err
		}

		res := tx.Model(&TradeRequest{}).
			Where("id = ? AND status = ?", trade.ID, TradeRequested).
			Update("status", TradeSettling)
		if res.Error != nil {
			return fmt.Errorf("could not mark trade settling: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("trade %s status update affected %d rows", trade.ID, res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	trade.Status = TradeSettling

	result, err := w.settleOnChain(ctx, &trade)
	if err != nil || !result.OK {
		return result, err
	}

	w.logger.Info("trade accepted, settlement pending",
		zap.String("trade_id", trade.ID.String()),
		zap.Int("num_items", len(trade.Items)))
	return Result{OK: true, Message: "Trade accepted; chain settlement pending."}, nil
}

// settleOnChain validates balances and on-chain ownership, then submits
// the currency and token transfers. Validation failures before any
// submission are terminal: the local flip is reverted and the trade
// marked Failed. A fault after the first submission leaves the trade
// Settling for reconciliation, so submitted transfers are never lost.
func (w *Workflow) settleOnChain(ctx context.Context, trade *TradeRequest) (Result, error) {
	var trader, tradee accounts.Collector
	if err := w.db.WithContext(ctx).First(&trader, trade.TraderID).Error; err != nil {
		return Result{}, fmt.Errorf("trader %d not found: %w", trade.TraderID, err)
	}
	if err := w.db.WithContext(ctx).First(&tradee, trade.TradeeID).Error; err != nil {
		return Result{}, fmt.Errorf("tradee %d not found: %w", trade.TradeeID, err)
	}

	type currencyLeg struct {
		amount   *big.Int
		from, to *accounts.Collector
	}
	var legs []currencyLeg
	if trade.TraderOfferWei > 0 {
		legs = append(legs, currencyLeg{big.NewInt(trade.TraderOfferWei), &trader, &tradee})
	}
	if trade.TradeeOfferWei > 0 {
		legs = append(legs, currencyLeg{big.NewInt(trade.TradeeOfferWei), &tradee, &trader})
	}

	// Pre-submission validation: balances cover the offers and the
	// ledger agrees on who owns each token.
	for _, leg := range legs {
		balance, err := w.chain.BalanceOf(ctx, leg.from.Address)
		if err != nil {
			return w.failBeforeSubmission(ctx, trade, "Could not verify ledger balance.", CodeChainSubmitFailed)
		}
		if balance.Cmp(leg.amount) < 0 {
			return w.failBeforeSubmission(ctx, trade, "Ledger balance does not cover the currency offer.", CodeInsufficientBalance)
		}
	}

	collections := map[uint]*catalog.TokenCollection{}
	for i := range trade.Items {
		item := &trade.Items[i]
		collection, ok := collections[item.CollectionID]
		if !ok {
			collection = &catalog.TokenCollection{}
			if err := w.db.WithContext(ctx).First(collection, item.CollectionID).Error; err != nil {
				return Result{}, fmt.Errorf("could not load collection %d: %w", item.CollectionID, err)
			}
			collections[item.CollectionID] = collection
		}

		var token catalog.Token
		if err := w.db.WithContext(ctx).First(&token, item.TokenID).Error; err != nil {
			return Result{}, fmt.Errorf("could not load token %d: %w", item.TokenID, err)
		}

		fromAddr := trader.Address
		if item.OfferedByID == trade.TradeeID {
			fromAddr = tradee.Address
		}
		owner, err := w.chain.OwnerOfToken(ctx, collection.Address, string(collection.ABI), token.ChainTokenID)
		if err != nil || owner != fromAddr {
			return w.failBeforeSubmission(ctx, trade, "Ledger ownership does not match the trade.", CodeStaleOwnership)
		}
	}

	// Submission phase: from here on faults leave the trade Settling.
	for _, leg := range legs {
		if err := w.chain.TransferCurrency(ctx, leg.amount, leg.from.Address, leg.to.Address, leg.from.PrivateKey); err != nil {
			w.logger.Error("currency transfer failed, trade left settling",
				zap.String("trade_id", trade.ID.String()),
				zap.Error(err))
			return rejected("Trade settlement could not complete; it will be reconciled shortly.", CodeChainSubmitFailed), nil
		}
	}

	for i := range trade.Items {
		item := &trade.Items[i]
		collection := collections[item.CollectionID]

		var token catalog.Token
		if err := w.db.WithContext(ctx).First(&token, item.TokenID).Error; err != nil {
			return Result{}, fmt.Errorf("could not load token %d: %w", item.TokenID, err)
		}

		from, to := &trader, &tradee
		if item.OfferedByID == trade.TradeeID {
			from, to = &tradee, &trader
		}

		sub, err := w.chain.TransferToken(ctx, chain.TransferRequest{
			ContractAddress: collection.Address,
			ABI:             string(collection.ABI),
			TokenID:         token.ChainTokenID,
			FromAddress:     from.Address,
			ToAddress:       to.Address,
			FromKey:         from.PrivateKey,
		})
		if err != nil {
			w.logger.Error("token transfer failed, trade left settling",
				zap.String("trade_id", trade.ID.String()),
				zap.Uint("token_id", item.TokenID),
				zap.Error(err))
			return rejected("Trade settlement could not complete; it will be reconciled shortly.", CodeChainSubmitFailed), nil
		}

		if err := w.db.WithContext(ctx).Model(&TradeItem{}).
			Where("id = ?", item.ID).
			Update("transfer_tx_hash", sub.TxHash).Error; err != nil {
			return Result{}, fmt.Errorf("could not record transfer submission: %w", err)
		}
		item.TransferTxHash = sub.TxHash
	}

	return Result{OK: true}, nil
}

// failBeforeSubmission reverts the local ownership flip and marks the
// trade Failed. Only safe while no chain transfer has been submitted.
func (w *Workflow) failBeforeSubmission(ctx context.Context, trade *TradeRequest, message string, code int) (Result, error) {
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := RevertOwnership(tx, trade); err != nil {
			return err
		}
		res := tx.Model(&TradeRequest{}).
			Where("id = ? AND status = ?", trade.ID, TradeSettling).
			Update("status", TradeFailed)
		if res.Error != nil {
			return fmt.Errorf("could not mark trade failed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("trade %s status update affected %d rows", trade.ID, res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return rejected(message, code), nil
}

func (w *Workflow) markInvalid(ctx context.Context, trade *TradeRequest) error {
	res := w.db.WithContext(ctx).Model(&TradeRequest{}).
		Where("id = ? AND status = ?", trade.ID, TradeRequested).
		Update("status", TradeInvalid)
	if res.Error != nil {
		return fmt.Errorf("could not invalidate trade %s: %w", trade.ID, res.Error)
	}
	return nil
}

// invalidateConflicting marks every other active trade sharing a token
// with this one Invalid, scoped by token identity.
func invalidateConflicting(tx *gorm.DB, trade *TradeRequest) error {
	tokenIDs := make([]uint, len(trade.Items))
	for i := range trade.Items {
		tokenIDs[i] = trade.Items[i].TokenID
	}

	sub := tx.Model(&TradeItem{}).Select("trade_request_id").Where("token_id IN ?", tokenIDs)
	err := tx.Model(&TradeRequest{}).
		Where("id <> ? AND status IN ? AND id IN (?)", trade.ID, activeStatuses, sub).
		Update("status", TradeInvalid).Error
	if err != nil {
		return fmt.Errorf("could not invalidate conflicting trades: %w", err)
	}
	return nil
}

// applyOwnership flips each item's token to the opposite party. Every
// update must hit exactly one row or the whole transaction rolls back.
func applyOwnership(tx *gorm.DB, trade *TradeRequest) error {
	for i := range trade.Items {
		item := &trade.Items[i]
		newOwner := trade.TradeeID
		if item.OfferedByID == trade.TradeeID {
			newOwner = trade.TraderID
		}

		res := tx.Model(&catalog.Token{}).
			Where("id = ? AND owner_id = ?", item.TokenID, item.OfferedByID).
			Update("owner_id", newOwner)
		if res.Error != nil {
			return fmt.Errorf("could not transfer token %d: %w", item.TokenID, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("ownership flip for token %d affected %d rows", item.TokenID, res.RowsAffected)
		}
	}
	return nil
}

// RevertOwnership undoes applyOwnership, returning each token to the
// party that offered it. Used when settlement fails.
func RevertOwnership(tx *gorm.DB, trade *TradeRequest) error {
	for i := range trade.Items {
		item := &trade.Items[i]
		current := trade.TradeeID
		if item.OfferedByID == trade.TradeeID {
			current = trade.TraderID
		}

		res := tx.Model(&catalog.Token{}).
			Where("id = ? AND owner_id = ?", item.TokenID, current).
			Update("owner_id", item.OfferedByID)
		if res.Error != nil {
			return fmt.Errorf("could not revert token %d: %w", item.TokenID, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("ownership revert for token %d affected %d rows", item.TokenID, res.RowsAffected)
		}
	}
	return nil
}

// Decline rejects a trade. Only the tradee may decline, only from
// Requested; a status flip with no ownership or chain effects.
func (w *Workflow) Decline(ctx context.Context, tradeID uuid.UUID, tradeeID uint) (Result, error) {
	return w.close(ctx, tradeID, "tradee_id", tradeeID, TradeDeclined, "Trade declined.")
}

// Cancel withdraws a trade. Only the trader may cancel, only from
// Requested.
func (w *Workflow) Cancel(ctx context.Context, tradeID uuid.UUID, traderID uint) (Result, error) {
	return w.close(ctx, tradeID, "trader_id", traderID, TradeCanceled, "Trade canceled.")
}

func (w *Workflow) close(ctx context.Context, tradeID uuid.UUID, partyColumn string, partyID uint, to TradeStatus, message string) (Result, error) {
	res := w.db.WithContext(ctx).Model(&TradeRequest{}).
		Where("id = ? AND status = ? AND "+partyColumn+" = ?", tradeID, TradeRequested, partyID).
		Update("status", to)
	if res.Error != nil {
		return Result{}, fmt.Errorf("could not close trade %s: %w", tradeID, res.Error)
	}
	if res.RowsAffected != 1 {
		return rejected("Trade request is not open for this action.", CodeWrongStatus), nil
	}
	return Result{OK: true, Message: message}, nil
}

// ListForCollector returns all trades the collector participates in.
func (w *Workflow) ListForCollector(ctx context.Context, collectorID uint) ([]TradeRequest, error) {
	var tradeList []TradeRequest
	err := w.db.WithContext(ctx).Preload("Items").
		Where("trader_id = ? OR tradee_id = ?", collectorID, collectorID).
		Order("created_at DESC").Find(&tradeList).Error
	if err != nil {
		return nil, fmt.Errorf("could not list trades: %w", err)
	}
	return tradeList, nil
}
