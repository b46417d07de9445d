package claims

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/pkg/chain"
	"toker/token-portal/token-portal-backend/pkg/geospatial"
)

// Error codes returned to clients so they can distinguish why a claim
// was rejected.
const (
	CodeInvalidClaimCode  = 101
	CodeOutsideTimeWindow = 102
	CodeOutsideGeofence   = 103
	CodeNoAvailableTokens = 104
	CodeAlreadyOwnsToken  = 105
	CodeNotQRClaimable    = 106
	CodeQRClaimOnly       = 107
	CodeChainSubmitFailed = 108
)

// reserveAttempts bounds how many candidate tokens a claim tries before
// reporting the collection exhausted.
const reserveAttempts = 3

// Result is the caller-visible outcome of a claim attempt.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Answers are the constraint responses submitted with a claim.
type Answers struct {
	Code     string            `json:"code"`
	Time     *time.Time        `json:"time"`
	Location *geospatial.Point `json:"location"`
}

// Request is one claim attempt against a collection.
type Request struct {
	CollectionID uint
	CollectorID  uint
	Location     *geospatial.Point
	Answers      Answers
}

// QRRequest is a claim of one specific token via its printed QR code.
type QRRequest struct {
	CollectionID uint
	TokenID      uint
	CollectorID  uint
	Location     *geospatial.Point
}

// Workflow drives the token-claim state machine: constraint gating,
// exclusive reservation, chain submission, deferred confirmation.
type Workflow struct {
	db        *gorm.DB
	chain     chain.Client
	evaluator *catalog.ConstraintEvaluator
	logger    *zap.Logger
}

// NewWorkflow creates a claim workflow over the given session and chain
// client.
func NewWorkflow(db *gorm.DB, chainClient chain.Client, logger *zap.Logger) *Workflow {
	return &Workflow{
		db:        db,
		chain:     chainClient,
		evaluator: catalog.NewConstraintEvaluator(db),
		logger:    logger,
	}
}

func rejected(message string, code int) Result {
	return Result{OK: false, Message: message, Code: code}
}

// Claim attempts to claim any available token in the collection. Checks
// short-circuit in order; every rejection is terminal with no side
// effects. Once a token is reserved a chain fault leaves the row
// PendingClaim for reconciliation rather than rolling it back, so a
// possibly-successful submission is never lost.
func (w *Workflow) Claim(ctx context.Context, req Request) (Result, error) {
	var collection catalog.TokenCollection
	if err := w.db.WithContext(ctx).First(&collection, req.CollectionID).Error; err != nil {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}
	if collection.QRClaimable {
		return rejected("This collection is claimable by QR code only.", CodeQRClaimOnly), nil
	}

	if !w.evaluator.ValidateUniqueCode(req.CollectionID, req.Answers.Code) {
		return rejected("Invalid claim code.", CodeInvalidClaimCode), nil
	}
	if !w.evaluator.ValidateTime(req.CollectionID, req.Answers.Time) {
		return rejected("Claim attempted outside the allowed time window.", CodeOutsideTimeWindow), nil
	}
	loc := req.Answers.Location
	if loc == nil {
		loc = req.Location
	}
	if !w.evaluator.ValidateLocation(req.CollectionID, loc) {
		return rejected("Claim attempted outside the allowed area.", CodeOutsideGeofence), nil
	}

	if collection.Status != catalog.CollectionSettled || collection.Address == "" {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	// Exhaustion is checked before ownership so an exhausted collection
	// answers the same for everyone, without fanning out ledger calls.
	var available int64
	err := w.db.WithContext(ctx).Model(&catalog.Token{}).
		Where("collection_id = ? AND status = ? AND owner_id IS NULL",
			req.CollectionID, catalog.TokenUnclaimed).
		Count(&available).Error
	if err != nil {
		return Result{}, fmt.Errorf("could not count available tokens: %w", err)
	}
	if available == 0 {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	var collector accounts.Collector
	if err := w.db.WithContext(ctx).First(&collector, req.CollectorID).Error; err != nil {
		return Result{}, fmt.Errorf("collector %d not found: %w", req.CollectorID, err)
	}

	owns, err := w.ownsTokenOnChain(ctx, &collection, collector.Address)
	if err != nil {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}
	if owns {
		return rejected("User already has token.", CodeAlreadyOwnsToken), nil
	}

	token, reserved, err := w.reserveAny(ctx, req, collector.ID)
	if err != nil {
		return Result{}, err
	}
	if !reserved {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	return w.submit(ctx, &collection, token, &collector, req.Answers.Code)
}

// ClaimByQR claims one specific token. Possession of the QR code is the
// credential, so constraint checks are skipped.
func (w *Workflow) ClaimByQR(ctx context.Context, req QRRequest) (Result, error) {
	var collection catalog.TokenCollection
	if err := w.db.WithContext(ctx).First(&collection, req.CollectionID).Error; err != nil {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}
	if !collection.QRClaimable {
		return rejected("This collection is not claimable by QR code.", CodeNotQRClaimable), nil
	}
	if collection.Status != catalog.CollectionSettled || collection.Address == "" {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	var collector accounts.Collector
	if err := w.db.WithContext(ctx).First(&collector, req.CollectorID).Error; err != nil {
		return Result{}, fmt.Errorf("collector %d not found: %w", req.CollectorID, err)
	}

	owns, err := w.ownsTokenOnChain(ctx, &collection, collector.Address)
	if err != nil {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}
	if owns {
		return rejected("User already has token.", CodeAlreadyOwnsToken), nil
	}

	var token catalog.Token
	if err := w.db.WithContext(ctx).
		Where("id = ? AND collection_id = ?", req.TokenID, req.CollectionID).
		First(&token).Error; err != nil {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	reserved, err := w.reserveExact(ctx, &token, req.CollectorID, req.Location, "")
	if err != nil {
		return Result{}, err
	}
	if !reserved {
		return rejected("No available tokens.", CodeNoAvailableTokens), nil
	}

	return w.submit(ctx, &collection, &token, &collector, "")
}

// ownsTokenOnChain asks the ledger whether the collector already holds a
// token of this collection. Only rows that ever left the unclaimed pool
// can be owned on-chain, so those are the ids checked. The ledger is
// authoritative here, not the local rows, to tolerate partial prior
// failures.
func (w *Workflow) ownsTokenOnChain(ctx context.Context, collection *catalog.TokenCollection, collectorAddr string) (bool, error) {
	var tokens []catalog.Token
	if err := w.db.WithContext(ctx).
		Where("collection_id = ? AND status <> ?", collection.ID, catalog.TokenUnclaimed).
		Find(&tokens).Error; err != nil {
		return false, fmt.Errorf("could not load claimed tokens: %w", err)
	}

	for i := range tokens {
		owner, err := w.chain.OwnerOfToken(ctx, collection.Address, string(collection.ABI), tokens[i].ChainTokenID)
		if err != nil {
			return false, err
		}
		if owner != "" && owner == collectorAddr {
			return true, nil
		}
	}
	return false, nil
}

// reserveAny reserves one unclaimed token. The update is conditional on
// the row still being unclaimed, so two concurrent claims can never both
// reserve the same token; a lost race moves on to the next candidate.
func (w *Workflow) reserveAny(ctx context.Context, req Request, collectorID uint) (*catalog.Token, bool, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var token catalog.Token
		err := w.db.WithContext(ctx).
			Where("collection_id = ? AND status = ? AND owner_id IS NULL",
				req.CollectionID, catalog.TokenUnclaimed).
			Order("id").First(&token).Error
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("could not select available token: %w", err)
		}

		ok, err := w.reserveExact(ctx, &token, collectorID, req.Answers.Location, req.Answers.Code)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return &token, true, nil
		}
		// Lost the race for this row, try the next candidate.
	}
	return nil, false, nil
}

func (w *Workflow) reserveExact(ctx context.Context, token *catalog.Token, collectorID uint, loc *geospatial.Point, code string) (bool, error) {
	now := time.Now()
	// The accepted code and location are recorded with the reservation,
	// not the submission, so a chain fault cannot lose them.
	updates := map[string]interface{}{
		"status":     catalog.TokenPendingClaim,
		"owner_id":   collectorID,
		"claimed_at": now,
		"claim_code": code,
	}
	if loc != nil {
		updates["claim_latitude"] = loc.Latitude
		updates["claim_longitude"] = loc.Longitude
	}

	res := w.db.WithContext(ctx).Model(&catalog.Token{}).
		Where("id = ? AND status = ? AND owner_id IS NULL", token.ID, catalog.TokenUnclaimed).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("could not reserve token %d: %w", token.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	token.Status = catalog.TokenPendingClaim
	token.OwnerID = &collectorID
	token.ClaimedAt = &now
	return true, nil
}

// submit sends the claim to the ledger and records the submission on the
// reserved row. The reservation and the submission are deliberately not
// atomic; a fault here leaves the row PendingClaim and reconciliation
// decides its fate.
func (w *Workflow) submit(ctx context.Context, collection *catalog.TokenCollection, token *catalog.Token, collector *accounts.Collector, code string) (Result, error) {
	sub, err := w.chain.ClaimToken(ctx, chain.ClaimRequest{
		ContractAddress: collection.Address,
		ABI:             string(collection.ABI),
		ClaimerAddress:  collector.Address,
		TokenID:         token.ChainTokenID,
		Code:            code,
		Timestamp:       time.Now(),
	})
	if err != nil {
		w.logger.Error("claim submission failed, reservation left pending",
			zap.Uint("token_id", token.ID),
			zap.Uint("collection_id", collection.ID),
			zap.Uint("collector_id", collector.ID),
			zap.Error(err))
		return rejected("Could not submit claim; your reservation will be settled shortly.", CodeChainSubmitFailed), nil
	}

	updates := map[string]interface{}{
		"claim_tx_hash": sub.TxHash,
		"gas_price":     sub.GasPrice.Int64(),
	}
	res := w.db.WithContext(ctx).Model(&catalog.Token{}).
		Where("id = ? AND status = ?", token.ID, catalog.TokenPendingClaim).
		Updates(updates)
	if res.Error != nil {
		return Result{}, fmt.Errorf("could not record claim submission for token %d: %w", token.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return Result{}, fmt.Errorf("claim submission for token %d updated %d rows", token.ID, res.RowsAffected)
	}

	w.logger.Info("claim submitted",
		zap.Uint("token_id", token.ID),
		zap.Uint("collection_id", collection.ID),
		zap.Uint("collector_id", collector.ID),
		zap.String("tx_hash", sub.TxHash))
	return Result{OK: true, Message: "Token has been claimed!"}, nil
}
