package transfers

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

// Error codes returned to clients for rejected external transfers.
const (
	CodeNotCollectionOwner = 301
	CodeTokenUnavailable   = 302
	CodeChainSubmitFailed  = 303
)

// Result is the caller-visible outcome of a transfer attempt.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Request moves one token to a wallet outside the portal.
type Request struct {
	CollectionID uint
	TokenID      uint
	IssuerID     uint
	Destination  string
}

// Workflow sends tokens to external wallets. Once a token leaves the
// portal its row becomes a terminal ExternallyTransferred marker; no
// later claim or trade can touch it.
type Workflow struct {
	db     *gorm.DB
	chain  chain.Client
	logger *zap.Logger
}

// NewWorkflow creates an external-transfer workflow.
func NewWorkflow(db *gorm.DB, chainClient chain.Client, logger *zap.Logger) *Workflow {
	return &Workflow{db: db, chain: chainClient, logger: logger}
}

func rejected(message string, code int) Result {
	return Result{OK: false, Message: message, Code: code}
}

// TransferOut sends the token to the destination wallet from the
// issuer's account and marks the row ExternallyTransferred with its
// owner cleared. Only the issuer of the collection may transfer out,
// and never a token that is mid-claim or already gone.
func (w *Workflow) TransferOut(ctx context.Context, req Request) (Result, error) {
	var collection catalog.TokenCollection
	err := w.db.WithContext(ctx).First(&collection, req.CollectionID).Error
	if err == gorm.ErrRecordNotFound {
		return rejected("Token is not available for external transfer.", CodeTokenUnavailable), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("could not load collection %d: %w", req.CollectionID, err)
	}
	if collection.IssuerID != req.IssuerID {
		return rejected("Not allowed to transfer out of this collection.", CodeNotCollectionOwner), nil
	}
	if collection.Status != catalog.CollectionSettled || collection.Address == "" {
		return rejected("Token is not available for external transfer.", CodeTokenUnavailable), nil
	}

	var token catalog.Token
	err = w.db.WithContext(ctx).
		Where("id = ? AND collection_id = ?", req.TokenID, req.CollectionID).
		First(&token).Error
	if err == gorm.ErrRecordNotFound {
		return rejected("Token is not available for external transfer.", CodeTokenUnavailable), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("could not load token %d: %w", req.TokenID, err)
	}
	if token.Status == catalog.TokenPendingClaim || token.Status == catalog.TokenExternal {
		return rejected("Token is not available for external transfer.", CodeTokenUnavailable), nil
	}

	var issuer accounts.Issuer
	if err := w.db.WithContext(ctx).First(&issuer, req.IssuerID).Error; err != nil {
		return Result{}, fmt.Errorf("issuer %d not found: %w", req.IssuerID, err)
	}

	sub, err := w.chain.TransferToken(ctx, chain.TransferRequest{
		ContractAddress: collection.Address,
		ABI:             string(collection.ABI),
		TokenID:         token.ChainTokenID,
		FromAddress:     issuer.Address,
		ToAddress:       req.Destination,
		FromKey:         issuer.PrivateKey,
	})
	if err != nil {
		w.logger.Error("external transfer failed",
			zap.Uint("token_id", token.ID),
			zap.Uint("collection_id", collection.ID),
			zap.Error(err))
		return rejected("Could not perform external token transfer.", CodeChainSubmitFailed), nil
	}

	// Conditional on the status the transfer was decided on, so a claim
	// or trade that slipped in between is not silently overwritten.
	res := w.db.WithContext(ctx).Model(&catalog.Token{}).
		Where("id = ? AND status = ?", token.ID, token.Status).
		Updates(map[string]interface{}{
			"status":   catalog.TokenExternal,
			"owner_id": nil,
		})
	if res.Error != nil {
		return Result{}, fmt.Errorf("could not mark token %d external: %w", token.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return Result{}, fmt.Errorf("external transfer for token %d updated %d rows", token.ID, res.RowsAffected)
	}

	w.logger.Info("token transferred externally",
		zap.Uint("token_id", token.ID),
		zap.Uint("collection_id", collection.ID),
		zap.String("destination", req.Destination),
		zap.String("tx_hash", sub.TxHash))
	return Result{OK: true, Message: "Token transferred externally."}, nil
}
