package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/internal/trades"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

// staleSubmissionAge is how long a pending row may sit without a
// recorded transaction hash before it is treated as a submission that
// never reached the ledger. The grace period covers the window between
// reservation and submission inside a live request.
const staleSubmissionAge = 5 * time.Minute

// Job is a stateless, repeatable reconciliation pass. Each of the three
// phases touches a disjoint row set and every row update is its own
// small transaction, so passes interleave safely with live requests.
// One row's fault is logged and skipped; it never halts the batch.
type Job struct {
	db        *gorm.DB
	chain     chain.Client
	logger    *zap.Logger
	batchSize int
}

// NewJob creates a reconciliation job.
func NewJob(db *gorm.DB, chainClient chain.Client, logger *zap.Logger, batchSize int) *Job {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Job{db: db, chain: chainClient, logger: logger, batchSize: batchSize}
}

// Run executes the contracts, claims and trades phases in order.
func (j *Job) Run(ctx context.Context) {
	j.ReconcileContracts(ctx)
	j.ReconcileClaims(ctx)
	j.ReconcileTrades(ctx)
}

// ReconcileContracts advances pending collection deployments. Rows with
// no receipt yet are left untouched for the next pass.
func (j *Job) ReconcileContracts(ctx context.Context) {
	var collections []catalog.TokenCollection
	err := j.db.WithContext(ctx).
		Where("status = ?", catalog.CollectionPending).
		Limit(j.batchSize).Find(&collections).Error
	if err != nil {
		j.logger.Error("could not load pending collections", zap.Error(err))
		return
	}

	for i := range collections {
		collection := &collections[i]
		receipt, err := j.chain.CheckDeployment(ctx, collection.DeployTxHash)
		if err != nil {
			j.logger.Error("could not check deployment",
				zap.Uint("collection_id", collection.ID),
				zap.String("tx_hash", collection.DeployTxHash),
				zap.Error(err))
			continue
		}
		if !receipt.HasReceipt {
			continue
		}

		updates := map[string]interface{}{"status": catalog.CollectionFailed}
		if receipt.Succeeded {
			updates["status"] = catalog.CollectionSettled
			updates["address"] = receipt.ContractAddress
			if receipt.GasCost != nil {
				updates["gas_cost"] = receipt.GasCost.Int64()
			}
		}

		err = j.db.WithContext(ctx).Model(&catalog.TokenCollection{}).
			Where("id = ? AND status = ?", collection.ID, catalog.CollectionPending).
			Updates(updates).Error
		if err != nil {
			j.logger.Error("could not update collection status",
				zap.Uint("collection_id", collection.ID),
				zap.Error(err))
			continue
		}
		j.logger.Info("reconciled collection deployment",
			zap.Uint("collection_id", collection.ID),
			zap.Bool("succeeded", receipt.Succeeded))
	}
}

// ReconcileClaims advances pending token claims. A reservation whose
// submission never produced a transaction hash is failed once it goes
// stale; its owner is cleared since the claim never reached the ledger.
func (j *Job) ReconcileClaims(ctx context.Context) {
	var tokens []catalog.Token
	err := j.db.WithContext(ctx).
		Where("status = ?", catalog.TokenPendingClaim).
		Limit(j.batchSize).Find(&tokens).Error
	if err != nil {
		j.logger.Error("could not load pending claims", zap.Error(err))
		return
	}

	for i := range tokens {
		token := &tokens[i]

		if token.ClaimTxHash == "" {
			if time.Since(token.UpdatedAt) < staleSubmissionAge {
				continue
			}
			if err := j.failClaim(ctx, token); err != nil {
				j.logger.Error("could not fail stale claim",
					zap.Uint("token_id", token.ID), zap.Error(err))
			}
			continue
		}

		receipt, err := j.chain.CheckClaim(ctx, token.ClaimTxHash)
		if err != nil {
			j.logger.Error("could not check claim",
				zap.Uint("token_id", token.ID),
				zap.String("tx_hash", token.ClaimTxHash),
				zap.Error(err))
			continue
		}
		if !receipt.HasReceipt {
			continue
		}

		if receipt.Succeeded {
			updates := map[string]interface{}{"status": catalog.TokenClaimed}
			if receipt.GasCost != nil {
				updates["gas_cost"] = receipt.GasCost.Int64()
			}
			err = j.db.WithContext(ctx).Model(&catalog.Token{}).
				Where("id = ? AND status = ?", token.ID, catalog.TokenPendingClaim).
				Updates(updates).Error
		} else {
			err = j.failClaim(ctx, token)
		}
		if err != nil {
			j.logger.Error("could not update token status",
				zap.Uint("token_id", token.ID), zap.Error(err))
			continue
		}
		j.logger.Info("reconciled claim",
			zap.Uint("token_id", token.ID),
			zap.Bool("succeeded", receipt.Succeeded))
	}
}

func (j *Job) failClaim(ctx context.Context, token *catalog.Token) error {
	return j.db.WithContext(ctx).Model(&catalog.Token{}).
		Where("id = ? AND status = ?", token.ID, catalog.TokenPendingClaim).
		Updates(map[string]interface{}{
			"status":   catalog.TokenClaimFailed,
			"owner_id": nil,
		}).Error
}

// ReconcileTrades advances settling trades. A trade completes only when
// every item's transfer succeeded; one failed transfer fails the whole
// trade and reverts the local ownership flip, since partial settlement
// is not a valid terminal state.
func (j *Job) ReconcileTrades(ctx context.Context) {
	var tradeList []trades.TradeRequest
	err := j.db.WithContext(ctx).Preload("Items").
		Where("status = ?", trades.TradeSettling).
		Limit(j.batchSize).Find(&tradeList).Error
	if err != nil {
		j.logger.Error("could not load settling trades", zap.Error(err))
		return
	}

	for i := range tradeList {
		trade := &tradeList[i]
		if err := j.reconcileTrade(ctx, trade); err != nil {
			j.logger.Error("could not reconcile trade",
				zap.String("trade_id", trade.ID.String()),
				zap.Error(err))
		}
	}
}

func (j *Job) reconcileTrade(ctx context.Context, trade *trades.TradeRequest) error {
	allConfirmed := true
	anyFailed := false
	gasCosts := map[uint]int64{}

	for i := range trade.Items {
		item := &trade.Items[i]

		if item.TransferTxHash == "" {
			// The accept call died before submitting this transfer. Give
			// it the grace period, then fail the trade.
			if time.Since(trade.UpdatedAt) >= staleSubmissionAge {
				anyFailed = true
			} else {
				allConfirmed = false
			}
			continue
		}

		receipt, err := j.chain.CheckClaim(ctx, item.TransferTxHash)
		if err != nil {
			return fmt.Errorf("could not check transfer %s: %w", item.TransferTxHash, err)
		}
		if !receipt.HasReceipt {
			allConfirmed = false
			continue
		}
		if !receipt.Succeeded {
			anyFailed = true
			continue
		}
		if receipt.GasCost != nil {
			gasCosts[item.ID] = receipt.GasCost.Int64()
		}
	}

	if anyFailed {
		return j.failTrade(ctx, trade)
	}
	if !allConfirmed {
		return nil
	}

	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for itemID, cost := range gasCosts {
			if err := tx.Model(&trades.TradeItem{}).
				Where("id = ?", itemID).
				Update("gas_cost", cost).Error; err != nil {
				return fmt.Errorf("could not record gas cost: %w", err)
			}
		}
		res := tx.Model(&trades.TradeRequest{}).
			Where("id = ? AND status = ?", trade.ID, trades.TradeSettling).
			Update("status", trades.TradeAccepted)
		if res.Error != nil {
			return fmt.Errorf("could not mark trade accepted: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("trade %s accept update affected %d rows", trade.ID, res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logger.Info("trade settled", zap.String("trade_id", trade.ID.String()))
	return nil
}

func (j *Job) failTrade(ctx context.Context, trade *trades.TradeRequest) error {
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := trades.RevertOwnership(tx, trade); err != nil {
			return err
		}
		res := tx.Model(&trades.TradeRequest{}).
			Where("id = ? AND status = ?", trade.ID, trades.TradeSettling).
			Update("status", trades.TradeFailed)
		if res.Error != nil {
			return fmt.Errorf("could not mark trade failed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("trade %s fail update affected %d rows", trade.ID, res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logger.Warn("trade failed during settlement, ownership reverted",
		zap.String("trade_id", trade.ID.String()))
	return nil
}
