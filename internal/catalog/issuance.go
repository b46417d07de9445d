package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/auth"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

// MaxTokensPerCollection caps how many tokens one issuance can mint.
const MaxTokensPerCollection = 1000

// IssueCollectionRequest is the issuer-facing issuance payload.
type IssueCollectionRequest struct {
	Name        string              `json:"name" binding:"required"`
	Symbol      string              `json:"symbol"`
	Description string              `json:"description" binding:"required"`
	NumTokens   int                 `json:"num_tokens" binding:"required,gt=0"`
	Tradable    bool                `json:"tradable"`
	QRClaimable bool                `json:"qr_claimable"`
	ImagePath   string              `json:"image_path"`
	Constraints *ConstraintsRequest `json:"constraints"`
}

// ConstraintsRequest carries the optional claim constraints.
type ConstraintsRequest struct {
	Codes     []string            `json:"code_constraints"`
	Windows   []TimeWindowRequest `json:"time_constraints"`
	Geofences []LocationRequest   `json:"location_constraints"`
}

// TimeWindowRequest is one configured claim window.
type TimeWindowRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// LocationRequest is one configured geofence.
type LocationRequest struct {
	Latitude     float64 `json:"latitude" binding:"required"`
	Longitude    float64 `json:"longitude" binding:"required"`
	RadiusMeters float64 `json:"radius" binding:"required"`
}

// IssuanceService deploys new collections and mints their token rows.
type IssuanceService struct {
	db        *gorm.DB
	chain     chain.Client
	tokens    *auth.Manager
	qrCodeDir string
	logger    *zap.Logger
}

// NewIssuanceService creates an issuance service.
func NewIssuanceService(db *gorm.DB, chainClient chain.Client, tokens *auth.Manager, qrCodeDir string, logger *zap.Logger) *IssuanceService {
	return &IssuanceService{db: db, chain: chainClient, tokens: tokens, qrCodeDir: qrCodeDir, logger: logger}
}

// IssueCollection deploys the collection contract and creates the local
// collection, token and constraint rows. The chain submission happens
// before any local write so a deploy failure leaves no rows behind; the
// deployment outcome itself is settled later by reconciliation.
func (s *IssuanceService) IssueCollection(ctx context.Context, req IssueCollectionRequest, issuerID uint) (*TokenCollection, error) {
	if req.NumTokens > MaxTokensPerCollection {
		return nil, fmt.Errorf("cannot mint %d tokens, max is %d", req.NumTokens, MaxTokensPerCollection)
	}
	// A collection is either QR-claimable or constraint-gated, not both.
	if req.QRClaimable && req.Constraints != nil {
		return nil, fmt.Errorf("a collection cannot be both qr-claimable and constraint-gated")
	}
	if req.Constraints != nil {
		for _, code := range req.Constraints.Codes {
			if !ValidCodeFormat(code) {
				return nil, fmt.Errorf("claim codes must be alphanumeric of length %d", CodeLength)
			}
		}
	}

	var issuer accounts.Issuer
	if err := s.db.WithContext(ctx).First(&issuer, issuerID).Error; err != nil {
		return nil, fmt.Errorf("issuer %d not found: %w", issuerID, err)
	}

	issueReq := chain.IssueRequest{
		IssuerAddress: issuer.Address,
		IssuerName:    issuer.Username,
		Name:          req.Name,
		Symbol:        req.Symbol,
		Description:   req.Description,
		ImageURL:      req.ImagePath,
		NumTokens:     req.NumTokens,
		Tradable:      req.Tradable,
		MetadataURI:   fmt.Sprintf("collection/metadata=%s", req.Name),
	}
	if req.Constraints != nil {
		issueReq.CodeConstraints = req.Constraints.Codes
		for _, w := range req.Constraints.Windows {
			issueReq.DateConstraints = append(issueReq.DateConstraints, w.Start.Unix(), w.End.Unix())
		}
		for _, g := range req.Constraints.Geofences {
			issueReq.LocConstraints = append(issueReq.LocConstraints,
				int64(g.Latitude), int64(g.Longitude), int64(g.RadiusMeters))
		}
	}

	result, err := s.chain.IssueCollection(ctx, issueReq)
	if err != nil {
		s.logger.Error("collection deployment failed",
			zap.Uint("issuer_id", issuerID),
			zap.String("name", req.Name),
			zap.Error(err))
		return nil, fmt.Errorf("could not deploy collection: %w", err)
	}

	collection := &TokenCollection{
		IssuerID:     issuerID,
		Name:         req.Name,
		Symbol:       req.Symbol,
		Description:  req.Description,
		ImagePath:    req.ImagePath,
		NumMinted:    req.NumTokens,
		Tradable:     req.Tradable,
		QRClaimable:  req.QRClaimable,
		MetadataURI:  issueReq.MetadataURI,
		Status:       CollectionPending,
		DeployTxHash: result.TxHash,
		ABI:          datatypes.JSON(result.ABI),
		GasPrice:     result.GasPrice.Int64(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(collection).Error; err != nil {
			return fmt.Errorf("could not persist collection: %w", err)
		}
		tokens := make([]Token, req.NumTokens)
		for i := range tokens {
			tokens[i] = Token{
				CollectionID: collection.ID,
				ChainTokenID: int64(i + 1), // token id 0 is reserved on-chain
				Status:       TokenUnclaimed,
			}
		}
		if err := tx.Create(&tokens).Error; err != nil {
			return fmt.Errorf("could not persist tokens: %w", err)
		}

		if req.QRClaimable {
			if err := s.writeQRCodes(tx, collection.ID, tokens); err != nil {
				return err
			}
		} else if req.Constraints != nil {
			if err := s.insertConstraints(tx, collection.ID, req.Constraints); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The deploy transaction is already on the wire and cannot be
		// recalled; the orphaned contract is abandoned.
		s.logger.Error("issuance rolled back after deploy submission",
			zap.Uint("issuer_id", issuerID),
			zap.String("deploy_tx", result.TxHash),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("issued collection",
		zap.Uint("collection_id", collection.ID),
		zap.Uint("issuer_id", issuerID),
		zap.String("deploy_tx", result.TxHash),
		zap.Int("num_tokens", req.NumTokens))
	return collection, nil
}

func (s *IssuanceService) insertConstraints(tx *gorm.DB, collectionID uint, req *ConstraintsRequest) error {
	for _, code := range req.Codes {
		if err := tx.Create(&CodeConstraint{CollectionID: collectionID, Code: code}).Error; err != nil {
			return fmt.Errorf("could not persist code constraint: %w", err)
		}
	}
	for _, w := range req.Windows {
		if err := tx.Create(&TimeConstraint{CollectionID: collectionID, Start: w.Start, End: w.End}).Error; err != nil {
			return fmt.Errorf("could not persist time constraint: %w", err)
		}
	}
	for _, g := range req.Geofences {
		c := &LocationConstraint{
			CollectionID: collectionID,
			Latitude:     g.Latitude,
			Longitude:    g.Longitude,
			RadiusMeters: g.RadiusMeters,
		}
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("could not persist location constraint: %w", err)
		}
	}
	return nil
}

// writeQRCodes generates one QR PNG per token with a signed claim token
// embedded, so possession of the printed code is the claim credential.
func (s *IssuanceService) writeQRCodes(tx *gorm.DB, collectionID uint, tokens []Token) error {
	if err := os.MkdirAll(s.qrCodeDir, 0o755); err != nil {
		return fmt.Errorf("could not create qr code dir: %w", err)
	}
	for i := range tokens {
		claimJWT, err := s.tokens.QRClaimToken(collectionID, tokens[i].ID)
		if err != nil {
			return fmt.Errorf("could not sign qr claim token: %w", err)
		}
		payload, err := json.Marshal(map[string]interface{}{
			"collection_id": collectionID,
			"token_id":      tokens[i].ID,
			"jwt":           claimJWT,
		})
		if err != nil {
			return fmt.Errorf("could not encode qr payload: %w", err)
		}

		path := filepath.Join(s.qrCodeDir, fmt.Sprintf("%d_%d.png", collectionID, tokens[i].ID))
		if err := qrcode.WriteFile(string(payload), qrcode.Medium, 256, path); err != nil {
			return fmt.Errorf("could not write qr code: %w", err)
		}
		if err := tx.Model(&Token{}).Where("id = ?", tokens[i].ID).
			Update("qr_code_path", path).Error; err != nil {
			return fmt.Errorf("could not record qr code path: %w", err)
		}
	}
	return nil
}

// GetCollection returns a collection with its constraints loaded.
func (s *IssuanceService) GetCollection(ctx context.Context, id uint) (*TokenCollection, error) {
	var collection TokenCollection
	if err := s.db.WithContext(ctx).First(&collection, id).Error; err != nil {
		return nil, fmt.Errorf("collection %d not found: %w", id, err)
	}
	return &collection, nil
}

// ListCollections returns all collections for the explore surface.
func (s *IssuanceService) ListCollections(ctx context.Context) ([]TokenCollection, error) {
	var collections []TokenCollection
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("could not list collections: %w", err)
	}
	return collections, nil
}

// ListCollectionsByIssuer returns the issuer's own collections.
func (s *IssuanceService) ListCollectionsByIssuer(ctx context.Context, issuerID uint) ([]TokenCollection, error) {
	var collections []TokenCollection
	if err := s.db.WithContext(ctx).Where("issuer_id = ?", issuerID).
		Order("created_at DESC").Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("could not list collections: %w", err)
	}
	return collections, nil
}
