package catalog

import (
	"time"

	"gorm.io/datatypes"

	"toker/token-portal/token-portal-backend/internal/accounts"
)

// CollectionStatus is the deployment lifecycle of a TokenCollection.
type CollectionStatus string

const (
	CollectionPending CollectionStatus = "pending"
	CollectionSettled CollectionStatus = "settled"
	CollectionFailed  CollectionStatus = "failed"
)

// TokenStatus is the claim lifecycle of a single token.
type TokenStatus string

const (
	TokenUnclaimed    TokenStatus = "unclaimed"
	TokenPendingClaim TokenStatus = "pending_claim"
	TokenClaimed      TokenStatus = "claimed"
	TokenClaimFailed  TokenStatus = "claim_failed"
	TokenExternal     TokenStatus = "externally_transferred"
)

// TokenCollection is an issuer-owned batch of individually identified
// tokens backed by one deployed contract. Immutable after settlement
// except for status and ownership-derived fields.
type TokenCollection struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	IssuerID    uint   `json:"issuer_id" gorm:"not null;index"`
	Name        string `json:"name" gorm:"not null;index"`
	Symbol      string `json:"symbol" gorm:"default:'TOKE'"`
	Description string `json:"description"`
	ImagePath   string `json:"image_path"`
	NumMinted   int    `json:"num_minted" gorm:"not null"`
	Tradable    bool   `json:"tradable" gorm:"default:false"`
	QRClaimable bool   `json:"qr_claimable" gorm:"default:false"`
	MetadataURI string `json:"metadata_uri"`

	Status       CollectionStatus `json:"status" gorm:"default:'pending';index"`
	DeployTxHash string           `json:"deploy_tx_hash"`
	Address      string           `json:"address" gorm:"index"`
	ABI          datatypes.JSON   `json:"-"`
	GasPrice     int64            `json:"gas_price"`
	GasCost      int64            `json:"gas_cost"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Issuer accounts.Issuer `json:"-" gorm:"foreignKey:IssuerID"`
}

// Token is one claimable unit. OwnerID nil means unclaimed; ownership
// changes only through a successful claim or a settled trade.
type Token struct {
	ID           uint        `json:"id" gorm:"primaryKey"`
	CollectionID uint        `json:"collection_id" gorm:"not null;index:idx_tokens_collection_status"`
	ChainTokenID int64       `json:"chain_token_id" gorm:"not null"`
	OwnerID      *uint       `json:"owner_id" gorm:"index"`
	Status       TokenStatus `json:"status" gorm:"default:'unclaimed';index:idx_tokens_collection_status"`

	ClaimTxHash    string     `json:"claim_tx_hash"`
	ClaimCode      string     `json:"-"`
	ClaimLatitude  *float64   `json:"claim_latitude"`
	ClaimLongitude *float64   `json:"claim_longitude"`
	ClaimedAt      *time.Time `json:"claimed_at"`
	GasPrice       int64      `json:"gas_price"`
	GasCost        int64      `json:"gas_cost"`
	QRCodePath     string     `json:"qr_code_path,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Collection TokenCollection     `json:"-" gorm:"foreignKey:CollectionID"`
	Owner      *accounts.Collector `json:"-" gorm:"foreignKey:OwnerID"`
}

// CodeConstraint permits a claim carrying one of the configured codes.
type CodeConstraint struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	CollectionID uint   `json:"collection_id" gorm:"not null;index"`
	Code         string `json:"code" gorm:"not null"`
}

// TimeConstraint permits a claim submitted inside the window.
type TimeConstraint struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CollectionID uint      `json:"collection_id" gorm:"not null;index"`
	Start        time.Time `json:"start" gorm:"not null"`
	End          time.Time `json:"end" gorm:"not null"`
}

// LocationConstraint permits a claim made within RadiusMeters of the
// configured center.
type LocationConstraint struct {
	ID           uint    `json:"id" gorm:"primaryKey"`
	CollectionID uint    `json:"collection_id" gorm:"not null;index"`
	Latitude     float64 `json:"latitude" gorm:"not null"`
	Longitude    float64 `json:"longitude" gorm:"not null"`
	RadiusMeters float64 `json:"radius" gorm:"not null"`
}
