package trades

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/pkg/workflows"
)

// TradeStatus is the lifecycle of a trade request. A trade leaves
// Requested exactly once; Settling is the provisional accepted state
// until reconciliation confirms the chain-side transfers.
type TradeStatus string

const (
	TradeRequested TradeStatus = "requested"
	TradeSettling  TradeStatus = "settling"
	TradeAccepted  TradeStatus = "accepted"
	TradeDeclined  TradeStatus = "declined"
	TradeCanceled  TradeStatus = "canceled"
	TradeInvalid   TradeStatus = "invalid"
	TradeFailed    TradeStatus = "failed"
)

// activeStatuses are the statuses in which a trade still commits its
// tokens, blocking them from other trades.
var activeStatuses = []TradeStatus{TradeRequested, TradeSettling}

// transitions is the allowed trade status graph.
var transitions = workflows.New(map[string][]string{
	string(TradeRequested): {
		string(TradeSettling), string(TradeDeclined),
		string(TradeCanceled), string(TradeInvalid),
	},
	string(TradeSettling): {string(TradeAccepted), string(TradeFailed)},
	string(TradeAccepted): {},
	string(TradeDeclined): {},
	string(TradeCanceled): {},
	string(TradeInvalid):  {},
	string(TradeFailed):   {},
})

// TradeRequest is a proposal between a trader and a tradee, composed of
// the items each side offers plus optional currency sweeteners in wei.
type TradeRequest struct {
	ID             uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	TraderID       uint        `json:"trader_id" gorm:"not null;index"`
	TradeeID       uint        `json:"tradee_id" gorm:"not null;index"`
	TraderOfferWei int64       `json:"trader_offer_wei"`
	TradeeOfferWei int64       `json:"tradee_offer_wei"`
	Status         TradeStatus `json:"status" gorm:"default:'requested';index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Items  []TradeItem        `json:"items" gorm:"foreignKey:TradeRequestID"`
	Trader accounts.Collector `json:"-" gorm:"foreignKey:TraderID"`
	Tradee accounts.Collector `json:"-" gorm:"foreignKey:TradeeID"`
}

// BeforeCreate assigns the trade id.
func (t *TradeRequest) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TradeItem is one token inside a trade. OfferedByID records who owned
// the token at proposal time; acceptance re-validates against current
// ownership.
type TradeItem struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	TradeRequestID uuid.UUID `json:"trade_request_id" gorm:"type:uuid;not null;index"`
	CollectionID   uint      `json:"collection_id" gorm:"not null"`
	TokenID        uint      `json:"token_id" gorm:"not null;index"`
	OfferedByID    uint      `json:"offered_by_id" gorm:"not null"`
	TransferTxHash string    `json:"transfer_tx_hash"`
	GasCost        int64     `json:"gas_cost"`

	Token catalog.Token `json:"-" gorm:"foreignKey:TokenID"`
}

func canTransition(from, to TradeStatus) bool {
	return transitions.CanTransition(string(from), string(to))
}
