package accounts

import "time"

// Issuer deploys token collections. Address and PrivateKey are the
// ledger-side identity; PrivateKey is opaque key material consumed only
// by the chain client.
type Issuer struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Username   string    `json:"username" gorm:"uniqueIndex;not null"`
	Address    string    `json:"address" gorm:"uniqueIndex"`
	PrivateKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Collector claims and trades tokens.
type Collector struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Username   string    `json:"username" gorm:"uniqueIndex;not null"`
	Address    string    `json:"address" gorm:"uniqueIndex"`
	PrivateKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
