package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated party. Exactly one of IssuerID or
// CollectorID is set for account tokens; QR claim tokens set CollectionID
// and TokenID instead.
type Claims struct {
	IssuerID     uint  `json:"i_id,omitempty"`
	CollectorID  uint  `json:"c_id,omitempty"`
	CollectionID uint  `json:"col_id,omitempty"`
	TokenID      *uint `json:"t_id,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies the backend's tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager with the given signing secret.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// IssuerToken returns a signed token identifying an issuer account.
func (m *Manager) IssuerToken(issuerID uint) (string, error) {
	return m.sign(Claims{IssuerID: issuerID})
}

// CollectorToken returns a signed token identifying a collector account.
func (m *Manager) CollectorToken(collectorID uint) (string, error) {
	return m.sign(Claims{CollectorID: collectorID})
}

// QRClaimToken returns a signed token embedded in a printed QR code. It
// names one specific token; possession of the code is the claim
// credential.
func (m *Manager) QRClaimToken(collectionID, tokenID uint) (string, error) {
	// QR codes are printed and long-lived, so no expiry is set.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		CollectionID: collectionID,
		TokenID:      &tokenID,
	})
	return token.SignedString(m.secret)
}

func (m *Manager) sign(claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a signed token.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &claims, nil
}
