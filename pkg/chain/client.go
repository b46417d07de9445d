package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Client is the capability the workflows need from the ledger. Submission
// calls return a transaction hash; mining is observed later through the
// Check* calls by the reconciliation job, never by blocking a request.
type Client interface {
	// CreateAccount makes a new ledger account and returns its address and
	// opaque key material.
	CreateAccount(ctx context.Context) (Account, error)

	// IssueCollection deploys a token collection contract and returns the
	// deployment transaction hash, the contract ABI blob and the quoted
	// gas price.
	IssueCollection(ctx context.Context, req IssueRequest) (*IssueResult, error)

	// CheckDeployment reports the outcome of a deployment transaction.
	CheckDeployment(ctx context.Context, txHash string) (*Receipt, error)

	// ClaimToken sends token tokenID of the collection at addr to the
	// claimer and returns the submission.
	ClaimToken(ctx context.Context, req ClaimRequest) (*Submission, error)

	// CheckClaim reports the outcome of a claim or transfer transaction.
	CheckClaim(ctx context.Context, txHash string) (*Receipt, error)

	// OwnerOfToken returns the ledger address owning tokenID in the
	// collection at addr, or "" when the token is unowned.
	OwnerOfToken(ctx context.Context, addr, abiJSON string, tokenID int64) (string, error)

	// BalanceOf returns the currency balance of addr in wei.
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)

	// TransferCurrency moves amount wei from one account to another.
	TransferCurrency(ctx context.Context, amount *big.Int, fromAddr, toAddr, fromKey string) error

	// TransferToken moves tokenID between two accounts and returns the
	// submission.
	TransferToken(ctx context.Context, req TransferRequest) (*Submission, error)
}

// Account is a ledger account with its opaque key material.
type Account struct {
	Address    string
	PrivateKey string
}

// IssueRequest carries everything the deployment constructor needs.
type IssueRequest struct {
	IssuerAddress   string
	IssuerName      string
	Name            string
	Symbol          string
	Description     string
	ImageURL        string
	NumTokens       int
	CodeConstraints []string
	DateConstraints []int64 // flattened [start, end, start, end, ...] unix seconds
	LocConstraints  []int64 // flattened [lat, lon, radius, ...] integer approximations
	Tradable        bool
	MetadataURI     string
}

// IssueResult is the outcome of submitting a deployment.
type IssueResult struct {
	TxHash   string
	ABI      string
	GasPrice *big.Int
}

// ClaimRequest identifies the token being claimed and its recipient.
type ClaimRequest struct {
	ContractAddress string
	ABI             string
	ClaimerAddress  string
	TokenID         int64
	Code            string
	Timestamp       time.Time
}

// TransferRequest identifies a token moving between two accounts.
type TransferRequest struct {
	ContractAddress string
	ABI             string
	TokenID         int64
	FromAddress     string
	ToAddress       string
	FromKey         string
}

// Submission is a submitted-but-unmined transaction.
type Submission struct {
	TxHash   string
	GasPrice *big.Int
}

// Receipt is the mined outcome of a transaction. HasReceipt false means
// the transaction is still pending and the caller should retry later.
type Receipt struct {
	HasReceipt      bool
	Succeeded       bool
	ContractAddress string
	GasUsed         uint64
	GasCost         *big.Int
}

// Error wraps a ledger fault with the underlying cause and a message the
// caller can surface.
type Error struct {
	Cause   string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Cause
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Cause)
}

// NewError builds an Error from an underlying fault.
func NewError(err error, message string) *Error {
	return &Error{Cause: err.Error(), Message: message}
}
