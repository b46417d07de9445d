package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
)

// Config holds the connection settings for a geth node. The node manages
// the accounts itself, so the personal API must be enabled on Endpoint.
type Config struct {
	Endpoint      string `json:"endpoint"`
	RootAddress   string `json:"root_address"`
	RootKey       string `json:"root_key"`
	MaxGasPrice   int64  `json:"max_gas_price"`
	UnlockSeconds uint64 `json:"unlock_seconds"`
}

// GethClient implements Client against a geth node over RPC.
type GethClient struct {
	rpc         *rpc.Client
	eth         *ethclient.Client
	rootAddr    common.Address
	rootKey     string
	maxGasPrice *big.Int
	unlockSecs  uint64
}

// NewGethClient dials the node and verifies the connection.
func NewGethClient(ctx context.Context, cfg Config) (*GethClient, error) {
	rc, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, NewError(err, "could not establish connection to node")
	}

	unlockSecs := cfg.UnlockSeconds
	if unlockSecs == 0 {
		unlockSecs = 5
	}

	return &GethClient{
		rpc:         rc,
		eth:         ethclient.NewClient(rc),
		rootAddr:    common.HexToAddress(cfg.RootAddress),
		rootKey:     cfg.RootKey,
		maxGasPrice: big.NewInt(cfg.MaxGasPrice),
		unlockSecs:  unlockSecs,
	}, nil
}

// Close releases the underlying RPC connection.
func (g *GethClient) Close() {
	g.rpc.Close()
}

func (g *GethClient) unlock(ctx context.Context, addr common.Address, key string) error {
	var ok bool
	if err := g.rpc.CallContext(ctx, &ok, "personal_unlockAccount", addr, key, g.unlockSecs); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("account %s did not unlock", addr.Hex())
	}
	return nil
}

func (g *GethClient) lock(ctx context.Context, addr common.Address) {
	var ok bool
	// Failing to re-lock is not fatal; the unlock has a duration anyway.
	_ = g.rpc.CallContext(ctx, &ok, "personal_lockAccount", addr)
}

// sendTransaction submits a node-signed transaction through the personal
// API and returns its hash.
func (g *GethClient) sendTransaction(ctx context.Context, from common.Address, to *common.Address, value *big.Int, data []byte) (common.Hash, error) {
	msg := map[string]interface{}{
		"from":     from,
		"gasPrice": hexutil.EncodeBig(g.maxGasPrice),
	}
	if to != nil {
		msg["to"] = *to
	}
	if value != nil {
		msg["value"] = hexutil.EncodeBig(value)
	}
	if len(data) > 0 {
		msg["data"] = hexutil.Bytes(data)
	}

	var txHash common.Hash
	if err := g.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", msg); err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// CreateAccount makes a new node-managed account keyed by a generated
// passphrase and returns both.
func (g *GethClient) CreateAccount(ctx context.Context) (Account, error) {
	passphrase := uuid.NewString()

	var addr common.Address
	if err := g.rpc.CallContext(ctx, &addr, "personal_newAccount", passphrase); err != nil {
		return Account{}, NewError(err, "could not create account")
	}
	return Account{Address: addr.Hex(), PrivateKey: passphrase}, nil
}

// IssueCollection deploys the issuer contract with the collection
// metadata and constraint arrays baked into the constructor.
func (g *GethClient) IssueCollection(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	parsed, err := abi.JSON(strings.NewReader(CollectionABI))
	if err != nil {
		return nil, NewError(err, "could not parse collection abi")
	}

	args, err := parsed.Pack("",
		common.HexToAddress(req.IssuerAddress),
		req.IssuerName,
		req.Name,
		req.Symbol,
		req.Description,
		req.ImageURL,
		big.NewInt(int64(req.NumTokens)),
		req.CodeConstraints,
		toBigInts(req.DateConstraints),
		toBigInts(req.LocConstraints),
		req.Tradable,
		req.MetadataURI,
	)
	if err != nil {
		return nil, NewError(err, "could not pack constructor arguments")
	}

	if err := g.unlock(ctx, g.rootAddr, g.rootKey); err != nil {
		return nil, NewError(err, "could not unlock root account")
	}
	defer g.lock(ctx, g.rootAddr)

	data := append(common.FromHex(collectionBytecode), args...)
	txHash, err := g.sendTransaction(ctx, g.rootAddr, nil, nil, data)
	if err != nil {
		return nil, NewError(err, "could not deploy collection contract")
	}

	return &IssueResult{
		TxHash:   txHash.Hex(),
		ABI:      CollectionABI,
		GasPrice: new(big.Int).Set(g.maxGasPrice),
	}, nil
}

// CheckDeployment looks up the deployment receipt. A missing receipt is
// not an error, the transaction is simply still pending.
func (g *GethClient) CheckDeployment(ctx context.Context, txHash string) (*Receipt, error) {
	return g.receipt(ctx, txHash)
}

// CheckClaim looks up a claim or transfer receipt.
func (g *GethClient) CheckClaim(ctx context.Context, txHash string) (*Receipt, error) {
	return g.receipt(ctx, txHash)
}

func (g *GethClient) receipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := g.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err == ethereum.NotFound {
		return &Receipt{}, nil
	}
	if err != nil {
		return nil, NewError(err, "could not check transaction receipt")
	}

	out := &Receipt{
		HasReceipt: true,
		Succeeded:  r.Status == 1,
		GasUsed:    r.GasUsed,
	}
	if r.ContractAddress != (common.Address{}) {
		out.ContractAddress = r.ContractAddress.Hex()
	}
	if r.EffectiveGasPrice != nil {
		out.GasCost = new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
	}
	return out, nil
}

// ClaimToken sends the identified token to the claimer.
func (g *GethClient) ClaimToken(ctx context.Context, req ClaimRequest) (*Submission, error) {
	parsed, err := abi.JSON(strings.NewReader(req.ABI))
	if err != nil {
		return nil, NewError(err, "could not parse contract abi")
	}

	data, err := parsed.Pack("sendToken",
		common.HexToAddress(req.ClaimerAddress),
		big.NewInt(req.TokenID),
		req.Code,
		big.NewInt(req.Timestamp.Unix()),
	)
	if err != nil {
		return nil, NewError(err, "could not pack sendToken call")
	}

	if err := g.unlock(ctx, g.rootAddr, g.rootKey); err != nil {
		return nil, NewError(err, "could not unlock root account")
	}
	defer g.lock(ctx, g.rootAddr)

	contractAddr := common.HexToAddress(req.ContractAddress)
	txHash, err := g.sendTransaction(ctx, g.rootAddr, &contractAddr, nil, data)
	if err != nil {
		return nil, NewError(err, "could not send token")
	}

	return &Submission{TxHash: txHash.Hex(), GasPrice: new(big.Int).Set(g.maxGasPrice)}, nil
}

// OwnerOfToken reads the current owner of tokenID. The zero address maps
// to "" so callers can treat unowned uniformly.
func (g *GethClient) OwnerOfToken(ctx context.Context, addr, abiJSON string, tokenID int64) (string, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return "", NewError(err, "could not parse contract abi")
	}

	data, err := parsed.Pack("ownerOf", big.NewInt(tokenID))
	if err != nil {
		return "", NewError(err, "could not pack ownerOf call")
	}

	contractAddr := common.HexToAddress(addr)
	raw, err := g.eth.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
	if err != nil {
		return "", NewError(err, "could not call ownerOf")
	}

	out, err := parsed.Unpack("ownerOf", raw)
	if err != nil {
		return "", NewError(err, "could not unpack ownerOf result")
	}
	owner := out[0].(common.Address)
	if owner == (common.Address{}) {
		return "", nil
	}
	return owner.Hex(), nil
}

// BalanceOf returns the account balance in wei.
func (g *GethClient) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	bal, err := g.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, NewError(err, "could not get balance")
	}
	return bal, nil
}

// TransferCurrency moves plain currency between two node-managed
// accounts.
func (g *GethClient) TransferCurrency(ctx context.Context, amount *big.Int, fromAddr, toAddr, fromKey string) error {
	from := common.HexToAddress(fromAddr)
	to := common.HexToAddress(toAddr)

	if err := g.unlock(ctx, from, fromKey); err != nil {
		return NewError(err, "could not unlock sending account")
	}
	defer g.lock(ctx, from)

	if _, err := g.sendTransaction(ctx, from, &to, amount, nil); err != nil {
		return NewError(err, "could not transfer currency")
	}
	return nil
}

// TransferToken moves tokenID between two accounts. With no FromKey the
// transfer is driven by the root account, which the contract authorizes
// for custodial moves.
func (g *GethClient) TransferToken(ctx context.Context, req TransferRequest) (*Submission, error) {
	parsed, err := abi.JSON(strings.NewReader(req.ABI))
	if err != nil {
		return nil, NewError(err, "could not parse contract abi")
	}

	data, err := parsed.Pack("transferFrom",
		common.HexToAddress(req.FromAddress),
		common.HexToAddress(req.ToAddress),
		big.NewInt(req.TokenID),
	)
	if err != nil {
		return nil, NewError(err, "could not pack transferFrom call")
	}

	sender, key := g.rootAddr, g.rootKey
	if req.FromKey != "" {
		sender, key = common.HexToAddress(req.FromAddress), req.FromKey
	}

	if err := g.unlock(ctx, sender, key); err != nil {
		return nil, NewError(err, "could not unlock sending account")
	}
	defer g.lock(ctx, sender)

	contractAddr := common.HexToAddress(req.ContractAddress)
	txHash, err := g.sendTransaction(ctx, sender, &contractAddr, nil, data)
	if err != nil {
		return nil, NewError(err, "could not transfer token")
	}

	return &Submission{TxHash: txHash.Hex(), GasPrice: new(big.Int).Set(g.maxGasPrice)}, nil
}

func toBigInts(vals []int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}
