package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/settlement"
)

// Config describes how to reach the treasury contract.
type Config struct {
	RPCURL        string
	Contract      string
	Token         string
	Payer         string
	TokenDecimals int
	PrivateKeyHex string
	ReceiptPoll   time.Duration
}

// Backend is the subset of an Ethereum client the treasury binding needs.
// *ethclient.Client and the simulated backend's client both satisfy it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Miner seals pending transactions. Only simulated chains need one.
type Miner interface {
	Commit() common.Hash
}

// Option customizes a Client.
type Option func(*Client)

// WithMiner commits a block after every submitted transaction.
func WithMiner(m Miner) Option {
	return func(c *Client) {
		c.miner = m
	}
}

// Client binds the treasury contract. Transactions from the single signer
// are serialized so nonces are assigned in order.
type Client struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	account  settlement.Account
	poll     time.Duration
	miner    Miner
	closer   func()
	mu       sync.Mutex
}

// Dial connects to cfg.RPCURL and binds the treasury contract.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "settlement rpc url is empty")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dial settlement rpc")
	}
	client, err := NewClient(ctx, eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.closer = eth.Close
	return client, nil
}

// NewClient binds the treasury contract over an existing backend.
func NewClient(ctx context.Context, backend Backend, cfg Config, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "settlement backend is nil")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("invalid treasury address %q", cfg.Contract))
	}
	if !common.IsHexAddress(cfg.Token) {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("invalid token address %q", cfg.Token))
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "parse settlement signer key")
	}
	parsed, err := abi.JSON(strings.NewReader(TreasuryABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse treasury abi")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "fetch chain id")
	}

	address := common.HexToAddress(cfg.Contract)
	signer := crypto.PubkeyToAddress(key.PublicKey)
	payer := cfg.Payer
	if !common.IsHexAddress(payer) {
		payer = address.Hex()
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	c := &Client{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:  address,
		key:      key,
		chainID:  chainID,
		poll:     poll,
		account: settlement.Account{
			Treasury:      address.Hex(),
			Token:         common.HexToAddress(cfg.Token).Hex(),
			Payer:         common.HexToAddress(payer).Hex(),
			Signer:        signer.Hex(),
			TokenDecimals: decimals,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close releases the RPC connection when the client dialled it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Account implements settlement.Service.
func (c *Client) Account() settlement.Account { return c.account }

// Owner reads owner().
func (c *Client) Owner(ctx context.Context) (string, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return "", settlement.Failure("owner", err)
	}
	addr, err := firstAddress(out)
	if err != nil {
		return "", settlement.Failure("owner", err)
	}
	return addr.Hex(), nil
}

// TokenBalance reads getTokenBalance(token).
func (c *Client) TokenBalance(ctx context.Context, token string) (*big.Int, error) {
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTokenBalance", tokenAddr); err != nil {
		return nil, settlement.Failure("getTokenBalance", err)
	}
	v, err := firstInt(out)
	if err != nil {
		return nil, settlement.Failure("getTokenBalance", err)
	}
	return v, nil
}

// SwapAllowance reads swapAllowances(from, to).
func (c *Client) SwapAllowance(ctx context.Context, fromToken, toToken string) (*big.Int, error) {
	from, err := parseAddress("fromToken", fromToken)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("toToken", toToken)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "swapAllowances", from, to); err != nil {
		return nil, settlement.Failure("swapAllowances", err)
	}
	v, err := firstInt(out)
	if err != nil {
		return nil, settlement.Failure("swapAllowances", err)
	}
	return v, nil
}

// RequestPayment sends requestPayment(payee, amount, token).
func (c *Client) RequestPayment(ctx context.Context, payee string, amount *big.Int, token string) (settlement.Receipt, error) {
	payeeAddr, err := parseAddress("payee", payee)
	if err != nil {
		return settlement.Receipt{}, err
	}
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return settlement.Receipt{}, err
	}
	return c.transact(ctx, "requestPayment", payeeAddr, amount, tokenAddr)
}

// ExecutePayment sends executePayment(payer, payee, amount, token).
func (c *Client) ExecutePayment(ctx context.Context, payer, payee string, amount *big.Int, token string) (settlement.Receipt, error) {
	payerAddr, err := parseAddress("payer", payer)
	if err != nil {
		return settlement.Receipt{}, err
	}
	payeeAddr, err := parseAddress("payee", payee)
	if err != nil {
		return settlement.Receipt{}, err
	}
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return settlement.Receipt{}, err
	}
	return c.transact(ctx, "executePayment", payerAddr, payeeAddr, amount, tokenAddr)
}

// AuthorizeSwap checks ownership, then sends authorizeSwap(from, to, max).
func (c *Client) AuthorizeSwap(ctx context.Context, fromToken, toToken string, maxAmount *big.Int) (settlement.Receipt, error) {
	from, err := parseAddress("fromToken", fromToken)
	if err != nil {
		return settlement.Receipt{}, err
	}
	to, err := parseAddress("toToken", toToken)
	if err != nil {
		return settlement.Receipt{}, err
	}
	owner, err := c.Owner(ctx)
	if err != nil {
		return settlement.Receipt{}, err
	}
	if !settlement.SameAddress(owner, c.account.Signer) {
		return settlement.Receipt{}, settlement.NotAuthorized("authorizeSwap", c.account.Signer)
	}
	return c.transact(ctx, "authorizeSwap", from, to, maxAmount)
}

func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (settlement.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return settlement.Receipt{}, settlement.Failure(method, err)
	}
	opts.Context = ctx

	c.mu.Lock()
	tx, err := c.contract.Transact(opts, method, args...)
	if err == nil && c.miner != nil {
		c.miner.Commit()
	}
	c.mu.Unlock()
	if err != nil {
		if strings.Contains(err.Error(), "Not owner") {
			return settlement.Receipt{}, settlement.NotAuthorized(method, c.account.Signer)
		}
		return settlement.Receipt{}, settlement.Failure(method, err)
	}

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return settlement.Receipt{}, settlement.Failure(method, err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeCollaborator, method+" reverted",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return settlement.Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: block,
		GasUsed:     strconv.FormatUint(receipt.GasUsed, 10),
	}, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeCollaborator, fmt.Sprintf("invalid %s address %q", field, value))
	}
	return common.HexToAddress(value), nil
}

func firstAddress(out []interface{}) (common.Address, error) {
	if len(out) == 0 {
		return common.Address{}, errors.New("empty call result")
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected result type %T", out[0])
	}
	return addr, nil
}

func firstInt(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, errors.New("empty call result")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", out[0])
	}
	return new(big.Int).Set(v), nil
}
