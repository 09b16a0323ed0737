package evm

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"SnowRail/internal/settlement"
)

// constantContractBin deploys a contract that answers every call with the
// 32-byte word 0x2a, so views decode as 42 and owner() as address(0x2a).
const constantContractBin = "0x600a600c600039600a6000f3602a60005260206000f3"

const (
	usdc  = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
	usdt  = "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7"
	payee = "0x60aE616a2155Ee3d9A68541Ba4544862310933d4"
)

type simulatedChain struct {
	backend *simulated.Backend
	keyHex  string
	auth    *bind.TransactOpts
}

func newSimulatedChain(t *testing.T) *simulatedChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		auth.From: {Balance: new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1_000_000_000_000_000_000))},
	})
	t.Cleanup(func() { _ = backend.Close() })
	return &simulatedChain{
		backend: backend,
		keyHex:  hex.EncodeToString(crypto.FromECDSA(key)),
		auth:    auth,
	}
}

func (s *simulatedChain) deployConstant(t *testing.T) common.Address {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(TreasuryABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	addr, _, _, err := bind.DeployContract(s.auth, parsed, common.FromHex(constantContractBin), s.backend.Client())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	s.backend.Commit()
	return addr
}

func (s *simulatedChain) client(t *testing.T, contract common.Address) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewClient(ctx, s.backend.Client(), Config{
		Contract:      contract.Hex(),
		Token:         usdc,
		PrivateKeyHex: s.keyHex,
		ReceiptPoll:   10 * time.Millisecond,
	}, WithMiner(s.backend))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClientReadsViews(t *testing.T) {
	chain := newSimulatedChain(t)
	c := chain.client(t, chain.deployConstant(t))
	ctx := context.Background()

	balance, err := c.TokenBalance(ctx, usdc)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 42 {
		t.Fatalf("unexpected balance %s", balance)
	}
	allowance, err := c.SwapAllowance(ctx, usdc, usdt)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Int64() != 42 {
		t.Fatalf("unexpected allowance %s", allowance)
	}
	owner, err := c.Owner(ctx)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != common.BigToAddress(big.NewInt(42)).Hex() {
		t.Fatalf("unexpected owner %s", owner)
	}
}

func TestClientSendsPaymentTransactions(t *testing.T) {
	chain := newSimulatedChain(t)
	c := chain.client(t, chain.deployConstant(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := c.RequestPayment(ctx, payee, big.NewInt(100_000_000), usdc)
	if err != nil {
		t.Fatalf("request payment: %v", err)
	}
	exec, err := c.ExecutePayment(ctx, c.Account().Payer, payee, big.NewInt(100_000_000), usdc)
	if err != nil {
		t.Fatalf("execute payment: %v", err)
	}
	if req.TxHash == "" || req.TxHash == exec.TxHash {
		t.Fatalf("unexpected tx hashes %s %s", req.TxHash, exec.TxHash)
	}
	if exec.BlockNumber <= req.BlockNumber {
		t.Fatalf("expected increasing blocks, got %d then %d", req.BlockNumber, exec.BlockNumber)
	}
	if req.GasUsed == "0" || req.GasUsed == "" {
		t.Fatalf("expected gas used, got %q", req.GasUsed)
	}
}

func TestAuthorizeSwapRequiresOwner(t *testing.T) {
	chain := newSimulatedChain(t)
	c := chain.client(t, chain.deployConstant(t))

	_, err := c.AuthorizeSwap(context.Background(), usdc, usdt, big.NewInt(1_000_000_000))
	if !settlement.IsNotAuthorized(err) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestViewAgainstAccountWithoutCodeFails(t *testing.T) {
	chain := newSimulatedChain(t)
	c := chain.client(t, common.HexToAddress("0x00000000000000000000000000000000000000ff"))

	if _, err := c.TokenBalance(context.Background(), usdc); err == nil {
		t.Fatal("expected error reading from an address without code")
	}
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	chain := newSimulatedChain(t)
	_, err := NewClient(context.Background(), chain.backend.Client(), Config{
		Contract:      "treasury",
		Token:         usdc,
		PrivateKeyHex: chain.keyHex,
	})
	if err == nil {
		t.Fatal("expected invalid contract address error")
	}
}
