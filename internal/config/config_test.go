package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snowrail.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"settlement": {"driver": "memory"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":3000" || cfg.Network != "fuji" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
	if cfg.Metering.SentinelToken != "demo-token" {
		t.Fatalf("unexpected sentinel: %s", cfg.Metering.SentinelToken)
	}
	if cfg.Metering.PriceTable != filepath.Join(filepath.Dir(path), "metering.yaml") {
		t.Fatalf("price table not resolved against config dir: %s", cfg.Metering.PriceTable)
	}
	if cfg.Settlement.TokenDecimals != 6 || cfg.Settlement.CallTimeout().Seconds() != 30 {
		t.Fatalf("unexpected settlement defaults: %+v", cfg.Settlement)
	}
	if cfg.Orchestrator.RailPolicy != "always" || cfg.Orchestrator.FlowTimeout().Minutes() != 2 {
		t.Fatalf("unexpected orchestrator defaults: %+v", cfg.Orchestrator)
	}
	if cfg.ChainID() != 43113 {
		t.Fatalf("unexpected chain id %d", cfg.ChainID())
	}
	if cfg.Settlement.ContractAddress != defaultTreasuryAddress || cfg.Settlement.InitialBalance != defaultInitialBalance {
		t.Fatalf("memory ledger defaults missing: %+v", cfg.Settlement)
	}
}

func TestLoadRejectsUnknownSettlementDriver(t *testing.T) {
	path := writeConfig(t, `{"settlement": {"driver": "solana"}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "solana") {
		t.Fatalf("expected settlement driver error, got %v", err)
	}
}

func TestLoadRejectsNegativeMinBalance(t *testing.T) {
	path := writeConfig(t, `{"treasury": {"check_schedule": "@every 10m", "min_balance": -1}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "min_balance") {
		t.Fatalf("expected min_balance error, got %v", err)
	}
}

func TestLoadRejectsLowTokenDecimals(t *testing.T) {
	path := writeConfig(t, `{"settlement": {"driver": "memory", "token_decimals": 1}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "token_decimals") {
		t.Fatalf("expected token_decimals error, got %v", err)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `{"orchestrator": {"rail_policy": "sometimes"}}`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "sometimes") {
		t.Fatalf("expected policy error, got %v", err)
	}
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	path := writeConfig(t, `{"network": "mainnet"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected network error")
	}
}

func TestMainnetChainID(t *testing.T) {
	path := writeConfig(t, `{"network": "avalanche"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID() != 43114 {
		t.Fatalf("unexpected chain id %d", cfg.ChainID())
	}
}
