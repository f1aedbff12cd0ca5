package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Governance.VotingPeriodSeconds != 7*24*60*60 {
		t.Fatalf("unexpected voting period: %d", cfg.Governance.VotingPeriodSeconds)
	}
	if cfg.Governance.QuorumPercentUpgrade != 20 {
		t.Fatalf("unexpected upgrade quorum: %d", cfg.Governance.QuorumPercentUpgrade)
	}
	if cfg.ServiceName != "agora" {
		t.Fatalf("unexpected service name: %q", cfg.ServiceName)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
ServiceName = "agora-devnet"
Environment = "dev"

[Governance]
VotingPeriodSeconds = 3600
ExecutionDelaySeconds = 600
QuorumPercentGeneral = 4
QuorumPercentTreasury = 8
QuorumPercentUpgrade = 15
MaxProposalsPerEpoch = 3
QuotaEpochSeconds = 7200

[Market]
FeeBps = 250
FeeTreasury = "agora1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "agora-devnet" {
		t.Fatalf("unexpected service name: %q", cfg.ServiceName)
	}
	if cfg.Governance.VotingPeriodSeconds != 3600 {
		t.Fatalf("unexpected voting period: %d", cfg.Governance.VotingPeriodSeconds)
	}
	if cfg.Governance.MaxProposalsPerEpoch != 3 {
		t.Fatalf("unexpected quota: %d", cfg.Governance.MaxProposalsPerEpoch)
	}
	if cfg.Market.FeeBps != 250 {
		t.Fatalf("unexpected fee: %d", cfg.Market.FeeBps)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Governance.QuorumPercentUpgrade = 120
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected quorum validation error")
	}

	cfg = Default()
	cfg.Governance.VotingPeriodSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected voting period validation error")
	}

	cfg = Default()
	cfg.Market.FeeBps = 10_001
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected fee validation error")
	}
}
