package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// GovernanceConfig carries the proposal lifecycle knobs.
type GovernanceConfig struct {
	VotingPeriodSeconds   uint64 `toml:"VotingPeriodSeconds"`
	ExecutionDelaySeconds uint64 `toml:"ExecutionDelaySeconds"`
	QuorumPercentGeneral  uint64 `toml:"QuorumPercentGeneral"`
	QuorumPercentTreasury uint64 `toml:"QuorumPercentTreasury"`
	QuorumPercentUpgrade  uint64 `toml:"QuorumPercentUpgrade"`
	MaxProposalsPerEpoch  uint32 `toml:"MaxProposalsPerEpoch"`
	QuotaEpochSeconds     uint32 `toml:"QuotaEpochSeconds"`
}

// MarketConfig carries the marketplace fee policy applied at genesis.
type MarketConfig struct {
	FeeBps      uint32 `toml:"FeeBps"`
	FeeTreasury string `toml:"FeeTreasury"`
}

type Config struct {
	ServiceName string           `toml:"ServiceName"`
	Environment string           `toml:"Environment"`
	DataDir     string           `toml:"DataDir"`
	Governance  GovernanceConfig `toml:"Governance"`
	Market      MarketConfig     `toml:"Market"`
}

// Default returns the configuration used when no file is present: 7-day
// voting, 1-day timelock, 5/10/20 quorums, in-memory storage.
func Default() *Config {
	return &Config{
		ServiceName: "agora",
		Governance: GovernanceConfig{
			VotingPeriodSeconds:   7 * 24 * 60 * 60,
			ExecutionDelaySeconds: 24 * 60 * 60,
			QuorumPercentGeneral:  5,
			QuorumPercentTreasury: 10,
			QuorumPercentUpgrade:  20,
			MaxProposalsPerEpoch:  0,
			QuotaEpochSeconds:     24 * 60 * 60,
		},
	}
}

// Load loads the configuration from the given path, falling back to the
// defaults when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engines would misbehave under.
func (c *Config) Validate() error {
	if c.Governance.VotingPeriodSeconds == 0 {
		return fmt.Errorf("config: voting period must be positive")
	}
	if c.Governance.ExecutionDelaySeconds == 0 {
		return fmt.Errorf("config: execution delay must be positive")
	}
	for name, pct := range map[string]uint64{
		"general":  c.Governance.QuorumPercentGeneral,
		"treasury": c.Governance.QuorumPercentTreasury,
		"upgrade":  c.Governance.QuorumPercentUpgrade,
	} {
		if pct > 100 {
			return fmt.Errorf("config: %s quorum must be within [0, 100]", name)
		}
	}
	if c.Market.FeeBps > 10_000 {
		return fmt.Errorf("config: market fee must be within [0, 10000] bps")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "agora"
	}
	return nil
}
