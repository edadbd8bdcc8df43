package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"subledger/crypto"
	"subledger/native/subscription"

	"github.com/BurntSushi/toml"
)

const (
	AssetNative = "native"
	AssetToken  = "token"

	DefaultAssetSymbol = "SUB"
)

// Allocation seeds an account balance when the ledger state is first created.
type Allocation struct {
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// Config holds the deployment parameters of one subscription ledger.
type Config struct {
	Owner              string `toml:"Owner"`
	FeeRecipient       string `toml:"FeeRecipient"`
	Custody            string `toml:"Custody"`
	RatePerSecond      string `toml:"RatePerSecond"`
	MinPurchaseSeconds uint64 `toml:"MinPurchaseSeconds"`
	RewardBps          uint32 `toml:"RewardBps"`
	FeeBps             uint32 `toml:"FeeBps"`
	RewardHalvings     uint32 `toml:"RewardHalvings"`
	SupplyCap          uint64 `toml:"SupplyCap"`
	Asset              string `toml:"Asset"`
	AssetSymbol        string `toml:"AssetSymbol"`
	// TokenFeeBps is the transfer fee charged by the token asset itself.
	TokenFeeBps          uint32       `toml:"TokenFeeBps"`
	TokenFeeSink         string       `toml:"TokenFeeSink,omitempty"`
	ContractURI          string       `toml:"ContractURI"`
	TokenURI             string       `toml:"TokenURI"`
	DeployTime           uint64       `toml:"DeployTime"`
	OperatorKeystorePath string       `toml:"OperatorKeystorePath"`
	Allocations          []Allocation `toml:"Allocations,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// backed by a fresh operator key when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Asset) == "" {
		c.Asset = AssetNative
	}
	c.Asset = strings.ToLower(strings.TrimSpace(c.Asset))
	if strings.TrimSpace(c.AssetSymbol) == "" {
		c.AssetSymbol = DefaultAssetSymbol
	}
	c.AssetSymbol = strings.ToUpper(strings.TrimSpace(c.AssetSymbol))
}

// createDefault creates and saves a default configuration whose owner and
// fee recipient are the generated operator key.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}
	operator := key.PubKey().Address().String()

	cfg := &Config{
		Owner:                operator,
		FeeRecipient:         operator,
		Custody:              DefaultCustody().String(),
		RatePerSecond:        "1",
		MinPurchaseSeconds:   86_400,
		RewardBps:            500,
		FeeBps:               0,
		RewardHalvings:       6,
		Asset:                AssetNative,
		AssetSymbol:          DefaultAssetSymbol,
		OperatorKeystorePath: keystorePath,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}

// DefaultCustody is the account that holds ledger funds when none is configured.
func DefaultCustody() crypto.Address {
	var addr crypto.Address
	copy(addr[:], []byte("subledger-custody..."))
	return addr
}

// CustodyAccount resolves the configured custody account.
func (c *Config) CustodyAccount() (crypto.Address, error) {
	if strings.TrimSpace(c.Custody) == "" {
		return DefaultCustody(), nil
	}
	return crypto.ParseAddress(c.Custody)
}

// Deployment converts the file representation into engine deployment
// parameters.
func (c *Config) Deployment() (subscription.Deployment, error) {
	var d subscription.Deployment
	owner, err := crypto.ParseAddress(c.Owner)
	if err != nil {
		return d, fmt.Errorf("owner: %w", err)
	}
	d.Owner = owner
	if strings.TrimSpace(c.FeeRecipient) != "" {
		recipient, err := crypto.ParseAddress(c.FeeRecipient)
		if err != nil {
			return d, fmt.Errorf("fee recipient: %w", err)
		}
		d.FeeRecipient = recipient
	}
	rate, err := parseAmount(c.RatePerSecond)
	if err != nil {
		return d, fmt.Errorf("rate per second: %w", err)
	}
	d.RatePerSecond = rate
	d.MinPurchaseSeconds = c.MinPurchaseSeconds
	d.RewardBps = c.RewardBps
	d.FeeBps = c.FeeBps
	d.RewardHalvings = c.RewardHalvings
	d.SupplyCap = c.SupplyCap
	d.ContractURI = c.ContractURI
	d.TokenURI = c.TokenURI
	d.DeployTime = c.DeployTime
	return d, nil
}

// Validate rejects malformed ledger configuration before any state is touched.
func (c *Config) Validate() error {
	d, err := c.Deployment()
	if err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}
	switch c.Asset {
	case AssetNative:
		if c.TokenFeeBps != 0 {
			return errors.New("token fee bps requires the token asset")
		}
	case AssetToken:
		if c.TokenFeeBps > 10_000 {
			return fmt.Errorf("token fee bps %d exceeds 10000", c.TokenFeeBps)
		}
		if c.TokenFeeBps > 0 && strings.TrimSpace(c.TokenFeeSink) == "" {
			return errors.New("token fee sink required when the token charges a fee")
		}
		if c.TokenFeeSink != "" {
			if _, err := crypto.ParseAddress(c.TokenFeeSink); err != nil {
				return fmt.Errorf("token fee sink: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown asset %q", c.Asset)
	}
	if _, err := c.CustodyAccount(); err != nil {
		return fmt.Errorf("custody: %w", err)
	}
	if _, err := c.ParsedAllocations(); err != nil {
		return err
	}
	return nil
}

// ParsedAllocation is an Allocation with its fields decoded.
type ParsedAllocation struct {
	Account crypto.Address
	Amount  *big.Int
}

// ParsedAllocations decodes the genesis allocations.
func (c *Config) ParsedAllocations() ([]ParsedAllocation, error) {
	out := make([]ParsedAllocation, 0, len(c.Allocations))
	for i, alloc := range c.Allocations {
		account, err := crypto.ParseAddress(alloc.Account)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		amount, err := parseAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		out = append(out, ParsedAllocation{Account: account, Amount: amount})
	}
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", raw)
	}
	return value, nil
}
