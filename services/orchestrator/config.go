package orchestrator

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"lendingctl/crypto"
	"lendingctl/internal/passphrase"
	"lendingctl/protocol"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for a lendingctl run.
type Config struct {
	Confirmations       uint64                   `yaml:"confirmations" toml:"confirmations"`
	PollInterval        Duration                 `yaml:"poll_interval" toml:"poll_interval"`
	ConfirmationTimeout Duration                 `yaml:"confirmation_timeout" toml:"confirmation_timeout"`
	Networks            map[string]NetworkConfig `yaml:"networks" toml:"networks"`
	Artifacts           ArtifactsConfig          `yaml:"artifacts" toml:"artifacts"`
	Protocol            ProtocolConfig           `yaml:"protocol" toml:"protocol"`
	Scenario            ScenarioConfig           `yaml:"scenario" toml:"scenario"`
	Verification        VerificationConfig       `yaml:"verification" toml:"verification"`
	Metrics             MetricsConfig            `yaml:"metrics" toml:"metrics"`
	Logging             LoggingConfig            `yaml:"logging" toml:"logging"`
}

// NetworkConfig selects a ledger endpoint and the identities that sign on it.
type NetworkConfig struct {
	RPCURL                string          `yaml:"rpc_url" toml:"rpc_url"`
	ChainID               uint64          `yaml:"chain_id" toml:"chain_id"`
	Accounts              []string        `yaml:"accounts" toml:"accounts"`
	AccountsEnv           []string        `yaml:"accounts_env" toml:"accounts_env"`
	SignerKey             string          `yaml:"signer_key" toml:"signer_key"`
	SignerKeyEnv          string          `yaml:"signer_key_env" toml:"signer_key_env"`
	SignerKeyFile         string          `yaml:"signer_key_file" toml:"signer_key_file"`
	Keystore              string          `yaml:"keystore" toml:"keystore"`
	KeystorePassphraseEnv string          `yaml:"keystore_passphrase_env" toml:"keystore_passphrase_env"`
	RateLimit             float64         `yaml:"rate_limit" toml:"rate_limit"`
	TimeTravel            bool            `yaml:"time_travel" toml:"time_travel"`
	Protocol              *ProtocolConfig `yaml:"protocol" toml:"protocol"`
	Scenario              *ScenarioConfig `yaml:"scenario" toml:"scenario"`
}

// ArtifactsConfig points at the compiled contract artifacts.
type ArtifactsConfig struct {
	Token   string `yaml:"token" toml:"token"`
	Lending string `yaml:"lending" toml:"lending"`
}

// ProtocolConfig carries the lending contract constructor parameters. Fee amounts
// are decimal ether strings. Zero or empty fields fall back to the defaults,
// except overdraft_percent_duration where an explicit 0 is kept.
type ProtocolConfig struct {
	BorrowRatio              uint64  `yaml:"borrow_ratio" toml:"borrow_ratio"`
	MinDuration              uint64  `yaml:"min_duration" toml:"min_duration"`
	MaxDuration              uint64  `yaml:"max_duration" toml:"max_duration"`
	MinFee                   string  `yaml:"min_fee" toml:"min_fee"`
	MaxFee                   string  `yaml:"max_fee" toml:"max_fee"`
	OverdraftPercentDuration *uint64 `yaml:"overdraft_percent_duration" toml:"overdraft_percent_duration"`
	OverdraftFee             string  `yaml:"overdraft_fee" toml:"overdraft_fee"`
}

// ScenarioConfig describes the borrow/repay/settle sequence. Absent timings take
// the defaults; an explicit 0s skips that time advance.
type ScenarioConfig struct {
	InitialSupply string         `yaml:"initial_supply" toml:"initial_supply"`
	Borrows       []BorrowConfig `yaml:"borrows" toml:"borrows"`
	RepayAfter    *Duration      `yaml:"repay_after" toml:"repay_after"`
	WithdrawAfter *Duration      `yaml:"withdraw_after" toml:"withdraw_after"`
}

// BorrowConfig is a single loan taken by the identity at index Borrower.
type BorrowConfig struct {
	Borrower   int    `yaml:"borrower" toml:"borrower"`
	Collateral string `yaml:"collateral" toml:"collateral"`
	Days       uint64 `yaml:"days" toml:"days"`
}

// VerificationConfig enables source verification after deployment.
type VerificationConfig struct {
	Enabled         bool                    `yaml:"enabled" toml:"enabled"`
	APIURL          string                  `yaml:"api_url" toml:"api_url"`
	APIKey          string                  `yaml:"api_key" toml:"api_key"`
	APIKeyEnv       string                  `yaml:"api_key_env" toml:"api_key_env"`
	CompilerVersion string                  `yaml:"compiler_version" toml:"compiler_version"`
	Optimized       bool                    `yaml:"optimized" toml:"optimized"`
	Runs            int                     `yaml:"runs" toml:"runs"`
	PollInterval    Duration                `yaml:"poll_interval" toml:"poll_interval"`
	MaxPolls        int                     `yaml:"max_polls" toml:"max_polls"`
	Sources         map[string]SourceConfig `yaml:"sources" toml:"sources"`
}

// SourceConfig locates the flattened source of a contract.
type SourceConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Name is the fully qualified contract name, e.g. contracts/LendingToken.sol:LendingToken.
	Name string `yaml:"name" toml:"name"`
}

// MetricsConfig enables the Prometheus listener for the duration of a run.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// LoggingConfig redirects the JSON log stream to a rotated file.
type LoggingConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	Level      string `yaml:"level" toml:"level"`
}

// LoadConfig reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Verification.normalise(); err != nil {
		return cfg, fmt.Errorf("verification: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = time.Second
	}
	if cfg.Scenario.InitialSupply == "" {
		cfg.Scenario.InitialSupply = "10000"
	}
	if cfg.Scenario.Borrows == nil {
		cfg.Scenario.Borrows = []BorrowConfig{
			{Borrower: 1, Collateral: "1", Days: 4},
			{Borrower: 2, Collateral: "1", Days: 5},
			{Borrower: 3, Collateral: "1", Days: 10},
		}
	}
	if cfg.Scenario.RepayAfter == nil {
		cfg.Scenario.RepayAfter = &Duration{Duration: 5 * 24 * time.Hour}
	}
	if cfg.Scenario.WithdrawAfter == nil {
		cfg.Scenario.WithdrawAfter = &Duration{Duration: 24 * time.Hour}
	}
	if cfg.Verification.APIKeyEnv == "" {
		cfg.Verification.APIKeyEnv = "ETHERSCAN_TOKEN"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Networks == nil {
		cfg.Networks = map[string]NetworkConfig{}
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}
	for name, network := range cfg.Networks {
		if strings.TrimSpace(network.RPCURL) == "" {
			return fmt.Errorf("network %s: rpc_url must be configured", name)
		}
		if network.RateLimit < 0 {
			return fmt.Errorf("network %s: rate_limit must not be negative", name)
		}
		if network.Scenario != nil {
			if err := validateScenario("networks."+name+".scenario", *network.Scenario); err != nil {
				return err
			}
		}
	}
	if strings.TrimSpace(cfg.Artifacts.Token) == "" {
		return fmt.Errorf("artifacts.token must be configured")
	}
	if strings.TrimSpace(cfg.Artifacts.Lending) == "" {
		return fmt.Errorf("artifacts.lending must be configured")
	}
	if err := validateScenario("scenario", cfg.Scenario); err != nil {
		return err
	}
	if cfg.Verification.Enabled {
		if strings.TrimSpace(cfg.Verification.APIURL) == "" {
			return fmt.Errorf("verification.api_url must be configured")
		}
		if strings.TrimSpace(cfg.Verification.CompilerVersion) == "" {
			return fmt.Errorf("verification.compiler_version must be configured")
		}
		for _, name := range []string{protocol.TokenContract, protocol.LendingContract} {
			if _, ok := cfg.Verification.Sources[name]; !ok {
				return fmt.Errorf("verification.sources.%s must be configured", name)
			}
		}
	}
	return nil
}

func validateScenario(prefix string, scenario ScenarioConfig) error {
	for i, borrow := range scenario.Borrows {
		if borrow.Borrower < 1 {
			return fmt.Errorf("%s.borrows[%d]: borrower index must be at least 1, index 0 is the owner", prefix, i)
		}
		if borrow.Days == 0 {
			return fmt.Errorf("%s.borrows[%d]: days must be positive", prefix, i)
		}
	}
	for _, d := range []struct {
		name  string
		value *Duration
	}{{"repay_after", scenario.RepayAfter}, {"withdraw_after", scenario.WithdrawAfter}} {
		if d.value != nil && d.value.Duration < 0 {
			return fmt.Errorf("%s.%s must not be negative", prefix, d.name)
		}
	}
	return nil
}

func (v *VerificationConfig) normalise() error {
	v.APIKey = strings.TrimSpace(v.APIKey)
	v.APIKeyEnv = strings.TrimSpace(v.APIKeyEnv)
	if !v.Enabled || v.APIKey != "" {
		return nil
	}
	value := strings.TrimSpace(os.Getenv(v.APIKeyEnv))
	if value == "" {
		return fmt.Errorf("api_key_env %s is empty", v.APIKeyEnv)
	}
	v.APIKey = value
	return nil
}

// NetworkNames lists the configured networks in a stable order.
func (c Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Network resolves a named network with its endpoint expanded from the environment.
func (c Config) Network(name string) (NetworkConfig, error) {
	network, ok := c.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q (configured: %s)", name, strings.Join(c.NetworkNames(), ", "))
	}
	network.RPCURL = strings.TrimSpace(os.ExpandEnv(network.RPCURL))
	if network.RPCURL == "" {
		return NetworkConfig{}, fmt.Errorf("network %s: rpc_url expands to an empty string", name)
	}
	return network, nil
}

// Identities loads the signers of the network. A single configured signer
// (signer_key, signer_key_env, signer_key_file or keystore) comes first and acts as
// owner; the fixed accounts list follows in order, then keys read from the
// accounts_env variables.
func (n NetworkConfig) Identities(passphrases func(envVar, label string) *passphrase.Source) ([]crypto.Identity, error) {
	var identities []crypto.Identity
	owner, ok, err := n.signer(passphrases)
	if err != nil {
		return nil, err
	}
	if ok {
		identities = append(identities, owner)
	}
	for i, raw := range n.Accounts {
		id, err := crypto.IdentityFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		identities = append(identities, id)
	}
	for i, envVar := range n.AccountsEnv {
		envVar = strings.TrimSpace(envVar)
		raw := strings.TrimSpace(os.Getenv(envVar))
		if raw == "" {
			return nil, fmt.Errorf("accounts_env[%d]: %s is empty", i, envVar)
		}
		id, err := crypto.IdentityFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("accounts_env[%d] %s: %w", i, envVar, err)
		}
		identities = append(identities, id)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no signer configured: set accounts, accounts_env, signer_key, signer_key_env, signer_key_file or keystore")
	}
	return identities, nil
}

func (n NetworkConfig) signer(passphrases func(envVar, label string) *passphrase.Source) (crypto.Identity, bool, error) {
	key := strings.TrimSpace(n.SignerKey)
	envVar := strings.TrimSpace(n.SignerKeyEnv)
	file := strings.TrimSpace(n.SignerKeyFile)
	keystore := strings.TrimSpace(n.Keystore)
	switch {
	case key != "":
	case envVar != "":
		key = strings.TrimSpace(os.Getenv(envVar))
		if key == "" {
			return crypto.Identity{}, false, fmt.Errorf("signer_key_env %s is empty", envVar)
		}
	case file != "":
		contents, err := os.ReadFile(file)
		if err != nil {
			return crypto.Identity{}, false, fmt.Errorf("read signer_key_file: %w", err)
		}
		key = strings.TrimSpace(string(contents))
	case keystore != "":
		if passphrases == nil {
			passphrases = passphrase.NewSource
		}
		pass, err := passphrases(n.KeystorePassphraseEnv, keystore).Get()
		if err != nil {
			return crypto.Identity{}, false, fmt.Errorf("keystore passphrase: %w", err)
		}
		id, err := crypto.LoadFromKeystore(keystore, pass)
		if err != nil {
			return crypto.Identity{}, false, err
		}
		return id, true, nil
	default:
		return crypto.Identity{}, false, nil
	}
	id, err := crypto.IdentityFromHex(key)
	if err != nil {
		return crypto.Identity{}, false, fmt.Errorf("signer key: %w", err)
	}
	return id, true, nil
}

// ProtocolFor returns the protocol parameters for network, applying its override
// on top of the top-level protocol section.
func (c Config) ProtocolFor(network NetworkConfig) (protocol.Params, error) {
	merged := c.Protocol
	if network.Protocol != nil {
		merged = merged.overlay(*network.Protocol)
	}
	return merged.params()
}

func (p ProtocolConfig) overlay(o ProtocolConfig) ProtocolConfig {
	if o.BorrowRatio != 0 {
		p.BorrowRatio = o.BorrowRatio
	}
	if o.MinDuration != 0 {
		p.MinDuration = o.MinDuration
	}
	if o.MaxDuration != 0 {
		p.MaxDuration = o.MaxDuration
	}
	if o.MinFee != "" {
		p.MinFee = o.MinFee
	}
	if o.MaxFee != "" {
		p.MaxFee = o.MaxFee
	}
	if o.OverdraftPercentDuration != nil {
		p.OverdraftPercentDuration = o.OverdraftPercentDuration
	}
	if o.OverdraftFee != "" {
		p.OverdraftFee = o.OverdraftFee
	}
	return p
}

func (p ProtocolConfig) params() (protocol.Params, error) {
	spec := protocol.DefaultParamsSpec()
	if p.BorrowRatio != 0 {
		spec.BorrowRatio = p.BorrowRatio
	}
	if p.MinDuration != 0 {
		spec.MinDuration = p.MinDuration
	}
	if p.MaxDuration != 0 {
		spec.MaxDuration = p.MaxDuration
	}
	if p.OverdraftPercentDuration != nil {
		spec.OverdraftPercentDuration = *p.OverdraftPercentDuration
	}
	var err error
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"min_fee", p.MinFee, &spec.MinFee},
		{"max_fee", p.MaxFee, &spec.MaxFee},
		{"overdraft_fee", p.OverdraftFee, &spec.OverdraftFee},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		if *field.dst, err = protocol.ParseEther(field.raw); err != nil {
			return protocol.Params{}, fmt.Errorf("protocol.%s: %w", field.name, err)
		}
	}
	return protocol.NewParams(spec)
}

// ScenarioFor returns the scenario for network, applying its override on top of
// the top-level scenario section.
func (c Config) ScenarioFor(network NetworkConfig) ScenarioConfig {
	merged := c.Scenario
	if network.Scenario == nil {
		return merged
	}
	o := *network.Scenario
	if o.InitialSupply != "" {
		merged.InitialSupply = o.InitialSupply
	}
	if o.Borrows != nil {
		merged.Borrows = o.Borrows
	}
	if o.RepayAfter != nil {
		merged.RepayAfter = o.RepayAfter
	}
	if o.WithdrawAfter != nil {
		merged.WithdrawAfter = o.WithdrawAfter
	}
	return merged
}

// Plan builds the run plan for network.
func (c Config) Plan(network NetworkConfig) (Plan, error) {
	params, err := c.ProtocolFor(network)
	if err != nil {
		return Plan{}, err
	}
	scenario := c.ScenarioFor(network)
	supply, err := protocol.ParseEther(scenario.InitialSupply)
	if err != nil {
		return Plan{}, fmt.Errorf("scenario.initial_supply: %w", err)
	}
	plan := Plan{
		InitialSupply: supply,
		Params:        params,
		Verify:        c.Verification.Enabled,
	}
	if scenario.RepayAfter != nil {
		plan.RepayAfter = scenario.RepayAfter.Duration
	}
	if scenario.WithdrawAfter != nil {
		plan.WithdrawAfter = scenario.WithdrawAfter.Duration
	}
	for i, borrow := range scenario.Borrows {
		collateral, err := protocol.ParseEther(borrow.Collateral)
		if err != nil {
			return Plan{}, fmt.Errorf("scenario.borrows[%d].collateral: %w", i, err)
		}
		plan.Borrows = append(plan.Borrows, BorrowPlan{
			Borrower:   borrow.Borrower,
			Collateral: collateral,
			Days:       borrow.Days,
		})
	}
	return plan, nil
}
