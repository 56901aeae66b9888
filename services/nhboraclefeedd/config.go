package nhboraclefeedd

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PairFeed maps one configured currency pair onto the on-chain oracle/slot it
// publishes into.
type PairFeed struct {
	Base     string `toml:"base"`
	Quote    string `toml:"quote"`
	OracleID uint64 `toml:"oracleId"`
	Slot     uint8  `toml:"slot"`
}

// CoinGeckoConfig configures the CoinGecko off-chain price source.
type CoinGeckoConfig struct {
	Endpoint string            `toml:"endpoint"`
	IDs      map[string]string `toml:"ids"`
}

// Config controls nhboraclefeedd: which off-chain sources feed which on-chain
// oracle slots, how often it polls, and how it authenticates both inbound
// (its own push endpoint) and outbound (the chain's RPC) requests.
type Config struct {
	ListenAddress     string          `toml:"listenAddress"`
	ChainRPCURL       string          `toml:"chainRpcUrl"`
	ChainBearerToken  string          `toml:"chainBearerToken"`
	Source            string          `toml:"source"`
	PollIntervalSec   int64           `toml:"pollIntervalSeconds"`
	QuoteMaxAgeSec    int64           `toml:"quoteMaxAgeSeconds"`
	OraclePriority    []string        `toml:"oraclePriority"`
	CoinGecko         CoinGeckoConfig `toml:"coingecko"`
	Pairs             []PairFeed      `toml:"pairs"`
	PushAuthHMACSecret string         `toml:"pushAuthHmacSecret"`
	PushAuthIssuer    string          `toml:"pushAuthIssuer"`
}

// LoadConfig reads and normalises a TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg.Normalise(), nil
}

// Normalise applies defaults the way native/swap.Config.Normalise does.
func (c Config) Normalise() Config {
	cfg := Config{
		ListenAddress:      strings.TrimSpace(c.ListenAddress),
		ChainRPCURL:        strings.TrimSpace(c.ChainRPCURL),
		ChainBearerToken:   c.ChainBearerToken,
		Source:             strings.TrimSpace(c.Source),
		PollIntervalSec:    c.PollIntervalSec,
		QuoteMaxAgeSec:     c.QuoteMaxAgeSec,
		OraclePriority:     append([]string{}, c.OraclePriority...),
		CoinGecko:          c.CoinGecko,
		Pairs:              append([]PairFeed(nil), c.Pairs...),
		PushAuthHMACSecret: c.PushAuthHMACSecret,
		PushAuthIssuer:     strings.TrimSpace(c.PushAuthIssuer),
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8654"
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 30
	}
	if cfg.QuoteMaxAgeSec <= 0 {
		cfg.QuoteMaxAgeSec = 300
	}
	if len(cfg.OraclePriority) == 0 {
		cfg.OraclePriority = []string{"coingecko"}
	}
	for i := range cfg.OraclePriority {
		cfg.OraclePriority[i] = strings.ToLower(strings.TrimSpace(cfg.OraclePriority[i]))
	}
	return cfg
}

// PollInterval is the configured poll interval as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// QuoteMaxAge is the configured freshness window as a time.Duration.
func (c Config) QuoteMaxAge() time.Duration {
	return time.Duration(c.QuoteMaxAgeSec) * time.Second
}
