package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// MarketConfig describes one listed market.
type MarketConfig struct {
	ID               string          `yaml:"id"`
	Symbol           string          `yaml:"symbol"`
	Name             string          `yaml:"name"`
	Decimals         int             `yaml:"decimals"`
	TokenAddress     string          `yaml:"token_address"`
	MarketAddress    string          `yaml:"market_address"`
	CollateralFactor decimal.Decimal `yaml:"collateral_factor"`
	CollateralOnly   bool            `yaml:"collateral_only"`
	IconURL          string          `yaml:"icon_url"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Chain struct {
		RPCURL   string `yaml:"rpc_url"`
		ChainID  int64  `yaml:"chain_id"`
		GasLimit uint64 `yaml:"gas_limit"`
	} `yaml:"chain"`

	Feed struct {
		WSURL           string `yaml:"ws_url"`
		OracleURL       string `yaml:"oracle_url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"feed"`

	Markets []MarketConfig `yaml:"markets"`

	Tracker struct {
		PollIntervalSec  int    `yaml:"poll_interval_sec"`
		TimeoutSec       int    `yaml:"timeout_sec"`
		ScanWindowBlocks uint64 `yaml:"scan_window_blocks"`
		MaxBlocksPerScan uint64 `yaml:"max_blocks_per_scan"`
	} `yaml:"tracker"`

	Approval struct {
		WaitIntervalSec int `yaml:"wait_interval_sec"`
		WaitTimeoutSec  int `yaml:"wait_timeout_sec"`
	} `yaml:"approval"`

	Account string `yaml:"account"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Chain
	if c.Chain.RPCURL == "" || (!hasPrefix(c.Chain.RPCURL, "http://") && !hasPrefix(c.Chain.RPCURL, "https://")) {
		return fmt.Errorf("invalid chain RPC URL: %s", c.Chain.RPCURL)
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}

	// Feed
	if c.Feed.WSURL != "" && !hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}

	// Markets
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	one := decimal.NewFromInt(1)
	for _, m := range c.Markets {
		if m.ID == "" || m.Symbol == "" {
			return fmt.Errorf("market id and symbol are required")
		}
		if m.Decimals < 0 || m.Decimals > 36 {
			return fmt.Errorf("market %s: decimals out of range", m.ID)
		}
		if m.CollateralFactor.IsNegative() || m.CollateralFactor.GreaterThan(one) {
			return fmt.Errorf("market %s: collateral factor must be within [0, 1]", m.ID)
		}
	}

	// Tracker
	if c.Tracker.PollIntervalSec < 0 || c.Tracker.TimeoutSec < 0 {
		return fmt.Errorf("tracker intervals must not be negative")
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("LEND_RPC_URL"); url != "" {
		cfg.Chain.RPCURL = url
	}
	if url := os.Getenv("LEND_FEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if url := os.Getenv("LEND_ORACLE_URL"); url != "" {
		cfg.Feed.OracleURL = url
	}
	if acct := os.Getenv("LEND_ACCOUNT"); acct != "" {
		cfg.Account = acct
	}
}
