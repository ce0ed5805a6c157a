package infra

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"nftmarket/internal/domain"
	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// weiPerEtherExp is the decimal exponent between ether and wei.
const weiPerEtherExp = 18

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Marketplace struct {
		Address    string          `yaml:"address"`
		ListingFee decimal.Decimal `yaml:"listing_fee"` // in ether
	} `yaml:"marketplace"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Server struct {
		Addr      string `yaml:"addr"`
		InboxSize int    `yaml:"inbox_size"`
	} `yaml:"server"`

	Feed struct {
		SendBuffer int `yaml:"send_buffer"`
	} `yaml:"feed"`

	Webhook struct {
		URL        string `yaml:"url"` // empty disables delivery
		KeyID      string `yaml:"key_id"`
		Secret     string `yaml:"secret"`
		QueueSize  int    `yaml:"queue_size"`
		MaxRetries int    `yaml:"max_retries"`
		BackoffMS  int    `yaml:"backoff_ms"`
	} `yaml:"webhook"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "nftmarket"
	cfg.Marketplace.Address = "0x000000000000000000000000000000000000dEaD"
	cfg.Marketplace.ListingFee = decimal.RequireFromString("0.001")
	cfg.Server.Addr = ":8080"
	cfg.Server.InboxSize = 1024
	cfg.Feed.SendBuffer = 64
	cfg.Webhook.QueueSize = 256
	cfg.Webhook.MaxRetries = 3
	cfg.Webhook.BackoffMS = 1000
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
	}
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드 지원
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Marketplace.Address) {
		return &domain.ConfigError{Field: "marketplace.address", Err: fmt.Errorf("not a hex address: %q", c.Marketplace.Address)}
	}
	if _, err := c.ListingFeeWei(); err != nil {
		return &domain.ConfigError{Field: "marketplace.listing_fee", Err: err}
	}
	if c.Server.InboxSize <= 0 {
		return &domain.ConfigError{Field: "server.inbox_size", Err: errors.New("must be positive")}
	}
	if c.Feed.SendBuffer <= 0 {
		return &domain.ConfigError{Field: "feed.send_buffer", Err: errors.New("must be positive")}
	}
	if c.Webhook.URL != "" {
		if !hasPrefix(c.Webhook.URL, "http://") && !hasPrefix(c.Webhook.URL, "https://") {
			return &domain.ConfigError{Field: "webhook.url", Err: fmt.Errorf("invalid URL: %s", c.Webhook.URL)}
		}
		if c.Webhook.Secret == "" {
			return &domain.ConfigError{Field: "webhook.secret", Err: errors.New("required when url is set")}
		}
		if c.Webhook.MaxRetries < 0 {
			return &domain.ConfigError{Field: "webhook.max_retries", Err: errors.New("must not be negative")}
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// MarketAddress returns the marketplace identity.
func (c *Config) MarketAddress() common.Address {
	return common.HexToAddress(c.Marketplace.Address)
}

// ListingFeeWei converts the configured fee from ether to wei. The fee must
// be a non-negative whole number of wei that fits in 256 bits.
func (c *Config) ListingFeeWei() (*big.Int, error) {
	wei := c.Marketplace.ListingFee.Shift(weiPerEtherExp)
	if wei.IsNegative() {
		return nil, fmt.Errorf("negative fee %s", c.Marketplace.ListingFee)
	}
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("fee %s is finer than 1 wei", c.Marketplace.ListingFee)
	}
	v := wei.BigInt()
	if !safe.IsUint256(v) {
		return nil, fmt.Errorf("fee %s exceeds 256 bits", c.Marketplace.ListingFee)
	}
	return v, nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if addr := os.Getenv("NFTMARKET_ADDRESS"); addr != "" {
		cfg.Marketplace.Address = addr
	}
	if fee := os.Getenv("NFTMARKET_LISTING_FEE"); fee != "" {
		d, err := decimal.NewFromString(fee)
		if err != nil {
			return &domain.ConfigError{Field: "NFTMARKET_LISTING_FEE", Err: err}
		}
		cfg.Marketplace.ListingFee = d
	}
	// 보안 우선: 시크릿은 파일보다 환경 변수를 우선합니다.
	if url := os.Getenv("NFTMARKET_WEBHOOK_URL"); url != "" {
		cfg.Webhook.URL = url
	}
	if secret := os.Getenv("NFTMARKET_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if path := os.Getenv("NFTMARKET_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("NFTMARKET_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("NFTMARKET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	return nil
}

// FormatEther renders a wei amount as ether.
func FormatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(safe.Copy(wei), -weiPerEtherExp).String()
}
