package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Unjail   UnjailConfig   `yaml:"unjail"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ============================================================
// CHAIN CONFIG
// ============================================================

type ChainConfig struct {
	Name             string   `yaml:"name"`
	APIURL           string   `yaml:"api_url"`
	ValidatorAddress string   `yaml:"validator_address"`
	Mode             string   `yaml:"mode"` // specific | all | both
	Validators       []string `yaml:"validators"`
}

// ============================================================
// UNJAIL CONFIG
// ============================================================

type UnjailConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Binary        string `yaml:"binary"`
	Chain         string `yaml:"chain"`
	InitialWait   string `yaml:"initial_wait"`
	RetryInterval string `yaml:"retry_interval"`
	SettleWait    string `yaml:"settle_wait"`
	MaxAttempts   int    `yaml:"max_attempts"`

	// Resolved from HLS_PRIVATE_KEY, never from the config file.
	PrivateKey string `yaml:"-"`
}

// ============================================================
// ALERTS CONFIG
// ============================================================

type AlertsConfig struct {
	Telegram        TelegramConfig      `yaml:"telegram"`
	Twilio          TwilioConfig        `yaml:"twilio"`
	Tags            []string            `yaml:"tags"`
	ValidatorTags   map[string][]string `yaml:"validator_tags"`
	SummarySchedule string              `yaml:"summary_schedule"`
}

type TelegramConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Token           string `yaml:"token"`
	TargetedChatID  string `yaml:"targeted_chat_id"`
	BroadcastChatID string `yaml:"broadcast_chat_id"`
}

type TwilioConfig struct {
	Enabled     bool     `yaml:"enabled"`
	AccountSID  string   `yaml:"account_sid"`
	AuthToken   string   `yaml:"auth_token"`
	FromNumber  string   `yaml:"from_number"`
	CallNumbers []string `yaml:"call_numbers"`
}

// ============================================================
// ADVANCED CONFIG
// ============================================================

type AdvancedConfig struct {
	PollInterval         string      `yaml:"poll_interval"`
	CacheTTL             string      `yaml:"cache_ttl"`
	HTTPTimeout          string      `yaml:"http_timeout"`
	RegistryReloadCycles int         `yaml:"registry_reload_cycles"`
	RateLimit            RateConfig  `yaml:"rate_limit"`
	Retry                RetryConfig `yaml:"retry"`
	DashboardPort        int         `yaml:"dashboard_port"`
	StateFile            string      `yaml:"state_file"`
	HideLogs             bool        `yaml:"hide_logs"`
}

type RateConfig struct {
	MaxCalls int    `yaml:"max_calls"`
	Window   string `yaml:"window"`
}

type RetryConfig struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "30m", "600s", "10s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (u UnjailConfig) InitialWaitDuration() time.Duration   { return ParseDuration(u.InitialWait) }
func (u UnjailConfig) RetryIntervalDuration() time.Duration { return ParseDuration(u.RetryInterval) }
func (u UnjailConfig) SettleWaitDuration() time.Duration    { return ParseDuration(u.SettleWait) }

func (a AdvancedConfig) PollIntervalDuration() time.Duration { return ParseDuration(a.PollInterval) }
func (a AdvancedConfig) CacheTTLDuration() time.Duration     { return ParseDuration(a.CacheTTL) }
func (a AdvancedConfig) HTTPTimeoutDuration() time.Duration  { return ParseDuration(a.HTTPTimeout) }

func (r RateConfig) WindowDuration() time.Duration { return ParseDuration(r.Window) }

func (r RetryConfig) InitialDelayDuration() time.Duration { return ParseDuration(r.InitialDelay) }
func (r RetryConfig) MaxDelayDuration() time.Duration     { return ParseDuration(r.MaxDelay) }

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Chain.APIURL == "" {
		cfg.Chain.APIURL = "https://api.hyperliquid-testnet.xyz/info"
	}
	if cfg.Chain.Name == "" {
		cfg.Chain.Name = "Testnet"
	}
	if cfg.Chain.Mode == "" {
		cfg.Chain.Mode = "both"
	}

	if cfg.Unjail.Binary == "" {
		cfg.Unjail.Binary = "hl-node"
	}
	if cfg.Unjail.Chain == "" {
		cfg.Unjail.Chain = cfg.Chain.Name
	}
	if cfg.Unjail.InitialWait == "" {
		cfg.Unjail.InitialWait = "30m"
	}
	if cfg.Unjail.RetryInterval == "" {
		cfg.Unjail.RetryInterval = "10m"
	}
	if cfg.Unjail.SettleWait == "" {
		cfg.Unjail.SettleWait = "10s"
	}
	if cfg.Unjail.MaxAttempts == 0 {
		cfg.Unjail.MaxAttempts = 5
	}

	if cfg.Alerts.SummarySchedule == "" {
		cfg.Alerts.SummarySchedule = "0 */4 * * *"
	}

	if cfg.Advanced.PollInterval == "" {
		cfg.Advanced.PollInterval = "5m"
	}
	if cfg.Advanced.CacheTTL == "" {
		cfg.Advanced.CacheTTL = "60s"
	}
	if cfg.Advanced.HTTPTimeout == "" {
		cfg.Advanced.HTTPTimeout = "10s"
	}
	if cfg.Advanced.RegistryReloadCycles == 0 {
		cfg.Advanced.RegistryReloadCycles = 10
	}
	if cfg.Advanced.RateLimit.MaxCalls == 0 {
		cfg.Advanced.RateLimit.MaxCalls = 30
	}
	if cfg.Advanced.RateLimit.Window == "" {
		cfg.Advanced.RateLimit.Window = "60s"
	}
	if cfg.Advanced.Retry.MaxAttempts == 0 {
		cfg.Advanced.Retry.MaxAttempts = 4
	}
	if cfg.Advanced.Retry.InitialDelay == "" {
		cfg.Advanced.Retry.InitialDelay = "1s"
	}
	if cfg.Advanced.Retry.MaxDelay == "" {
		cfg.Advanced.Retry.MaxDelay = "5m"
	}
	if cfg.Advanced.DashboardPort == 0 {
		cfg.Advanced.DashboardPort = 8888
	}
}

// applyEnvOverrides pulls secrets from the environment. Values in the
// config file are placeholders at best; env always wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HLS_PRIVATE_KEY"); v != "" {
		cfg.Unjail.PrivateKey = v
	}
	if v := os.Getenv("HLS_TELEGRAM_TOKEN"); v != "" {
		cfg.Alerts.Telegram.Token = v
	}
	if v := os.Getenv("HLS_TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Alerts.Twilio.AccountSID = v
	}
	if v := os.Getenv("HLS_TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Alerts.Twilio.AuthToken = v
	}
}

// ============================================================
// VALIDATION
// ============================================================

// Validate checks that everything the enabled features need is present.
// The returned error names every missing field so the operator can fix
// the whole set at once.
func (cfg *Config) Validate() error {
	var missing []string

	switch cfg.Chain.Mode {
	case "specific", "all", "both":
	default:
		return fmt.Errorf("chain.mode must be one of specific, all, both (got %q)", cfg.Chain.Mode)
	}

	if cfg.Chain.Mode != "all" && cfg.Chain.ValidatorAddress == "" {
		missing = append(missing, "chain:validator_address")
	}

	if cfg.Unjail.Enabled {
		if cfg.Unjail.PrivateKey == "" {
			missing = append(missing, "unjail:private_key (HLS_PRIVATE_KEY)")
		}
		if cfg.Chain.ValidatorAddress == "" {
			missing = append(missing, "unjail:chain.validator_address")
		}
	}

	if cfg.Alerts.Telegram.Enabled {
		if cfg.Alerts.Telegram.Token == "" {
			missing = append(missing, "telegram:token (HLS_TELEGRAM_TOKEN)")
		}
		if cfg.Alerts.Telegram.TargetedChatID == "" {
			missing = append(missing, "telegram:targeted_chat_id")
		}
		if cfg.Alerts.Telegram.BroadcastChatID == "" {
			missing = append(missing, "telegram:broadcast_chat_id")
		}
	}

	if cfg.Alerts.Twilio.Enabled {
		if cfg.Alerts.Twilio.AccountSID == "" {
			missing = append(missing, "twilio:account_sid (HLS_TWILIO_ACCOUNT_SID)")
		}
		if cfg.Alerts.Twilio.AuthToken == "" {
			missing = append(missing, "twilio:auth_token (HLS_TWILIO_AUTH_TOKEN)")
		}
		if cfg.Alerts.Twilio.FromNumber == "" {
			missing = append(missing, "twilio:from_number")
		}
		if len(cfg.Alerts.Twilio.CallNumbers) == 0 {
			missing = append(missing, "twilio:call_numbers")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
