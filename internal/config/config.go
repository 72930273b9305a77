package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "4m" or "168h"
// parse with time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Gateway  Gateway  `yaml:"gateway"`
	Rules    Rules    `yaml:"rules"`
	Engine   Engine   `yaml:"engine"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Gateway points at the chat-platform adapter used for capability lookup,
// destination presence checks and temporary access links.
type Gateway struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	OwnerID    string `yaml:"owner_id"`
}

type Rules struct {
	DocumentURL string `yaml:"document_url"`
}

// Engine holds every tunable of the lifecycle and governance engine.
// Observed values from production are the defaults; none of them is load-
// bearing for correctness.
type Engine struct {
	CostStandard int64 `yaml:"cost_standard"`
	CostVIP      int64 `yaml:"cost_vip"`
	CostUrgent   int64 `yaml:"cost_urgent"`

	PayoutPrepare int64 `yaml:"payout_prepare"`
	PayoutDeliver int64 `yaml:"payout_deliver"`

	DailyAllowance    int64 `yaml:"daily_allowance"`
	DailyAllowanceVIP int64 `yaml:"daily_allowance_vip"`

	DoubleStatsCost int64 `yaml:"double_stats_cost"`
	DoubleStatsDays int   `yaml:"double_stats_days"`
	CodeVIPDays     int   `yaml:"code_vip_days"`
	MVPBonus        int64 `yaml:"mvp_bonus"`

	ClaimWindow   Duration `yaml:"claim_window"`
	PrepWindow    Duration `yaml:"prep_window"`
	ConfirmBudget Duration `yaml:"confirm_budget"`

	QueueCap           int      `yaml:"queue_cap"`
	BypassSurcharge    int64    `yaml:"bypass_surcharge"`
	BypassOfferTTL     Duration `yaml:"bypass_offer_ttl"`
	VIPBypassCooldown  Duration `yaml:"vip_bypass_cooldown"`
	PartnerBypassesCap bool     `yaml:"partner_bypasses_cap"`
	PartnerCommunities []string `yaml:"partner_communities"`

	ReadyTimeout  Duration `yaml:"ready_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`

	QuotaFloor       int      `yaml:"quota_floor"`
	QuotaCeiling     int      `yaml:"quota_ceiling"`
	TraineeTarget    int      `yaml:"trainee_target"`
	QuotaMinInterval Duration `yaml:"quota_min_interval"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		HTTP:     HTTP{Port: 3000},
		Database: Database{Port: 5432, SSLMode: "disable", MaxConns: 10},
		RabbitMQ: RabbitMQ{Port: 5672, VHost: "/"},
		Gateway:  Gateway{TimeoutSec: 5},
		Engine:   DefaultEngine(),
	}
}

func DefaultEngine() Engine {
	return Engine{
		CostStandard:      100,
		CostVIP:           50,
		CostUrgent:        150,
		PayoutPrepare:     20,
		PayoutDeliver:     30,
		DailyAllowance:    1000,
		DailyAllowanceVIP: 2000,
		DoubleStatsCost:   15000,
		DoubleStatsDays:   30,
		CodeVIPDays:       30,
		MVPBonus:          3000,

		ClaimWindow:   Duration(4 * time.Minute),
		PrepWindow:    Duration(3 * time.Minute),
		ConfirmBudget: Duration(10 * time.Minute),

		QueueCap:          10,
		BypassSurcharge:   50,
		BypassOfferTTL:    Duration(15 * time.Second),
		VIPBypassCooldown: Duration(6 * time.Hour),

		ReadyTimeout:  Duration(20 * time.Minute),
		SweepInterval: Duration(time.Minute),

		QuotaFloor:       5,
		QuotaCeiling:     30,
		TraineeTarget:    5,
		QuotaMinInterval: Duration(72 * time.Hour),
	}
}

func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.RabbitMQ.Host == "" || c.RabbitMQ.User == "" {
		return fmt.Errorf("rabbitmq config incomplete")
	}
	e := c.Engine
	if e.QueueCap <= 0 || e.QuotaFloor <= 0 || e.QuotaCeiling < e.QuotaFloor {
		return fmt.Errorf("engine config out of range")
	}
	return nil
}
