package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogConf struct {
	Async         bool   `json:"async" yaml:"async"`
	BufferSize    int    `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval int    `json:"flush_interval" yaml:"flush_interval"`
	File          string `json:"file" yaml:"file"`
	MaxSizeMB     int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays    int    `json:"max_age_days" yaml:"max_age_days"`
}

// NetworkConf overrides or extends a built-in network. Empty fields keep the built-in value.
type NetworkConf struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	ChainID     uint64 `json:"chain_id" yaml:"chain_id"`
	Description string `json:"description" yaml:"description"`
	RPC         string `json:"rpc" yaml:"rpc"`
	Explorer    string `json:"explorer" yaml:"explorer"`
	Memebank    string `json:"memebank" yaml:"memebank"`
	Stable      string `json:"stable" yaml:"stable"`
	Collateral  string `json:"collateral" yaml:"collateral"`
	Oracle      string `json:"oracle" yaml:"oracle"`
}

const (
	WalletKindRPC      = "rpc"
	WalletKindKeystore = "keystore"
)

type WalletConf struct {
	Kind        string `json:"kind" yaml:"kind"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	KeystoreDir string `json:"keystore_dir" yaml:"keystore_dir"`
	Account     string `json:"account" yaml:"account"`
	PasswordEnv string `json:"password_env" yaml:"password_env"`
}

type RPCConf struct {
	RateLimit      float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst          int     `json:"burst" yaml:"burst"`
	RetryAttempts  uint    `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs   int     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	CallTimeoutSec int     `json:"call_timeout_sec" yaml:"call_timeout_sec"`
	ReceiptPollMs  int     `json:"receipt_poll_ms" yaml:"receipt_poll_ms"`
	ReceiptTimeout int     `json:"receipt_timeout_sec" yaml:"receipt_timeout_sec"`
}

type DashboardConf struct {
	DataIntervalSec   int `json:"data_interval_sec" yaml:"data_interval_sec"`
	PriceIntervalSec  int `json:"price_interval_sec" yaml:"price_interval_sec"`
	RefreshRetries    int `json:"refresh_retries" yaml:"refresh_retries"`
	RefreshDelayMs    int `json:"refresh_delay_ms" yaml:"refresh_delay_ms"`
	NotificationLimit int `json:"notification_limit" yaml:"notification_limit"`
	PoolSize          int `json:"pool_size" yaml:"pool_size"`
}

type APIConf struct {
	Listen string `json:"listen" yaml:"listen"`
}

type CacheConf struct {
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db"`
	TTLSec    int    `json:"ttl_sec" yaml:"ttl_sec"`
}

type HistoryConf struct {
	Path string `json:"path" yaml:"path"`
}

type Config struct {
	Network   string         `json:"network" yaml:"network"`
	Log       *LogConf       `json:"log" yaml:"log"`
	Networks  []*NetworkConf `json:"networks" yaml:"networks"`
	Wallet    *WalletConf    `json:"wallet" yaml:"wallet"`
	RPC       *RPCConf       `json:"rpc" yaml:"rpc"`
	Dashboard *DashboardConf `json:"dashboard" yaml:"dashboard"`
	API       *APIConf       `json:"api" yaml:"api"`
	Cache     *CacheConf     `json:"cache" yaml:"cache"`
	History   *HistoryConf   `json:"history" yaml:"history"`
}

func DefaultConfig() Config {
	return Config{
		Network: NetworkKeyUnichainSepolia,
		Log: &LogConf{
			Async:         false,
			BufferSize:    1000000,
			FlushInterval: 1,
			MaxSizeMB:     100,
			MaxBackups:    5,
			MaxAgeDays:    14,
		},
		Wallet: &WalletConf{
			Kind:        WalletKindRPC,
			Endpoint:    "http://127.0.0.1:1248",
			KeystoreDir: "./keystore",
			PasswordEnv: "MEMEBANK_KEYSTORE_PASSWORD",
		},
		RPC: &RPCConf{
			RateLimit:      10,
			Burst:          20,
			RetryAttempts:  3,
			RetryDelayMs:   100,
			CallTimeoutSec: 30,
			ReceiptPollMs:  1000,
			ReceiptTimeout: 300,
		},
		Dashboard: &DashboardConf{
			DataIntervalSec:   30,
			PriceIntervalSec:  5,
			RefreshRetries:    3,
			RefreshDelayMs:    2000,
			NotificationLimit: 50,
			PoolSize:          8,
		},
		API: &APIConf{
			Listen: ":29292",
		},
		Cache: &CacheConf{
			TTLSec: 24 * 60 * 60,
		},
		History: &HistoryConf{
			Path: "./history",
		},
	}
}

var G = DefaultConfig()

func LoadConfig(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err = yaml.NewDecoder(file).Decode(&G); err != nil {
			return err
		}
	default:
		if err = json.NewDecoder(file).Decode(&G); err != nil {
			return err
		}
	}

	return nil
}

func (c *RPCConf) retryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *RPCConf) callTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

func (c *RPCConf) receiptPoll() time.Duration {
	return time.Duration(c.ReceiptPollMs) * time.Millisecond
}

func (c *RPCConf) receiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeout) * time.Second
}

func (c *DashboardConf) dataInterval() time.Duration {
	return time.Duration(c.DataIntervalSec) * time.Second
}

func (c *DashboardConf) priceInterval() time.Duration {
	return time.Duration(c.PriceIntervalSec) * time.Second
}

func (c *DashboardConf) refreshDelay(attempt uint) time.Duration {
	return time.Duration(c.RefreshDelayMs) * time.Millisecond * time.Duration(attempt+1)
}
