package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App owns the shared resources and one dashboard per served network.
type App struct {
	conf       *Config
	registry   *NetworkRegistry
	cache      Cache
	redis      *redis.Client
	history    *HistoryStore
	clients    []*ethclient.Client
	dashboards map[string]*Dashboard
}

func NewApp(conf *Config) (*App, error) {
	registry, err := NewNetworkRegistry(conf.Networks)
	if err != nil {
		return nil, err
	}

	rdb := NewRedisClient(conf.Cache)
	a := &App{
		conf:       conf,
		registry:   registry,
		cache:      NewTwoTierCache(rdb, time.Duration(conf.Cache.TTLSec)*time.Second),
		redis:      rdb,
		dashboards: make(map[string]*Dashboard),
	}
	return a, nil
}

func (a *App) Registry() *NetworkRegistry {
	return a.registry
}

// History opens the history store on first use.
func (a *App) History() (*HistoryStore, error) {
	if a.history != nil {
		return a.history, nil
	}
	h, err := OpenHistoryStore(a.conf.History.Path)
	if err != nil {
		return nil, err
	}
	a.history = h
	return h, nil
}

// Dashboard dials the network's RPC and wallet and builds its dashboard.
func (a *App) Dashboard(ctx context.Context, key string) (*Dashboard, error) {
	n, err := a.registry.Find(key)
	if err != nil {
		return nil, err
	}
	if d, ok := a.dashboards[n.Key]; ok {
		return d, nil
	}
	if err = n.Validate(); err != nil {
		return nil, err
	}

	client, err := DialBackend(ctx, n.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", n.Key, err)
	}
	a.clients = append(a.clients, client)

	wallet, err := NewWallet(ctx, a.conf.Wallet, client)
	if err != nil {
		return nil, err
	}
	service, err := NewContractService(n, client, wallet, a.cache, a.conf.RPC)
	if err != nil {
		return nil, err
	}
	history, err := a.History()
	if err != nil {
		return nil, err
	}
	d, err := NewDashboard(service, history, a.conf.Dashboard)
	if err != nil {
		return nil, err
	}

	a.dashboards[n.Key] = d
	Log.Info("network ready", zap.String("network", n.Key), zap.String("rpc", n.RPC))
	return d, nil
}

// ServeAll builds a dashboard for every network with complete contract addresses.
func (a *App) ServeAll(ctx context.Context) (map[string]*Dashboard, error) {
	for _, n := range a.registry.Networks() {
		if err := n.Validate(); err != nil {
			Log.Warn("network skipped", zap.String("network", n.Key), zap.Error(err))
			continue
		}
		if _, err := a.Dashboard(ctx, n.Key); err != nil {
			return nil, err
		}
	}
	if len(a.dashboards) == 0 {
		return nil, errors.New("no network has its contracts configured")
	}
	return a.dashboards, nil
}

func (a *App) Close() {
	for _, d := range a.dashboards {
		d.Close()
	}
	for _, c := range a.clients {
		c.Close()
	}
	if err := a.history.Close(); err != nil {
		Log.Warn("close history err", zap.Error(err))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
