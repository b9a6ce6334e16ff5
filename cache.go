package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type TokenCache interface {
	GetToken(chainID uint64, addr common.Address) (*Token, bool)
	SetToken(t *Token)
}

type Cache interface {
	TokenCache
}

type twoTierCache struct {
	ctx    context.Context
	memory *cache.Cache
	redis  *redis.Client
	ttl    time.Duration
}

// NewTwoTierCache keeps entries in memory and, when rdb is non-nil, in Redis.
func NewTwoTierCache(rdb *redis.Client, ttl time.Duration) Cache {
	return &twoTierCache{
		ctx:    context.Background(),
		memory: cache.New(ttl, time.Hour),
		redis:  rdb,
		ttl:    ttl,
	}
}

func NewRedisClient(conf *CacheConf) *redis.Client {
	if conf.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr: conf.RedisAddr,
		DB:   conf.RedisDB,
	})
}

func TokenCacheKey(chainID uint64, addr common.Address) string {
	return fmt.Sprintf("mbt:%d:%s", chainID, addr.Hex())
}

func (c *twoTierCache) GetToken(chainID uint64, addr common.Address) (*Token, bool) {
	k := TokenCacheKey(chainID, addr)
	token, ok := c.memory.Get(k)
	if ok {
		return token.(*Token), true
	}

	if c.redis == nil {
		return nil, false
	}

	v := &Token{}
	err := c.redis.Get(c.ctx, k).Scan(v)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			Log.Error("redis get err", zap.Error(err))
		}
		return nil, false
	}

	c.memory.Set(k, v, 0)
	return v, true
}

func (c *twoTierCache) SetToken(t *Token) {
	k := TokenCacheKey(t.ChainID, t.Address)
	c.memory.Set(k, t, 0)

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(c.ctx, k, t, c.ttl).Err(); err != nil {
		Log.Error("redis set err", zap.Error(err))
	}
}
