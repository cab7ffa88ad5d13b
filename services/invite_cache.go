package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultInviteTTL はチャンネル招待済みとみなす期間
const DefaultInviteTTL = time.Hour

// InviteCache は共有チャンネルに招待済みのユーザーを短期間覚えておく
type InviteCache interface {
	IsInvited(ctx context.Context, companyID, channelID, userID string) bool
	MarkInvited(ctx context.Context, companyID, channelID, userID string)
}

func inviteKey(companyID, channelID, userID string) string {
	return fmt.Sprintf("thank-you:invited:%s:%s:%s", companyID, channelID, userID)
}

// MemoryInviteCache はプロセス内の期限付きキャッシュ
type MemoryInviteCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryInviteCache は ttl の間だけ招待済みを覚えるキャッシュを作成する
func NewMemoryInviteCache(ttl time.Duration, maxSize int) *MemoryInviteCache {
	return &MemoryInviteCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryInviteCache) IsInvited(_ context.Context, companyID, channelID, userID string) bool {
	key := inviteKey(companyID, channelID, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt, ok := c.entries[key]
	if !ok {
		return false
	}
	if !c.now().Before(expiresAt) {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *MemoryInviteCache) MarkInvited(_ context.Context, companyID, channelID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		for k, expiresAt := range c.entries {
			if !now.Before(expiresAt) {
				delete(c.entries, k)
			}
		}
		// 期限切れがなければ全部捨てる
		if len(c.entries) >= c.maxSize {
			c.entries = make(map[string]time.Time)
		}
	}
	c.entries[inviteKey(companyID, channelID, userID)] = now.Add(c.ttl)
}

// RedisInviteCache は複数プロセスで共有する招待済みキャッシュ
type RedisInviteCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisInviteCache はRedisクライアントからキャッシュを作成する
func NewRedisInviteCache(client *redis.Client, ttl time.Duration) *RedisInviteCache {
	return &RedisInviteCache{client: client, ttl: ttl}
}

// NewRedisInviteCacheFromURL は redis:// URL からキャッシュを作成する
func NewRedisInviteCacheFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisInviteCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return NewRedisInviteCache(client, ttl), nil
}

// Redis に接続できない場合は未招待として扱う
func (c *RedisInviteCache) IsInvited(ctx context.Context, companyID, channelID, userID string) bool {
	n, err := c.client.Exists(ctx, inviteKey(companyID, channelID, userID)).Result()
	if err != nil {
		log.Warn().Err(err).Str("channel", channelID).Str("user", userID).Msg("failed to read invite cache")
		return false
	}
	return n > 0
}

func (c *RedisInviteCache) MarkInvited(ctx context.Context, companyID, channelID, userID string) {
	if err := c.client.Set(ctx, inviteKey(companyID, channelID, userID), "1", c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Str("user", userID).Msg("failed to write invite cache")
	}
}

// Close はRedisクライアントを閉じる
func (c *RedisInviteCache) Close() error {
	return c.client.Close()
}
