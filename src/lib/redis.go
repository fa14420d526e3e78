package lib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient(redisHost string) *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

// ErrChallengeMissing is returned when no challenge is pending for a wallet.
var ErrChallengeMissing = errors.New("no pending challenge")

const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

func NonceLockKey(addr common.Address) string {
	return fmt.Sprintf("signer::%s:nonce:lock", strings.ToLower(addr.Hex()))
}

func ChallengeKey(wallet string) string {
	return fmt.Sprintf("wallet::%s:auth:nonce", strings.ToLower(wallet))
}

// RedisNonceLocker serializes submissions per signer across service replicas.
// The lock expires after TTL so a crashed holder cannot wedge a signer; a live
// holder extends it every Refresh until it unlocks.
type RedisNonceLocker struct {
	rdb     redis.Cmdable
	TTL     time.Duration
	Refresh time.Duration
	Retry   time.Duration
	Token   func() string
}

func NewRedisNonceLocker(rdb redis.Cmdable) *RedisNonceLocker {
	return &RedisNonceLocker{
		rdb:     rdb,
		TTL:     30 * time.Second,
		Refresh: 10 * time.Second,
		Retry:   50 * time.Millisecond,
		Token:   uuid.NewString,
	}
}

func (l *RedisNonceLocker) Lock(ctx context.Context, addr common.Address) (func(), error) {
	key := NonceLockKey(addr)
	token := l.Token()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire nonce lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(key, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// the caller's context may already be done; release regardless
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.rdb.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				log.Printf("[redis] Error releasing nonce lock %s: %s\n", key, err.Error())
			}
		})
	}, nil
}

// keepAlive extends the lock until stop closes or the lock is no longer ours.
func (l *RedisNonceLocker) keepAlive(key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	interval := l.Refresh
	if interval <= 0 {
		interval = l.TTL / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := l.rdb.Eval(ctx, extendScript, []string{key}, token, l.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				log.Printf("[redis] Error extending nonce lock %s: %s\n", key, err.Error())
				continue
			}
			if held == 0 {
				log.Printf("[redis] Nonce lock %s expired while held\n", key)
				return
			}
		}
	}
}

// RedisChallengeStore keeps one pending login nonce per wallet.
type RedisChallengeStore struct {
	rdb redis.Cmdable
}

func NewRedisChallengeStore(rdb redis.Cmdable) *RedisChallengeStore {
	return &RedisChallengeStore{rdb: rdb}
}

func (s *RedisChallengeStore) Issue(ctx context.Context, wallet, nonce string, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, ChallengeKey(wallet), nonce, ttl).Err()
}

// Consume returns and deletes the pending nonce, so each challenge verifies once.
func (s *RedisChallengeStore) Consume(ctx context.Context, wallet string) (string, error) {
	nonce, err := s.rdb.GetDel(ctx, ChallengeKey(wallet)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeMissing
	}
	if err != nil {
		return "", err
	}
	return nonce, nil
}

type memoryChallenge struct {
	nonce   string
	expires time.Time
}

// MemoryChallengeStore is used when REDIS_HOST is not configured.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	pending map[string]memoryChallenge
	now     func() time.Time
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{pending: make(map[string]memoryChallenge), now: time.Now}
}

func (s *MemoryChallengeStore) Issue(ctx context.Context, wallet, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ChallengeKey(wallet)] = memoryChallenge{nonce: nonce, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) Consume(ctx context.Context, wallet string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ChallengeKey(wallet)
	c, ok := s.pending[key]
	delete(s.pending, key)
	if !ok || s.now().After(c.expires) {
		return "", ErrChallengeMissing
	}
	return c.nonce, nil
}
