package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore — общий для всех инстансов счётчик поверх sorted set:
// score — отметка времени в микросекундах, member уникален на запрос.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore создаёт хранилище; ключи получают вид prefix+key.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	const op = "ratelimit.RedisStore.Hit"

	k := s.prefix + key
	threshold := now.Add(-window).UnixMicro()

	var nonce [4]byte
	_, _ = rand.Read(nonce[:])
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(nonce[:])

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(threshold, 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return int(card.Val()), nil
}

var _ Store = (*RedisStore)(nil)
