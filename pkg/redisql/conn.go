package redisql

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conn is the subset of a go-redis connection the operations use. Both
// *redis.Conn and *redis.ClusterClient satisfy it apart from Close, which
// callers use to hand the connection back.
type Conn interface {
	Process(ctx context.Context, cmd redis.Cmder) error
	Close() error

	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	MSet(ctx context.Context, values ...interface{}) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Type(ctx context.Context, key string) *redis.StatusCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	DBSize(ctx context.Context) *redis.IntCmd
	FlushDB(ctx context.Context) *redis.StatusCmd
	FlushAll(ctx context.Context) *redis.StatusCmd

	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	HVals(ctx context.Context, key string) *redis.StringSliceCmd

	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	RPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd

	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd

	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
}

// ConnSource hands out a connection for the duration of one command.
// The caller must Close the connection on every path.
type ConnSource interface {
	Acquire(ctx context.Context) (Conn, error)
	// DB is the logical database new connections start on.
	DB() int
}
