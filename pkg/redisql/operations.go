package redisql

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

func keys(args []Arg) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.Raw
	}
	return out
}

func values(args []Arg) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a.Raw
	}
	return out
}

func init() {
	registerStrings()
	registerKeyspace()
	registerServer()
	registerHashes()
	registerLists()
	registerSets()
	registerSortedSets()
}

func registerStrings() {
	register(&Operation{
		Verb: "GET", Usage: "GET key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromString(c.Get(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "SET", Usage: "SET key value [EX seconds | PX milliseconds]", Arity: OneOf(2, 4),
		Coerce: []ArgKind{ArgString, ArgString, ArgString, ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			if len(a) == 2 {
				return fromStatus(c.Set(ctx, a[0].Raw, a[1].Raw, 0))
			}
			if a[3].Int <= 0 {
				return Reply{}, argumentError("SET", "expiry must be positive, got %d", a[3].Int)
			}
			opt := strings.ToLower(a[2].Raw)
			if opt != "ex" && opt != "px" {
				return Reply{}, argumentError("SET", "unsupported option %q, want EX or PX", a[2].Raw)
			}
			// Sent as the raw integer; a time.Duration overflows for large expiries.
			cmd := redis.NewStatusCmd(ctx, "set", a[0].Raw, a[1].Raw, opt, a[3].Int)
			_ = c.Process(ctx, cmd)
			return fromStatus(cmd)
		},
	})
	register(&Operation{
		Verb: "MGET", Usage: "MGET key [key ...]", Arity: AtLeast(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromSlice(c.MGet(ctx, keys(a)...))
		},
	})
	register(&Operation{
		Verb: "MSET", Usage: "MSET key value [key value ...]", Arity: EvenAtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStatus(c.MSet(ctx, values(a)...))
		},
	})
	register(&Operation{
		Verb: "INCR", Usage: "INCR key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.Incr(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "INCRBY", Usage: "INCRBY key increment", Arity: Exact(2),
		Coerce: []ArgKind{ArgString, ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.IncrBy(ctx, a[0].Raw, a[1].Int))
		},
	})
	register(&Operation{
		Verb: "DECR", Usage: "DECR key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.Decr(ctx, a[0].Raw))
		},
	})
}

func registerKeyspace() {
	register(&Operation{
		Verb: "DEL", Usage: "DEL key [key ...]", Arity: AtLeast(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.Del(ctx, keys(a)...))
		},
	})
	register(&Operation{
		Verb: "EXISTS", Usage: "EXISTS key [key ...]", Arity: AtLeast(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.Exists(ctx, keys(a)...))
		},
	})
	register(&Operation{
		Verb: "KEYS", Usage: "KEYS pattern", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindList, c.Keys(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "TYPE", Usage: "TYPE key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStatus(c.Type(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "TTL", Usage: "TTL key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			// go-redis decodes TTL as a duration; the raw integer keeps -1 and -2 intact.
			cmd := redis.NewIntCmd(ctx, "ttl", a[0].Raw)
			_ = c.Process(ctx, cmd)
			return fromInt(cmd)
		},
	})
	register(&Operation{
		Verb: "EXPIRE", Usage: "EXPIRE key seconds", Arity: Exact(2),
		Coerce: []ArgKind{ArgString, ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			cmd := redis.NewBoolCmd(ctx, "expire", a[0].Raw, a[1].Int)
			_ = c.Process(ctx, cmd)
			return fromBool(cmd)
		},
	})
	register(&Operation{
		Verb: "PERSIST", Usage: "PERSIST key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromBool(c.Persist(ctx, a[0].Raw))
		},
	})
}

func registerServer() {
	register(&Operation{
		Verb: "PING", Usage: "PING [message]", Arity: Between(0, 1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			if len(a) == 0 {
				return fromStatus(c.Ping(ctx))
			}
			return raw(ctx, c, "ping", keys(a))
		},
	})
	register(&Operation{
		Verb: "INFO", Usage: "INFO [section]", Arity: Between(0, 1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromString(c.Info(ctx, keys(a)...))
		},
	})
	register(&Operation{
		Verb: "DBSIZE", Usage: "DBSIZE", Arity: Exact(0),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.DBSize(ctx))
		},
	})
	register(&Operation{
		Verb: "FLUSHDB", Usage: "FLUSHDB", Arity: Exact(0),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStatus(c.FlushDB(ctx))
		},
	})
	register(&Operation{
		Verb: "FLUSHALL", Usage: "FLUSHALL", Arity: Exact(0),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStatus(c.FlushAll(ctx))
		},
	})
	register(&Operation{
		Verb: "SELECT", Usage: "SELECT index", Arity: Exact(1),
		Coerce: []ArgKind{ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			cmd := redis.NewStatusCmd(ctx, "select", a[0].Int)
			_ = c.Process(ctx, cmd)
			return fromStatus(cmd)
		},
	})
}

func registerHashes() {
	register(&Operation{
		Verb: "HSET", Usage: "HSET key field value [field value ...]", Arity: OddAtLeast(3),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.HSet(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "HGET", Usage: "HGET key field", Arity: Exact(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromString(c.HGet(ctx, a[0].Raw, a[1].Raw))
		},
	})
	register(&Operation{
		Verb: "HGETALL", Usage: "HGETALL key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			// Read the flat field/value array so entries keep the store's order.
			cmd := redis.NewStringSliceCmd(ctx, "hgetall", a[0].Raw)
			_ = c.Process(ctx, cmd)
			flat, err := cmd.Result()
			if err != nil {
				return Reply{}, err
			}
			return PairsReply(flat), nil
		},
	})
	register(&Operation{
		Verb: "HDEL", Usage: "HDEL key field [field ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.HDel(ctx, a[0].Raw, keys(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "HLEN", Usage: "HLEN key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.HLen(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "HKEYS", Usage: "HKEYS key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindList, c.HKeys(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "HVALS", Usage: "HVALS key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindList, c.HVals(ctx, a[0].Raw))
		},
	})
}

func registerLists() {
	register(&Operation{
		Verb: "LPUSH", Usage: "LPUSH key element [element ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.LPush(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "RPUSH", Usage: "RPUSH key element [element ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.RPush(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "LPOP", Usage: "LPOP key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromString(c.LPop(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "RPOP", Usage: "RPOP key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromString(c.RPop(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "LLEN", Usage: "LLEN key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.LLen(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "LRANGE", Usage: "LRANGE key start stop", Arity: Exact(3),
		Coerce: []ArgKind{ArgString, ArgInt, ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindList, c.LRange(ctx, a[0].Raw, a[1].Int, a[2].Int))
		},
	})
}

func registerSets() {
	register(&Operation{
		Verb: "SADD", Usage: "SADD key member [member ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.SAdd(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "SMEMBERS", Usage: "SMEMBERS key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindSet, c.SMembers(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "SREM", Usage: "SREM key member [member ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.SRem(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "SCARD", Usage: "SCARD key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.SCard(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "SISMEMBER", Usage: "SISMEMBER key member", Arity: Exact(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromBool(c.SIsMember(ctx, a[0].Raw, a[1].Raw))
		},
	})
}

func registerSortedSets() {
	register(&Operation{
		Verb: "ZADD", Usage: "ZADD key score member [score member ...]", Arity: OddAtLeast(3),
		Coerce: []ArgKind{ArgString, ArgFloat, ArgString}, Repeat: 2,
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			members := make([]redis.Z, 0, (len(a)-1)/2)
			for i := 1; i+1 < len(a); i += 2 {
				members = append(members, redis.Z{Score: a[i].Float, Member: a[i+1].Raw})
			}
			return fromInt(c.ZAdd(ctx, a[0].Raw, members...))
		},
	})
	register(&Operation{
		Verb: "ZRANGE", Usage: "ZRANGE key start stop", Arity: Exact(3),
		Coerce: []ArgKind{ArgString, ArgInt, ArgInt},
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromStrings(KindList, c.ZRange(ctx, a[0].Raw, a[1].Int, a[2].Int))
		},
	})
	register(&Operation{
		Verb: "ZCARD", Usage: "ZCARD key", Arity: Exact(1),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.ZCard(ctx, a[0].Raw))
		},
	})
	register(&Operation{
		Verb: "ZREM", Usage: "ZREM key member [member ...]", Arity: AtLeast(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromInt(c.ZRem(ctx, a[0].Raw, values(a[1:])...))
		},
	})
	register(&Operation{
		Verb: "ZSCORE", Usage: "ZSCORE key member", Arity: Exact(2),
		Invoke: func(ctx context.Context, c Conn, a []Arg) (Reply, error) {
			return fromFloat(c.ZScore(ctx, a[0].Raw, a[1].Raw))
		},
	})
}
