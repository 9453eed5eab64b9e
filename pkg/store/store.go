// Package store manages pooled connections to a Redis server or cluster.
package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JayabrataBasu/redisql/pkg/redisql"
)

// Options configures a Pool.
type Options struct {
	Addrs         []string
	Cluster       bool
	Username      string
	Password      string
	DB            int
	ClientName    string
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	PoolSize      int
	TLS           bool
	TLSSkipVerify bool
}

// DefaultOptions returns options for a local standalone server.
func DefaultOptions() Options {
	return Options{
		Addrs:        []string{defaultAddr},
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	}
}

// Validate checks that the options describe a usable pool.
func (o Options) Validate() error {
	if len(o.Addrs) == 0 {
		return errors.New("at least one address is required")
	}
	if o.DB < 0 {
		return fmt.Errorf("invalid database: %d", o.DB)
	}
	if o.Cluster && o.DB != 0 {
		return fmt.Errorf("cluster mode only supports database 0, got %d", o.DB)
	}
	if o.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", o.PoolSize)
	}
	return nil
}

func (o Options) tlsConfig() *tls.Config {
	if !o.TLS {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.TLSSkipVerify,
	}
}

// Pool hands out connections for single commands. It is safe for
// concurrent use.
type Pool struct {
	opts    Options
	client  *redis.Client
	cluster *redis.ClusterClient
}

// Open creates a pool. No connection is made until the first command.
func Open(opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{opts: opts}
	// RESP2 keeps map replies as flat arrays in server order.
	if opts.Cluster {
		p.cluster = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addrs,
			Username:     opts.Username,
			Password:     opts.Password,
			ClientName:   opts.ClientName,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			PoolSize:     opts.PoolSize,
			TLSConfig:    opts.tlsConfig(),
			Protocol:     2,
		})
		return p, nil
	}

	p.client = redis.NewClient(&redis.Options{
		Addr:         opts.Addrs[0],
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		ClientName:   opts.ClientName,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		TLSConfig:    opts.tlsConfig(),
		Protocol:     2,
	})
	return p, nil
}

// OpenURL parses raw with ParseURL and opens a pool.
func OpenURL(raw string) (*Pool, error) {
	opts, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return Open(opts)
}

// clusterConn lets the shared cluster client stand in for a borrowed
// connection; the client routes each command itself, so Close is a no-op.
type clusterConn struct {
	*redis.ClusterClient
}

func (clusterConn) Close() error { return nil }

// Acquire returns a connection for one command. The caller must Close it.
func (p *Pool) Acquire(ctx context.Context) (redisql.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.cluster != nil {
		return clusterConn{p.cluster}, nil
	}
	return p.client.Conn(), nil
}

// DB returns the database new connections start on.
func (p *Pool) DB() int {
	return p.opts.DB
}

// Options returns the options the pool was opened with.
func (p *Pool) Options() Options {
	return p.opts
}

// Ping checks that the store is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if p.cluster != nil {
		return p.cluster.Ping(ctx).Err()
	}
	return p.client.Ping(ctx).Err()
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	if p.cluster != nil {
		return p.cluster.Close()
	}
	return p.client.Close()
}
