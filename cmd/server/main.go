// redisql-server - PostgreSQL wire protocol gateway for redisql
// Main entry point for the gateway daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JayabrataBasu/redisql/internal/cli"
	"github.com/JayabrataBasu/redisql/internal/config"
	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/pgwire"
	"github.com/JayabrataBasu/redisql/pkg/store"
)

var (
	cfgFile    string
	listenAddr string
	redisURL   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "redisql-server",
		Short: "Serve redisql over the PostgreSQL wire protocol",
		Long: `redisql-server accepts PostgreSQL clients (psql, lib/pq, pgx) and runs
each query as a Redis command, returning the reply as rows.

  redisql-server --config redisql.yaml
  psql -h localhost -p 5433 -c 'HGETALL user:1'`,
		SilenceUsage: true,
		RunE:         runServer,
	}

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides server.host and server.port)")
	rootCmd.Flags().StringVarP(&redisURL, "url", "u", "", "connection URL (overrides redis.url)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("redisql-server %s\n", cli.Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if redisURL != "" {
		cfg.Redis.URL = redisURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	addr := cfg.ListenAddr()
	if listenAddr != "" {
		addr = listenAddr
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	opts, err := cfg.StoreOptions()
	if err != nil {
		return err
	}
	pool, err := store.Open(opts)
	if err != nil {
		return err
	}
	defer pool.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), opts.DialTimeout+time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		log.Warn("redis not reachable at startup", "addrs", opts.Addrs, "error", err)
	}
	cancelPing()

	users, err := cfg.UserCatalog()
	if err != nil {
		return err
	}
	if !users.Enabled() {
		log.Warn("no users configured, accepting clients without a password")
	}

	log.Info("redisql-server starting",
		"version", cli.Version,
		"listen", addr,
		"redis", opts.Addrs,
		"cluster", opts.Cluster,
	)

	stats := observability.NewStatistics()
	server := pgwire.NewServer(pgwire.ServerConfig{
		Logger:         log.Named("pgwire"),
		Source:         pool,
		Stats:          stats,
		Users:          users,
		MaxConnections: cfg.Server.MaxConnections,
	})
	if err := server.Start(addr); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal, shutting down", "signal", sig, "connections", server.ConnectionCount())

	if err := server.Stop(); err != nil {
		log.Error("shutdown failed", "error", err)
	}

	snap := stats.Snapshot()
	log.Info("redisql-server shutdown complete",
		"commands", snap.CommandsExecuted,
		"failed", snap.CommandsFailed,
	)
	return nil
}
