package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
	"github.com/pedrouid/walletconnect-v1-prototype/relay/redisbacklog"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept websocket clients and relay messages between them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := relay.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			log = logctx.New(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RELAY_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg relay.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	backlog, err := newBacklog(cfg)
	if err != nil {
		return err
	}

	hub := relay.NewHub(
		relay.WithBacklog(backlog),
		relay.WithMaxQueue(cfg.MaxQueue),
		relay.WithLogger(log),
		relay.WithMetrics(relay.NewMetrics(relay.MetricsConfig{Registry: reg})),
	)
	defer hub.Close()

	opts := []relay.HandlerOption{
		relay.WithHandlerLogger(log),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithPingInterval(cfg.PingInterval),
		relay.WithReadLimit(cfg.ReadLimit),
	}
	if cfg.AuthSecret != "" {
		auth, err := relay.NewTokenAuthenticator([]byte(cfg.AuthSecret))
		if err != nil {
			return err
		}
		opts = append(opts, relay.WithAuthenticator(auth))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relay.NewRouter(hub, relay.NewHandler(hub, opts...), reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "relay.listening", slog.String("addr", cfg.Addr), slog.Bool("redis", cfg.RedisAddr != ""), slog.Bool("auth", cfg.AuthSecret != ""))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("relay.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBacklog(cfg relay.Config) (relay.Backlog, error) {
	if cfg.RedisAddr == "" {
		return relay.NewMemoryBacklog(cfg.MaxPending, cfg.PendingTTL), nil
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, err
	}
	return redisbacklog.NewWithClient(cl, redisbacklog.Config{
		KeyPrefix:   cfg.RedisPrefix,
		MaxPerTopic: cfg.MaxPending,
		TTL:         cfg.PendingTTL,
	}), nil
}

