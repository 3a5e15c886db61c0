package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gliderlabs/ssh"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iwanhae/tcp-guard/banlog"
	"github.com/iwanhae/tcp-guard/config"
	"github.com/iwanhae/tcp-guard/firewall"
	"github.com/iwanhae/tcp-guard/guard"
	"github.com/iwanhae/tcp-guard/logger"
	"github.com/iwanhae/tcp-guard/metrics"
	"github.com/iwanhae/tcp-guard/sshfront"
	"github.com/iwanhae/tcp-guard/store"
	"github.com/iwanhae/tcp-guard/telemetry"
	"github.com/iwanhae/tcp-guard/types"
)

// loadConfig layers defaults, the config file and explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if _, err := config.LoadFile(&cfg, configPath); err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("listen", func() { cfg.Listen = listen })
	set("rate-limit", func() { cfg.RateLimit = rateLimit })
	set("time-window", func() { cfg.TimeWindow = timeWindow })
	set("block-time", func() { cfg.BlockTime = blockTime })
	set("traffic-threshold", func() { cfg.TrafficThreshold = trafficThreshold })
	set("analyze-interval", func() { cfg.AnalyzeInterval = analyzeInterval })
	set("log-file", func() { cfg.LogFile = logFile })
	set("log-level", func() { cfg.LogLevel = logLevel })
	set("redis-addr", func() { cfg.RedisAddr = redisAddr })
	set("redis-password", func() { cfg.RedisPassword = redisPassword })
	set("redis-db", func() { cfg.RedisDB = redisDB })
	set("ban-db", func() { cfg.BanDBPath = banDBPath })
	set("metrics-addr", func() { cfg.MetricsAddr = metricsAddr })
	set("ssh-addr", func() { cfg.SSHAddr = sshAddr })
	set("ssh-host-key", func() { cfg.SSHHostKey = sshHostKey })
	set("max-conns", func() { cfg.MaxConns = maxConns })
	set("accept-rate", func() { cfg.AcceptRate = acceptRate })
	set("workers", func() { cfg.Workers = workers })
	set("read-buffer", func() { cfg.ReadBuffer = readBuffer })
	set("idle-timeout", func() { cfg.IdleTimeout = idleTimeout })
	set("shutdown-grace", func() { cfg.ShutdownGrace = shutdownGrace })
	set("firewall", func() { cfg.Firewall = enableFirewall })

	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.RedisAddr == "" {
		return store.NewMemory(), nil
	}
	return store.NewRedis(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func openBanLog(path string) (types.BanStore, error) {
	if path == "" {
		return banlog.NewNull(), nil
	}
	db, err := banlog.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out, err := logger.Open(cfg.LogFile)
	if err != nil {
		return err
	}
	defer out.Close()
	log := logger.New(out, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("state store unavailable", "error", err)
		return err
	}
	defer st.Close()

	history, err := openBanLog(cfg.BanDBPath)
	if err != nil {
		log.Error("ban log unavailable", "error", err)
		return err
	}
	defer history.Close()

	m := metrics.New()
	g := guard.New(st, cfg.Limits(),
		guard.WithLogger(log),
		guard.WithMetrics(m),
		guard.WithBanStore(history),
	)
	handler := guard.NewHandler(g,
		guard.WithReadBuffer(cfg.ReadBuffer),
		guard.WithIdleTimeout(cfg.IdleTimeout),
	)

	var dispatcher guard.Dispatcher = guard.NewGoDispatcher()
	if cfg.Workers > 0 {
		dispatcher = guard.NewPoolDispatcher(cfg.Workers)
	}
	srv := guard.NewServer(handler, dispatcher)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Error("failed to listen", "addr", cfg.Listen, "error", err)
		return err
	}
	if cfg.MaxConns > 0 || cfg.AcceptRate > 0 {
		ln = guard.NewLimitListener(ln,
			guard.WithMaxConnections(cfg.MaxConns),
			guard.WithAcceptRate(cfg.AcceptRate),
			guard.WithListenerLogger(log),
			guard.WithListenerMetrics(m),
		)
	}

	if cfg.Firewall {
		provisionFirewall(ctx, ln.Addr(), log)
	}

	reporter := telemetry.New(telemetry.GopsutilSampler{}, cfg.AnalyzeInterval, log)
	reporter.Start()
	defer reporter.Stop()

	var front *sshfront.Server
	if cfg.SSHAddr != "" {
		front, err = sshfront.New(cfg.SSHAddr, cfg.SSHHostKey, g, handler, log)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = m.NewServer(cfg.MetricsAddr)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, guard.ErrServerClosed) {
			return err
		}
		return nil
	})
	if front != nil {
		eg.Go(func() error {
			if err := front.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if metricsSrv != nil {
		eg.Go(func() error {
			log.Info("metrics server started", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("shutting down", "grace", cfg.ShutdownGrace)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("connections closed before finishing", "error", err)
		}
		if front != nil {
			if err := front.Shutdown(shutdownCtx); err != nil {
				_ = front.Close()
			}
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

func provisionFirewall(ctx context.Context, addr net.Addr, log *slog.Logger) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	ipt, err := firewall.NewIPTables()
	if err != nil {
		log.Error("iptables unavailable", "error", err)
		return
	}
	firewall.Setup(ctx, ipt, tcp.Port, log)
}
