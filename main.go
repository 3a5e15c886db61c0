package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath       string
	listen           string
	rateLimit        int
	timeWindow       time.Duration
	blockTime        time.Duration
	trafficThreshold int64
	analyzeInterval  time.Duration
	logFile          string
	logLevel         string
	redisAddr        string
	redisPassword    string
	redisDB          int
	banDBPath        string
	metricsAddr      string
	sshAddr          string
	sshHostKey       string
	maxConns         int
	acceptRate       float64
	workers          int
	readBuffer       int
	idleTimeout      time.Duration
	shutdownGrace    time.Duration
	enableFirewall   bool

	blocksDBPath string
	blocksLimit  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tcp-guard",
		Short:        "A TCP echo server with per-source admission control",
		Long:         "A TCP echo server that rate limits connections per source IP, blocks sources that connect or send too much, and echoes everything else.",
		RunE:         runServe,
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "tcp-guard.toml", "path to TOML config file (missing file is ignored)")
	f.StringVar(&listen, "listen", "0.0.0.0:9999", "TCP listen address")
	f.IntVar(&rateLimit, "rate-limit", 10, "connections allowed per source within the time window")
	f.DurationVar(&timeWindow, "time-window", 10*time.Second, "sliding window for the connection rate limit")
	f.DurationVar(&blockTime, "block-time", 60*time.Second, "how long a violating source stays blocked")
	f.Int64Var(&trafficThreshold, "traffic-threshold", 30*1024*1024, "bytes a source may send per second")
	f.DurationVar(&analyzeInterval, "analyze-interval", time.Second, "interval between host telemetry samples")
	f.StringVar(&logFile, "log-file", "server.log", `log file path ("-" for stdout)`)
	f.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&redisAddr, "redis-addr", "", "Redis address for shared state (empty keeps state in memory)")
	f.StringVar(&redisPassword, "redis-password", "", "Redis password")
	f.IntVar(&redisDB, "redis-db", 0, "Redis database number")
	f.StringVar(&banDBPath, "ban-db", "", "SQLite file recording block history (empty disables)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "address serving Prometheus /metrics (empty disables)")
	f.StringVar(&sshAddr, "ssh-addr", "", "address of the SSH front-end (empty disables)")
	f.StringVar(&sshHostKey, "ssh-host-key", "", "path to SSH host private key (empty generates one)")
	f.IntVar(&maxConns, "max-conns", 0, "global cap on concurrent connections (0 = unlimited)")
	f.Float64Var(&acceptRate, "accept-rate", 0, "global cap on accepted connections per second (0 = unlimited)")
	f.IntVar(&workers, "workers", 0, "bounded handler pool size (0 = one goroutine per connection)")
	f.IntVar(&readBuffer, "read-buffer", 1024, "maximum bytes read per chunk")
	f.DurationVar(&idleTimeout, "idle-timeout", 0, "close connections idle this long (0 = never)")
	f.DurationVar(&shutdownGrace, "shutdown-grace", 5*time.Second, "time allowed for connections to finish on shutdown")
	f.BoolVar(&enableFirewall, "firewall", true, "install iptables rate rules for the listen port at startup")

	blocksCmd := &cobra.Command{
		Use:   "blocks",
		Short: "List recorded blocks",
		RunE:  runBlocks,
	}
	blocksCmd.Flags().StringVar(&blocksDBPath, "db-path", "bans.db", "SQLite file recording block history")
	blocksCmd.Flags().IntVar(&blocksLimit, "limit", 20, "number of most recent blocks to show")
	rootCmd.AddCommand(blocksCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
