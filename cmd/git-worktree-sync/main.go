// Command git-worktree-sync runs the reconciliation engine for a single
// repository, once or on a fixed interval. It is deliberately thin: no
// multi-repository config file, no terminal UI, no cron expression
// parser, no webhook receiver — those are the job of an external
// orchestrator that drives many Repository handles, one per repository.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	worktreesync "github.com/yordan-kanchelov/git-worktree-sync"
	"gopkg.in/yaml.v3"
)

var (
	loggerLevel = new(slog.LevelVar)

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, "NAME:\n\tgit-worktree-sync - reconciles a directory of git worktrees against a remote's branches.\n")
	fmt.Fprintf(os.Stderr, "\nUSAGE:\n\tgit-worktree-sync -config <path> [-run-once] [-log-level info]\n")
	fmt.Fprintf(os.Stderr, "\nGLOBAL OPTIONS:\n")
	fmt.Fprintf(os.Stderr, "\t-config value             Absolute path to the repository config file. [$WORKTREE_SYNC_CONFIG]\n")
	fmt.Fprintf(os.Stderr, "\t-log-level value          (default 'info') Log level. [$LOG_LEVEL]\n")
	fmt.Fprintf(os.Stderr, "\t-run-once                 Run a single sync pass and exit, instead of looping on an interval.\n")
	fmt.Fprintf(os.Stderr, "\t-interval value           (default '5m') Duration between sync passes when not -run-once.\n")
	fmt.Fprintf(os.Stderr, "\t-http-bind-address value  (default ':9090') Address the metrics server binds to.\n")
	os.Exit(2)
}

func loadConfig(path string) (worktreesync.Config, error) {
	var cfg worktreesync.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unable to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse config file: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Usage = usage

	flagConfig := flag.String("config", envString("WORKTREE_SYNC_CONFIG", "/etc/git-worktree-sync/config.yaml"), "")
	flagLogLevel := flag.String("log-level", envString("LOG_LEVEL", "info"), "")
	flagRunOnce := flag.Bool("run-once", false, "")
	flagInterval := flag.Duration("interval", 5*time.Minute, "")
	flagHTTPBind := flag.String("http-bind-address", envString("WORKTREE_SYNC_HTTP_BIND", ":9090"), "")
	flag.Parse()

	level, ok := levelStrings[*flagLogLevel]
	if !ok {
		level = slog.LevelInfo
	}
	loggerLevel.Set(level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: loggerLevel}))

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		logger.Error("unable to load config", "err", err)
		os.Exit(1)
	}

	gitExec := exec.Command("git").String()
	repo, err := worktreesync.New(cfg, gitExec, nil, logger)
	if err != nil {
		logger.Error("unable to construct repository", "err", err)
		os.Exit(1)
	}

	worktreesync.EnableMetrics("git_worktree_sync", prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if !*flagRunOnce {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*flagHTTPBind, mux); err != nil && ctx.Err() == nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	if *flagRunOnce {
		if err := repo.Sync(ctx); err != nil {
			logger.Error("sync failed", "err", err)
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(*flagInterval)
	defer ticker.Stop()
	for {
		if err := repo.Sync(ctx); err != nil {
			logger.Error("sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
