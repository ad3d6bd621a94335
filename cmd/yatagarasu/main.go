package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/metrics"
	"github.com/yatagarasu/yatagarasu/internal/pipeline"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "yatagarasu",
		Short: "Yatagarasu is a read-only caching proxy fronting S3-compatible object stores",
		Long: `Yatagarasu sits in front of one or more S3-compatible backends and serves GET/HEAD
object requests out of a tiered memory/disk/redis cache, falling back to signed
upstream requests on a miss. Bucket routing, replica failover, rate limiting and
cache behavior are all driven by a single YAML configuration file that can be
hot-reloaded without dropping connections.`,
		RunE: runProxy,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
}

func initConfig() {
	config.InitConfig(cfgFile)
}

func runProxy(cmd *cobra.Command, args []string) error {
	logrus.WithFields(logrus.Fields{
		"version":    version,
		"commit":     commit,
		"build_time": buildTime,
	}).Info("yatagarasu build information")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := logrus.WithField("component", "yatagarasu")
	m := metrics.New()

	server, err := pipeline.NewServer(cfg, logger, m)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go watchSignals(sigChan, server, cancel, logger)

	logger.WithFields(logrus.Fields{"bind_address": cfg.BindAddress, "admin_bind_address": cfg.AdminBindAddress}).Info("starting yatagarasu")
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// watchSignals handles SIGHUP as a live reload and SIGINT/SIGTERM as a
// request to drain and stop; it runs for the lifetime of the process.
func watchSignals(sigChan chan os.Signal, server *pipeline.Server, cancel context.CancelFunc, logger *logrus.Entry) {
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, reloading configuration")
			generation, err := server.Reload()
			if err != nil {
				logger.WithError(err).Error("configuration reload failed, continuing with the prior configuration")
				continue
			}
			logger.WithField("generation", generation).Info("configuration reload complete")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.WithField("signal", sig.String()).Info("received shutdown signal, draining connections")
			cancel()
			return
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
