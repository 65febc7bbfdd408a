// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tom-x-project/tom/config"
	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/internal/logger"
	"github.com/tom-x-project/tom/internal/metrics"
	"github.com/tom-x-project/tom/runtime"
	"github.com/tom-x-project/tom/transport"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tom-node",
	Short: "ToM protocol node daemon",
	Long: `tom-node loads a node configuration, opens its identity seed, and
runs the ToM runtime's event loop until it receives a shutdown signal.`,
	RunE: runNode,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a node config file (YAML or JSON)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.NewDefaultLogger()
	log.SetLevel(parseLevel(cfg.Logging.Level))
	log.SetPrettyPrint(cfg.Logging.Pretty)
	logger.SetDefaultLogger(log)

	self, err := loadOrCreateIdentity(cfg.Identity.SeedFile)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	log.Info("loaded identity", logger.String("node_id", self.NodeId().String()))

	runtimeCfg, err := cfg.Runtime.ToRuntimeConfig()
	if err != nil {
		return fmt.Errorf("invalid runtime config: %w", err)
	}

	facade := transport.NewWSFacade(self.NodeId())

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, log)
	}

	listenServer := startListenServer(cfg.Listen.Addr, cfg.Listen.Path, facade, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := runtime.Spawn(ctx, facade, self, runtimeCfg)

	for _, peer := range runtimeCfg.GossipBootstrapPeers {
		channels.Handle.AddPeer(peer)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info("tom-node running",
		logger.String("listen_addr", cfg.Listen.Addr),
		logger.String("environment", cfg.Environment))

	for {
		select {
		case msg, ok := <-channels.Messages:
			if !ok {
				channels.Messages = nil
				continue
			}
			log.Info("message delivered",
				logger.String("from", msg.From.String()),
				logger.Int("bytes", len(msg.Payload)))

		case change, ok := <-channels.StatusChanges:
			if !ok {
				channels.StatusChanges = nil
				continue
			}
			log.Debug("delivery status changed",
				logger.String("message_id", change.MessageID.String()),
				logger.String("status", change.To.String()))

		case ev, ok := <-channels.Events:
			if !ok {
				channels.Events = nil
				continue
			}
			log.Debug("runtime event", logger.Any("event", ev))

		case <-sigChan:
			log.Info("shutdown requested")
			channels.Handle.Shutdown()
			cancel()
			shutdownHTTP(listenServer, log, "listen")
			if metricsServer != nil {
				shutdownHTTP(metricsServer, log, "metrics")
			}
			return nil
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}

	opts := config.DefaultLoaderOptions()
	if dir := os.Getenv("TOM_CONFIG_DIR"); dir != "" {
		opts.ConfigDir = dir
	}
	return config.Load(opts)
}

func loadOrCreateIdentity(seedFile string) (*identity.KeyPair, error) {
	data, err := os.ReadFile(seedFile)
	if err == nil {
		seed, err := identity.SecretSeedFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("invalid seed file %s: %w", seedFile, err)
		}
		return identity.FromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(seedFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create seed directory: %w", err)
		}
	}
	if err := os.WriteFile(seedFile, kp.Seed().Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write seed file: %w", err)
	}
	return kp, nil
}

func startMetricsServer(addr, path string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("metrics server listening", logger.String("addr", addr), logger.String("path", path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", logger.Error(err))
		}
	}()

	return server
}

func startListenServer(addr, path string, facade *transport.WSFacade, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, facade.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("accepting connections", logger.String("addr", addr), logger.String("path", path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen server failed", logger.Error(err))
		}
	}()

	return server
}

func shutdownHTTP(server *http.Server, log logger.Logger, name string) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", logger.String("server", name), logger.Error(err))
	}
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
