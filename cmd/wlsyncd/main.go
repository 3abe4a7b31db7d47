// Package main provides the entry point for wlsyncd, Wildland's sync daemon
// (spec §4.7). Like wlmountd it is a standalone process reachable only over
// its Unix control socket (spec §9 "Coroutine / daemon control flow").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pbeza/wildland-client/internal/config"
	"github.com/pbeza/wildland-client/internal/controlrpc"
	"github.com/pbeza/wildland-client/internal/drivers"
	"github.com/pbeza/wildland-client/internal/sync"
)

var log = logging.Logger("wlsyncd")

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wlsyncd",
	Short: "Wildland sync daemon",
	Long:  `wlsyncd maintains bidirectional or one-shot convergence between storage backend pairs, driven over its control socket.`,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon in the foreground",
	RunE:  runDaemon,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runInit,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.AddCommand(daemonCmd, initCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("wlsyncd: %v", err)
		os.Exit(1)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	base, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg := config.Default(base)
	path := configPath
	if path == "" {
		path = base + "/config.yaml"
	}
	return cfg.Save(path)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("wlsyncd: --config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := sync.OpenJobStore(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := drivers.NewRegistry()
	mgr := sync.NewManager(store, registry)

	srv := controlrpc.NewServer(cfg.SyncSocketPath)
	sync.RegisterControlHandlers(srv, mgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		mgr.StopAll()
		return nil
	})

	log.Infof("wlsyncd: control socket %s", cfg.SyncSocketPath)
	return g.Wait()
}
