// Package main provides the entry point for wlmountd, Wildland's FUSE mount
// core (spec §4.6). It is one of the two long-lived processes described in
// spec §9 ("Coroutine / daemon control flow"): an independent process that
// exposes mount/unmount/status over a Unix control socket and serves the
// multiplexed path filesystem until signaled to stop.
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
	"github.com/pbeza/wildland-client/internal/mount"
)

var log = logging.Logger("wlmountd")

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wlmountd",
	Short: "Wildland FUSE mount core",
	Long:  `wlmountd mounts the Wildland pseudo-filesystem and serves mount/unmount/status commands over its control socket.`,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the mount core in the foreground",
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
		log.Errorf("wlmountd: %v", err)
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
		return fmt.Errorf("wlmountd: --config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := drivers.NewRegistry()
	core := mount.NewCore(cfg.MountDir, registry)

	srv := controlrpc.NewServer(cfg.FSSocketPath)
	mount.RegisterControlHandlers(srv, core)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Serve(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	log.Infof("wlmountd: mounted at %s, control socket %s", cfg.MountDir, cfg.FSSocketPath)
	return g.Wait()
}
