package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/devsession/internal/admin"
	"github.com/danmuck/devsession/internal/config"
	"github.com/danmuck/devsession/internal/logging"
	"github.com/danmuck/devsession/internal/node"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "serverctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("serverctl", flag.ContinueOnError)
	path := fs.StringP("config", "c", "cmd/serverctl/config.toml", "server config file")
	listen := fs.String("listen", "", "override listen_addr")
	adminAddr := fs.String("admin", "", "override admin_listen_addr")
	scope := fs.String("scope", "", "override registry_scope (role|shared)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := config.LoadServer(*path)
	if err != nil {
		return err
	}
	if fs.Changed("listen") {
		cfg.Node.ListenAddr = *listen
	}
	if fs.Changed("admin") {
		cfg.AdminListenAddr = *adminAddr
	}
	if fs.Changed("scope") {
		if cfg.RegistryScope, err = node.ParseRegistryScope(*scope); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	host, err := node.NewHost(cfg.Host())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("node", cfg.Node.NodeID).
		Str("listen", cfg.Node.ListenAddr).
		Str("admin", cfg.AdminListenAddr).
		Str("scope", string(cfg.RegistryScope)).
		Int("devices", len(cfg.Devices)).
		Msg("serverctl starting")
	return admin.RunHost(ctx, host, cfg.AdminListenAddr, admin.Config{
		Name:        "serverctl",
		CORSOrigins: cfg.CORSOrigins,
		Token:       cfg.AdminToken,
	})
}
