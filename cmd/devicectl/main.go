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
		fmt.Fprintf(os.Stderr, "devicectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("devicectl", flag.ContinueOnError)
	path := fs.StringP("config", "c", "cmd/devicectl/config.toml", "device config file")
	server := fs.StringP("server", "s", "", "override server_addr")
	adminAddr := fs.String("admin", "", "override admin_listen_addr")
	logoutWait := fs.Duration("logout-wait", 0, "override logout_wait")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := config.LoadDevice(*path)
	if err != nil {
		return err
	}
	if fs.Changed("server") {
		cfg.Node.ServerAddr = *server
	}
	if fs.Changed("admin") {
		cfg.AdminListenAddr = *adminAddr
	}
	if fs.Changed("logout-wait") {
		cfg.Node.LogoutWait = *logoutWait
	}
	if err := cfg.Node.Validate(); err != nil {
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
		Str("server", cfg.Node.ServerAddr).
		Int("devices", len(cfg.Node.Devices)).
		Dur("logout_wait", cfg.Node.LogoutWait).
		Msg("devicectl starting")
	return admin.RunHost(ctx, host, cfg.AdminListenAddr, admin.Config{
		Name:        "devicectl",
		CORSOrigins: cfg.CORSOrigins,
		Token:       cfg.AdminToken,
	})
}
