package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/config"
	"github.com/matpinto/courtline/internal/daemon"
	"github.com/matpinto/courtline/internal/outbox"
	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/rest"
	"github.com/matpinto/courtline/internal/session"
	"github.com/matpinto/courtline/internal/status"
	"github.com/matpinto/courtline/internal/transport"
	"github.com/matpinto/courtline/internal/tui"
)

const startTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "login" {
		if err := runLogin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run boots the client core in-process and hands its pieces to the TUI.
func run(profile string) error {
	var deps struct {
		Store   *chat.Store
		Sender  *outbox.Sender
		Manager *transport.Manager
		Tracker *presence.Tracker
		Rest    *rest.Client
		Machine *status.Machine
		Bus     *bus.Bus
		Logger  *zap.Logger
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile}),
		fx.Populate(&deps.Store, &deps.Sender, &deps.Manager, &deps.Tracker,
			&deps.Rest, &deps.Machine, &deps.Bus, &deps.Logger),
		fx.NopLogger, // fx chatter would corrupt the terminal
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ui := tui.NewApp(tui.Params{
		Profile: profile,
		Store:   deps.Store,
		Sender:  deps.Sender,
		Manager: deps.Manager,
		Tracker: deps.Tracker,
		Rest:    deps.Rest,
		Machine: deps.Machine,
		Bus:     deps.Bus,
		Logger:  deps.Logger,
	})

	runErr := ui.Run()
	ui.Stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// runLogin writes server coordinates and the bearer token to config.toml.
func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", "", "base URL of the federation API (required)")
	token := fs.String("token", "", "bearer token (required)")
	socket := fs.String("socket", "", "websocket URL (derived from server URL if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *server == "" || *token == "" {
		return fmt.Errorf("both --server and --token are required")
	}

	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.Default()
	}
	cfg.ServerURL = *server
	cfg.Token = *token
	cfg.SocketURL = *socket

	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
