// Package cli implements the device command-line interface: pairing with a
// partner device through the relay, responding to incoming requests, and
// running syncs against the local ledger.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/client"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/config"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/peer"
	"github.com/pokar-monil/kharchakitab-sub000/internal/signaling"
	"github.com/pokar-monil/kharchakitab-sub000/internal/syncengine"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
	_ "modernc.org/sqlite"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	repos    *client.Repositories
	identity models.DeviceIdentity
	sc       *signaling.Client
	engine   *syncengine.Engine
	reader   *bufio.Reader
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stderr, slog.LevelWarn)

	repos, err := client.InitDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	identity, err := client.LoadOrCreateIdentity(ctx, repos.Identity, c.DisplayName)
	if err != nil {
		return nil, err
	}

	sc := signaling.NewClient(c.RelayURL, logger)
	connector := peer.NewConnector(sc, logger)
	engine := syncengine.New(*identity, repos.Transactions, repos.SyncState, repos.Pairings, connector, logger)

	return &App{
		config:   c,
		logger:   logger,
		repos:    repos,
		identity: *identity,
		sc:       sc,
		engine:   engine,
		reader:   bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Close() {
	a.sc.Close()
	_ = a.repos.DB.Close()
}

// Run dispatches one subcommand.
func (a *App) Run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "pair":
		return a.pair(ctx)
	case "respond":
		return a.respond(ctx)
	case "peers":
		return a.peers(ctx)
	case "sync":
		return a.sync(ctx, args)
	case "forget":
		return a.forget(ctx, args)
	case "add":
		return a.add(ctx)
	case "list":
		return a.list(ctx)
	case "", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Println(`Usage: device <command> [flags]

Commands:
  pair      pair with another device on this relay
  respond   wait for pairing requests and sync offers
  peers     list devices currently on the relay
  sync      sync the ledger with a paired device
  forget    remove a pairing and its sync state
  add       record a transaction
  list      show the local ledger

Flags:
  -r  relay websocket URL
  -d  local database path
  -n  display name shown to pairing partners`)
}

// connect dials the relay and announces presence.
func (a *App) connect(ctx context.Context) error {
	if err := a.sc.EnsureConnected(ctx); err != nil {
		return err
	}
	_, err := a.sc.Request(ctx, wire.TypePresenceJoin, wire.JoinPayload{
		DeviceID:    a.identity.DeviceID,
		DisplayName: a.identity.DisplayName,
	})
	return err
}

// sendAll pushes the machine's outbound envelopes through the relay.
func (a *App) sendAll(ctx context.Context, envs []wire.Envelope) error {
	for _, env := range envs {
		if err := a.sc.Send(ctx, env.Type, env.Payload); err != nil {
			return err
		}
	}
	return nil
}
