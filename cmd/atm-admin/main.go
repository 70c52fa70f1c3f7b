/**
 * @description
 * atm-admin is the operator tool for the ATM service. It runs the administrative
 * operations directly against the configured store, writes CSV reports, and tails
 * the event stream.
 *
 * Usage:
 *   atm-admin <command> [flags]
 *
 * Example:
 *   atm-admin create -card 1111222233334444 -pin 1234 -balance 250.00
 *   atm-admin watch
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/transfa/atm-service/internal/app"
	"github.com/transfa/atm-service/internal/broker"
	"github.com/transfa/atm-service/internal/config"
	"github.com/transfa/atm-service/internal/logging"
	"github.com/transfa/atm-service/internal/store"
	"go.uber.org/zap"
)

// env is everything a command needs. Commands write results to out and read
// confirmations from in.
type env struct {
	cfg    config.Config
	admin  *app.AdminService
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

type command struct {
	usage     string
	needStore bool
	run       func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"create":      {"create -card N -pin P [-balance B]", true, runCreate},
	"delete":      {"delete -card N [-yes]", true, runDelete},
	"set-balance": {"set-balance -card N -balance B", true, runSetBalance},
	"reset-pin":   {"reset-pin -card N [-pin P]", true, runResetPIN},
	"transfer":    {"transfer -from N -to N -amount A", true, runTransfer},
	"accounts":    {"accounts", true, runAccounts},
	"history":     {"history -card N [-limit L]", true, runHistory},
	"report":      {"report [-card N] [-limit L] [-out FILE]", true, runReport},
	"cash":        {"cash [-set A]", true, runCash},
	"watch":       {"watch [-group NAME]", false, runWatch},
}

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		log.Printf("[ERROR] Unknown command %q", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("[ERROR] Config load failed: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[ERROR] Logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, logger: logger, in: os.Stdin, out: os.Stdout}
	if cmd.needStore {
		closeFn, err := e.openAdmin(ctx)
		if err != nil {
			logger.Fatal("admin setup failed", zap.Error(err))
		}
		defer closeFn()
	}

	if err := cmd.run(ctx, e, os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: atm-admin %s\n", cmd.usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "atm-admin %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// openAdmin opens the store and event publisher behind e.admin.
func (e *env) openAdmin(ctx context.Context) (func(), error) {
	repo, err := store.Open(ctx, store.OpenOptions{
		Driver:        e.cfg.StoreDriver,
		DatabaseURL:   e.cfg.DatabaseURL,
		SnapshotPath:  e.cfg.StoreSnapshotPath,
		RunMigrations: e.cfg.RunMigrations,
		MaxConns:      2,
		MinConns:      0,
	}, e.logger)
	if err != nil {
		return nil, err
	}

	publisher, closePublisher, err := broker.NewPublisher(e.cfg, e.logger)
	if err != nil {
		repo.Close()
		return nil, err
	}
	events := app.NewEventNotifier(publisher, e.cfg.EventExchange, e.logger)
	e.admin = app.NewAdminService(repo, app.WithEvents(events), app.WithLogger(e.logger))

	return func() {
		closePublisher()
		repo.Close()
	}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: atm-admin <command> [flags]")
	for _, name := range []string{"accounts", "create", "delete", "set-balance", "reset-pin", "transfer", "history", "report", "cash", "watch"} {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return nil
}
