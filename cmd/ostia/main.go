package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/api"
	"github.com/ostia/ostia-node/pkg/messaging"
	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
	"github.com/ostia/ostia-node/pkg/storage"
)

const (
	defaultDBPath = "./ostia.db"
	defaultAddr   = "127.0.0.1:8377"
	// Secret key is read from the environment, never from a flag, so it
	// cannot leak into process listings.
	secretEnvVar = "OSTIA_SECRET_KEY"
)

var (
	dbPath    = flag.String("db", defaultDBPath, "Path to local SQLite database")
	listen    = flag.String("listen", defaultAddr, "HTTP API listen address")
	relayList = flag.String("relays", "", "Comma-separated relay urls (ws:// or wss://)")
	relayMode = flag.String("mode", string(relay.ModeExclusive), "Relay mode: hybrid or exclusive")
	genKey    = flag.Bool("genkey", false, "Generate a fresh identity and exit")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *genKey {
		keys, err := nostr.GenerateKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("pubkey: %s\nnpub:   %s\nnsec:   %s\n", keys.PublicKeyHex(), keys.Npub(), keys.Nsec())
		return
	}

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("node exited with error", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(log *zap.Logger) error {
	store, err := storage.Open(*dbPath, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	manager := relay.NewManager(nil)
	if err := manager.SetMode(relay.Mode(*relayMode)); err != nil {
		return err
	}
	for _, url := range splitRelays(*relayList) {
		if err := manager.AddRelay(url); err != nil {
			return fmt.Errorf("bad relay url %q: %w", url, err)
		}
	}

	pool := relay.NewClientPool(manager, log)
	svc := messaging.New(pool, manager, store, log)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.InitializeFromVault(ctx, messaging.EnvKeyVault{Var: secretEnvVar}); err != nil {
		if !errors.Is(err, messaging.ErrNoKeys) {
			return fmt.Errorf("failed to initialize identity: %w", err)
		}
		log.Info("no secret key in environment, waiting for initialize over the api",
			zap.String("env", secretEnvVar))
	}

	cfg := api.DefaultConfig()
	cfg.Addr = *listen
	server := api.NewServer(svc, cfg, log)

	log.Info("ostia node starting",
		zap.String("listen", *listen),
		zap.String("db", *dbPath),
		zap.Strings("relays", manager.ActiveRelays()))

	return server.Start(ctx)
}

func splitRelays(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if url := strings.TrimSpace(part); url != "" {
			out = append(out, url)
		}
	}
	return out
}
