package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openmist/realmgate/pkg/api"
	"github.com/openmist/realmgate/pkg/config"
	"github.com/openmist/realmgate/pkg/network"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	listenAddr = flag.String("listen", "", "Game listen address (overrides config)")
	apiAddr    = flag.String("api", "", "Diagnostics API address (overrides config)")
	users      = flag.String("users", "", "Comma-separated name:password dev accounts")
)

func main() {
	flag.Parse()

	printBanner()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		log.Printf("✓ Config loaded from %s", *configPath)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}

	creds := network.NewMemoryCredentials()
	for _, entry := range strings.Split(*users, ",") {
		if entry == "" {
			continue
		}
		name, pass, ok := strings.Cut(entry, ":")
		if !ok {
			log.Fatalf("Bad -users entry %q, want name:password", entry)
		}
		if err := creds.Add(name, pass); err != nil {
			log.Fatalf("Failed to add account %q: %v", name, err)
		}
		log.Printf("✓ Dev account %q registered", name)
	}

	dispatcher := network.NewDispatcher()
	network.RegisterCoreHandlers(dispatcher)

	game := network.NewServer(cfg, dispatcher, creds)
	if err := game.Start(); err != nil {
		log.Fatalf("Failed to start game server: %v", err)
	}
	log.Printf("✓ Game server listening on %s", game.Addr())

	var diag *api.Server
	if cfg.APIAddr != "" {
		diag = api.NewServer(game, cfg.APIAddr)
		if err := diag.Start(); err != nil {
			log.Fatalf("Failed to start diagnostics API: %v", err)
		}
		log.Printf("✓ Diagnostics API on %s", cfg.APIAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")

	if diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		diag.Stop(ctx)
		cancel()
	}
	if err := game.Stop(); err != nil {
		log.Printf("Game server stop: %v", err)
	}

	log.Println("Goodbye")
}

func printBanner() {
	fmt.Println(`
  ____  _____    _    _     __  __  ____    _  _____ _____
 |  _ \| ____|  / \  | |   |  \/  |/ ___|  / \|_   _| ____|
 | |_) |  _|   / _ \ | |   | |\/| | |  _  / _ \ | | |  _|
 |  _ <| |___ / ___ \| |___| |  | | |_| |/ ___ \| | | |___
 |_| \_\_____/_/   \_\_____|_|  |_|\____/_/   \_\_| |_____|

 realmgate - legacy realm protocol gateway`)
	fmt.Println()
}
