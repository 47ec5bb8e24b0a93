package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/daemon"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/whatsapp"
	"go.uber.org/fx"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	domain := flag.String("domain", "", "component domain (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dbPath := flag.String("db", "", "sqlite store path (overrides config)")
	adapter := flag.String("adapter", "", "legacy adapter name (overrides config)")
	admins := flag.String("admins", "", "comma-separated admin addresses (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *domain != "" {
		cfg.ComponentDomain = *domain
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.StorePath = *dbPath
	}
	if *adapter != "" {
		cfg.Adapter = *adapter
	}
	if *admins != "" {
		cfg.Admins = strings.Split(*admins, ",")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Adapters are compiled in and named explicitly; config selects one.
	factories := map[string]legacy.Factory{
		"whatsapp": whatsapp.Factory,
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg, Factories: factories}),
	)

	app.Run()
}
