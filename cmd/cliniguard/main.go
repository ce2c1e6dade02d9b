// Package main is the entrypoint for the cliniguard tool-execution gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/config"
	"github.com/cliniguard/cliniguard/internal/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// startable is an interface for anything that can be started and then
// shut down with a context — satisfied by *server.Server.
type startable interface {
	Start(ctx context.Context) error
}

// serverFactory creates a startable server from config. Tests can inject a
// failing factory to cover the server.New() error path.
type serverFactory func(*config.Config, string) (startable, error)

// defaultServerFactory is the production factory that delegates to server.New.
func defaultServerFactory(cfg *config.Config, version string) (startable, error) {
	return server.New(cfg, version)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cliniguard", flag.ContinueOnError)
	configPath := fs.String("config", "cliniguard.yaml", "path to configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			printUsage()
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("cliniguard %s\n", Version)
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	subcmd := "serve"
	remaining := fs.Args()
	if len(remaining) > 0 {
		subcmd = remaining[0]
		remaining = remaining[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(*configPath, defaultServerFactory)
	case "validate":
		return cmdValidate(*configPath)
	case "init":
		return cmdInit(remaining)
	case "verify":
		return cmdVerify(*configPath, remaining)
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subcmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cliniguard %s — capability-scoped tool-execution gateway

Usage:
  cliniguard [flags] <command>

Commands:
  serve      Start the gateway server (default)
  validate   Validate configuration file
  init       Generate a new cliniguard.yaml
  verify     Verify the audit hash chain of a SQLite log
  help       Show this help message

Flags:
  --config string   Path to configuration file (default "cliniguard.yaml")
  --version         Print version and exit

Examples:
  cliniguard serve --config cliniguard.yaml
  cliniguard validate --config cliniguard.yaml
  cliniguard init --profile dev
  cliniguard verify --db /var/lib/cliniguard/audit.db
`, Version)
}

// cmdServe starts the gateway HTTP server with graceful shutdown and config
// hot reload.
func cmdServe(configPath string, newServer serverFactory) int {
	logger := slog.Default()
	logger.Info("starting cliniguard",
		"version", Version,
		"config", configPath,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 1
	}

	srv, err := newServer(cfg, Version)
	if err != nil {
		logger.Error("server initialization error", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reload.Enabled {
		reloader := config.NewConfigReloader(configPath, cfg, logger)
		if rn, ok := srv.(interface{ Reloadables() []config.Reloadable }); ok {
			for _, sub := range rn.Reloadables() {
				reloader.Register(sub)
			}
		}
		if err := reloader.Start(ctx); err != nil {
			logger.Error("config reloader error", "error", err)
			return 1
		}
		defer reloader.Stop()
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}

	return 0
}

// cmdValidate loads and validates the configuration file.
func cmdValidate(configPath string) int {
	logger := slog.Default()
	logger.Info("validating configuration", "config", configPath)

	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println("config valid")
	return 0
}

// cmdInit generates a new cliniguard.yaml with the specified profile.
func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	profile := fs.String("profile", "dev", "configuration profile (dev or prod)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var profileYAML string
	switch *profile {
	case "prod":
		profileYAML = config.ProdProfile()
	case "dev":
		profileYAML = config.DevProfile()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown profile %q (use dev or prod)\n", *profile)
		return 1
	}

	outPath := "cliniguard.yaml"
	if err := os.WriteFile(outPath, []byte(profileYAML), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outPath, err)
		return 1
	}

	fmt.Printf("Generated %s with profile %q\n", outPath, *profile)
	return 0
}

// cmdVerify walks the audit hash chain of a SQLite log offline and reports
// the verified record count. The database path comes from --db or from the
// config file's audit.sqlite.path.
func cmdVerify(configPath string, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the SQLite audit log (default: audit.sqlite.path from config)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 1
		}
		if cfg.Audit.Backend != "sqlite" || cfg.Audit.SQLite.Path == "" {
			fmt.Fprintln(os.Stderr, "Error: no SQLite audit log configured; pass --db")
			return 1
		}
		path = cfg.Audit.SQLite.Path
	}

	store, err := audit.OpenSQLite(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	verified, err := store.VerifyChain(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chain verification FAILED after %d records: %v\n", verified, err)
		return 1
	}

	fmt.Printf("Chain intact: %d records verified\n", verified)
	return 0
}
