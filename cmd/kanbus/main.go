package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kanbus/kanbus/internal/api"
	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/config"
	"github.com/kanbus/kanbus/internal/dispatch"
	"github.com/kanbus/kanbus/internal/events"
	"github.com/kanbus/kanbus/internal/listener"
	"github.com/kanbus/kanbus/internal/log"
	"github.com/kanbus/kanbus/internal/processor"
	"github.com/kanbus/kanbus/internal/rpc"
	"github.com/kanbus/kanbus/internal/storage"
	"github.com/kanbus/kanbus/internal/trello"
	"github.com/kanbus/kanbus/internal/tui"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "process":
		os.Exit(runProcess(args))
	case "watch":
		os.Exit(runWatch(args))
	case "trello":
		os.Exit(runTrelloNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("kanbus version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`kanbus - board tracker with a durable event bus

Usage:
  kanbus <command> [flags]

Commands:
  serve          Run the stdio JSON-RPC tool server (and the HTTP API, if enabled)
  process        Drain queued events for one board
  watch          Live terminal view of a board and its event queue
  trello import  Import cards from a Trello board
  config check   Validate the config file and print its fingerprint
  version        Show version information
  help           Show this help message

Use 'kanbus <command> -h' for command-specific flags.
`)
}

// core bundles the wired components every command needs.
type core struct {
	db       *sql.DB
	store    *board.Store
	queue    *events.Queue
	registry *listener.Registry
	proc     *processor.Processor
	cfg      *config.Config
}

func openCore(ctx context.Context, configPath string) (*core, error) {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log.Setup(cfg.Service.LogLevel)

	if configPath != "" {
		if fp, err := config.Fingerprint(configPath); err == nil {
			log.WithComponent("main").Info("config loaded", "path", configPath, "fingerprint", fp)
		}
	}

	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	queue := events.New(db)
	store := board.NewStore(db)
	store.SetEmitter(queue)
	registry := listener.NewRegistry(db)
	proc := processor.New(queue, registry, dispatch.New())

	return &core{db: db, store: store, queue: queue, registry: registry, proc: proc, cfg: cfg}, nil
}

func (c *core) close() {
	_ = c.db.Close()
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	withAPI := fs.Bool("api", false, "also start the HTTP API server")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openCore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.close()

	logger := log.WithComponent("main")

	if *withAPI || c.cfg.API.Enabled {
		srv := api.New(api.Config{Listen: c.cfg.API.Listen, APIKey: c.cfg.API.APIKey},
			c.store, c.queue, c.registry, c.proc)
		go func() {
			if err := srv.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("api server stopped", "error", err)
			}
		}()
	}

	tools := rpc.NewTools(c.store, c.queue, c.registry, c.proc, c.cfg.Storage.Path)
	server := rpc.NewServer(tools)
	logger.Info("rpc server started", "db", c.cfg.Storage.Path)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		logger.Error("rpc server stopped", "error", err)
		return 1
	}
	return 0
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	ownerKey := fs.String("owner", "", "owner key of the board")
	boardKey := fs.String("board", "default", "board key")
	execute := fs.Bool("execute", false, "actually deliver to listeners (default is a dry run)")
	maxEvents := fs.Int("max", 0, "maximum events to drain (0 = configured default)")
	_ = fs.Parse(args)

	if *ownerKey == "" {
		fmt.Fprintln(os.Stderr, "Error: --owner is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openCore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.close()

	b, err := c.store.EnsureBoard(ctx, *ownerKey, *boardKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	max := *maxEvents
	if max <= 0 {
		max = c.cfg.Queue.MaxEvents
	}

	res, err := c.proc.ProcessQueue(ctx, b.ID, *execute, max)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("processed %d, failed %d\n", res.Processed, res.Failed)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	ownerKey := fs.String("owner", "", "owner key of the board")
	boardKey := fs.String("board", "default", "board key")
	_ = fs.Parse(args)

	if *ownerKey == "" {
		fmt.Fprintln(os.Stderr, "Error: --owner is required")
		return 1
	}

	ctx := context.Background()
	c, err := openCore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.close()

	b, err := c.store.EnsureBoard(ctx, *ownerKey, *boardKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	model := tui.NewModel(c.store, c.queue, b.ID)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runTrelloNoun(args []string) int {
	if len(args) < 1 || args[0] != "import" {
		fmt.Fprintln(os.Stderr, "Usage: kanbus trello import --owner key --from 'Board Name' [flags]")
		return 1
	}

	fs := flag.NewFlagSet("trello import", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	ownerKey := fs.String("owner", "", "owner key of the board")
	boardKey := fs.String("board", "default", "board key")
	from := fs.String("from", "", "name of the Trello board to import")
	_ = fs.Parse(args[1:])

	if *ownerKey == "" || *from == "" {
		fmt.Fprintln(os.Stderr, "Error: --owner and --from are required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := trello.NewClientFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	c, err := openCore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.close()

	b, err := c.store.EnsureBoard(ctx, *ownerKey, *boardKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := c.store.SeedDefaults(ctx, b.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	res, err := trello.Import(ctx, client, c.store, b.ID, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("synced %d, moved %d, errors %d\n", res.Synced, res.Moved, len(res.Errors))
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "  %s\n", e)
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "Usage: kanbus config check [--config path]")
		return 1
	}

	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	_ = fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fp, err := config.Fingerprint(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("config ok: service=%s db=%s\n", cfg.Service.Name, cfg.Storage.Path)
	fmt.Printf("fingerprint: %s\n", fp)
	return 0
}
