// Package main implements the martforge CLI, which inspects partition
// tables and maps their subdivision levels onto datasets.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/martforge/martforge/internal/app"
	"github.com/martforge/martforge/internal/config"
	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/logging"
	flag "github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configFile string
	dataDir    string
	workspace  string
	storage    string
	filter     string
	limit      int
	level      int
	naming     string
	verbose    bool
	jsonLog    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, v := range apperrors.GetViolations(err) {
			fmt.Fprintf(os.Stderr, "  - %s\n", v)
		}
		os.Exit(1)
	}
}

func run() error {
	var opts options
	var showVersion bool

	flag.StringVarP(&opts.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&opts.dataDir, "data-dir", "", "Base directory for storage, cache and snapshots")
	flag.StringVarP(&opts.workspace, "workspace", "w", "", "Path to the workspace document")
	flag.StringVar(&opts.storage, "storage", "", "Storage type: local or s3")
	flag.StringVarP(&opts.filter, "filter", "f", "", "Filter expression applied to partition rows")
	flag.IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of preview rows (0 uses the configured limit, -1 means all)")
	flag.IntVar(&opts.level, "level", -1, "Count the distinct rows of this subdivision level")
	flag.StringVar(&opts.naming, "naming", "", "Naming column for instances")
	flag.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	flag.BoolVar(&opts.jsonLog, "json-log", false, "Emit logs as JSON lines")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "martforge - map partition tables onto datasets\n\n")
		fmt.Fprintf(os.Stderr, "Usage: martforge [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  levels <table>            List columns and subdivision levels\n")
		fmt.Fprintf(os.Stderr, "  preview <table>           Show derived rows\n")
		fmt.Fprintf(os.Stderr, "  count <table>             Count rows, or a level's distinct rows with --level\n")
		fmt.Fprintf(os.Stderr, "  instances <table>         Expand the partition instances\n")
		fmt.Fprintf(os.Stderr, "  plan <mapping>            Validate a mapping without applying it\n")
		fmt.Fprintf(os.Stderr, "  apply <mapping>           Apply a mapping\n")
		fmt.Fprintf(os.Stderr, "  snapshot <table>          Copy a table's source into a SQLite snapshot\n")
		fmt.Fprintf(os.Stderr, "  export <table> <object>   Write derived rows as a CSV object\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  MARTFORGE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  MARTFORGE_WORKSPACE       Workspace document path\n")
		fmt.Fprintf(os.Stderr, "  MARTFORGE_STORAGE_TYPE    Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  MARTFORGE_S3_*            S3 bucket, region and endpoint\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("martforge version %s (commit: %s)\n", version, commit)
		return nil
	}

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		return fmt.Errorf("expected a command and its argument")
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logging.NewWithWriter(os.Stderr, cfg.Log.Verbose, cfg.Log.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	if err := application.Open(ctx); err != nil {
		return err
	}
	defer application.Close()

	out, err := dispatch(ctx, application, opts, args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing priority.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if opts.configFile != "" {
		cfg, err = config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.workspace != "" {
		cfg.Workspace = opts.workspace
	}
	if opts.storage != "" {
		cfg.Storage.Type = opts.storage
	}
	if opts.verbose {
		cfg.Log.Verbose = true
	}
	if opts.jsonLog {
		cfg.Log.JSON = true
	}
	return cfg, nil
}

func dispatch(ctx context.Context, a *app.App, opts options, args []string) (interface{}, error) {
	command, name := args[0], args[1]
	switch command {
	case "levels":
		return a.Levels(name)
	case "preview":
		return a.Preview(ctx, name, opts.filter, opts.limit)
	case "count":
		return a.Count(ctx, name, opts.filter, opts.level)
	case "instances":
		return a.Instances(ctx, name, opts.naming)
	case "plan":
		return a.Plan(ctx, name)
	case "apply":
		return a.Apply(ctx, name)
	case "snapshot":
		return a.Snapshot(ctx, name)
	case "export":
		if len(args) < 3 {
			return nil, fmt.Errorf("export needs a table and an object path")
		}
		return a.Export(ctx, name, opts.filter, args[2])
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}
