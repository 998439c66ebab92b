package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	blobfs "github.com/uktrade/tamato/internal/adapters/blob/fs"
	blobs3 "github.com/uktrade/tamato/internal/adapters/blob/s3"
	serveradapter "github.com/uktrade/tamato/internal/adapters/server"
	servercommon "github.com/uktrade/tamato/internal/adapters/server/common"
	"github.com/uktrade/tamato/internal/adapters/storage/memory"
	"github.com/uktrade/tamato/internal/adapters/storage/postgres"
	"github.com/uktrade/tamato/internal/adapters/storage/sqlite"
	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/config"
	"github.com/uktrade/tamato/internal/domain"
	"github.com/uktrade/tamato/internal/metrics"
	"github.com/uktrade/tamato/internal/platform"
)

// version is stamped at build time.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// lookupEnv reads TAMATO_* overrides.
var lookupEnv = os.LookupEnv

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, newCLI(os.Stdout, os.Stderr).root, fang.WithVersion(version))
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one invocation with plain cobra error handling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := newCLI(stdout, stderr)
	c.root.SetArgs(args)
	c.root.SilenceErrors = true
	c.root.SilenceUsage = true
	return c.root.ExecuteContext(ctx)
}

// cli holds global flag state shared by every subcommand.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	root   *cobra.Command

	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool
}

func newCLI(stdout, stderr io.Writer) *cli {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "tamato",
		Short: "Temporal versioning and workbasket approval for tariff data",
		Long: `tamato keeps an append-only version log of tariff records and moves
changes through workbaskets: drafted, proposed, approved, sent and published.

Examples:
  tamato workbasket create --title "Quota update" --author alice
  tamato commit <workbasket-id> --file changes.json
  tamato workbasket approve <workbasket-id> --approver bob
  tamato query latest --kind measure --as-at 2026-01-01
  tamato serve --http 127.0.0.1:8080`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config TOML")
	flags.StringVar(&c.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&c.appName, "app", "tamato", "application name for config/data path resolution")
	flags.BoolVar(&c.devMode, "dev", version == "dev", "use dev mode paths (<app>-dev)")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "keep runtime logs off the console")

	root.AddCommand(
		c.pathsCommand(),
		c.serveCommand(),
		c.workbasketCommand(),
		c.commitCommand(),
		c.queryCommand(),
		c.kindsCommand(),
		c.exportCommand(),
	)
	c.root = root
	return c
}

// settings is the resolved path and config state for one invocation.
type settings struct {
	opts       platform.Options
	paths      platform.Paths
	configPath string
	dbPath     string
	lookup     func(string) (string, bool)
}

// resolvePaths applies flags over TAMATO_* env over platform defaults.
func (c *cli) resolvePaths(cmd *cobra.Command) (settings, error) {
	flags := cmd.Flags()
	var masked []string
	for flag, env := range map[string]string{
		"app":    "TAMATO_APP_NAME",
		"dev":    "TAMATO_DEV_MODE",
		"config": "TAMATO_CONFIG",
		"db":     "TAMATO_DB_PATH",
	} {
		if flags.Changed(flag) {
			masked = append(masked, env)
		}
	}
	lookup := maskedLookup(lookupEnv, masked...)

	paths, opts, err := platform.Resolve(platform.Options{AppName: c.appName, DevMode: c.devMode}, lookup)
	if err != nil {
		return settings{}, err
	}
	s := settings{opts: opts, paths: paths, configPath: paths.ConfigPath, dbPath: paths.DBPath, lookup: lookup}
	if flags.Changed("config") {
		s.configPath = c.configPath
	}
	if flags.Changed("db") {
		s.dbPath = c.dbPath
	}
	return s, nil
}

// loadConfig reads the TOML config and applies env and flag overrides.
func (c *cli) loadConfig(cmd *cobra.Command, s settings) (config.Config, error) {
	defaults := config.Default(s.dbPath)
	// Sent envelopes land under <data>/envelopes by key.
	defaults.Export.Dir = s.paths.DataDir
	cfg, err := config.Load(s.configPath, defaults)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %q: %w", s.configPath, err)
	}
	cfg.ApplyEnv(s.lookup)
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = s.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runtimeEnv is the wired service stack for one command.
type runtimeEnv struct {
	settings
	cfg      config.Config
	logger   *runtimeLogger
	repo     app.Repository
	ready    func(context.Context) error
	recorder *metrics.Recorder
	service  servercommon.TariffService
}

// openEnv resolves config, opens storage and the envelope sink, and builds the service.
func (c *cli) openEnv(ctx context.Context, cmd *cobra.Command) (*runtimeEnv, error) {
	s, err := c.resolvePaths(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := c.loadConfig(cmd, s)
	if err != nil {
		return nil, err
	}
	logger, err := newRuntimeLogger(c.stderr, s.opts.AppName, s.opts.DevMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!c.quiet)
	env := &runtimeEnv{settings: s, cfg: cfg, logger: logger}

	logger.Info("startup configuration resolved", "app", s.opts.AppName, "dev_mode", s.opts.DevMode, "command", cmd.CommandPath())
	logger.Debug("runtime paths resolved", "config_path", s.configPath, "data_dir", s.paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		logger.Error("repository open failed", "driver", cfg.Database.Driver, "err", err)
		_ = logger.Close()
		return nil, err
	}
	env.repo = repo
	if p, ok := repo.(interface{ Ping(context.Context) error }); ok {
		env.ready = p.Ping
	}
	logger.Info("repository ready", "driver", driverName(cfg.Database.Driver))

	sink, err := openSink(ctx, cfg.Export)
	if err != nil {
		logger.Error("envelope sink open failed", "sink", cfg.Export.Sink, "err", err)
		env.Close(c.stderr)
		return nil, err
	}

	scheme, err := domain.ParsePartitionScheme(cfg.Workflow.PartitionScheme)
	if err != nil {
		env.Close(c.stderr)
		return nil, err
	}
	var authorizer app.Authorizer = app.AllowAllApprovals{}
	if cfg.Workflow.RequireDistinctApprover {
		authorizer = app.DistinctApproverPolicy{}
	}
	env.recorder = metrics.New()
	svc := app.NewService(repo, uuid.NewString, time.Now, app.ServiceConfig{
		PartitionScheme: scheme,
		Authorizer:      authorizer,
		Sink:            sink,
		Logger:          logger,
		Metrics:         env.recorder,
	})
	env.service = servercommon.NewAppServiceAdapter(svc)
	logger.Debug("application service initialized", "partition_scheme", scheme, "distinct_approver", cfg.Workflow.RequireDistinctApprover, "sink", cfg.Export.Sink)
	return env, nil
}

// Close releases storage and log sinks.
func (e *runtimeEnv) Close(stderr io.Writer) {
	if e == nil {
		return
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("repository close failed", "err", err)
		}
	}
	if err := e.logger.Close(); err != nil && stderr != nil {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// withService opens the runtime stack around one command flow.
func (c *cli) withService(cmd *cobra.Command, name string, fn func(context.Context, *runtimeEnv) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := c.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.Close(c.stderr)

	env.logger.Info("command flow start", "command", name)
	if err := fn(ctx, env); err != nil {
		env.logger.Error("command flow failed", "command", name, "err", err)
		return fmt.Errorf("run %s command: %w", name, err)
	}
	env.logger.Info("command flow complete", "command", name)
	return nil
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (app.Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return repo, nil
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres repository: %w", err)
		}
		return repo, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// openSink returns nil when no sink is configured.
func openSink(ctx context.Context, cfg config.ExportConfig) (app.EnvelopeSink, error) {
	switch cfg.Sink {
	case config.SinkNone, "":
		return nil, nil
	case config.SinkFS:
		sink, err := blobfs.New(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open fs envelope sink: %w", err)
		}
		return sink, nil
	case config.SinkS3:
		sink, err := blobs3.New(ctx, blobs3.Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 envelope sink: %w", err)
		}
		return sink, nil
	default:
		return nil, errors.New("unsupported export sink " + string(cfg.Sink))
	}
}

func driverName(d config.DatabaseDriver) string {
	if d == "" {
		return string(config.DriverSQLite)
	}
	return string(d)
}

// maskedLookup hides keys already set by explicit flags.
func maskedLookup(lookup func(string) (string, bool), masked ...string) func(string) (string, bool) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return func(key string) (string, bool) {
		if slices.Contains(masked, strings.TrimSpace(key)) {
			return "", false
		}
		return lookup(key)
	}
}
