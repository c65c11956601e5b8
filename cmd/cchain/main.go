package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/superset-studio/cloudchain/internal/chain"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/config"
	"github.com/superset-studio/cloudchain/internal/connector"
	"github.com/superset-studio/cloudchain/internal/storage"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitConfig     = 3
	exitNotFound   = 4
	savedMessage   = "Secret saved!"
	formatJSON     = "json"
	formatYAML     = "yaml"
	defaultFormat  = formatJSON
	programName    = "cchain"
	programSummary = "Save or retrieve passwords."
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRunner(os.Stdout, os.Stderr)
	os.Exit(r.run(ctx, os.Args[1:]))
}

// snapshotStore is the local SQL snapshot: a record store for --offline and
// a snapshot target for --snapshot.
type snapshotStore interface {
	storage.RecordStore
	storage.SnapshotWriter
	Close() error
}

type runner struct {
	stdout io.Writer
	stderr io.Writer

	// records is nil unless --offline replaced DynamoDB.
	newBackend   func(cfg *config.Config, records storage.RecordStore) chain.Backend
	openSnapshot func(ctx context.Context, cfg *config.Config) (snapshotStore, error)
	newArchive   func(ctx context.Context, cfg *config.Config) (storage.SnapshotWriter, error)
}

func newRunner(stdout, stderr io.Writer) *runner {
	return &runner{
		stdout: stdout,
		stderr: stderr,
		newBackend: func(cfg *config.Config, records storage.RecordStore) chain.Backend {
			var opts []connector.Option
			if records != nil {
				opts = append(opts, connector.WithRecordStore(records))
			}
			return connector.New(cfg, opts...)
		},
		openSnapshot: func(ctx context.Context, cfg *config.Config) (snapshotStore, error) {
			return connector.OpenSnapshotStore(ctx, cfg)
		},
		newArchive: func(ctx context.Context, cfg *config.Config) (storage.SnapshotWriter, error) {
			return connector.NewS3Archive(ctx, cfg)
		},
	}
}

type options struct {
	user       string
	service    string
	secret     string
	save       bool
	read       bool
	export     bool
	format     string
	configPath string
	bypass     bool
	snapshot   bool
	offline    bool
	verbose    bool
}

func (r *runner) parseFlags(args []string) (*options, error) {
	var opts options

	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SetOutput(r.stderr)
	fs.StringVarP(&opts.user, "user", "u", "", "User name")
	fs.StringVarP(&opts.service, "service", "e", "", "Service or application")
	fs.StringVarP(&opts.secret, "save", "s", "", "Save password to the cloudchain")
	fs.BoolVarP(&opts.read, "read", "r", false, "Read password from the cloudchain")
	fs.BoolVar(&opts.export, "export", false, "Decrypt and print every stored credential")
	fs.StringVar(&opts.format, "format", defaultFormat, "Export format: json or yaml")
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default $"+config.EnvConfigPath+" or ~/"+config.DefaultFileName+")")
	fs.BoolVar(&opts.bypass, "bypass", false, "Skip all reads and writes")
	fs.BoolVar(&opts.snapshot, "snapshot", false, "Copy sealed records to the configured snapshot targets")
	fs.BoolVar(&opts.offline, "offline", false, "Read from the local snapshot instead of DynamoDB")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(r.stderr, "Usage: %s [options]\n\n%s\n\nOptions:\n", programName, programSummary)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.save = fs.Changed("save")

	if !opts.save && !opts.read && !opts.export && !opts.snapshot {
		return nil, errors.New("one of --save, --read, --export or --snapshot is required")
	}
	if (opts.save || opts.read) && (opts.user == "" || opts.service == "") {
		return nil, errors.New("--user and --service are required with --save and --read")
	}
	if opts.offline && (opts.save || opts.snapshot) {
		return nil, errors.New("--offline cannot be combined with --save or --snapshot")
	}
	if opts.format != formatJSON && opts.format != formatYAML {
		return nil, fmt.Errorf("--format must be %s or %s, got %q", formatJSON, formatYAML, opts.format)
	}

	return &opts, nil
}

func (r *runner) run(ctx context.Context, args []string) int {
	opts, err := r.parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(r.stderr, "%s: %v\n", programName, err)
		fmt.Fprintf(r.stderr, "Run '%s --help' for usage.\n", programName)
		return exitUsage
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(r.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load .env file if present
	_ = godotenv.Load()

	if err := r.execute(ctx, opts, logger); err != nil {
		fmt.Fprintln(r.stderr, err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case config.IsConfigError(err):
		return exitConfig
	case errors.Is(err, chainerr.ErrCredentialNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}

func (r *runner) execute(ctx context.Context, opts *options, logger *slog.Logger) error {
	var offline storage.RecordStore
	provider := chain.NewProvider(
		chain.WithBackend(func(cfg *config.Config) chain.Backend {
			return r.newBackend(cfg, offline)
		}),
		chain.WithProviderLogger(logger),
	)
	if opts.bypass {
		provider.SetBypass(true)
	}

	if _, err := provider.ReadConfigFile(opts.configPath); err != nil {
		if !opts.bypass {
			return err
		}
		logger.Warn("continuing without configuration as bypass is enabled", "error", err)
	}
	cfg := provider.Config()

	if opts.offline && !cfg.Bypass {
		store, err := r.openSnapshot(ctx, &cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		offline = store
		logger.Debug("reading from local snapshot", "driver", cfg.Snapshot.Driver)
	}

	c := provider.Default()
	if !c.Bypass() {
		if err := c.CheckConfiguration(); err != nil {
			return err
		}
	}

	if opts.save {
		if err := c.Save(ctx, opts.service, opts.user, []byte(opts.secret)); err != nil {
			return err
		}
		fmt.Fprintln(r.stdout, savedMessage)
	}

	if opts.read {
		secret, ok, err := c.Read(ctx, opts.service, opts.user)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintln(r.stdout, string(secret))
		}
	}

	if opts.export {
		creds, err := c.Export(ctx)
		if err != nil {
			return err
		}
		if err := writeCredentials(r.stdout, creds, opts.format); err != nil {
			return err
		}
	}

	if opts.snapshot {
		if err := r.snapshot(ctx, c, &cfg); err != nil {
			return err
		}
	}

	return nil
}

func (r *runner) snapshot(ctx context.Context, c *chain.Chain, cfg *config.Config) error {
	if c.Bypass() {
		_, err := c.Snapshot(ctx)
		return err
	}

	var writers []storage.SnapshotWriter
	if cfg.Snapshot.Enabled() {
		store, err := r.openSnapshot(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		writers = append(writers, store)
	}
	if cfg.Backup.Enabled() {
		archive, err := r.newArchive(ctx, cfg)
		if err != nil {
			return err
		}
		writers = append(writers, archive)
	}
	if len(writers) == 0 {
		return &chainerr.ConfigError{
			Code:   chainerr.CodeInvalidSetting,
			Field:  "snapshot",
			Reason: "needs a [snapshot] or [backup] section",
		}
	}

	n, err := c.Snapshot(ctx, writers...)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.stdout, "Snapshot saved: %d records\n", n)
	return nil
}
