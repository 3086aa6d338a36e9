package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
	"github.com/ZebulonRouseFrantzich/toolup/internal/platform"
	"github.com/ZebulonRouseFrantzich/toolup/internal/registry"
	"github.com/ZebulonRouseFrantzich/toolup/internal/service"
	"github.com/ZebulonRouseFrantzich/toolup/internal/source"
)

var (
	configFile string
	rootDir    string
	binDir     string
	verbose    bool
	outputJSON bool
)

// Execute runs the root cobra command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "toolup",
		Short:         "Install and switch versions of the Sui toolchain binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.toml")
	cmd.PersistentFlags().StringVar(&rootDir, "root", "", "Data directory holding installs and the cache")
	cmd.PersistentFlags().StringVar(&binDir, "bin-dir", "", "Directory the active binaries are exposed in")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every step to stderr")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")

	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newSwitchCmd())
	cmd.AddCommand(newCurrentCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newComponentsCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newSelfCmd())
	cmd.AddCommand(newPathCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// app is what every engine-backed command needs.
type app struct {
	settings *config.Settings
	logger   config.Logger
	engine   *service.Engine
}

func loadApp(cmd *cobra.Command) (*app, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Debug = true
	}

	logger := newLogger(cmd.ErrOrStderr(), settings.Debug)

	catalog, err := registry.Load(settings.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("load component definitions: %w", err)
	}

	info, err := platform.NewDetector().Detect(cmd.Context())
	if err != nil {
		return nil, err
	}

	cacheRoot := filepath.Join(settings.RootDir, "cache")
	client := source.NewClient(source.ClientOptions{
		BaseURL:        settings.APIBaseURL,
		Token:          source.TokenFromEnv(),
		UserAgent:      "toolup/" + Version,
		Retries:        settings.Retries,
		RetryBaseDelay: settings.RetryBaseDelay,
		Timeout:        settings.HTTPTimeout,
		CacheDir:       filepath.Join(cacheRoot, ".releases"),
		TempDir:        filepath.Join(cacheRoot, ".downloads"),
		Logger:         logger,
	})

	engine, err := service.NewEngine(service.Options{
		Settings: settings,
		Catalog:  catalog,
		Client:   client,
		Platform: info.Target(),
		Version:  Version,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{settings: settings, logger: logger, engine: engine}, nil
}

// newLogger writes warnings and errors to w, and every step when verbose.
func newLogger(w io.Writer, verbose bool) config.Logger {
	l := config.NewWriterLogger(w, verbose)
	if verbose {
		return l
	}
	return quietLogger{l}
}

type quietLogger struct {
	config.Logger
}

func (quietLogger) Info(string, ...interface{}) {}

func parsePlatformFlag(s string) (model.Platform, error) {
	if s == "" {
		return model.Platform{}, nil
	}
	return model.ParsePlatform(s)
}
