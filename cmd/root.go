// Package cmd defines and implements the CLI commands for the wrapped executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/app"
	"github.com/JakeFAU/watch-wrapped/internal/config"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 10 * time.Second

// needsAppAnnotation marks commands that run against the application
// services. Others (help, completion) skip building them.
const needsAppAnnotation = "wrapped/needs-app"

var needsApp = map[string]string{needsAppAnnotation: "true"}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, jobID string, payload []byte) (wrapped.Result, error)
}

// CacheSizer reports the number of cached metadata entries.
type CacheSizer interface {
	Len(ctx context.Context) (int, error)
}

// App is the slice of the application container the commands use, so tests
// can inject a fake.
type App interface {
	Logger() *zap.Logger
	Runner() (Runner, error)
	CacheSizer() CacheSizer
	StartOps()
	Close(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Runner() (Runner, error) {
	orch, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return orch, nil
}

func (a appAdapter) CacheSizer() CacheSizer {
	return a.Cache()
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

// flagBindings maps CLI flags onto config keys. Flags missing from the
// running command are skipped.
var flagBindings = map[string]string{
	"log-level": "logging.level",
	"top-n":     "pipeline.top_n",
	"timezone":  "pipeline.timezone",
	"max-items": "pipeline.max_items",
	"history":   "pipeline.include_history",
	"serve-ops": "server.enabled",
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "wrapped",
		Short: "Summarize a video watch-history export",
		Long: `wrapped parses a watch-history export, enriches every distinct video
with catalog metadata (cached across runs), and prints aggregate viewing
statistics as JSON.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[needsAppAnnotation] != "true" {
				return nil
			}
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			v := viper.New()
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with WRAPPED_* variables (default: ./.env when present)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCacheCmd())
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadEnvFile exports variables from a dotenv file without overriding ones
// already set. An explicit path must exist; the ./.env fallback is optional.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	return nil
}

// withApp resolves the App for fn and closes it afterwards, whether or not fn
// fails. Cobra skips post-run hooks on error, so closing happens here.
func withApp(fn func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = errors.Join(err, appInstance.Close(ctx))
		}()
		return fn(cmd, appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command, canceling in-flight work on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
