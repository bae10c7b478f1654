package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stupidcerts/pfxhunt/pkg/config"
	"github.com/stupidcerts/pfxhunt/pkg/prettylog"
)

var workdir = ""
var verbose = false

var (
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer = nopCloser{}
)

var (
	rootCmd = &cobra.Command{
		Use:           "pfxhunt",
		Short:         "Find exposed PKCS#12 files and extract crackable MAC hashes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if workdir != "" {
				if err := os.Chdir(workdir); err != nil {
					return fmt.Errorf("change working directory: %w", err)
				}
			}
			if err := config.LoadEnv(viper.GetString("env_file")); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}

			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}

			l, closer, err := prettylog.New(os.Stderr, prettylog.Options{
				Level:      cfg.Log.Level,
				Format:     prettylog.Format(cfg.Log.Format),
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
			if err != nil {
				return err
			}
			logger, logCloser = l, closer
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logCloser.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("pfxhunt failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		logCloser.Close()
		stop()
		os.Exit(1)
	}
}

func init() {
	viper.SetEnvPrefix("PFXHUNT")
	viper.AutomaticEnv()

	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")
	persistentFlags.StringP("config-file", "f", "", "config file, relative to working directory")
	persistentFlags.String("env-file", ".env", "dotenv file loaded before the config")
	persistentFlags.String("log-level", "", "log level: debug, info, warn, error")
	persistentFlags.String("log-format", "", "log format: auto, pretty, json")
	persistentFlags.String("log-file", "", "also write JSON logs to this rotating file")

	viper.BindPFlag("config_file", persistentFlags.Lookup("config-file"))
	viper.BindPFlag("env_file", persistentFlags.Lookup("env-file"))
	viper.BindPFlag("log_level", persistentFlags.Lookup("log-level"))
	viper.BindPFlag("log_format", persistentFlags.Lookup("log-format"))
	viper.BindPFlag("log_file", persistentFlags.Lookup("log-file"))
}

// loadConfig applies, lowest first: defaults, config file, environment
// (PFXHUNT_*), flags.
func loadConfig() (*config.Config, error) {
	c := config.Default()
	if path := viper.GetString("config_file"); path != "" {
		var err error
		c, err = config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	overrideString(&c.APIKey, "api_key")
	overrideInt(&c.Days, "days")
	overrideString(&c.Log.Level, "log_level")
	overrideString(&c.Log.Format, "log_format")
	overrideString(&c.Log.File, "log_file")
	overrideString(&c.Pipeline.Output, "output")
	overrideInt(&c.Pipeline.Workers, "workers")
	overrideBool(&c.Pipeline.DryRun, "dry_run")
	overrideString(&c.Download.Root, "root")
	overrideString(&c.Download.SeenIndex, "seen_index")
	overrideString(&c.Serve.Address, "address")
	if verbose {
		c.Log.Level = "debug"
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(dst *int, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(dst *bool, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
