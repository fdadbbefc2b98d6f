package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/metabrainz/brainzutils-go/config"
	"github.com/metabrainz/brainzutils-go/env"
	"github.com/metabrainz/brainzutils-go/logger"
	"github.com/spf13/cobra"
)

// app carries the state shared by every command of one invocation.
type app struct {
	configPath string
	envFile    string
	output     string

	cfg    config.Config
	log    logger.Logger
	client *cache.Client
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "brainzctl",
		Short:         "Inspect and administer the shared MetaBrainz cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.envFile, "env-file", "", "env file loaded before the configuration, existing variables win")
	flags.StringVarP(&a.output, "output", "o", "yaml", "output format, yaml or json")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (console or json)")
	flags.String("driver", "", "store client, redis or valkey")
	flags.String("host", "", "cache host")
	flags.Int("port", 0, "cache port")
	flags.Int("db", 0, "cache database number")
	flags.String("prefix", "", "global key namespace")

	cmd.AddCommand(
		newGetCommand(a),
		newSetCommand(a),
		newDelCommand(a),
		newIncrCommand(a),
		newKeyCommand(a),
		newNamespaceCommand(a),
		newFlushCommand(a),
		newRateLimitCommand(a),
		newMetricsCommand(a),
	)
	return cmd
}

// setup loads the env file and the configuration, then applies the
// connection flags that were given on the command line.
func (a *app) setup(cmd *cobra.Command) error {
	if a.output != "yaml" && a.output != "json" {
		return errors.Newf("unknown output format %q", a.output)
	}
	if a.envFile != "" {
		if _, err := env.LoadEnvFile(a.envFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cmd.Context(), a.configPath, config.DefaultEnvPrefix)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Cache.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("host") {
		cfg.Cache.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Cache.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db") {
		cfg.Cache.DB, _ = flags.GetInt("db")
	}
	if flags.Changed("prefix") {
		cfg.Cache.Namespace, _ = flags.GetString("prefix")
	}
	if cfg.Cache.ClientName == "" {
		cfg.Cache.ClientName = "brainzctl-" + uuid.NewString()[:8]
	}
	a.cfg = cfg

	if flags.Changed("log-level") || flags.Changed("log-format") {
		a.log = env.NewLogger(cmd)
	} else if a.log, err = cfg.Log.NewLogger(); err != nil {
		return err
	}
	return nil
}

// connect opens the cache connection on first use.
func (a *app) connect(ctx context.Context) (*cache.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := cache.New(ctx, a.cfg.Cache)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s:%d", a.cfg.Cache.Host, a.cfg.Cache.Port)
	}
	a.log.Debug("connected to %s:%d as %s", a.cfg.Cache.Host, a.cfg.Cache.Port, a.cfg.Cache.ClientName)
	a.client = client
	return client, nil
}

func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
