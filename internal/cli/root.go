package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"depvault/internal/app"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "DEPVAULT"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		log.Error().Msg(errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:     "depvault",
		Short:   "Source dependency caching and provisioning service",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newSubmitCommand())
	cmd.AddCommand(newProcessCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newRequestsCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetDefault("data_dir", "data/requests")
	viper.SetDefault("repo_prefix", "depvault")

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("depvault")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/depvault")
	if err := viper.ReadInConfig(); err != nil {
		return nil
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newAppService() (app.Service, error) {
	return app.NewService(app.Config{
		StoreEndpoint:    viper.GetString("store_endpoint"),
		StoreUsername:    viper.GetString("store_username"),
		StorePassword:    viper.GetString("store_password"),
		RepoPrefix:       viper.GetString("repo_prefix"),
		DataDir:          viper.GetString("data_dir"),
		WorkDir:          viper.GetString("work_dir"),
		GoProxy:          viper.GetString("go_proxy"),
		NpmRegistry:      viper.GetString("npm_registry"),
		PyPIEndpoint:     viper.GetString("pypi_endpoint"),
		PolicyFile:       viper.GetString("policy_file"),
		CACert:           viper.GetString("ca_cert"),
		Workers:          viper.GetInt("workers"),
		LifetimeHours:    viper.GetInt("lifetime_hours"),
		StuckHours:       viper.GetInt("stuck_hours"),
		HTTPTimeoutSec:   viper.GetInt("http_timeout_sec"),
		HTTPRetries:      viper.GetInt("http_retries"),
		HTTPRetryDelayMs: viper.GetInt("http_retry_delay_ms"),
	})
}

func exitCodeForError(err error) int {
	code := errbuilder.CodeOf(err)
	switch code {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeAlreadyExists:
		return 4
	case errbuilder.CodeNotFound:
		return 5
	case errbuilder.CodeUnavailable, errbuilder.CodeDataLoss:
		return 6
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
