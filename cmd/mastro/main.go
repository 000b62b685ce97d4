package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/mastro/cmd/mastro/cmds"
	"github.com/go-go-golems/mastro/pkg/steps/ai/settings"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "mastro",
	Short: "mastro is a terminal chat client for Gemini-compatible endpoints",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger(cmd.Name() == "chat" && isatty.IsTerminal(os.Stdout.Fd()))
	},
	SilenceUsage: true,
}

func initLogger(quiet bool) {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
		FileOnly:   quiet,
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
	// FileOnly keeps stderr clean, for the full screen chat.
	FileOnly bool
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("mastro")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.mastro")
		viper.AddConfigPath("/etc/mastro")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/mastro")
		}
	}

	settings.SetDefaults(viper.GetViper())

	err := viper.ReadInConfig()
	// if the file does not exist, continue normally
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}
	flagKeys := map[string]string{
		"api-url":       settings.KeyAPIURL,
		"api-key":       settings.KeyAPIKey,
		"store-backend": settings.KeyStoreBackend,
		"store-path":    settings.KeyStorePath,
		"allow-http":    settings.KeyDispatchAllowHTTP,
		"allow-local":   settings.KeyDispatchAllowLocal,
	}
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}

	// this still won't pick up on --log-level from the command line, but at
	// least it configures logging from the config file
	initLogger(false)

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func InitLogger(config *logConfig) error {
	return initLoggerTo(config, os.Stderr)
}

// initLoggerTo replaces the global logger with one writing to out (and the
// log file, if any). It starts from a fresh logger each time, so calling it
// again does not stack context fields.
func initLoggerTo(config *logConfig, out io.Writer) error {
	// default is json
	var logWriter io.Writer
	switch {
	case config.FileOnly:
		logWriter = io.Discard
	case config.LogFormat == "text":
		logWriter = zerolog.ConsoleWriter{Out: out}
	default:
		logWriter = out
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
					Compress:   false,
				},
			})
	}

	logCtx := zerolog.New(logWriter).With().Timestamp()
	if config.WithCaller {
		logCtx = logCtx.Caller()
	}
	log.Logger = logCtx.Logger()

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.mastro/config.yaml)")

	rootCmd.PersistentFlags().String("api-url", "", "generateContent endpoint URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key sent as x-goog-api-key")
	rootCmd.PersistentFlags().Bool("allow-http", false, "Allow plain http endpoints")
	rootCmd.PersistentFlags().Bool("allow-local", false, "Allow loopback and private network endpoints")
	rootCmd.PersistentFlags().String("store-backend", settings.DefaultStoreBackend, "Conversation store backend (memory, file, bolt, sqlite)")
	rootCmd.PersistentFlags().String("store-path", "", "Conversation store location (default under ~/.mastro/data)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		} else if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	err := initCommands(rootCmd, configFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewSendCommand(),
		cmds.NewRetryCommand(),
		cmds.NewNewCommand(),
		cmds.NewListCommand(),
		cmds.NewShowCommand(),
		cmds.NewSelectCommand(),
		cmds.NewExportCommand(),
		cmds.NewConfigCommand(),
	)
}
