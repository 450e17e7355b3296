// -----------------------------------------------------------------------
// Last Modified: Tuesday, 25th August 2026 11:21:47 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"

	"github.com/ternarybob/aestimo/internal/app"
	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/server"
)

const shutdownGrace = 10 * time.Second

// configPaths collects repeated -config flags. Later files override earlier
// ones.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

type cliOptions struct {
	configs     configPaths
	port        int
	host        string
	showVersion bool
}

func parseFlags() cliOptions {
	var opts cliOptions
	flag.Var(&opts.configs, "config", "Configuration file path (repeatable, later files override earlier ones)")
	flag.Var(&opts.configs, "c", "Configuration file path (shorthand)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	portShort := flag.Int("p", 0, "Server port (shorthand)")
	flag.StringVar(&opts.host, "host", "", "Server host (overrides config)")
	version := flag.Bool("version", false, "Print version information")
	versionShort := flag.Bool("v", false, "Print version information (shorthand)")
	flag.Parse()

	opts.port = *port
	if *portShort != 0 {
		opts.port = *portShort
	}
	opts.showVersion = *version || *versionShort
	return opts
}

// discoverConfig falls back to aestimo.toml in the working directory or
// under deployments/local when no -config flag is given.
func discoverConfig() configPaths {
	for _, candidate := range []string{"aestimo.toml", "deployments/local/aestimo.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return configPaths{candidate}
		}
	}
	return nil
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	common.ResolveVersion()
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("Aestimo version %s\n", common.GetFullVersion())
		return
	}

	if len(opts.configs) == 0 {
		opts.configs = discoverConfig()
	}

	// Config layering: defaults, then files in order, then AESTIMO_* env
	// vars, then CLI flags. Key/value placeholder replacement waits until
	// app.New has storage open.
	config, err := common.LoadFromFiles(nil, opts.configs...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", opts.configs).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, opts.port, opts.host)

	logger := common.InitLogger(config)
	banner.PrintSimple("Aestimo", common.GetVersion())

	if logFile := common.GetLogFilePath(logger); logFile != "" {
		logger.Debug().Str("log_file", logFile).Msg("File logging enabled")
	}
	logger.Info().
		Strs("config_files", opts.configs).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Bool("retention_enabled", config.Retention.Enabled).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
		return
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	logger.Info().Msg("Server stopped")
}
