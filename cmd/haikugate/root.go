package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/haiku-connector/gateway/internal/config"
	"github.com/haiku-connector/gateway/internal/dispatch"
	"github.com/haiku-connector/gateway/internal/guest"
	"github.com/haiku-connector/gateway/internal/httpserver"
	"github.com/haiku-connector/gateway/internal/logging"
	"github.com/haiku-connector/gateway/internal/outbound"
)

const defaultPort = "9000"

var (
	configPath string
	wasmPath   string
	debugLog   bool
)

// rootCmd is the application entry point. No subcommands, per spec.
var rootCmd = &cobra.Command{
	Use:   "haikugate",
	Short: "Host gateway for WebAssembly-packaged request handlers",
	RunE:  run,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "route configuration file (TOML)")
	rootCmd.PersistentFlags().StringVarP(&wasmPath, "wasm", "w", "", "guest WebAssembly module")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable verbose development logging")
	_ = rootCmd.MarkPersistentFlagRequired("config")
	_ = rootCmd.MarkPersistentFlagRequired("wasm")
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := logging.New(debugLog)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	routes, err := config.Load(configPath, log)
	if err != nil {
		return err
	}

	code, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("reading wasm module %s: %w", wasmPath, err)
	}

	ctx := cmd.Context()

	exec := outbound.New(log)

	module, err := guest.New(ctx, code, exec)
	if err != nil {
		return fmt.Errorf("loading guest module: %w", err)
	}
	defer module.Close(ctx) //nolint:errcheck

	inst, err := module.Instantiate(ctx)
	if inst == nil {
		return fmt.Errorf("instantiating guest module: %w", err)
	}
	if err != nil {
		log.Warn("guest init() failed; continuing", zap.Error(err))
	}

	holder, err := guest.NewHolder(inst)
	if err != nil {
		return fmt.Errorf("starting guest instance holder: %w", err)
	}
	defer holder.Dispose()

	disp := dispatch.New(routes, holder, log)
	srv := httpserver.New(routes, disp, log)

	addr := "127.0.0.1:" + port()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
		log.Info("shutting down")
		return srv.Shutdown()
	}
}

func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return defaultPort
}
