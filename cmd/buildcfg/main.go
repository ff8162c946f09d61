package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/buildcfg/internal/application"
	"github.com/eugenenazirov/buildcfg/internal/config"
	"github.com/eugenenazirov/buildcfg/internal/logging"
	"github.com/eugenenazirov/buildcfg/internal/render"
	"github.com/eugenenazirov/buildcfg/internal/signing"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("buildcfg", "Resolves the Android build configuration of the Tabib Flutter app")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	projectDir := kingpinApp.Flag("project-dir", "Gradle root project directory (the Flutter android/ folder)").Short('C').String()
	moduleDir := kingpinApp.Flag("module-dir", "App module directory, storeFile is resolved against it").String()
	logLevel := kingpinApp.Flag("log-level", "Log level: debug, info, warn, error").String()
	var strictSet bool
	strict := kingpinApp.Flag("strict", "Fail on incomplete signing or invalid descriptor").IsSetByUser(&strictSet).Bool()

	renderCmd := kingpinApp.Command("render", "Print the resolved build descriptor")
	format := renderCmd.Flag("format", "Output format").Short('o').Enum(append(render.Formats(), "yml")...)

	validateCmd := kingpinApp.Command("validate", "Resolve in strict mode and report every problem")

	serveCmd := kingpinApp.Command("serve", "Serve the descriptor over HTTP and reload it when property files change")
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()
	reloadRPSFlag := serveCmd.Flag("reload-rate-limit-rps", "Reloads per second allowed on POST /api/reload (set 0 to disable)").Default("-1").Float64()
	reloadBurstFlag := serveCmd.Flag("reload-rate-limit-burst", "Burst capacity for reloads (set 0 to disable)").Default("-1").Int()
	var watchSet bool
	watchFlag := serveCmd.Flag("watch", "Reload when key.properties or local.properties change").IsSetByUser(&watchSet).Bool()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		ProjectDir: projectDir,
		ModuleDir:  moduleDir,
		LogLevel:   logLevel,
		Format:     format,
		Port:       port,
	}
	if strictSet {
		overrides.Strict = strict
	}
	if watchSet {
		overrides.Watch = watchFlag
	}
	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}
	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	if *reloadRPSFlag >= 0 {
		overrides.ReloadRPS = reloadRPSFlag
	}
	if *reloadBurstFlag >= 0 {
		overrides.ReloadBurst = reloadBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	switch command {
	case renderCmd.FullCommand():
		if err := runRender(ctx, cfg, logger, os.Stdout); err != nil {
			logger.Error("render failed", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	case validateCmd.FullCommand():
		if err := runValidate(ctx, cfg, logger, os.Stdout); err != nil {
			_ = logger.Sync()
			os.Exit(1)
		}
	case serveCmd.FullCommand():
		runServe(ctx, cfg, logger)
	}
}

func runRender(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) error {
	d, err := application.NewResolver(cfg, logger).Resolve(ctx)
	if err != nil {
		return err
	}
	return render.Encode(out, d, cfg.Format)
}

// runValidate always resolves strictly and prints a human readable verdict.
func runValidate(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) error {
	cfg.Strict = true
	d, err := application.NewResolver(cfg, logger).Resolve(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(out, "invalid: %v\n", err)
		return err
	}

	sc, ok := d.SigningConfig(signing.ReleaseName)
	if !ok {
		err := errors.New("release signing config is not declared")
		_, _ = fmt.Fprintf(out, "invalid: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "ok: %s %s (%d), minSdk %d, targetSdk %d, compileSdk %d, signed with %s\n",
		d.DefaultConfig.ApplicationID,
		d.DefaultConfig.VersionName,
		d.DefaultConfig.VersionCode,
		d.DefaultConfig.MinSdk,
		d.DefaultConfig.TargetSdk,
		d.CompileSdk,
		*sc.KeyAlias,
	)
	return nil
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), app.StopWatcher, cfg.ShutdownGracePeriod, logger)
}

// shutdown waits for a termination signal. The property watcher is stopped
// first so a late reload cannot race the drain; stopWatch may be nil.
func shutdown(server *http.Server, stopWatch func(), timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	if stopWatch != nil {
		stopWatch()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
