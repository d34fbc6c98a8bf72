package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-startup/pkg/config"
	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/metrics"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/readiness"
	"github.com/core-tools/hsu-startup/pkg/supervisor"

	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type flagOptions struct {
	Config              string        `long:"config" short:"c" env:"HSU_STARTUP_CONFIG" description:"YAML configuration file; built-in defaults when empty"`
	Validate            bool          `long:"validate" description:"Load and validate the configuration, then exit"`
	OnDependencyFailure string        `long:"on-dependency-failure" env:"HSU_STARTUP_ON_DEPENDENCY_FAILURE" choice:"abort" choice:"continue" description:"What to do when the dependency is not ready"`
	ReadinessTimeout    time.Duration `long:"readiness-timeout" env:"HSU_STARTUP_READINESS_TIMEOUT" description:"How long to wait for the dependency"`
	PollInterval        time.Duration `long:"poll-interval" env:"HSU_STARTUP_POLL_INTERVAL" description:"Interval between readiness attempts"`
	DependencyPort      int           `long:"dependency-port" env:"HSU_STARTUP_DEPENDENCY_PORT" description:"Port the dependency listens on"`
	PrimaryPort         int           `long:"primary-port" env:"HSU_STARTUP_PRIMARY_PORT" description:"Port the primary binds to; overrides the deployment port variable"`
	PIDDirectory        string        `long:"pid-dir" env:"HSU_STARTUP_PID_DIR" description:"Write PID files for both children to this directory"`
	MetricsPort         int           `long:"metrics-port" env:"HSU_STARTUP_METRICS_PORT" description:"Serve /metrics and /status on this port"`
	LogLevel            string        `long:"log-level" env:"HSU_STARTUP_LOG_LEVEL" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat           string        `long:"log-format" env:"HSU_STARTUP_LOG_FORMAT" choice:"json" choice:"console" choice:"plain" description:"Log format"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(argv); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		return errors.ExitCodeConfig
	}

	bootstrapLogger := logging.NewLogger(logging.ModulePrefix("startup"), logging.NewStdLogFuncs())

	cfg, err := config.LoadAndValidateConfig(opts.Config, config.Overrides{
		OnDependencyFailure: opts.OnDependencyFailure,
		ReadinessTimeout:    opts.ReadinessTimeout,
		PollInterval:        opts.PollInterval,
		DependencyPort:      opts.DependencyPort,
		PrimaryPort:         opts.PrimaryPort,
		PIDDirectory:        opts.PIDDirectory,
		MetricsPort:         opts.MetricsPort,
		LogLevel:            opts.LogLevel,
		LogFormat:           opts.LogFormat,
	}, os.Getenv)
	if err != nil {
		bootstrapLogger.Errorf("Configuration is invalid: %v", err)
		return errors.ExitCodeConfig
	}

	if opts.Validate {
		bootstrapLogger.Infof("Configuration is valid: %+v", config.GetConfigSummary(cfg))
		return 0
	}

	runID := uuid.NewString()
	logFuncs, sync := newLogFuncs(cfg.Logging, runID)
	defer sync()

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewLeveledLogger(logging.ModulePrefix("startup"), level, logFuncs)
	supervisorLogger := logging.NewLeveledLogger(logging.ModulePrefix("supervisor"), level, logFuncs)
	processLogger := logging.NewLeveledLogger(logging.ModulePrefix("process"), level, logFuncs)
	readinessLogger := logging.NewLeveledLogger(logging.ModulePrefix("readiness"), level, logFuncs)

	logger.Infof("Starting, run id: %s", runID)
	logger.Infof("Configuration: %+v", config.GetConfigSummary(cfg))
	logger.Infof("Dependency failure policy: %s", cfg.Supervisor.OnDependencyFailure)

	signals := supervisor.NotifySignals(context.Background(), logger)
	defer signals.Stop()

	s, err := supervisor.NewSupervisor(cfg.Options(), process.NewOSLauncher(processLogger), readiness.NewProber(readinessLogger), supervisorLogger)
	if err != nil {
		logger.Errorf("Failed to create supervisor: %v", err)
		return errors.ExitCodeConfig
	}
	s.SetTeardownContext(signals.ForceContext())

	if cfg.PIDFiles != nil {
		s.SetProcessFiles(processfile.NewManager(*cfg.PIDFiles, logger))
	}

	if cfg.Metrics.Enabled {
		server, m, err := startMetrics(cfg.Metrics, runID, logger)
		if err != nil {
			logger.Errorf("Failed to start metrics server: %v", err)
			return errors.ExitCodeInternal
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warnf("%v", err)
			}
		}()
		s.SetMetrics(m)
	}

	code := s.Run(signals.Context())
	logger.Infof("Exiting, code: %d", code)
	return code
}

func newLogFuncs(cfg config.LoggingConfig, runID string) (logging.LogFuncs, func()) {
	if cfg.Format == "plain" {
		return logging.NewStdLogFuncs(), func() {}
	}

	backend := logging.NewZapBackend(logging.ZapConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: "stderr",
		Fields: map[string]string{"run_id": runID},
	})
	return backend.LogFuncs(), func() { _ = backend.Sync() }
}

func startMetrics(cfg config.MetricsConfig, runID string, logger logging.Logger) (*metrics.Server, *metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, runID)

	server, err := metrics.Listen(cfg.Address, cfg.Port, metrics.NewRouter(reg, m), logger)
	if err != nil {
		return nil, nil, err
	}
	go server.Serve()

	return server, m, nil
}
